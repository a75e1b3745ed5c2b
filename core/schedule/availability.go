package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Weekly grid of the availability map.
const (
	DayStart   = TimeOfDay(7 * 60)
	Midday     = TimeOfDay(13 * 60)
	DayEnd     = TimeOfDay(19 * 60)
	SlotLength = 30 // minutes
)

var SchoolDays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

type (
	// DayGroup is a set of weekdays sharing the same state for one slot.
	DayGroup struct {
		Days     []string `json:"days"`
		Label    string   `json:"label"`
		FullWeek bool     `json:"full_week"`
		Reasons  []string `json:"reasons,omitempty"`
	}

	SlotAvailability struct {
		Start    TimeOfDay `json:"start"`
		End      TimeOfDay `json:"end"`
		Reserved DayGroup  `json:"reserved"`
		Free     DayGroup  `json:"free"`
	}

	AvailabilityMap struct {
		TeacherID string             `json:"teacher_id"`
		Morning   []SlotAvailability `json:"morning"`
		Afternoon []SlotAvailability `json:"afternoon"`
	}
)

// Slots returns the morning then afternoon slots.
func (m AvailabilityMap) Slots() []SlotAvailability {
	out := make([]SlotAvailability, 0, len(m.Morning)+len(m.Afternoon))
	out = append(out, m.Morning...)
	return append(out, m.Afternoon...)
}

// ComputeAvailability maps which weekday slots are reserved by classes of `teacherID` among `schedules`.
// A slot is reserved on a weekday iff one of the teacher's classes on that weekday overlaps it.
// It holds no state and is safe for concurrent use.
func ComputeAvailability(teacherID string, schedules []Schedule) AvailabilityMap {
	// reasons per weekday per slot start
	reserved := make(map[time.Weekday]map[TimeOfDay][]string, len(SchoolDays))
	for _, s := range schedules {
		if s.TeacherID != teacherID {
			continue
		}
		wd := s.Weekday()
		if !isSchoolDay(wd) {
			continue
		}
		for start := DayStart; start < DayEnd; start += SlotLength {
			if !s.Overlaps(start, start+SlotLength) {
				continue
			}
			if reserved[wd] == nil {
				reserved[wd] = make(map[TimeOfDay][]string)
			}
			reserved[wd][start] = append(reserved[wd][start], reason(s))
		}
	}

	m := AvailabilityMap{TeacherID: teacherID}
	for start := DayStart; start < DayEnd; start += SlotLength {
		slot := SlotAvailability{Start: start, End: start + SlotLength}
		var rDays, fDays []time.Weekday
		for _, wd := range SchoolDays {
			if reasons, ok := reserved[wd][start]; ok {
				rDays = append(rDays, wd)
				slot.Reserved.Reasons = append(slot.Reserved.Reasons, reasons...)
			} else {
				fDays = append(fDays, wd)
			}
		}
		fillGroup(&slot.Reserved, rDays)
		fillGroup(&slot.Free, fDays)

		if start < Midday {
			m.Morning = append(m.Morning, slot)
		} else {
			m.Afternoon = append(m.Afternoon, slot)
		}
	}
	return m
}

func isSchoolDay(wd time.Weekday) bool {
	return wd >= time.Monday && wd <= time.Friday
}

func fillGroup(g *DayGroup, days []time.Weekday) {
	g.Days = make([]string, 0, len(days))
	short := make([]string, 0, len(days))
	for _, wd := range days {
		g.Days = append(g.Days, wd.String())
		short = append(short, wd.String()[:3])
	}
	g.FullWeek = len(days) == len(SchoolDays)
	if g.FullWeek {
		g.Label = "Full week"
	} else {
		g.Label = strings.Join(short, ",")
	}
}

func reason(s Schedule) string {
	return fmt.Sprintf("%s %s-%s: subject %s", s.Weekday().String()[:3], s.StartTime, s.EndTime, s.SubjectID)
}
