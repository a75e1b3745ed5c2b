package schedule

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Status is the session status of a Schedule instance.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAvailable  Status = "available"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusAbsent     Status = "absent"
	StatusLeave      Status = "leave"
)

var (
	AllStatuses      = []Status{StatusPending, StatusAvailable, StatusInProgress, StatusCompleted, StatusAbsent, StatusLeave}
	OpenStatuses     = []Status{StatusPending, StatusAvailable, StatusInProgress}
	TerminalStatuses = []Status{StatusCompleted, StatusAbsent, StatusLeave}
)

// IsOpen reports whether the session has yet to reach a terminal status.
func (s Status) IsOpen() bool {
	return s == StatusPending || s == StatusAvailable || s == StatusInProgress
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAbsent || s == StatusLeave
}

func (s Status) IsValid() bool {
	return s.IsOpen() || s.IsTerminal()
}

// Pattern is the recurrence pattern of a recurring Schedule.
type Pattern string

const (
	PatternWeekdays Pattern = "weekdays"
	PatternCustom   Pattern = "custom"
)

type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "present"
	AttendanceAbsent  AttendanceStatus = "absent"
	AttendanceLeave   AttendanceStatus = "leave"
	AttendancePending AttendanceStatus = "pending"
	AttendanceLate    AttendanceStatus = "late"
)

type AttendanceRecord struct {
	StudentID string           `json:"student_id"`
	Status    AttendanceStatus `json:"status"`
	Remarks   string           `json:"remarks,omitempty"`
	MarkedBy  string           `json:"marked_by,omitempty"`
	MarkedAt  time.Time        `json:"marked_at"`
}

// Schedule is one occurrence of a class.
type Schedule struct {
	ID                string    `json:"id"`
	RecurrenceChainID string    `json:"recurrence_chain_id,omitempty"`
	TeacherID         string    `json:"teacher_id"`
	SubjectID         string    `json:"subject_id"`
	StudentIDs        []string  `json:"student_ids"`
	Day               string    `json:"day"`
	ClassDate         Date      `json:"class_date"`
	StartTime         TimeOfDay `json:"start_time"`
	EndTime           TimeOfDay `json:"end_time"`

	IsRecurring       bool     `json:"is_recurring"`
	RecurrencePattern Pattern  `json:"recurrence_pattern,omitempty"`
	CustomDays        []string `json:"custom_days,omitempty"`

	SessionStatus  Status     `json:"session_status"`
	StatusReason   string     `json:"status_reason,omitempty"`
	ActualStart    *time.Time `json:"actual_start,omitempty"`
	ActualEnd      *time.Time `json:"actual_end,omitempty"`
	StartDelay     int        `json:"start_delay"`     // minutes
	EarlyEnd       int        `json:"early_end"`       // minutes
	ActualDuration int        `json:"actual_duration"` // minutes

	Attendance []AttendanceRecord `json:"attendance,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Weekday returns the weekday the class takes place on.
func (s Schedule) Weekday() time.Weekday {
	if !s.ClassDate.IsZero() {
		return s.ClassDate.Weekday()
	}
	if wd, ok := ParseWeekday(s.Day); ok {
		return wd
	}
	return -1
}

// Overlaps reports whether the class window intersects [start, end).
func (s Schedule) Overlaps(start, end TimeOfDay) bool {
	return s.StartTime < end && start < s.EndTime
}

// ScheduledStart returns the planned start instant in `loc`.
func (s Schedule) ScheduledStart(loc *time.Location) time.Time {
	return s.StartTime.On(s.ClassDate, loc)
}

func (s Schedule) ScheduledEnd(loc *time.Location) time.Time {
	return s.EndTime.On(s.ClassDate, loc)
}

func (s Schedule) HasStudent(id string) bool {
	for _, sid := range s.StudentIDs {
		if sid == id {
			return true
		}
	}
	return false
}

// CustomWeekdays returns CustomDays as time.Weekday values, ignoring unknown names.
func (s Schedule) CustomWeekdays() []time.Weekday {
	days := make([]time.Weekday, 0, len(s.CustomDays))
	for _, name := range s.CustomDays {
		if wd, ok := ParseWeekday(name); ok {
			days = append(days, wd)
		}
	}
	return days
}

// Participants returns the teacher and students of the class.
func (s Schedule) Participants() []string {
	ids := make([]string, 0, len(s.StudentIDs)+1)
	ids = append(ids, s.TeacherID)
	return append(ids, s.StudentIDs...)
}

func (s Schedule) String() string {
	return strings.Join([]string{s.ID, s.ClassDate.String(), s.StartTime.String() + "-" + s.EndTime.String(), string(s.SessionStatus)}, " ")
}

// ParseWeekday parses a full english weekday name (case-insensitive).
func ParseWeekday(name string) (time.Weekday, bool) {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if strings.EqualFold(wd.String(), strings.TrimSpace(name)) {
			return wd, true
		}
	}
	return -1, false
}

// Date is a calendar date without time of day, JSON encoded as "YYYY-MM-DD".
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of `t` in its own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, errors.Errorf("invalid date %q: must be formatted as YYYY-MM-DD", s)
	}
	return Date{t}, nil
}

func (d Date) AddDays(n int) Date {
	return Date{d.Time.AddDate(0, 0, n)}
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) Value() (driver.Value, error) {
	return d.Time, nil
}

func (d *Date) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		*d = NewDate(v.Year(), v.Month(), v.Day())
		return nil
	case string:
		parsed, err := ParseDate(v[:min(len(v), len(dateLayout))])
		*d = parsed
		return err
	case []byte:
		return d.Scan(string(v))
	case nil:
		*d = Date{}
		return nil
	}
	return errors.Errorf("cannot scan %T into Date", src)
}

// TimeOfDay is a wall clock time in minutes since midnight, JSON encoded as "HH:MM".
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Errorf("invalid time %q: must be formatted as HH:MM", s)
	}
	return NewTimeOfDay(t.Hour(), t.Minute()), nil
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On returns the instant of `t` on `date` in `loc`.
func (t TimeOfDay) On(date Date, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, loc)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
