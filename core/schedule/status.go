package schedule

import (
	"fmt"
	"time"

	"github.com/trezcool/ratiba/core"
)

type transition struct {
	from, to Status
	// policy gates the edge behind a configurable rule; nil means always allowed.
	policy func(Policy) bool
}

func fromAvailablePolicy(p Policy) bool { return p.AllowNonOccurrenceFromAvailable }

// transitions is the single table of legal session status edges.
var transitions = []transition{
	{from: StatusPending, to: StatusAvailable},
	{from: StatusPending, to: StatusInProgress},
	{from: StatusAvailable, to: StatusInProgress},
	{from: StatusInProgress, to: StatusCompleted},
	{from: StatusPending, to: StatusAbsent},
	{from: StatusPending, to: StatusLeave},
	{from: StatusAvailable, to: StatusAbsent, policy: fromAvailablePolicy},
	{from: StatusAvailable, to: StatusLeave, policy: fromAvailablePolicy},
}

// Policy holds the configurable rules of the state machine.
type Policy struct {
	AllowNonOccurrenceFromAvailable bool
}

// TransitionError is returned for any edge missing from the transition table.
type TransitionError struct {
	From Status
	To   Status
}

func (err TransitionError) Error() string {
	return fmt.Sprintf("invalid session status transition from %q to %q", err.From, err.To)
}

// StateMachine drives a Schedule through its session statuses and derives the timing metrics.
type StateMachine struct {
	policy Policy
	loc    *time.Location
}

func NewStateMachine(policy Policy, loc *time.Location) *StateMachine {
	if loc == nil {
		loc = time.UTC
	}
	return &StateMachine{policy: policy, loc: loc}
}

// CanTransition reports whether `from` -> `to` is a legal edge under the current policy.
func (sm *StateMachine) CanTransition(from, to Status) bool {
	for _, t := range transitions {
		if t.from == from && t.to == to {
			return t.policy == nil || t.policy(sm.policy)
		}
	}
	return false
}

// Targets lists the statuses reachable from `from`.
func (sm *StateMachine) Targets(from Status) []Status {
	var out []Status
	for _, t := range transitions {
		if t.from == from && (t.policy == nil || t.policy(sm.policy)) {
			out = append(out, t.to)
		}
	}
	return out
}

// Change is a validated transition of one Schedule.
type Change struct {
	To         Status
	At         time.Time
	Reason     string
	Actor      string
	Attendance []AttendanceMark
}

// Apply returns `s` moved to `c.To`. `s` is never mutated; on error nothing changes.
func (sm *StateMachine) Apply(s Schedule, c Change) (Schedule, error) {
	from := s.SessionStatus
	if !sm.CanTransition(from, c.To) {
		return s, &TransitionError{From: from, To: c.To}
	}
	if len(c.Attendance) > 0 && !c.To.IsTerminal() {
		return s, core.NewValidationError(
			errAttendanceNotTerminal,
			core.FieldError{Field: "attendance", Error: errAttendanceNotTerminal.Error()},
		)
	}

	next := s
	next.StudentIDs = append([]string(nil), s.StudentIDs...)
	next.SessionStatus = c.To
	next.UpdatedAt = c.At

	switch c.To {
	case StatusInProgress:
		start := c.At
		next.ActualStart = &start
		next.StartDelay = minutesBetween(s.ScheduledStart(sm.loc), start)

	case StatusCompleted:
		if s.ActualStart == nil {
			return s, core.NewValidationError(errNotStarted)
		}
		if c.At.Before(*s.ActualStart) {
			return s, core.NewValidationError(
				errEndBeforeStart,
				core.FieldError{Field: "at", Error: errEndBeforeStart.Error()},
			)
		}
		end := c.At
		next.ActualEnd = &end
		next.EarlyEnd = minutesBetween(end, s.ScheduledEnd(sm.loc))
		next.ActualDuration = int(end.Sub(*s.ActualStart) / time.Minute)

	case StatusAbsent, StatusLeave:
		next.StatusReason = c.Reason
	}

	if c.To.IsTerminal() {
		recs, err := buildAttendance(s, c.Attendance, c.Actor, c.At)
		if err != nil {
			return s, err
		}
		next.Attendance = recs
	}
	return next, nil
}

// minutesBetween returns the whole minutes from `a` to `b`, floored at 0.
func minutesBetween(a, b time.Time) int {
	d := b.Sub(a)
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}

// buildAttendance returns one record per student: the given mark, or pending when unmarked.
func buildAttendance(s Schedule, marks []AttendanceMark, actor string, at time.Time) ([]AttendanceRecord, error) {
	byStudent := make(map[string]AttendanceMark, len(marks))
	for _, m := range marks {
		if !s.HasStudent(m.StudentID) {
			err := fmt.Errorf("student %q is not enrolled in this class", m.StudentID)
			return nil, core.NewValidationError(err, core.FieldError{Field: "attendance", Error: err.Error()})
		}
		byStudent[m.StudentID] = m
	}

	recs := make([]AttendanceRecord, 0, len(s.StudentIDs))
	for _, sid := range s.StudentIDs {
		rec := AttendanceRecord{StudentID: sid, Status: AttendancePending, MarkedAt: at}
		if m, ok := byStudent[sid]; ok {
			rec.Status = m.Status
			rec.Remarks = m.Remarks
			rec.MarkedBy = actor
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// mergeAttendance updates the existing records of `s` with `marks`.
func mergeAttendance(s Schedule, marks []AttendanceMark, actor string, at time.Time) ([]AttendanceRecord, error) {
	current := s.Attendance
	if len(current) == 0 {
		var err error
		if current, err = buildAttendance(s, nil, actor, at); err != nil {
			return nil, err
		}
	}
	recs := make([]AttendanceRecord, len(current))
	copy(recs, current)

	idx := make(map[string]int, len(recs))
	for i, r := range recs {
		idx[r.StudentID] = i
	}
	for _, m := range marks {
		i, ok := idx[m.StudentID]
		if !ok || !s.HasStudent(m.StudentID) {
			err := fmt.Errorf("student %q is not enrolled in this class", m.StudentID)
			return nil, core.NewValidationError(err, core.FieldError{Field: "attendance", Error: err.Error()})
		}
		recs[i].Status = m.Status
		recs[i].Remarks = m.Remarks
		recs[i].MarkedBy = actor
		recs[i].MarkedAt = at
	}
	return recs, nil
}
