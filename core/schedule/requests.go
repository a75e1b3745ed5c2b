package schedule

import (
	"time"

	"github.com/trezcool/ratiba/core"
)

type (
	NewSchedule struct {
		TeacherID         string   `json:"teacher_id" validate:"required,notblank"`
		SubjectID         string   `json:"subject_id" validate:"required,notblank"`
		StudentIDs        []string `json:"student_ids" validate:"required,min=1,unique,dive,required,notblank"`
		ClassDate         Date     `json:"class_date"`
		StartTime         string   `json:"start_time" validate:"required,hhmm"`
		EndTime           string   `json:"end_time" validate:"required,hhmm"`
		IsRecurring       bool     `json:"is_recurring"`
		RecurrencePattern Pattern  `json:"recurrence_pattern" validate:"omitempty,oneof=weekdays custom"`
		CustomDays        []string `json:"custom_days" validate:"omitempty,unique,dive,weekday"`
	}

	// TransitionRequest asks for the session of a Schedule to move to another status.
	TransitionRequest struct {
		Status Status `json:"status" validate:"required,oneof=pending available in_progress completed absent leave"`
		Reason string `json:"reason" validate:"max=500"`
		// At is when the transition happened; defaults to now.
		At         *time.Time       `json:"at"`
		Attendance []AttendanceMark `json:"attendance" validate:"omitempty,dive"`
	}

	AttendanceMark struct {
		StudentID string           `json:"student_id" validate:"required,notblank"`
		Status    AttendanceStatus `json:"status" validate:"required,oneof=present absent leave pending late"`
		Remarks   string           `json:"remarks" validate:"max=500"`
	}

	AttendanceRequest struct {
		Attendance []AttendanceMark `json:"attendance" validate:"required,min=1,dive"`
	}

	// QueryFilter applies AND operation on the set fields.
	QueryFilter struct {
		TeacherID string
		StudentID string
		ChainID   string
		Statuses  []Status
		From      Date // inclusive
		To        Date // inclusive
		Ordering  []core.DBOrdering
	}
)

// OrderingFields lists the fields schedules can be ordered by.
var OrderingFields = []string{"class_date", "start_time", "end_time", "session_status", "created_at", "updated_at"}

// Matches reports whether `s` satisfies the filter. Ordering is ignored.
func (f QueryFilter) Matches(s Schedule) bool {
	if f.TeacherID != "" && s.TeacherID != f.TeacherID {
		return false
	}
	if f.StudentID != "" && !s.HasStudent(f.StudentID) {
		return false
	}
	if f.ChainID != "" && s.RecurrenceChainID != f.ChainID {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, s.SessionStatus) {
		return false
	}
	if !f.From.IsZero() && s.ClassDate.Before(f.From.Time) {
		return false
	}
	if !f.To.IsZero() && s.ClassDate.After(f.To.Time) {
		return false
	}
	return true
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
