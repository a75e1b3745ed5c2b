package schedule

// Realtime events
const (
	EventCreated          = "schedule:created"
	EventStatusChanged    = "schedule:status_changed"
	EventAttendanceMarked = "schedule:attendance_marked"
	EventDeleted          = "schedule:deleted"
	EventRecurrenceFailed = "schedule:recurrence_failed"
)

type (
	StatusChange struct {
		Schedule Schedule `json:"schedule"`
		From     Status   `json:"from"`
	}

	RecurrenceFailure struct {
		ChainID    string `json:"chain_id"`
		ScheduleID string `json:"schedule_id"`
		Error      string `json:"error"`
	}
)
