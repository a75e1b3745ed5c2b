package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/ratiba/core"
	"github.com/trezcool/ratiba/core/schedule"
)

type scheduleRepository struct {
	db *scheduleTable
}

var _ schedule.Repository = (*scheduleRepository)(nil) // interface compliance check

func NewScheduleRepository(db *DB) *scheduleRepository {
	return &scheduleRepository{db: db.schedule}
}

// clone returns a copy sharing no slices nor pointers with `s`.
func clone(s schedule.Schedule) schedule.Schedule {
	s.StudentIDs = append([]string(nil), s.StudentIDs...)
	if s.CustomDays != nil {
		s.CustomDays = append([]string(nil), s.CustomDays...)
	}
	if s.Attendance != nil {
		s.Attendance = append([]schedule.AttendanceRecord(nil), s.Attendance...)
	}
	if s.ActualStart != nil {
		t := *s.ActualStart
		s.ActualStart = &t
	}
	if s.ActualEnd != nil {
		t := *s.ActualEnd
		s.ActualEnd = &t
	}
	return s
}

func (repo *scheduleRepository) query(filter schedule.QueryFilter) []schedule.Schedule {
	out := make([]schedule.Schedule, 0)
	for _, s := range repo.db.table {
		if filter.Matches(*s) {
			out = append(out, clone(*s))
		}
	}
	return out
}

func (repo *scheduleRepository) openInstance(chainID string) (*schedule.Schedule, bool) {
	for _, s := range repo.db.table {
		if s.RecurrenceChainID == chainID && s.SessionStatus.IsOpen() {
			return s, true
		}
	}
	return nil, false
}

func (repo *scheduleRepository) CreateSchedule(_ context.Context, s schedule.Schedule) (schedule.Schedule, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if s.RecurrenceChainID != "" && s.SessionStatus.IsOpen() {
		if _, ok := repo.openInstance(s.RecurrenceChainID); ok {
			return schedule.Schedule{}, schedule.ErrOpenInstanceExists
		}
	}
	s = clone(s)
	repo.db.table[s.ID] = &s
	return clone(s), nil
}

func (repo *scheduleRepository) GetSchedule(_ context.Context, id string) (schedule.Schedule, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if s, ok := repo.db.table[id]; ok {
		return clone(*s), nil
	}
	return schedule.Schedule{}, schedule.ErrNotFound
}

func (repo *scheduleRepository) QuerySchedules(_ context.Context, filter schedule.QueryFilter) ([]schedule.Schedule, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	out := repo.query(filter)
	sortSchedules(out, filter.Ordering)
	return out, nil
}

func (repo *scheduleRepository) GetOpenInstance(_ context.Context, chainID string) (schedule.Schedule, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if s, ok := repo.openInstance(chainID); ok {
		return clone(*s), nil
	}
	return schedule.Schedule{}, schedule.ErrNotFound
}

func (repo *scheduleRepository) GetLatestInChain(_ context.Context, chainID string) (schedule.Schedule, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	chain := repo.query(schedule.QueryFilter{ChainID: chainID})
	if chainID == "" || len(chain) == 0 {
		return schedule.Schedule{}, schedule.ErrNotFound
	}
	sortSchedules(chain, latestFirst)
	return chain[0], nil
}

func (repo *scheduleRepository) UpdateSession(_ context.Context, s schedule.Schedule, expected schedule.Status) (schedule.Schedule, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored, ok := repo.db.table[s.ID]
	if !ok {
		return schedule.Schedule{}, schedule.ErrNotFound
	}
	if stored.SessionStatus != expected {
		return schedule.Schedule{}, schedule.ErrStatusConflict
	}

	updated := clone(*stored)
	updated.SessionStatus = s.SessionStatus
	updated.StatusReason = s.StatusReason
	updated.ActualStart = s.ActualStart
	updated.ActualEnd = s.ActualEnd
	updated.StartDelay = s.StartDelay
	updated.EarlyEnd = s.EarlyEnd
	updated.ActualDuration = s.ActualDuration
	updated.Attendance = s.Attendance
	updated.UpdatedAt = s.UpdatedAt
	updated = clone(updated)

	repo.db.table[s.ID] = &updated
	return clone(updated), nil
}

func (repo *scheduleRepository) UpdateAttendance(_ context.Context, id string, records []schedule.AttendanceRecord, updatedAt time.Time) (schedule.Schedule, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored, ok := repo.db.table[id]
	if !ok {
		return schedule.Schedule{}, schedule.ErrNotFound
	}
	updated := clone(*stored)
	updated.Attendance = append([]schedule.AttendanceRecord(nil), records...)
	updated.UpdatedAt = updatedAt

	repo.db.table[id] = &updated
	return clone(updated), nil
}

func (repo *scheduleRepository) DeleteSchedule(_ context.Context, s schedule.Schedule) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored, ok := repo.db.table[s.ID]
	if !ok {
		return schedule.ErrNotFound
	}
	if stored.SessionStatus != s.SessionStatus {
		return schedule.ErrStatusConflict
	}
	delete(repo.db.table, s.ID)
	return nil
}

func (repo *scheduleRepository) QueryOrphanedChains(_ context.Context) ([]schedule.Schedule, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	latest := make(map[string]schedule.Schedule)
	open := make(map[string]bool)
	for _, s := range repo.db.table {
		if s.RecurrenceChainID == "" || !s.IsRecurring {
			continue
		}
		if s.SessionStatus.IsOpen() {
			open[s.RecurrenceChainID] = true
		}
		if cur, ok := latest[s.RecurrenceChainID]; !ok || isLater(*s, cur) {
			latest[s.RecurrenceChainID] = clone(*s)
		}
	}

	out := make([]schedule.Schedule, 0)
	for chainID, s := range latest {
		if !open[chainID] {
			out = append(out, s)
		}
	}
	sortSchedules(out, []core.DBOrdering{{Field: "class_date", Ascending: true}, {Field: "start_time", Ascending: true}})
	return out, nil
}

var latestFirst = []core.DBOrdering{{Field: "class_date"}, {Field: "start_time"}, {Field: "created_at"}}

func isLater(a, b schedule.Schedule) bool {
	if !a.ClassDate.Equal(b.ClassDate.Time) {
		return a.ClassDate.After(b.ClassDate.Time)
	}
	if a.StartTime != b.StartTime {
		return a.StartTime > b.StartTime
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// sortSchedules orders by `ords`, then by class date & start time.
func sortSchedules(list []schedule.Schedule, ords []core.DBOrdering) {
	ords = append(append([]core.DBOrdering(nil), ords...),
		core.DBOrdering{Field: "class_date", Ascending: true},
		core.DBOrdering{Field: "start_time", Ascending: true},
		core.DBOrdering{Field: "id", Ascending: true},
	)
	sort.SliceStable(list, func(i, j int) bool {
		for _, ord := range ords {
			c := compare(list[i], list[j], ord.Field)
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return false
	})
}

func compare(a, b schedule.Schedule, field string) int {
	switch field {
	case "class_date":
		return compareTime(a.ClassDate.Time, b.ClassDate.Time)
	case "start_time":
		return int(a.StartTime) - int(b.StartTime)
	case "end_time":
		return int(a.EndTime) - int(b.EndTime)
	case "session_status":
		return compareString(string(a.SessionStatus), string(b.SessionStatus))
	case "created_at":
		return compareTime(a.CreatedAt, b.CreatedAt)
	case "updated_at":
		return compareTime(a.UpdatedAt, b.UpdatedAt)
	case "id":
		return compareString(a.ID, b.ID)
	}
	return 0
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

func compareString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
