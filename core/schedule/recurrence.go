package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/ratiba/core"
)

// RecurrenceError is returned when the next occurrence of a chain could not be created.
// The transition that triggered it is already committed; the chain stays without an open instance
// until RegenerateChain is called.
type RecurrenceError struct {
	ChainID    string
	ScheduleID string
	Err        error
}

func (err RecurrenceError) Error() string {
	return fmt.Sprintf("creating next occurrence of chain %s: %v", err.ChainID, err.Err)
}

func (err RecurrenceError) Unwrap() error { return err.Err }

// NextClassDate returns the first date strictly after `current` matching the recurrence pattern.
func NextClassDate(current Date, pattern Pattern, customDays []time.Weekday) (Date, error) {
	var match func(time.Weekday) bool
	switch pattern {
	case PatternWeekdays:
		match = isSchoolDay
	case PatternCustom:
		if len(customDays) == 0 {
			return Date{}, errNoCustomDays
		}
		set := make(map[time.Weekday]bool, len(customDays))
		for _, wd := range customDays {
			set[wd] = true
		}
		match = func(wd time.Weekday) bool { return set[wd] }
	default:
		return Date{}, errors.Errorf("unknown recurrence pattern %q", pattern)
	}

	for i := 1; i <= 7; i++ {
		d := current.AddDays(i)
		if match(d.Weekday()) {
			return d, nil
		}
	}
	return Date{}, errNoCustomDays
}

// Locker serializes work on a key across goroutines (and processes, depending on the implementation).
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

func chainLockKey(chainID string) string { return "schedule:chain:" + chainID }
func teacherLockKey(teacherID string) string { return "schedule:teacher:" + teacherID }
func scheduleLockKey(id string) string { return "schedule:id:" + id }

// Recurrence materializes the next occurrence of recurring classes.
type Recurrence struct {
	repo   Repository
	locker Locker
	logger core.Logger
}

func NewRecurrence(repo Repository, locker Locker, logger core.Logger) *Recurrence {
	return &Recurrence{repo: repo, locker: locker, logger: logger}
}

// OnTerminalTransition is invoked once a Schedule reached a terminal status.
// It returns the created occurrence, or nil when there was nothing to do: the class is not recurring,
// the chain already has an open instance, or `s` is not the latest occurrence of its chain.
// Duplicate and concurrent calls create at most one occurrence.
func (r *Recurrence) OnTerminalTransition(ctx context.Context, s Schedule) (*Schedule, error) {
	if !s.IsRecurring || s.RecurrenceChainID == "" || !s.SessionStatus.IsTerminal() {
		return nil, nil
	}
	chainID := s.RecurrenceChainID
	fail := func(err error) (*Schedule, error) {
		return nil, &RecurrenceError{ChainID: chainID, ScheduleID: s.ID, Err: err}
	}

	unlock, err := r.locker.Lock(ctx, chainLockKey(chainID))
	if err != nil {
		return fail(errors.Wrap(err, "locking chain"))
	}
	defer unlock()

	if _, err = r.repo.GetOpenInstance(ctx, chainID); err == nil {
		return nil, nil
	} else if !errors.Is(err, ErrNotFound) {
		return fail(errors.Wrap(err, "getting open instance"))
	}

	latest, err := r.repo.GetLatestInChain(ctx, chainID)
	if err != nil {
		return fail(errors.Wrap(err, "getting latest instance"))
	}
	if latest.ID != s.ID {
		return nil, nil // stale event: a later occurrence already exists
	}

	date, err := NextClassDate(latest.ClassDate, latest.RecurrencePattern, latest.CustomWeekdays())
	if err != nil {
		return fail(err)
	}

	now := NowFunc().UTC()
	next := Schedule{
		ID:                uuid.New().String(),
		RecurrenceChainID: chainID,
		TeacherID:         latest.TeacherID,
		SubjectID:         latest.SubjectID,
		StudentIDs:        append([]string(nil), latest.StudentIDs...),
		Day:               date.Weekday().String(),
		ClassDate:         date,
		StartTime:         latest.StartTime,
		EndTime:           latest.EndTime,
		IsRecurring:       true,
		RecurrencePattern: latest.RecurrencePattern,
		CustomDays:        append([]string(nil), latest.CustomDays...),
		SessionStatus:     StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	tUnlock, err := r.locker.Lock(ctx, teacherLockKey(next.TeacherID))
	if err != nil {
		return fail(errors.Wrap(err, "locking teacher"))
	}
	defer tUnlock()

	if err = checkTeacherConflict(ctx, r.repo, next); err != nil {
		return fail(err)
	}

	created, err := r.repo.CreateSchedule(ctx, next)
	if err != nil {
		if errors.Is(err, ErrOpenInstanceExists) {
			return nil, nil
		}
		return fail(errors.Wrap(err, "creating schedule"))
	}
	r.logger.Info(fmt.Sprintf("chain %s: next occurrence %s on %s", chainID, created.ID, created.ClassDate))
	return &created, nil
}

// checkTeacherConflict fails with ErrTeacherConflict when the teacher already has a class overlapping `s`.
func checkTeacherConflict(ctx context.Context, repo Repository, s Schedule) error {
	booked, err := repo.QuerySchedules(ctx, QueryFilter{
		TeacherID: s.TeacherID,
		From:      s.ClassDate,
		To:        s.ClassDate,
		Statuses:  []Status{StatusPending, StatusAvailable, StatusInProgress, StatusCompleted},
	})
	if err != nil {
		return errors.Wrap(err, "querying teacher schedules")
	}
	for _, b := range booked {
		if b.ID != s.ID && b.Overlaps(s.StartTime, s.EndTime) {
			return errors.Wrapf(ErrTeacherConflict, "%s %s-%s", b.ClassDate, b.StartTime, b.EndTime)
		}
	}
	return nil
}
