package schedule

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/ratiba/core"
	"github.com/trezcool/ratiba/core/auth"
)

var (
	NowFunc = time.Now // mockable

	// errors
	ErrNotFound           = errors.New("schedule not found")
	ErrStatusConflict     = errors.New("session status changed concurrently")
	ErrTeacherConflict    = errors.New("teacher already has a class at this time")
	ErrOpenInstanceExists = errors.New("recurrence chain already has an open instance")
	ErrDeleteForbidden    = errors.New("cannot delete a pending or in progress class")
	ErrForbidden          = errors.New("only the assigned teacher or an admin can do this")
	ErrNotRecurring       = errors.New("not a recurrence chain")

	errNoCustomDays          = errors.New("custom recurrence pattern has no days")
	errAttendanceNotTerminal = errors.New("attendance can only be marked on a finished session")
	errNotStarted            = errors.New("session was never started")
	errEndBeforeStart        = errors.New("session cannot end before it started")
)

type (
	Repository interface {
		CreateSchedule(ctx context.Context, s Schedule) (Schedule, error)
		GetSchedule(ctx context.Context, id string) (Schedule, error)
		QuerySchedules(ctx context.Context, filter QueryFilter) ([]Schedule, error)
		// GetOpenInstance returns the pending, available or in progress instance of a chain.
		GetOpenInstance(ctx context.Context, chainID string) (Schedule, error)
		// GetLatestInChain returns the instance of a chain with the latest class date.
		GetLatestInChain(ctx context.Context, chainID string) (Schedule, error)
		// UpdateSession stores the session fields of `s` iff its stored status still is `expected`.
		// Returns ErrStatusConflict otherwise.
		UpdateSession(ctx context.Context, s Schedule, expected Status) (Schedule, error)
		UpdateAttendance(ctx context.Context, id string, records []AttendanceRecord, updatedAt time.Time) (Schedule, error)
		// DeleteSchedule deletes `s` iff its stored status still is s.SessionStatus.
		DeleteSchedule(ctx context.Context, s Schedule) error
		// QueryOrphanedChains returns the latest instance of every recurrence chain having no open instance.
		QueryOrphanedChains(ctx context.Context) ([]Schedule, error)
	}

	// Notifier pushes events to connected users.
	Notifier interface {
		EmitToRoles(roles []string, event string, payload interface{})
		EmitToUser(userID string, event string, payload interface{})
	}

	// ServiceInterface is implemented by Service; the api layers depend on it.
	ServiceInterface interface {
		Create(ctx context.Context, ns NewSchedule) (Schedule, error)
		Get(ctx context.Context, id string) (Schedule, error)
		Query(ctx context.Context, filter QueryFilter) ([]Schedule, error)
		Availability(ctx context.Context, teacherID string, week Date) (AvailabilityMap, error)
		Transition(ctx context.Context, id string, req TransitionRequest, actor auth.Identity) (Schedule, error)
		MarkAttendance(ctx context.Context, id string, req AttendanceRequest, actor auth.Identity) (Schedule, error)
		Delete(ctx context.Context, id string) error
		RegenerateChain(ctx context.Context, chainID string) (Schedule, error)
		OrphanedChains(ctx context.Context) ([]Schedule, error)
	}

	Service struct {
		repo       Repository
		locker     Locker
		notifier   Notifier
		mailSvc    core.EmailService
		logger     core.Logger
		validate   *validator.Validate
		machine    *StateMachine
		recurrence *Recurrence
		opsEmails  []mail.Address
		loc        *time.Location
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(
	repo Repository,
	locker Locker,
	notifier Notifier,
	mailSvc core.EmailService,
	logger core.Logger,
	validate *validator.Validate,
	conf *core.Config,
) *Service {
	loc := conf.Timezone
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:       repo,
		locker:     locker,
		notifier:   notifier,
		mailSvc:    mailSvc,
		logger:     logger,
		validate:   validate,
		machine:    NewStateMachine(Policy{AllowNonOccurrenceFromAvailable: conf.Schedule.AllowNonOccurrenceFromAvailable}, loc),
		recurrence: NewRecurrence(repo, locker, logger),
		opsEmails:  conf.OpsEmails,
		loc:        loc,
	}
}

// Create validates and stores a new class. Recurring classes start a new recurrence chain.
func (svc *Service) Create(ctx context.Context, ns NewSchedule) (Schedule, error) {
	if err := svc.validate.Struct(ns); err != nil {
		return Schedule{}, err
	}
	start, _ := ParseTimeOfDay(ns.StartTime)
	end, _ := ParseTimeOfDay(ns.EndTime)

	now := NowFunc().UTC()
	s := Schedule{
		ID:            uuid.New().String(),
		TeacherID:     core.CleanString(ns.TeacherID),
		SubjectID:     core.CleanString(ns.SubjectID),
		StudentIDs:    cleanIDs(ns.StudentIDs),
		Day:           ns.ClassDate.Weekday().String(),
		ClassDate:     ns.ClassDate,
		StartTime:     start,
		EndTime:       end,
		IsRecurring:   ns.IsRecurring,
		SessionStatus: StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if ns.IsRecurring {
		s.RecurrenceChainID = uuid.New().String()
		s.RecurrencePattern = ns.RecurrencePattern
		if ns.RecurrencePattern == PatternCustom {
			s.CustomDays = normalizeDays(ns.CustomDays)
		}
	}

	unlock, err := svc.locker.Lock(ctx, teacherLockKey(s.TeacherID))
	if err != nil {
		return Schedule{}, errors.Wrap(err, "locking teacher")
	}
	defer unlock()

	if err = checkTeacherConflict(ctx, svc.repo, s); err != nil {
		if errors.Is(err, ErrTeacherConflict) {
			return Schedule{}, core.NewConflictError(err)
		}
		return Schedule{}, err
	}

	s, err = svc.repo.CreateSchedule(ctx, s)
	if err != nil {
		return Schedule{}, errors.Wrap(err, "creating schedule")
	}
	svc.notify(s, EventCreated, s)
	return s, nil
}

func (svc *Service) Get(ctx context.Context, id string) (Schedule, error) {
	return svc.repo.GetSchedule(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter) ([]Schedule, error) {
	for _, ord := range filter.Ordering {
		if !core.ContainsString(OrderingFields, ord.Field) {
			err := fmt.Errorf("cannot order by %q", ord.Field)
			return nil, core.NewValidationError(err, core.FieldError{Field: "ordering", Error: err.Error()})
		}
	}
	return svc.repo.QuerySchedules(ctx, filter)
}

// Availability computes the weekly slot map of a teacher.
// With a zero `week` it accounts for the teacher's open instances,
// otherwise for the classes of the Monday-Friday week containing `week` that were not called off.
func (svc *Service) Availability(ctx context.Context, teacherID string, week Date) (AvailabilityMap, error) {
	filter := QueryFilter{TeacherID: teacherID, Statuses: OpenStatuses}
	if !week.IsZero() {
		monday := week.AddDays(-((int(week.Weekday()) + 6) % 7))
		filter.From = monday
		filter.To = monday.AddDays(4)
		filter.Statuses = []Status{StatusPending, StatusAvailable, StatusInProgress, StatusCompleted}
	}
	schedules, err := svc.repo.QuerySchedules(ctx, filter)
	if err != nil {
		return AvailabilityMap{}, errors.Wrap(err, "querying teacher schedules")
	}
	return ComputeAvailability(teacherID, schedules), nil
}

// Transition moves the session of a class to another status.
// A terminal transition triggers the recurrence engine; on failure the committed Schedule
// is returned along with a *RecurrenceError.
func (svc *Service) Transition(ctx context.Context, id string, req TransitionRequest, actor auth.Identity) (Schedule, error) {
	if err := svc.validate.Struct(req); err != nil {
		return Schedule{}, err
	}
	current, err := svc.repo.GetSchedule(ctx, id)
	if err != nil {
		return Schedule{}, err
	}
	if !canManage(current, actor) {
		return Schedule{}, ErrForbidden
	}

	at := NowFunc()
	if req.At != nil {
		at = *req.At
	}
	next, err := svc.machine.Apply(current, Change{
		To:         req.Status,
		At:         at.UTC(),
		Reason:     core.CleanString(req.Reason),
		Actor:      actor.UserID,
		Attendance: req.Attendance,
	})
	if err != nil {
		return Schedule{}, err
	}

	updated, err := svc.repo.UpdateSession(ctx, next, current.SessionStatus)
	if err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return Schedule{}, core.NewConflictError(err)
		}
		return Schedule{}, errors.Wrap(err, "updating session")
	}
	svc.notify(updated, EventStatusChanged, StatusChange{Schedule: updated, From: current.SessionStatus})

	if updated.SessionStatus.IsTerminal() {
		if created, err := svc.runRecurrence(ctx, updated); err != nil {
			return updated, err
		} else if created != nil {
			svc.notify(*created, EventCreated, *created)
		}
	}
	return updated, nil
}

// MarkAttendance updates the attendance of a finished class.
// Marks on the same class are applied one at a time.
func (svc *Service) MarkAttendance(ctx context.Context, id string, req AttendanceRequest, actor auth.Identity) (Schedule, error) {
	if err := svc.validate.Struct(req); err != nil {
		return Schedule{}, err
	}

	unlock, err := svc.locker.Lock(ctx, scheduleLockKey(id))
	if err != nil {
		return Schedule{}, errors.Wrap(err, "locking schedule")
	}
	defer unlock()

	s, err := svc.repo.GetSchedule(ctx, id)
	if err != nil {
		return Schedule{}, err
	}
	if !canManage(s, actor) {
		return Schedule{}, ErrForbidden
	}
	if !s.SessionStatus.IsTerminal() {
		return Schedule{}, core.NewValidationError(errAttendanceNotTerminal)
	}

	now := NowFunc().UTC()
	recs, err := mergeAttendance(s, req.Attendance, actor.UserID, now)
	if err != nil {
		return Schedule{}, err
	}
	s, err = svc.repo.UpdateAttendance(ctx, id, recs, now)
	if err != nil {
		return Schedule{}, errors.Wrap(err, "updating attendance")
	}
	svc.notify(s, EventAttendanceMarked, s)
	return s, nil
}

// Delete hard-deletes a class unless its session is pending or in progress.
func (svc *Service) Delete(ctx context.Context, id string) error {
	s, err := svc.repo.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	if s.SessionStatus == StatusPending || s.SessionStatus == StatusInProgress {
		return core.NewConflictError(ErrDeleteForbidden)
	}
	if err = svc.repo.DeleteSchedule(ctx, s); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return core.NewConflictError(err)
		}
		return errors.Wrap(err, "deleting schedule")
	}
	svc.notify(s, EventDeleted, s)
	return nil
}

// RegenerateChain retries the creation of the next occurrence of a chain left without an open instance.
func (svc *Service) RegenerateChain(ctx context.Context, chainID string) (Schedule, error) {
	if _, err := svc.repo.GetOpenInstance(ctx, chainID); err == nil {
		return Schedule{}, core.NewConflictError(ErrOpenInstanceExists)
	} else if !errors.Is(err, ErrNotFound) {
		return Schedule{}, errors.Wrap(err, "getting open instance")
	}

	latest, err := svc.repo.GetLatestInChain(ctx, chainID)
	if err != nil {
		return Schedule{}, err
	}
	if !latest.IsRecurring {
		return Schedule{}, ErrNotRecurring
	}

	created, err := svc.runRecurrence(ctx, latest)
	if err != nil {
		return Schedule{}, err
	}
	if created == nil {
		// lost against a concurrent regeneration
		return Schedule{}, core.NewConflictError(ErrOpenInstanceExists)
	}
	svc.notify(*created, EventCreated, *created)
	return *created, nil
}

func (svc *Service) OrphanedChains(ctx context.Context) ([]Schedule, error) {
	return svc.repo.QueryOrphanedChains(ctx)
}

func (svc *Service) runRecurrence(ctx context.Context, s Schedule) (*Schedule, error) {
	created, err := svc.recurrence.OnTerminalTransition(ctx, s)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("recurrence failed: %v", err), err)
		svc.notifier.EmitToRoles([]string{auth.RoleAdmin}, EventRecurrenceFailed, RecurrenceFailure{
			ChainID:    s.RecurrenceChainID,
			ScheduleID: s.ID,
			Error:      errors.Cause(err).Error(),
		})
		svc.alertOps(s, err)
	}
	return created, err
}

func (svc *Service) alertOps(s Schedule, err error) {
	if len(svc.opsEmails) == 0 || svc.mailSvc == nil {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      svc.opsEmails,
		Subject: "Recurring class not regenerated",
		Body:    fmt.Sprintf(
			"The next occurrence of recurrence chain %s could not be created after class %s (%s %s-%s).\n\nError: %v\n\nRetry with: admin regenerate -chain %s\n",
			s.RecurrenceChainID, s.ID, s.ClassDate, s.StartTime, s.EndTime, err, s.RecurrenceChainID,
		),
	})
}

// notify pushes an event to the admins and the participants of a class.
func (svc *Service) notify(s Schedule, event string, payload interface{}) {
	svc.notifier.EmitToRoles([]string{auth.RoleAdmin}, event, payload)
	for _, uid := range s.Participants() {
		svc.notifier.EmitToUser(uid, event, payload)
	}
}

func canManage(s Schedule, actor auth.Identity) bool {
	return actor.IsAdmin() || (actor.Role == auth.RoleTeacher && actor.UserID == s.TeacherID)
}

func cleanIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, core.CleanString(id))
	}
	return out
}

// normalizeDays returns canonical weekday names sorted from Sunday.
func normalizeDays(names []string) []string {
	seen := make(map[time.Weekday]bool, len(names))
	for _, n := range names {
		if wd, ok := ParseWeekday(n); ok {
			seen[wd] = true
		}
	}
	out := make([]string, 0, len(seen))
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if seen[wd] {
			out = append(out, wd.String())
		}
	}
	return out
}

