package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/ratiba/core"
	"github.com/trezcool/ratiba/core/schedule"
)

const (
	uniqueViolation    = "23505"
	chainOpenUniqIndex = "schedule_chain_open_uniq"

	scheduleColumns = `id, recurrence_chain_id, teacher_id, subject_id, student_ids, day, class_date,
		start_time, end_time, is_recurring, recurrence_pattern, custom_days, session_status, status_reason,
		actual_start, actual_end, start_delay, early_end, actual_duration, attendance, created_at, updated_at`
)

var openStatuses = pq.StringArray{
	string(schedule.StatusPending),
	string(schedule.StatusAvailable),
	string(schedule.StatusInProgress),
}

type scheduleRow struct {
	ID                string             `db:"id"`
	RecurrenceChainID null.String        `db:"recurrence_chain_id"`
	TeacherID         string             `db:"teacher_id"`
	SubjectID         string             `db:"subject_id"`
	StudentIDs        pq.StringArray     `db:"student_ids"`
	Day               string             `db:"day"`
	ClassDate         time.Time          `db:"class_date"`
	StartTime         int16              `db:"start_time"`
	EndTime           int16              `db:"end_time"`
	IsRecurring       bool               `db:"is_recurring"`
	RecurrencePattern null.String        `db:"recurrence_pattern"`
	CustomDays        pq.StringArray     `db:"custom_days"`
	SessionStatus     string             `db:"session_status"`
	StatusReason      null.String        `db:"status_reason"`
	ActualStart       null.Time          `db:"actual_start"`
	ActualEnd         null.Time          `db:"actual_end"`
	StartDelay        int                `db:"start_delay"`
	EarlyEnd          int                `db:"early_end"`
	ActualDuration    int                `db:"actual_duration"`
	Attendance        types.NullJSONText `db:"attendance"`
	CreatedAt         time.Time          `db:"created_at"`
	UpdatedAt         time.Time          `db:"updated_at"`
}

type scheduleRepository struct {
	db sqlx.ExtContext
}

var _ schedule.Repository = (*scheduleRepository)(nil) // interface compliance check

func NewScheduleRepository(db *sql.DB) *scheduleRepository {
	return &scheduleRepository{db: sqlx.NewDb(db, "postgres")}
}

func toRow(s schedule.Schedule) (scheduleRow, error) {
	row := scheduleRow{
		ID:                s.ID,
		RecurrenceChainID: null.NewString(s.RecurrenceChainID, s.RecurrenceChainID != ""),
		TeacherID:         s.TeacherID,
		SubjectID:         s.SubjectID,
		StudentIDs:        pq.StringArray(s.StudentIDs),
		Day:               s.Day,
		ClassDate:         s.ClassDate.Time,
		StartTime:         int16(s.StartTime),
		EndTime:           int16(s.EndTime),
		IsRecurring:       s.IsRecurring,
		RecurrencePattern: null.NewString(string(s.RecurrencePattern), s.RecurrencePattern != ""),
		CustomDays:        pq.StringArray(s.CustomDays),
		SessionStatus:     string(s.SessionStatus),
		StatusReason:      null.NewString(s.StatusReason, s.StatusReason != ""),
		ActualStart:       null.TimeFromPtr(s.ActualStart),
		ActualEnd:         null.TimeFromPtr(s.ActualEnd),
		StartDelay:        s.StartDelay,
		EarlyEnd:          s.EarlyEnd,
		ActualDuration:    s.ActualDuration,
		CreatedAt:         s.CreatedAt.UTC(),
		UpdatedAt:         s.UpdatedAt.UTC(),
	}
	if s.CustomDays == nil {
		row.CustomDays = nil
	}
	if s.Attendance != nil {
		data, err := json.Marshal(s.Attendance)
		if err != nil {
			return scheduleRow{}, errors.Wrap(err, "marshalling attendance")
		}
		row.Attendance = types.NullJSONText{JSONText: data, Valid: true}
	}
	return row, nil
}

func fromRow(row scheduleRow) (schedule.Schedule, error) {
	s := schedule.Schedule{
		ID:                row.ID,
		RecurrenceChainID: row.RecurrenceChainID.String,
		TeacherID:         row.TeacherID,
		SubjectID:         row.SubjectID,
		StudentIDs:        []string(row.StudentIDs),
		Day:               row.Day,
		ClassDate:         schedule.DateOf(row.ClassDate),
		StartTime:         schedule.TimeOfDay(row.StartTime),
		EndTime:           schedule.TimeOfDay(row.EndTime),
		IsRecurring:       row.IsRecurring,
		RecurrencePattern: schedule.Pattern(row.RecurrencePattern.String),
		SessionStatus:     schedule.Status(row.SessionStatus),
		StatusReason:      row.StatusReason.String,
		ActualStart:       row.ActualStart.Ptr(),
		ActualEnd:         row.ActualEnd.Ptr(),
		StartDelay:        row.StartDelay,
		EarlyEnd:          row.EarlyEnd,
		ActualDuration:    row.ActualDuration,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}
	if len(row.CustomDays) > 0 {
		s.CustomDays = []string(row.CustomDays)
	}
	if row.Attendance.Valid {
		if err := row.Attendance.Unmarshal(&s.Attendance); err != nil {
			return schedule.Schedule{}, errors.Wrap(err, "unmarshalling attendance")
		}
	}
	return s, nil
}

func fromRows(rows []scheduleRow) ([]schedule.Schedule, error) {
	out := make([]schedule.Schedule, 0, len(rows))
	for _, row := range rows {
		s, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func trapNoRowsErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.ErrNotFound
	}
	return err
}

func isOpenInstanceViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == chainOpenUniqIndex
}

// isUUID guards the uuid columns: postgres fails the whole query on a malformed uuid.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (repo scheduleRepository) get(ctx context.Context, q string, args ...interface{}) (schedule.Schedule, error) {
	var row scheduleRow
	if err := sqlx.GetContext(ctx, repo.db, &row, q, args...); err != nil {
		return schedule.Schedule{}, trapNoRowsErr(err)
	}
	return fromRow(row)
}

func (repo scheduleRepository) CreateSchedule(ctx context.Context, s schedule.Schedule) (schedule.Schedule, error) {
	row, err := toRow(s)
	if err != nil {
		return schedule.Schedule{}, err
	}
	q := `INSERT INTO schedule (` + scheduleColumns + `) VALUES (
		:id, :recurrence_chain_id, :teacher_id, :subject_id, :student_ids, :day, :class_date,
		:start_time, :end_time, :is_recurring, :recurrence_pattern, :custom_days, :session_status, :status_reason,
		:actual_start, :actual_end, :start_delay, :early_end, :actual_duration, :attendance, :created_at, :updated_at)`
	if _, err = sqlx.NamedExecContext(ctx, repo.db, q, row); err != nil {
		if isOpenInstanceViolation(err) {
			return schedule.Schedule{}, schedule.ErrOpenInstanceExists
		}
		return schedule.Schedule{}, errors.Wrap(err, "inserting schedule")
	}
	return fromRow(row)
}

func (repo scheduleRepository) GetSchedule(ctx context.Context, id string) (schedule.Schedule, error) {
	if !isUUID(id) {
		return schedule.Schedule{}, schedule.ErrNotFound
	}
	return repo.get(ctx, `SELECT `+scheduleColumns+` FROM schedule WHERE id = $1`, id)
}

func (repo scheduleRepository) QuerySchedules(ctx context.Context, filter schedule.QueryFilter) ([]schedule.Schedule, error) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.TeacherID != "" {
		conds = append(conds, "teacher_id = "+arg(filter.TeacherID))
	}
	if filter.StudentID != "" {
		conds = append(conds, arg(filter.StudentID)+" = ANY(student_ids)")
	}
	if filter.ChainID != "" {
		if !isUUID(filter.ChainID) {
			return []schedule.Schedule{}, nil
		}
		conds = append(conds, "recurrence_chain_id = "+arg(filter.ChainID))
	}
	if len(filter.Statuses) > 0 {
		statuses := make(pq.StringArray, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		conds = append(conds, "session_status = ANY("+arg(statuses)+")")
	}
	if !filter.From.IsZero() {
		conds = append(conds, "class_date >= "+arg(filter.From.Time))
	}
	if !filter.To.IsZero() {
		conds = append(conds, "class_date <= "+arg(filter.To.Time))
	}

	q := `SELECT ` + scheduleColumns + ` FROM schedule`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY " + orderBy(filter.Ordering)

	var rows []scheduleRow
	if err := sqlx.SelectContext(ctx, repo.db, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "selecting schedules")
	}
	return fromRows(rows)
}

// orderBy only accepts whitelisted fields; the column names are interpolated.
func orderBy(ords []core.DBOrdering) string {
	parts := make([]string, 0, len(ords)+3)
	for _, ord := range ords {
		if core.ContainsString(schedule.OrderingFields, ord.Field) {
			parts = append(parts, ord.String())
		}
	}
	return strings.Join(append(parts, "class_date ASC", "start_time ASC", "id ASC"), ", ")
}

func (repo scheduleRepository) GetOpenInstance(ctx context.Context, chainID string) (schedule.Schedule, error) {
	if !isUUID(chainID) {
		return schedule.Schedule{}, schedule.ErrNotFound
	}
	return repo.get(ctx,
		`SELECT `+scheduleColumns+` FROM schedule WHERE recurrence_chain_id = $1 AND session_status = ANY($2)`,
		chainID, openStatuses,
	)
}

func (repo scheduleRepository) GetLatestInChain(ctx context.Context, chainID string) (schedule.Schedule, error) {
	if !isUUID(chainID) {
		return schedule.Schedule{}, schedule.ErrNotFound
	}
	return repo.get(ctx,
		`SELECT `+scheduleColumns+` FROM schedule WHERE recurrence_chain_id = $1
		ORDER BY class_date DESC, start_time DESC, created_at DESC LIMIT 1`,
		chainID,
	)
}

func (repo scheduleRepository) UpdateSession(ctx context.Context, s schedule.Schedule, expected schedule.Status) (schedule.Schedule, error) {
	row, err := toRow(s)
	if err != nil {
		return schedule.Schedule{}, err
	}
	updated, err := repo.get(ctx,
		`UPDATE schedule SET
			session_status = $3, status_reason = $4, actual_start = $5, actual_end = $6,
			start_delay = $7, early_end = $8, actual_duration = $9, attendance = $10, updated_at = $11
		WHERE id = $1 AND session_status = $2
		RETURNING `+scheduleColumns,
		row.ID, string(expected),
		row.SessionStatus, row.StatusReason, row.ActualStart, row.ActualEnd,
		row.StartDelay, row.EarlyEnd, row.ActualDuration, row.Attendance, row.UpdatedAt,
	)
	if errors.Is(err, schedule.ErrNotFound) {
		// either gone or its status moved on
		if _, gErr := repo.GetSchedule(ctx, s.ID); gErr != nil {
			return schedule.Schedule{}, gErr
		}
		return schedule.Schedule{}, schedule.ErrStatusConflict
	}
	if err != nil {
		return schedule.Schedule{}, errors.Wrap(err, "updating session")
	}
	return updated, nil
}

func (repo scheduleRepository) UpdateAttendance(ctx context.Context, id string, records []schedule.AttendanceRecord, updatedAt time.Time) (schedule.Schedule, error) {
	data, err := json.Marshal(records)
	if err != nil {
		return schedule.Schedule{}, errors.Wrap(err, "marshalling attendance")
	}
	return repo.get(ctx,
		`UPDATE schedule SET attendance = $2, updated_at = $3 WHERE id = $1 RETURNING `+scheduleColumns,
		id, types.JSONText(data), updatedAt.UTC(),
	)
}

func (repo scheduleRepository) DeleteSchedule(ctx context.Context, s schedule.Schedule) error {
	res, err := repo.db.ExecContext(ctx,
		`DELETE FROM schedule WHERE id = $1 AND session_status = $2`,
		s.ID, string(s.SessionStatus),
	)
	if err != nil {
		return errors.Wrap(err, "deleting schedule")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "deleting schedule")
	}
	if n == 0 {
		if _, gErr := repo.GetSchedule(ctx, s.ID); gErr != nil {
			return gErr
		}
		return schedule.ErrStatusConflict
	}
	return nil
}

func (repo scheduleRepository) QueryOrphanedChains(ctx context.Context) ([]schedule.Schedule, error) {
	q := `SELECT ` + scheduleColumns + ` FROM (
			SELECT DISTINCT ON (s.recurrence_chain_id) s.*
			FROM schedule s
			WHERE s.recurrence_chain_id IS NOT NULL AND s.is_recurring
			AND NOT EXISTS (
				SELECT 1 FROM schedule o
				WHERE o.recurrence_chain_id = s.recurrence_chain_id AND o.session_status = ANY($1)
			)
			ORDER BY s.recurrence_chain_id, s.class_date DESC, s.start_time DESC, s.created_at DESC
		) latest
		ORDER BY class_date ASC, start_time ASC`

	var rows []scheduleRow
	if err := sqlx.SelectContext(ctx, repo.db, &rows, q, openStatuses); err != nil {
		return nil, errors.Wrap(err, "selecting orphaned chains")
	}
	return fromRows(rows)
}
