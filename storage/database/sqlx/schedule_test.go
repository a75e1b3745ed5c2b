package sqlxrepos

import (
	"database/sql"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/ratiba/core"
	"github.com/trezcool/ratiba/core/schedule"
)

func TestScheduleRow_roundTrip(t *testing.T) {
	monday := schedule.NewDate(2024, 1, 8)
	start := time.Date(2024, 1, 8, 9, 10, 0, 0, time.UTC)
	end := time.Date(2024, 1, 8, 9, 50, 0, 0, time.UTC)
	created := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		s    schedule.Schedule
	}{
		{
			name: "one-off pending",
			s: schedule.Schedule{
				ID:            "3f6c1c4e-3c1b-4a53-9a58-0c7a1b0f9e11",
				TeacherID:     "t-1",
				SubjectID:     "maths",
				StudentIDs:    []string{"s-1", "s-2"},
				Day:           "Monday",
				ClassDate:     monday,
				StartTime:     schedule.NewTimeOfDay(9, 0),
				EndTime:       schedule.NewTimeOfDay(10, 0),
				SessionStatus: schedule.StatusPending,
				CreatedAt:     created,
				UpdatedAt:     created,
			},
		},
		{
			name: "recurring completed with attendance",
			s: schedule.Schedule{
				ID:                "9b2d7c51-1d2e-4f0a-8d3c-5e6f7a8b9c0d",
				RecurrenceChainID: "0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d",
				TeacherID:         "t-1",
				SubjectID:         "physics",
				StudentIDs:        []string{"s-1"},
				Day:               "Monday",
				ClassDate:         monday,
				StartTime:         schedule.NewTimeOfDay(9, 0),
				EndTime:           schedule.NewTimeOfDay(10, 0),
				IsRecurring:       true,
				RecurrencePattern: schedule.PatternCustom,
				CustomDays:        []string{"Monday", "Thursday"},
				SessionStatus:     schedule.StatusCompleted,
				StatusReason:      "done early",
				ActualStart:       &start,
				ActualEnd:         &end,
				StartDelay:        10,
				EarlyEnd:          10,
				ActualDuration:    40,
				Attendance: []schedule.AttendanceRecord{
					{StudentID: "s-1", Status: schedule.AttendanceLate, MarkedBy: "t-1", MarkedAt: end},
				},
				CreatedAt: created,
				UpdatedAt: end,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, err := toRow(tt.s)
			require.NoError(t, err)
			got, err := fromRow(row)
			require.NoError(t, err)
			assert.Equal(t, tt.s, got)
		})
	}
}

func Test_orderBy(t *testing.T) {
	tests := []struct {
		name string
		ords []core.DBOrdering
		want string
	}{
		{name: "default", want: "class_date ASC, start_time ASC, id ASC"},
		{
			name: "descending date",
			ords: core.ParseOrderings("-class_date"),
			want: "class_date DESC, class_date ASC, start_time ASC, id ASC",
		},
		{
			name: "unknown fields are ignored",
			ords: core.ParseOrderings("updated_at,id; DROP TABLE schedule"),
			want: "updated_at ASC, class_date ASC, start_time ASC, id ASC",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, orderBy(tt.ords))
		})
	}
}

func Test_errorMapping(t *testing.T) {
	assert.ErrorIs(t, trapNoRowsErr(errors.Wrap(sql.ErrNoRows, "selecting")), schedule.ErrNotFound)
	assert.Nil(t, trapNoRowsErr(nil))

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "open instance index", err: errors.Wrap(&pq.Error{Code: uniqueViolation, Constraint: chainOpenUniqIndex}, "inserting"), want: true},
		{name: "other unique index", err: &pq.Error{Code: uniqueViolation, Constraint: "schedule_pkey"}},
		{name: "other error", err: errors.New("lol")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isOpenInstanceViolation(tt.err))
		})
	}
}

func Test_isUUID(t *testing.T) {
	assert.True(t, isUUID("3f6c1c4e-3c1b-4a53-9a58-0c7a1b0f9e11"))
	assert.False(t, isUUID("lol"))
	assert.False(t, isUUID(""))
}
