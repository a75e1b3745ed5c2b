package echoapi

import (
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/ratiba/core"
	"github.com/trezcool/ratiba/core/schedule"
)

const (
	orderingParam = "ordering"
	statusParam   = "status"
	weekParam     = "week"
)

// bindScheduleFilter reads the schedule filter from the query params.
// `status` may be repeated or comma separated; `from`, `to` are YYYY-MM-DD dates.
func bindScheduleFilter(ctx echo.Context) (schedule.QueryFilter, error) {
	q := ctx.QueryParams()
	filter := schedule.QueryFilter{
		TeacherID: core.CleanString(q.Get("teacher_id")),
		StudentID: core.CleanString(q.Get("student_id")),
		ChainID:   core.CleanString(q.Get("chain_id")),
		Ordering:  core.ParseOrderings(q.Get(orderingParam)),
	}

	var fldErrs []core.FieldError
	for _, val := range q[statusParam] {
		for _, st := range strings.Split(val, ",") {
			status := schedule.Status(core.CleanString(st))
			if status == "" {
				continue
			}
			if !status.IsValid() {
				fldErrs = append(fldErrs, core.FieldError{Field: statusParam, Error: fmt.Sprintf("unknown status %q", status)})
				continue
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	var err error
	if filter.From, err = bindDate(q.Get("from")); err != nil {
		fldErrs = append(fldErrs, core.FieldError{Field: "from", Error: err.Error()})
	}
	if filter.To, err = bindDate(q.Get("to")); err != nil {
		fldErrs = append(fldErrs, core.FieldError{Field: "to", Error: err.Error()})
	}

	if len(fldErrs) > 0 {
		return schedule.QueryFilter{}, core.NewValidationError(nil, fldErrs...)
	}
	return filter, nil
}

func bindDate(s string) (schedule.Date, error) {
	if s = core.CleanString(s); s == "" {
		return schedule.Date{}, nil
	}
	return schedule.ParseDate(s)
}
