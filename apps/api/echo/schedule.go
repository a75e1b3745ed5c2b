package echoapi

import (
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/ratiba/core"
	"github.com/trezcool/ratiba/core/schedule"
)

type scheduleApi struct {
	svc      schedule.ServiceInterface
	validate *validator.Validate
	logger   core.Logger
}

func registerScheduleAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc schedule.ServiceInterface,
	validate *validator.Validate,
	logger core.Logger,
) {
	api := scheduleApi{
		svc:      svc,
		validate: validate,
		logger:   logger,
	}

	sg := g.Group("/schedules", jwt)
	sg.POST("", api.create, adminMiddleware())
	sg.GET("", api.query)
	sg.GET("/:id", api.retrieve)
	sg.DELETE("/:id", api.destroy, adminMiddleware())
	sg.POST("/:id/transitions", api.transition)
	sg.PUT("/:id/attendance", api.markAttendance)

	g.GET("/teachers/:id/availability", api.availability, jwt)

	cg := g.Group("/chains", jwt, adminMiddleware())
	cg.GET("/orphaned", api.orphanedChains)
	cg.POST("/:id/regenerate", api.regenerateChain)
}

type RecurrenceFailureResponse struct {
	Error    string            `json:"error"`
	ChainID  string            `json:"chain_id"`
	Schedule schedule.Schedule `json:"schedule"`
}

// Handlers

func (api *scheduleApi) create(ctx echo.Context) error {
	var data schedule.NewSchedule
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSchedule")
	}
	s, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating schedule")
	}
	return ctx.JSON(http.StatusCreated, s)
}

func (api *scheduleApi) query(ctx echo.Context) error {
	filter, err := bindScheduleFilter(ctx)
	if err != nil {
		return err
	}
	schedules, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying schedules")
	}
	if schedules == nil {
		schedules = []schedule.Schedule{}
	}
	return ctx.JSON(http.StatusOK, schedules)
}

func (api *scheduleApi) retrieve(ctx echo.Context) error {
	s, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting schedule")
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *scheduleApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting schedule")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *scheduleApi) transition(ctx echo.Context) error {
	var data schedule.TransitionRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to TransitionRequest")
	}
	id, err := getContextIdentity(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context identity")
	}

	s, err := api.svc.Transition(ctx.Request().Context(), ctx.Param("id"), data, id)
	if err != nil {
		var rErr *schedule.RecurrenceError
		if errors.As(err, &rErr) {
			// the transition is committed: hand it back with the failure
			api.logger.Error(fmt.Sprintf("transition of %s: %v", s.ID, err), err, id)
			return ctx.JSON(http.StatusInternalServerError, RecurrenceFailureResponse{
				Error:    rErr.Error(),
				ChainID:  rErr.ChainID,
				Schedule: s,
			})
		}
		return errors.Wrap(err, "transitioning schedule")
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *scheduleApi) markAttendance(ctx echo.Context) error {
	var data schedule.AttendanceRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AttendanceRequest")
	}
	id, err := getContextIdentity(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context identity")
	}

	s, err := api.svc.MarkAttendance(ctx.Request().Context(), ctx.Param("id"), data, id)
	if err != nil {
		return errors.Wrap(err, "marking attendance")
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *scheduleApi) availability(ctx echo.Context) error {
	week, err := bindDate(ctx.QueryParam(weekParam))
	if err != nil {
		return core.NewValidationError(err, core.FieldError{Field: weekParam, Error: err.Error()})
	}
	m, err := api.svc.Availability(ctx.Request().Context(), ctx.Param("id"), week)
	if err != nil {
		return errors.Wrap(err, "computing availability")
	}
	return ctx.JSON(http.StatusOK, m)
}

func (api *scheduleApi) orphanedChains(ctx echo.Context) error {
	orphans, err := api.svc.OrphanedChains(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying orphaned chains")
	}
	return ctx.JSON(http.StatusOK, orphans)
}

func (api *scheduleApi) regenerateChain(ctx echo.Context) error {
	s, err := api.svc.RegenerateChain(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "regenerating chain")
	}
	return ctx.JSON(http.StatusCreated, s)
}
