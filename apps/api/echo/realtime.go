package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/ratiba/core"
	"github.com/trezcool/ratiba/core/realtime"
)

type realtimeApi struct {
	hub           *realtime.Hub
	authenticator *realtime.Authenticator
	upgrader      *websocket.Upgrader
	opts          realtime.Options
	validate      *validator.Validate
}

func registerRealtimeAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	hub *realtime.Hub,
	authenticator *realtime.Authenticator,
	validate *validator.Validate,
	opts realtime.Options,
) {
	api := realtimeApi{
		hub:           hub,
		authenticator: authenticator,
		upgrader:      realtime.NewUpgrader(opts.AllowedOrigins),
		opts:          opts,
		validate:      validate,
	}

	// the handshake authenticates itself: browsers cannot set headers on websockets
	g.GET("/ws", api.connect)
	g.POST("/events", api.emit, jwt, adminMiddleware())
}

// EmitRequest lets collaborating services push an event to roles and/or a user.
type EmitRequest struct {
	Event   string      `json:"event" validate:"required,notblank"`
	Payload interface{} `json:"payload"`
	Roles   []string    `json:"roles" validate:"dive,oneof=admin teacher student"`
	UserID  string      `json:"user_id" validate:"required_without=Roles"`
}

func (er *EmitRequest) Validate(validate *validator.Validate) error {
	er.Event = core.CleanString(er.Event)
	er.UserID = core.CleanString(er.UserID)
	if len(er.Roles) == 0 {
		er.Roles = nil // "roles": [] is no audience
	}
	return validate.Struct(er)
}

// Handlers

func (api *realtimeApi) connect(ctx echo.Context) error {
	id, err := api.authenticator.AuthenticateRequest(ctx.Request())
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	conn, err := api.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return nil // the upgrader already replied
	}
	api.hub.Serve(conn, id, api.opts)
	return nil
}

func (api *realtimeApi) emit(ctx echo.Context) error {
	var data EmitRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to EmitRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if len(data.Roles) > 0 {
		api.hub.EmitToRoles(data.Roles, data.Event, data.Payload)
	}
	if data.UserID != "" {
		api.hub.EmitToUser(data.UserID, data.Event, data.Payload)
	}
	return ctx.NoContent(http.StatusAccepted)
}
