package echoapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/ratiba/core/auth"
	"github.com/trezcool/ratiba/core/realtime"
	"github.com/trezcool/ratiba/core/schedule"
)

func dial(t *testing.T, srv *httptest.Server, query string, header http.Header) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws" + query
	return websocket.DefaultDialer.Dial(url, header)
}

func waitFor(t *testing.T, cond func() bool) {
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) realtime.Event {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var e realtime.Event
	require.NoError(t, json.Unmarshal(msg, &e))
	return e
}

func TestRealtimeAPI_connect(t *testing.T) {
	app := setup(t)
	srv := httptest.NewServer(app.server)
	defer srv.Close()

	t.Run("no credential", func(t *testing.T) {
		_, resp, err := dial(t, srv, "", nil)
		assert.Equal(t, websocket.ErrBadHandshake, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("invalid credential", func(t *testing.T) {
		_, resp, err := dial(t, srv, "?token=lol", nil)
		assert.Equal(t, websocket.ErrBadHandshake, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("query token", func(t *testing.T) {
		conn, _, err := dial(t, srv, "?token="+app.tokens[auth.RoleTeacher], nil)
		require.NoError(t, err)
		waitFor(t, func() bool { return app.hub.Connected(teacher.UserID) })

		app.hub.EmitToRoles([]string{auth.RoleAdmin}, "to:admins", nil)
		app.hub.EmitToRoles([]string{auth.RoleTeacher}, "to:teachers", "hi")
		e := readEvent(t, conn)
		assert.Equal(t, "to:teachers", e.Name)
		assert.Equal(t, "hi", e.Payload)

		require.NoError(t, conn.Close())
		waitFor(t, func() bool { return !app.hub.Connected(teacher.UserID) })
	})

	t.Run("bearer header", func(t *testing.T) {
		header := http.Header{"Authorization": []string{"Bearer " + app.tokens[auth.RoleStudent]}}
		conn, _, err := dial(t, srv, "", header)
		require.NoError(t, err)
		defer conn.Close()
		waitFor(t, func() bool { return app.hub.Connected(student.UserID) })

		// a transition reaches the participants
		s := createSchedule(t, app, schedule.Schedule{})
		rec := app.do(http.MethodPost, "/v1/schedules/"+s.ID+"/transitions", app.tokens[auth.RoleTeacher], []byte(`{"status": "available"}`))
		require.Equal(t, http.StatusOK, rec.Code)

		e := readEvent(t, conn)
		assert.Equal(t, schedule.EventStatusChanged, e.Name)
		payload, ok := e.Payload.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, string(schedule.StatusPending), payload["from"])
	})

	t.Run("shutdown disconnects clients", func(t *testing.T) {
		conn, _, err := dial(t, srv, "?token="+app.tokens[auth.RoleAdmin], nil)
		require.NoError(t, err)
		defer conn.Close()
		waitFor(t, func() bool { return app.hub.Connected(admin.UserID) })

		app.hub.CloseAll()
		waitFor(t, func() bool { return !app.hub.Connected(admin.UserID) })
	})
}

func TestRealtimeAPI_emit(t *testing.T) {
	app := setup(t)
	teacherClient := realtime.NewClient(app.hub, teacher, nil, realtime.Options{SendBuffer: 4})
	studentClient := realtime.NewClient(app.hub, student, nil, realtime.Options{SendBuffer: 4})
	app.hub.Register(teacherClient)
	app.hub.Register(studentClient)
	path := "/v1/events"

	tests := []httpTest{
		{name: "no token", method: http.MethodPost, path: path, body: []byte(`{"event": "x", "roles": ["teacher"]}`), wantCode: http.StatusUnauthorized},
		{name: "teacher", method: http.MethodPost, path: path, token: app.tokens[auth.RoleTeacher], body: []byte(`{"event": "x", "roles": ["teacher"]}`), wantCode: http.StatusForbidden},
		{name: "no target", method: http.MethodPost, path: path, token: app.tokens[auth.RoleAdmin], body: []byte(`{"event": "x"}`), wantCode: http.StatusBadRequest},
		{name: "empty roles", method: http.MethodPost, path: path, token: app.tokens[auth.RoleAdmin], body: []byte(`{"event": "x", "roles": []}`), wantCode: http.StatusBadRequest},
		{name: "unknown role", method: http.MethodPost, path: path, token: app.tokens[auth.RoleAdmin], body: []byte(`{"event": "x", "roles": ["parent"]}`), wantCode: http.StatusBadRequest},
		{name: "blank event", method: http.MethodPost, path: path, token: app.tokens[auth.RoleAdmin], body: []byte(`{"event": " ", "user_id": "s-1"}`), wantCode: http.StatusBadRequest},
		{name: "to teachers", method: http.MethodPost, path: path, token: app.tokens[auth.RoleAdmin], body: []byte(`{"event": "query:answered", "payload": {"query_id": 7}, "roles": ["teacher"]}`), wantCode: http.StatusAccepted},
		{name: "to a student", method: http.MethodPost, path: path, token: app.tokens[auth.RoleAdmin], body: []byte(`{"event": "query:answered", "user_id": "s-1"}`), wantCode: http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, app.do(tt.method, tt.path, tt.token, tt.body))
		})
	}

	require.Len(t, teacherClient.Messages(), 1)
	require.Len(t, studentClient.Messages(), 1)
	var e realtime.Event
	require.NoError(t, json.Unmarshal(<-teacherClient.Messages(), &e))
	assert.Equal(t, "query:answered", e.Name)
	assert.Equal(t, map[string]interface{}{"query_id": float64(7)}, e.Payload)
}
