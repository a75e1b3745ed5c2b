package realtime

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/ratiba/core/auth"
	"github.com/trezcool/ratiba/testutil"
)

func newTestClient(hub *Hub, userID, role string, buf int) *Client {
	c := NewClient(hub, auth.Identity{UserID: userID, Role: role}, nil, Options{SendBuffer: buf})
	hub.Register(c)
	return c
}

// received drains the frames already queued for `c`.
func received(t *testing.T, c *Client) []Event {
	var out []Event
	for {
		select {
		case msg, ok := <-c.Messages():
			if !ok {
				return out
			}
			var e Event
			require.NoError(t, json.Unmarshal(msg, &e))
			out = append(out, e)
		default:
			return out
		}
	}
}

func eventNames(events []Event) []string {
	names := make([]string, 0, len(events))
	for _, e := range events {
		names = append(names, e.Name)
	}
	return names
}

func TestHub_EmitToRoles(t *testing.T) {
	hub := NewHub(new(testutil.Logger))
	teacher := newTestClient(hub, "t-1", auth.RoleTeacher, 8)
	admin := newTestClient(hub, "a-1", auth.RoleAdmin, 8)
	student := newTestClient(hub, "s-1", auth.RoleStudent, 8)

	hub.EmitToRoles([]string{auth.RoleTeacher}, "to:teachers", nil)
	hub.EmitToRoles([]string{auth.RoleAdmin}, "to:admins", nil)
	hub.EmitToRoles([]string{auth.RoleAdmin, auth.RoleTeacher, auth.RoleAdmin}, "to:staff", map[string]string{"k": "v"})

	assert.Equal(t, []string{"to:teachers", "to:staff"}, eventNames(received(t, teacher)))
	assert.Equal(t, []string{"to:admins", "to:staff"}, eventNames(received(t, admin)))
	assert.Empty(t, received(t, student))
}

func TestHub_EmitToUser(t *testing.T) {
	hub := NewHub(new(testutil.Logger))
	c := newTestClient(hub, "t-1", auth.RoleTeacher, 8)

	hub.EmitToUser("t-1", "schedule:created", map[string]string{"id": "x"})
	hub.EmitToUser("nobody", "schedule:created", nil) // no-op

	events := received(t, c)
	require.Len(t, events, 1)
	assert.Equal(t, "schedule:created", events[0].Name)
	assert.Equal(t, map[string]interface{}{"id": "x"}, events[0].Payload)
	assert.False(t, events[0].SentAt.IsZero())
}

func TestHub_lastConnectionWins(t *testing.T) {
	hub := NewHub(new(testutil.Logger))
	first := newTestClient(hub, "t-1", auth.RoleTeacher, 8)
	second := newTestClient(hub, "t-1", auth.RoleTeacher, 8)

	id, ok := hub.ConnectionID("t-1")
	require.True(t, ok)
	assert.Equal(t, second.ID(), id)

	hub.EmitToUser("t-1", "direct", nil)
	assert.Empty(t, received(t, first))
	assert.Equal(t, []string{"direct"}, eventNames(received(t, second)))

	// the stale connection leaving must not evict the live one
	hub.Unregister(first)
	id, ok = hub.ConnectionID("t-1")
	require.True(t, ok)
	assert.Equal(t, second.ID(), id)

	hub.Unregister(second)
	assert.False(t, hub.Connected("t-1"))

	// no delivery after disconnect; unregistering twice is harmless
	hub.EmitToRoles([]string{auth.RoleTeacher}, "late", nil)
	hub.Unregister(second)
	_, open := <-second.Messages()
	assert.False(t, open)
}

func TestHub_fullBufferDrops(t *testing.T) {
	hub := NewHub(new(testutil.Logger))
	slow := newTestClient(hub, "s-1", auth.RoleStudent, 1)
	fast := newTestClient(hub, "s-2", auth.RoleStudent, 8)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			hub.EmitToRoles([]string{auth.RoleStudent}, "tick", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("EmitToRoles() blocked on a full buffer")
	}
	assert.Len(t, received(t, slow), 1)
	assert.Len(t, received(t, fast), 3)
	assert.Equal(t, uint64(2), hub.Dropped())
}

func TestAuthenticator(t *testing.T) {
	conf := testutil.NewConfig()
	a := NewAuthenticator([]byte(conf.SecretKey))
	teacher := auth.Identity{UserID: "t-1", Role: auth.RoleTeacher}
	token := testutil.Token(t, conf, teacher)

	tests := []struct {
		name    string
		header  string
		query   string
		want    auth.Identity
		wantErr error
	}{
		{name: "no credential", wantErr: auth.ErrMissingCredential},
		{name: "not a bearer", header: "Basic abc", wantErr: auth.ErrMissingCredential},
		{name: "invalid bearer", header: "Bearer lol", wantErr: auth.ErrInvalidCredential},
		{name: "invalid query token", query: "lol", wantErr: auth.ErrInvalidCredential},
		{name: "bearer", header: "Bearer " + token, want: teacher},
		{name: "query token", query: token, want: teacher},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/v1/ws"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest("GET", target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, err := a.AuthenticateRequest(req)
			if err != tt.wantErr {
				t.Errorf("AuthenticateRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
