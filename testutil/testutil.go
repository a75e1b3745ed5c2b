// Package testutil holds helpers shared by the package tests.
package testutil

import (
	"context"
	"fmt"
	"net/mail"
	"sync"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/trezcool/ratiba/core"
	"github.com/trezcool/ratiba/core/auth"
	"github.com/trezcool/ratiba/core/schedule"
)

// NewConfig returns a TEST config without reading the environment.
func NewConfig() *core.Config {
	return &core.Config{
		Debug:            false,
		TestMode:         true,
		AppName:          "Ratiba",
		Env:              "TEST",
		Build:            "test",
		SecretKey:        "secret",
		DefaultFromEmail: mail.Address{Name: "Ratiba", Address: "noreply@localhost"},
		OpsEmails:        []mail.Address{{Name: "Ops", Address: "ops@test.cd"}},
		Timezone:         time.UTC,
		Server: core.ServerConfig{
			ShutdownTimeout:    time.Second,
			JWTExpirationDelta: 10 * time.Minute,
		},
		Database: core.DatabaseConfig{Engine: "memory"},
		Realtime: core.RealtimeConfig{
			SendBuffer: 16,
			WriteWait:  time.Second,
			PongWait:   time.Minute,
		},
		Schedule: core.ScheduleConfig{AllowNonOccurrenceFromAvailable: true},
	}
}

// NewValidator returns a validator with all the app validators registered.
func NewValidator() *validator.Validate {
	validate, _ := NewTranslatedValidator()
	return validate
}

// NewTranslatedValidator is NewValidator plus the translator of its messages.
func NewTranslatedValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	schedule.InitValidators(validate, translator)
	return validate, translator
}

// Token returns a signed bearer token of `id`.
func Token(t *testing.T, conf *core.Config, id auth.Identity) string {
	token, err := auth.GenerateToken([]byte(conf.SecretKey), auth.NewClaims(conf.AppName, id, conf.Server.JWTExpirationDelta))
	if err != nil {
		t.Fatalf("Token() failed: %v", err)
	}
	return token
}

// CreateSchedule stores a schedule straight into `repo`. Empty ids are generated.
func CreateSchedule(t *testing.T, repo schedule.Repository, s schedule.Schedule) schedule.Schedule {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.SessionStatus == "" {
		s.SessionStatus = schedule.StatusPending
	}
	if len(s.StudentIDs) == 0 {
		s.StudentIDs = []string{"student-1"}
	}
	if s.SubjectID == "" {
		s.SubjectID = "maths"
	}
	if s.IsRecurring && s.RecurrenceChainID == "" {
		s.RecurrenceChainID = uuid.New().String()
	}
	s.Day = s.ClassDate.Weekday().String()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
		s.UpdatedAt = s.CreatedAt
	}
	s, err := repo.CreateSchedule(context.Background(), s)
	if err != nil {
		t.Fatalf("CreateSchedule() failed: %v", err)
	}
	return s
}

// Entry is a message recorded by Logger.
type Entry struct {
	Level string
	Msg   string
	Args  []interface{}
}

// Logger records log entries.
type Logger struct {
	mu      sync.Mutex
	Entries []Entry
}

var _ core.Logger = (*Logger)(nil)

func (l *Logger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Entries = append(l.Entries, Entry{Level: level, Msg: msg, Args: args})
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("DEBUG", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("INFO", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("WARN", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("ERROR", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.log("FATAL", msg, args)
	panic(fmt.Sprintf("fatal: %s", msg))
}

// Count returns how many entries were logged at `level`.
func (l *Logger) Count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.Entries {
		if e.Level == level {
			n++
		}
	}
	return n
}

// Emitted is an event recorded by Notifier.
type Emitted struct {
	Roles   []string
	UserID  string
	Event   string
	Payload interface{}
}

// Notifier records emitted events.
type Notifier struct {
	mu     sync.Mutex
	Events []Emitted
}

var _ schedule.Notifier = (*Notifier)(nil)

func (n *Notifier) EmitToRoles(roles []string, event string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Events = append(n.Events, Emitted{Roles: roles, Event: event, Payload: payload})
}

func (n *Notifier) EmitToUser(userID string, event string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Events = append(n.Events, Emitted{UserID: userID, Event: event, Payload: payload})
}

// Count returns how many times `event` was emitted, to roles or users.
func (n *Notifier) Count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.Events {
		if e.Event == event {
			c++
		}
	}
	return c
}

// UserEvents returns the events emitted to `userID`.
func (n *Notifier) UserEvents(userID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, e := range n.Events {
		if e.UserID == userID {
			out = append(out, e.Event)
		}
	}
	return out
}
