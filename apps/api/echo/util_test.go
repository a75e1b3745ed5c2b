package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	. "github.com/trezcool/ratiba/apps/api/echo"
	"github.com/trezcool/ratiba/core"
	"github.com/trezcool/ratiba/core/auth"
	"github.com/trezcool/ratiba/core/realtime"
	"github.com/trezcool/ratiba/core/schedule"
	emailsvc "github.com/trezcool/ratiba/services/email"
	locksvc "github.com/trezcool/ratiba/services/lock"
	inmemdb "github.com/trezcool/ratiba/storage/database/inmem"
	"github.com/trezcool/ratiba/testutil"
)

var (
	ctxBg = context.Background()

	admin   = auth.Identity{UserID: "admin-1", Role: auth.RoleAdmin}
	teacher = auth.Identity{UserID: "t-1", Role: auth.RoleTeacher}
	student = auth.Identity{UserID: "s-1", Role: auth.RoleStudent}

	monday = schedule.NewDate(2024, 1, 8)

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errForbidden    = httpErr{Error: "permission denied"}
)

type testApp struct {
	server *Server
	repo   schedule.Repository
	hub    *realtime.Hub
	conf   *core.Config
	tokens map[string]string // role -> bearer token
}

func setup(t *testing.T) testApp {
	conf := testutil.NewConfig()
	logger := new(testutil.Logger)
	validate, translator := testutil.NewTranslatedValidator()
	emailsvc.ResetSentMessages()

	repo := inmemdb.NewScheduleRepository(inmemdb.Open())
	hub := realtime.NewHub(logger)
	svc := schedule.NewService(repo, locksvc.NewLocalLocker(), hub, emailsvc.NewConsoleServiceMock(conf), logger, validate, conf)

	server := NewServer(ServerDeps{
		Conf:          conf,
		Logger:        logger,
		ScheduleSvc:   svc,
		Hub:           hub,
		Authenticator: realtime.NewAuthenticator([]byte(conf.SecretKey)),
		Validate:      validate,
		Translator:    translator,
	})
	return testApp{
		server: server,
		repo:   repo,
		hub:    hub,
		conf:   conf,
		tokens: map[string]string{
			auth.RoleAdmin:   testutil.Token(t, conf, admin),
			auth.RoleTeacher: testutil.Token(t, conf, teacher),
			auth.RoleStudent: testutil.Token(t, conf, student),
		},
	}
}

func (app testApp) do(method, path, token string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(method, path, token, data...)
	app.server.ServeHTTP(rec, req)
	return rec
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal() failed: %v; body %s", err, rec.Body.String())
	}
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func createSchedule(t *testing.T, app testApp, s schedule.Schedule) schedule.Schedule {
	if s.TeacherID == "" {
		s.TeacherID = teacher.UserID
	}
	if s.ClassDate.IsZero() {
		s.ClassDate = monday
	}
	if s.EndTime == 0 {
		s.StartTime = schedule.NewTimeOfDay(9, 0)
		s.EndTime = schedule.NewTimeOfDay(10, 0)
	}
	if len(s.StudentIDs) == 0 {
		s.StudentIDs = []string{student.UserID}
	}
	return testutil.CreateSchedule(t, app.repo, s)
}
