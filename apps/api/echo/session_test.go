package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/session"
	"github.com/trezcool/mahudhurio/core/user"
	dummypush "github.com/trezcool/mahudhurio/services/push/dummy"
	dummydb "github.com/trezcool/mahudhurio/storage/database/dummy"
)

var (
	campus          = session.Coordinate{Lat: -6.7735, Lon: 39.2395}
	errMissingToken = httpErr{Error: "missing or malformed jwt"}
)

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

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

func testConfig() *core.Config {
	return &core.Config{
		Env:       "TEST",
		TestMode:  true,
		AppName:   "Mahudhurio",
		SecretKey: "secret",
		Server: core.ServerConfig{
			JWTExpirationDelta:        10 * time.Minute,
			JWTRefreshExpirationDelta: 4 * time.Hour,
		},
		Session: core.SessionConfig{
			WindowLength:          3 * time.Minute,
			TickInterval:          10 * time.Millisecond,
			PollInterval:          10 * time.Millisecond,
			ToleranceRadiusMeters: 10,
		},
		Push: core.PushConfig{BatchSize: 100},
	}
}

type apiFixture struct {
	conf    *core.Config
	svc     session.ServiceInterface
	repo    *dummydb.SessionRepository
	dir     *dummydb.DirectoryRepository
	gateway *dummypush.Gateway

	owner   user.User
	other   user.User
	admin   user.User
	student user.User
	groupID string
}

func setup(t *testing.T) (Server, *apiFixture) {
	t.Helper()

	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("setup(): %v", err)
	}

	f := &apiFixture{
		conf:    testConfig(),
		repo:    dummydb.NewSessionRepository(db),
		dir:     dummydb.NewDirectoryRepository(db),
		gateway: dummypush.NewGateway(),
		groupID: uuid.New().String(),
	}
	f.owner = createUser(t, f.dir, "Mwalimu Juma", "juma@test.cd", []string{user.RoleTeacher})
	f.other = createUser(t, f.dir, "Mwalimu Asha", "asha@test.cd", []string{user.RoleTeacher})
	f.admin = createUser(t, f.dir, "Admin", "admin@test.cd", []string{user.RoleAdmin})
	f.student = createUser(t, f.dir, "Hero", "hero@test.cd", []string{user.RoleStudent})

	f.dir.AddSubjectGroup(session.SubjectGroup{
		ID:          f.groupID,
		SubjectName: "Operating Systems",
		GroupName:   "CS-3A",
		Semester:    5,
	}, f.owner.ID)
	f.dir.Enroll(f.student.ID, f.groupID)

	f.svc = session.NewService(f.repo, f.dir, f.gateway, nopLogger{}, f.conf)
	t.Cleanup(f.svc.Shutdown)

	validate, translator := core.NewValidators()
	app := NewServer(&Options{
		Conf:           f.conf,
		DisableReqLogs: true,
		SessionSvc:     f.svc,
		Logger:         nopLogger{},
		Validate:       validate,
		Translator:     translator,
		SignalShutdown: func() {},
	})
	return app, f
}

func createUser(t *testing.T, dir *dummydb.DirectoryRepository, name, email string, roles []string) user.User {
	t.Helper()

	active := true
	usr, err := dir.CreateUser(context.Background(), user.User{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     email,
		IsActive:  &active,
		Roles:     roles,
		PushToken: "ExponentPushToken[" + email + "]",
	})
	if err != nil {
		t.Fatalf("createUser(): %v", err)
	}
	return usr
}

func getToken(t *testing.T, conf *core.Config, usr user.User) string {
	t.Helper()

	token, err := GenerateToken(conf, GetUserClaims(conf, usr))
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
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

func marshalObj(t *testing.T, obj interface{}) []byte {
	t.Helper()

	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj(): %v", err)
	}
	return data
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) bool {
	t.Helper()

	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		t.Fatalf("jsonBytesEqual(): %v", err)
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		t.Fatalf("jsonBytesEqual(): %v", err)
	}
	return reflect.DeepEqual(j1, j2)
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()

	if rec.Code != tt.wantCode {
		t.Errorf("code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
	}
	if tt.wantData == nil {
		return
	}
	if !jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData) {
		t.Errorf("data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func Test_sessionApi_create(t *testing.T) {
	app, f := setup(t)

	ownerToken := getToken(t, f.conf, f.owner)
	studentToken := getToken(t, f.conf, f.student)

	createBody := func(groupID string, anchor *session.Coordinate, denied bool) []byte {
		return marshalObj(t, CreateSessionRequest{
			SubjectGroupID: groupID,
			Anchor:         anchor,
			LocationDenied: denied,
		})
	}

	tests := []httpTest{
		{
			name:     "anonymous is unauthorized",
			body:     createBody(f.groupID, &campus, false),
			wantCode: http.StatusUnauthorized,
			wantData: marshalObj(t, errMissingToken),
		},
		{
			name:     "student is forbidden",
			body:     createBody(f.groupID, &campus, false),
			token:    studentToken,
			wantCode: http.StatusForbidden,
			wantData: marshalObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name:     "missing subject group",
			body:     createBody("", &campus, false),
			token:    ownerToken,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"subject_group_id": "this field is required"}),
		},
		{
			name:     "malformed subject group id",
			body:     createBody("not-a-uuid", &campus, false),
			token:    ownerToken,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"subject_group_id": "subject_group_id must be a valid version 4 UUID"}),
		},
		{
			name:     "out-of-range anchor",
			body:     createBody(f.groupID, &session.Coordinate{Lat: 95, Lon: 39}, false),
			token:    ownerToken,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"lat": "invalid latitude"}),
		},
		{
			name:     "location permission denied",
			body:     createBody(f.groupID, nil, true),
			token:    ownerToken,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: "location permission denied"}),
		},
		{
			name:     "denied yet anchored",
			body:     createBody(f.groupID, &campus, true),
			token:    ownerToken,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"location_denied": "cannot be combined with an anchor"}),
		},
		{
			name:     "no device fix",
			body:     createBody(f.groupID, nil, false),
			token:    ownerToken,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: "location unavailable"}),
		},
		{
			name:     "unknown subject group",
			body:     createBody(uuid.New().String(), &campus, false),
			token:    ownerToken,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: "subject group not found"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, "/v1/sessions", tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("create succeeds", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/sessions", ownerToken, createBody(f.groupID, &campus, false))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var resp CreateSessionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Session.ID)
		assert.Equal(t, f.owner.ID, resp.Session.OwnerID)
		assert.Equal(t, f.groupID, resp.Session.SubjectGroupID)
		assert.Equal(t, campus, resp.Session.Anchor)
		assert.Equal(t, 10, resp.Session.RadiusMeters)
		assert.True(t, resp.Session.IsActive)
		assert.Equal(t, DeliveryResponse{Recipients: 1, Attempted: 1, Succeeded: 1}, resp.Delivery)
		assert.True(t, resp.Status.IsActive)
		assert.Equal(t, resp.Session.ID, resp.Status.SessionID)
	})

	t.Run("duplicate active session conflicts", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/sessions", ownerToken, createBody(f.groupID, &campus, false))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusConflict,
			wantData: marshalObj(t, httpErr{Error: "an active session already exists for this instructor"}),
		}, rec)
	})
}

func Test_sessionApi_status(t *testing.T) {
	app, f := setup(t)

	h, err := f.svc.Start(context.Background(), session.NewSession{
		OwnerID:        f.owner.ID,
		SubjectGroupID: f.groupID,
	}, session.DeviceCoordinate(campus))
	require.NoError(t, err)
	path := "/v1/sessions/" + h.Session.ID

	t.Run("owner reads the live status", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, path, getToken(t, f.conf, f.owner))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var st session.Status
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
		assert.Equal(t, h.Session.ID, st.SessionID)
		assert.True(t, st.IsActive)
	})

	t.Run("submission count converges", func(t *testing.T) {
		f.repo.AddSubmission(h.Session.ID, f.student.ID, true)
		f.repo.AddSubmission(h.Session.ID, "someone-else", false)

		deadline := time.Now().Add(time.Second)
		var st session.Status
		for time.Now().Before(deadline) {
			req, rec := newAuthRequest(http.MethodGet, path, getToken(t, f.conf, f.owner))
			app.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code)
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
			if st.SubmissionCount == 1 {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		assert.Equal(t, 1, st.SubmissionCount, "rejected proofs must not count")
	})

	t.Run("another instructor is forbidden", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, path, getToken(t, f.conf, f.other))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusForbidden,
			wantData: marshalObj(t, httpErr{Error: "permission denied"}),
		}, rec)
	})

	t.Run("admin may read any session", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, path, getToken(t, f.conf, f.admin))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("unknown session is not found", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/sessions/"+uuid.New().String(), getToken(t, f.conf, f.owner))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusNotFound,
			wantData: marshalObj(t, httpErr{Error: "session not found"}),
		}, rec)
	})
}

func Test_sessionApi_terminate(t *testing.T) {
	app, f := setup(t)

	h, err := f.svc.Start(context.Background(), session.NewSession{
		OwnerID:        f.owner.ID,
		SubjectGroupID: f.groupID,
	}, session.DeviceCoordinate(campus))
	require.NoError(t, err)
	path := "/v1/sessions/" + h.Session.ID

	t.Run("student cannot terminate", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, path, getToken(t, f.conf, f.student))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("owner terminates, twice is a no-op", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			req, rec := newAuthRequest(http.MethodDelete, path, getToken(t, f.conf, f.owner))
			app.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
		}
		assert.Equal(t, 1, f.repo.Deactivations)

		sess, err := f.svc.Get(context.Background(), h.Session.ID)
		require.NoError(t, err)
		assert.False(t, sess.IsActive)
	})
}

func Test_sessionApi_retrieveActive(t *testing.T) {
	app, f := setup(t)
	token := getToken(t, f.conf, f.owner)

	t.Run("nothing active", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/sessions/active", token)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusNotFound,
			wantData: marshalObj(t, httpErr{Error: "session not found"}),
		}, rec)
	})

	t.Run("returns the open session", func(t *testing.T) {
		h, err := f.svc.Start(context.Background(), session.NewSession{
			OwnerID:        f.owner.ID,
			SubjectGroupID: f.groupID,
		}, session.DeviceCoordinate(campus))
		require.NoError(t, err)

		req, rec := newAuthRequest(http.MethodGet, "/v1/sessions/active", token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var sess session.Session
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
		assert.Equal(t, h.Session.ID, sess.ID)
	})
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

func Test_server_healthCheck(t *testing.T) {
	newApp := func(db Pinger, signalShutdown func()) Server {
		validate, translator := core.NewValidators()
		return NewServer(&Options{
			Conf:           testConfig(),
			DisableReqLogs: true,
			DB:             db,
			Logger:         nopLogger{},
			Validate:       validate,
			Translator:     translator,
			SignalShutdown: signalShutdown,
		})
	}

	t.Run("store reachable", func(t *testing.T) {
		app := newApp(pingerFunc(func(context.Context) error { return nil }), func() {
			t.Error("shutdown signalled on a healthy store")
		})

		req, rec := newAuthRequest(http.MethodGet, "/status", "")
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusOK,
			wantData: marshalObj(t, map[string]string{"status": "ok"}),
		}, rec)
	})

	t.Run("dead store signals shutdown", func(t *testing.T) {
		var signalled bool
		app := newApp(pingerFunc(func(context.Context) error {
			return errors.New("connection refused")
		}), func() { signalled = true })

		req, rec := newAuthRequest(http.MethodGet, "/status", "")
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.True(t, signalled, "shutdown not signalled for a dead store")
	})
}

func Test_sessionApi_querySubjectGroups(t *testing.T) {
	app, f := setup(t)

	t.Run("owner sees their groups", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/sessions/subject-groups", getToken(t, f.conf, f.owner))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusOK,
			wantData: marshalObj(t, []session.SubjectGroup{{
				ID:          f.groupID,
				SubjectName: "Operating Systems",
				GroupName:   "CS-3A",
				Semester:    5,
			}}),
		}, rec)
	})

	t.Run("instructor with no groups gets an empty list", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/sessions/subject-groups", getToken(t, f.conf, f.other))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusOK,
			wantData: marshalObj(t, []session.SubjectGroup{}),
		}, rec)
	})
}
