package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examkiosk/internal/auth"
	"examkiosk/internal/database"
	"examkiosk/internal/models"
	"examkiosk/internal/presentation"
	"examkiosk/internal/scanner"
)

var knownStudent = &models.Student{
	FullName:    "DILNOZA IBRAXIMOVA DAVLATYOR QIZI",
	CardID:      "2AC540BD",
	SubjectName: "BIOLOGICAL CHEMISTRY 2",
	Room:        "C-201",
}

type fakeKiosk struct {
	board *presentation.Board

	mu         sync.Mutex
	connected  bool
	connectErr error
	printErr   error
	prints     int
}

func (k *fakeKiosk) Connect(context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.connectErr != nil {
		return k.connectErr
	}
	k.connected = true
	return nil
}

func (k *fakeKiosk) Disconnect() {
	k.mu.Lock()
	k.connected = false
	k.mu.Unlock()
}

func (k *fakeKiosk) Connected() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.connected
}

func (k *fakeKiosk) ResolveCard(_ context.Context, cardID string) (*models.Student, error) {
	cardID = strings.TrimSpace(cardID)
	if cardID == knownStudent.CardID {
		k.board.ShowStudent(knownStudent)
		return knownStudent, nil
	}
	k.board.ShowUnknown(cardID)
	return nil, database.ErrStudentNotFound
}

func (k *fakeKiosk) PrintActive(context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.prints++
	return k.printErr
}

func (k *fakeKiosk) ClearActive() { k.board.ClearActive() }

func (k *fakeKiosk) SetAutoPrint(_ context.Context, enabled bool) error {
	k.board.SetAutoPrint(enabled)
	return nil
}

func (k *fakeKiosk) ToggleAutoPrint(ctx context.Context) (bool, error) {
	enabled := !k.board.AutoPrint()
	return enabled, k.SetAutoPrint(ctx, enabled)
}

// remoteAPI accepts admin/secret and nothing else.
func remoteAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.FormValue("username") != "admin" || r.FormValue("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"bad creds"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"bearer"}`))
	})
	mux.HandleFunc("/api/v1/auth/get-me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":1,"username":"admin","full_name":"Exam Operator"}`))
	})
	mux.HandleFunc("/api/v1/auth/refresh", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/api/v1/auth/logout", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	e        *echo.Echo
	manager  *auth.Manager
	board    *presentation.Board
	kiosk    *fakeKiosk
	activity *database.ActivityRepo
	settings *database.SettingsRepo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithAPI(t, remoteAPI(t).URL)
}

func newTestEnvWithAPI(t *testing.T, apiURL string) *testEnv {
	t.Helper()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "kiosk.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	env := &testEnv{
		board:    presentation.NewBoard(),
		activity: database.NewActivityRepo(db),
		settings: database.NewSettingsRepo(db),
	}
	env.kiosk = &fakeKiosk{board: env.board}

	env.manager, err = auth.NewManager(context.Background(), auth.ManagerOptions{
		BaseURL: apiURL,
		Timeout: 2 * time.Second,
		Store:   env.settings,
		Journal: env.activity,
	})
	require.NoError(t, err)

	h, err := NewHandler(Deps{
		Manager:        env.manager,
		Kiosk:          env.kiosk,
		Board:          env.board,
		Activity:       env.activity,
		AllowedOrigins: []string{"http://localhost:5173/"},
	})
	require.NoError(t, err)

	env.e = echo.New()
	h.RegisterRoutes(env.e)
	return env
}

func (env *testEnv) do(method, target, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

// login signs the operator in and returns the CSRF token.
func (env *testEnv) login(t *testing.T) string {
	t.Helper()
	rec := env.do(http.MethodPost, "/api/auth/login", `{"username":"admin","password":"secret"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Success   bool            `json:"success"`
		User      *models.Profile `json:"user"`
		CSRFToken string          `json:"csrf_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.CSRFToken)
	return resp.CSRFToken
}

func csrfHeader(token string) http.Header {
	return http.Header{auth.HeaderCSRFToken: {token}}
}

func TestNewHandler_RequiresDependencies(t *testing.T) {
	_, err := NewHandler(Deps{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestPageGuards(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get(echo.HeaderLocation))

	rec = env.do(http.MethodGet, "/login", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	env.login(t)

	rec = env.do(http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"page":"home"`)
	assert.Contains(t, rec.Body.String(), `"username":"admin"`)

	rec = env.do(http.MethodGet, "/login", "", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get(echo.HeaderLocation))
}

func TestLogin_WrongPassword(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/auth/login", `{"username":"admin","password":"wrong"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"bad creds"}`, rec.Body.String())
	assert.False(t, env.manager.IsAuthenticated())

	entries, err := env.activity.List(context.Background(), models.ActivityFilter{Action: models.ActionLoginFailed})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLogin_FormEncoded(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(url.Values{"username": {"admin"}, "password": {"secret"}}.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	token, err := env.settings.LoadToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
}

func TestLogin_MissingFields(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/auth/login", `{"username":"  "}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin_RateLimited(t *testing.T) {
	env := newTestEnv(t)

	var rec *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		rec = env.do(http.MethodPost, "/api/auth/login", `{"username":"admin","password":"wrong"}`, nil)
	}
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestLogin_UnreachableAPIIsNotRateLimited(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()
	env := newTestEnvWithAPI(t, down.URL)

	for i := 0; i < 6; i++ {
		rec := env.do(http.MethodPost, "/api/auth/login", `{"username":"admin","password":"secret"}`, nil)
		require.Equal(t, http.StatusBadGateway, rec.Code, "attempt %d", i+1)
		assert.JSONEq(t, `{"success":false,"error":"Ошибка подключения к серверу"}`, rec.Body.String())
	}
}

func TestLogin_ProfileFailureIsNotRateLimited(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1"}`))
	})
	mux.HandleFunc("/api/v1/auth/get-me", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	env := newTestEnvWithAPI(t, srv.URL)

	for i := 0; i < 6; i++ {
		rec := env.do(http.MethodPost, "/api/auth/login", `{"username":"admin","password":"secret"}`, nil)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code, "attempt %d", i+1)
	}
	assert.False(t, env.manager.IsAuthenticated())
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	env.login(t)
	rec = env.do(http.MethodGet, "/api/auth/me", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Session   models.SessionState `json:"session"`
		CSRFToken string              `json:"csrf_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Session.Authenticated)
	require.NotNil(t, resp.Session.User)
	assert.Equal(t, "Exam Operator", resp.Session.User.FullName)
	assert.NotEmpty(t, resp.CSRFToken)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	csrf := env.login(t)

	rec := env.do(http.MethodPost, "/api/auth/logout", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, env.manager.IsAuthenticated())

	token, err := env.settings.LoadToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)

	rec = env.do(http.MethodPost, "/api/kiosk/clear", "", csrfHeader(csrf))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestKiosk_RequiresCSRF(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	rec := env.do(http.MethodPost, "/api/kiosk/scan", `{"rfid":"2AC540BD"}`, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodPost, "/api/kiosk/scan", `{"rfid":"2AC540BD"}`, csrfHeader("forged"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodGet, "/api/kiosk/state", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestKiosk_Scan(t *testing.T) {
	env := newTestEnv(t)
	csrf := env.login(t)

	rec := env.do(http.MethodPost, "/api/kiosk/scan", `{"rfid":" 2AC540BD "}`, csrfHeader(csrf))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"found":true`)
	assert.Equal(t, knownStudent.FullName, env.board.ActiveStudent().FullName)

	rec = env.do(http.MethodPost, "/api/kiosk/scan", `{"rfid":"ZZZZZZZZ"}`, csrfHeader(csrf))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"not_found":true`)

	rec = env.do(http.MethodPost, "/api/kiosk/scan", `{"rfid":""}`, csrfHeader(csrf))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKiosk_Print(t *testing.T) {
	env := newTestEnv(t)
	csrf := env.login(t)

	rec := env.do(http.MethodPost, "/api/kiosk/print", "", csrfHeader(csrf))
	assert.Equal(t, http.StatusOK, rec.Code)

	env.kiosk.printErr = scanner.ErrNoActiveStudent
	rec = env.do(http.MethodPost, "/api/kiosk/print", "", csrfHeader(csrf))
	assert.Equal(t, http.StatusConflict, rec.Code)

	env.kiosk.printErr = assert.AnError
	rec = env.do(http.MethodPost, "/api/kiosk/print", "", csrfHeader(csrf))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, 3, env.kiosk.prints)
}

func TestKiosk_ClearAndAutoPrint(t *testing.T) {
	env := newTestEnv(t)
	csrf := env.login(t)
	env.board.ShowStudent(knownStudent)

	rec := env.do(http.MethodPost, "/api/kiosk/clear", "", csrfHeader(csrf))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, env.board.ActiveStudent())

	rec = env.do(http.MethodPost, "/api/kiosk/autoprint", "", csrfHeader(csrf))
	assert.JSONEq(t, `{"auto_print":true}`, rec.Body.String())

	rec = env.do(http.MethodPost, "/api/kiosk/autoprint", `{"enabled":true}`, csrfHeader(csrf))
	assert.JSONEq(t, `{"auto_print":true}`, rec.Body.String())

	rec = env.do(http.MethodPost, "/api/kiosk/autoprint", `{"enabled":false}`, csrfHeader(csrf))
	assert.JSONEq(t, `{"auto_print":false}`, rec.Body.String())
}

func TestKiosk_Scanner(t *testing.T) {
	env := newTestEnv(t)
	csrf := env.login(t)

	rec := env.do(http.MethodPost, "/api/kiosk/scanner/connect", "", csrfHeader(csrf))
	assert.JSONEq(t, `{"connected":true}`, rec.Body.String())

	rec = env.do(http.MethodPost, "/api/kiosk/scanner/disconnect", "", csrfHeader(csrf))
	assert.JSONEq(t, `{"connected":false}`, rec.Body.String())
	assert.False(t, env.kiosk.Connected())

	env.kiosk.connectErr = scanner.ErrConnection
	rec = env.do(http.MethodPost, "/api/kiosk/scanner/connect", "", csrfHeader(csrf))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestKiosk_Activity(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	ctx := context.Background()
	require.NoError(t, env.activity.Log(ctx, models.ActionScanMatched, "2AC540BD", "admin", nil))
	require.NoError(t, env.activity.Log(ctx, models.ActionScanUnknown, "ZZZ", "admin", nil))

	rec := env.do(http.MethodGet, "/api/kiosk/activity?action=scan.unknown", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Entries []*models.Activity `json:"entries"`
		Limit   int                `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "ZZZ", resp.Entries[0].CardID)
	assert.Equal(t, 50, resp.Limit)

	rec = env.do(http.MethodGet, "/api/kiosk/activity?since=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKiosk_Events(t *testing.T) {
	env := newTestEnv(t)
	csrf := env.login(t)

	srv := httptest.NewServer(env.e)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/kiosk/events"

	_, resp, err := websocket.DefaultDialer.Dial(base+"?csrf=forged", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial(base+"?csrf="+url.QueryEscape(csrf), nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))

	var ev StateEvent
	require.NoError(t, ws.ReadJSON(&ev))
	assert.Equal(t, "state", ev.Type)
	assert.False(t, ev.State.AutoPrint)

	env.board.ShowStudent(knownStudent)
	for {
		require.NoError(t, ws.ReadJSON(&ev))
		if ev.State.ActiveStudent != nil {
			break
		}
	}
	assert.Equal(t, knownStudent.CardID, ev.State.ActiveStudent.CardID)
}

func TestCheckOrigin(t *testing.T) {
	env := newTestEnv(t)
	h, err := NewHandler(Deps{
		Manager:        env.manager,
		Kiosk:          env.kiosk,
		Board:          env.board,
		Activity:       env.activity,
		AllowedOrigins: []string{"http://localhost:5173/"},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "http://kiosk.local:8080/api/kiosk/events", nil)
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "http://localhost:5173")
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "http://kiosk.local:8080")
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, h.checkOrigin(req))
}
