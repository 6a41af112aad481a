package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"examkiosk/internal/models"
)

// Remote API paths, relative to the base URL.
const (
	loginPath   = "/api/v1/auth/login"
	refreshPath = "/api/v1/auth/refresh"
	mePath      = "/api/v1/auth/get-me"
	logoutPath  = "/api/v1/auth/logout"
)

// maxProfileAttempts bounds get-me calls per FetchProfile: the first try
// plus one retry after a successful refresh.
const maxProfileAttempts = 2

// TokenStore persists the access token across restarts.
type TokenStore interface {
	LoadToken(ctx context.Context) (string, error)
	SaveToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
}

// Journal records operator activity. Optional.
type Journal interface {
	Log(ctx context.Context, action, cardID, operator string, details any) error
}

// ManagerOptions groups the dependencies of a Manager.
type ManagerOptions struct {
	BaseURL string
	Timeout time.Duration
	Store   TokenStore
	Journal Journal
	Logger  *zap.Logger
	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

// LoginResult is the outcome of Login as shown to the operator. Err
// carries the failure kind (ErrInvalidCredentials, ErrConnection,
// ErrProfile or ErrUnauthorized) and is not serialized.
type LoginResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Err     error  `json:"-"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
}

// Manager owns the operator session against the remote exam API: the
// access token, the cached profile and the refresh cookie (kept in the
// HTTP client's cookie jar).
type Manager struct {
	baseURL string
	client  *http.Client // refresh cookie travels via client.Jar
	bearer  *http.Client // same jar, adds Authorization from the current token
	store   TokenStore
	journal Journal
	logger  *zap.Logger

	refreshGroup singleflight.Group

	// storeMu serializes durable token writes with the in-memory swap.
	// Lock order: storeMu, then mu.
	storeMu sync.Mutex

	mu      sync.Mutex
	token   string
	user    *models.Profile
	lastErr string
	loading bool
}

// NewManager builds a Manager and rehydrates the token from the store.
func NewManager(ctx context.Context, opts ManagerOptions) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("auth: token store is required")
	}
	if opts.BaseURL == "" {
		return nil, errors.New("auth: base URL is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	m := &Manager{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		store:   opts.Store,
		journal: opts.Journal,
		logger:  logger.Named("auth"),
	}
	m.client = &http.Client{Jar: jar, Timeout: opts.Timeout, Transport: base}
	m.bearer = &http.Client{
		Jar:       jar,
		Timeout:   opts.Timeout,
		Transport: &oauth2.Transport{Source: m, Base: base},
	}

	token, err := opts.Store.LoadToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("load access token: %w", err)
	}
	m.token = token

	return m, nil
}

// Token implements oauth2.TokenSource over the current session token.
func (m *Manager) Token() (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" {
		return nil, ErrNoToken
	}
	return &oauth2.Token{AccessToken: m.token, TokenType: "Bearer"}, nil
}

// AccessToken returns the current access token, or "".
func (m *Manager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// User returns a copy of the cached profile, or nil.
func (m *Manager) User() *models.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return nil
	}
	cp := *m.user
	return &cp
}

// IsAuthenticated reports whether an access token is held.
func (m *Manager) IsAuthenticated() bool {
	return m.AccessToken() != ""
}

// Snapshot returns the session as seen by the UI.
func (m *Manager) Snapshot() models.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := models.SessionState{
		Authenticated: m.token != "",
		Error:         m.lastErr,
		Loading:       m.loading,
		ExpiresAt:     tokenExpiry(m.token),
	}
	if m.user != nil {
		cp := *m.user
		st.User = &cp
	}
	return st
}

// ClearError drops the last operator-facing error.
func (m *Manager) ClearError() {
	m.mu.Lock()
	m.lastErr = ""
	m.mu.Unlock()
}

// Login submits the credentials, stores the access token and loads the
// profile. Both steps must succeed.
func (m *Manager) Login(ctx context.Context, username, password string) LoginResult {
	m.mu.Lock()
	m.loading = true
	m.lastErr = ""
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.loading = false
		m.mu.Unlock()
	}()

	form := url.Values{"username": {username}, "password": {password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+loginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return m.loginFailed(ctx, username, msgConnection, fmt.Errorf("%w: %v", ErrConnection, err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return m.loginFailed(ctx, username, msgConnection, fmt.Errorf("%w: %v", ErrConnection, err))
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		msg := errorDetail(resp.Body)
		if msg == "" {
			msg = msgInvalidCredentials
		}
		kind := ErrInvalidCredentials
		if resp.StatusCode >= http.StatusInternalServerError {
			kind = ErrConnection
		}
		return m.loginFailed(ctx, username, msg, fmt.Errorf("%w: status %d", kind, resp.StatusCode))
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil || tok.AccessToken == "" {
		return m.loginFailed(ctx, username, msgConnection, fmt.Errorf("%w: malformed token response", ErrConnection))
	}

	m.setToken(ctx, tok.AccessToken)

	if err := m.FetchProfile(ctx); err != nil {
		// no partially authenticated session survives a failed login
		m.Logout()
		return m.loginFailed(ctx, username, msgProfile, err)
	}

	m.logger.Info("operator logged in", zap.String("username", username))
	m.record(ctx, models.ActionLogin, username, nil)
	return LoginResult{Success: true}
}

// FetchProfile makes sure the operator profile is loaded. A cached
// profile is returned without a network call.
func (m *Manager) FetchProfile(ctx context.Context) error {
	m.mu.Lock()
	cached := m.user != nil && m.token != ""
	m.mu.Unlock()
	if cached {
		return nil
	}
	return m.ReloadProfile(ctx)
}

// ReloadProfile calls the profile endpoint with the current token. A 401
// triggers exactly one refresh and one retry.
func (m *Manager) ReloadProfile(ctx context.Context) error {
	for attempt := 1; attempt <= maxProfileAttempts; attempt++ {
		status, profile, err := m.getMe(ctx)
		if err != nil {
			m.logger.Warn("get profile failed", zap.Error(err))
			return fmt.Errorf("%w: %v", ErrConnection, err)
		}

		switch {
		case isSuccess(status):
			m.mu.Lock()
			// a logout that raced this request wins
			if m.token != "" {
				m.user = profile
			}
			m.mu.Unlock()
			return nil

		case status == http.StatusUnauthorized:
			if attempt == maxProfileAttempts {
				// refreshed token was refused as well; it is useless
				m.logger.Warn("profile still unauthorized after refresh")
				m.Logout()
				return ErrUnauthorized
			}
			if !m.Refresh(ctx) {
				return ErrUnauthorized
			}

		default:
			return fmt.Errorf("%w: status %d", ErrProfile, status)
		}
	}
	return ErrUnauthorized
}

// getMe performs a single profile request. A missing token is reported
// as a 401 so the caller takes the refresh path.
func (m *Manager) getMe(ctx context.Context) (int, *models.Profile, error) {
	if m.AccessToken() == "" {
		return http.StatusUnauthorized, nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+mePath, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.bearer.Do(req)
	if err != nil {
		if errors.Is(err, ErrNoToken) {
			return http.StatusUnauthorized, nil, nil
		}
		return 0, nil, err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return resp.StatusCode, nil, nil
	}

	var profile models.Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return 0, nil, fmt.Errorf("decode profile: %w", err)
	}
	return resp.StatusCode, &profile, nil
}

// Refresh exchanges the refresh cookie for a new access token. Any
// failure clears the local session. Concurrent callers share one request.
func (m *Manager) Refresh(ctx context.Context) bool {
	v, _, _ := m.refreshGroup.Do("refresh", func() (any, error) {
		token, err := m.requestRefresh(ctx)
		if err != nil {
			m.logger.Warn("token refresh failed", zap.Error(err))
			m.Logout()
			return false, nil
		}
		m.setToken(ctx, token)
		m.logger.Debug("access token refreshed")
		return true, nil
	})
	ok, _ := v.(bool)
	return ok
}

func (m *Manager) requestRefresh(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+refreshPath, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return "", fmt.Errorf("%w: refresh status %d", ErrUnauthorized, resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("refresh response without access_token")
	}
	return tok.AccessToken, nil
}

// EnsureAuthenticated restores or validates the session. Without a token
// it tries a silent refresh; with one it loads the profile and falls back
// to a refresh on failure.
func (m *Manager) EnsureAuthenticated(ctx context.Context) bool {
	if m.AccessToken() == "" {
		return m.Refresh(ctx)
	}
	if err := m.FetchProfile(ctx); err != nil {
		return m.Refresh(ctx)
	}
	return true
}

// LogoutRemote asks the API to drop the refresh cookie, then clears the
// local session whatever the outcome.
func (m *Manager) LogoutRemote(ctx context.Context) {
	operator := ""
	if u := m.User(); u != nil {
		operator = u.Username
	}

	defer func() {
		m.Logout()
		m.record(ctx, models.ActionLogout, operator, nil)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+logoutPath, nil)
	if err != nil {
		m.logger.Warn("build logout request", zap.Error(err))
		return
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Warn("remote logout failed", zap.Error(err))
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
	if !isSuccess(resp.StatusCode) {
		m.logger.Warn("remote logout rejected", zap.Int("status", resp.StatusCode))
	}
}

// Logout clears the token, the profile and durable storage. No network.
func (m *Manager) Logout() {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	m.mu.Lock()
	m.token = ""
	m.user = nil
	m.mu.Unlock()

	if err := m.store.ClearToken(context.Background()); err != nil {
		m.logger.Error("clear stored token", zap.Error(err))
	}
}

func (m *Manager) setToken(ctx context.Context, token string) {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	m.mu.Lock()
	m.token = token
	m.mu.Unlock()

	if err := m.store.SaveToken(ctx, token); err != nil {
		m.logger.Error("persist access token", zap.Error(err))
	}
}

func (m *Manager) loginFailed(ctx context.Context, username, msg string, err error) LoginResult {
	m.mu.Lock()
	m.lastErr = msg
	m.mu.Unlock()

	m.logger.Info("login failed", zap.String("username", username), zap.Error(err))
	m.record(ctx, models.ActionLoginFailed, username, map[string]string{"error": msg})
	return LoginResult{Success: false, Error: msg, Err: err}
}

func (m *Manager) record(ctx context.Context, action, operator string, details any) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Log(ctx, action, "", operator, details); err != nil {
		m.logger.Warn("journal write failed", zap.String("action", action), zap.Error(err))
	}
}

func isSuccess(status int) bool {
	return status >= 200 && status <= 299
}

// errorDetail extracts a string "detail" from an error body, if any.
func errorDetail(body io.Reader) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.NewDecoder(io.LimitReader(body, 64<<10)).Decode(&payload); err != nil {
		return ""
	}
	var detail string
	if err := json.Unmarshal(payload.Detail, &detail); err != nil {
		return ""
	}
	return strings.TrimSpace(detail)
}

// tokenExpiry reads the exp claim of a JWT access token without verifying it.
func tokenExpiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
