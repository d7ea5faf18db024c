package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/filecoin-project/go-clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/findosh/contactdesk/internal/apperr"
	"github.com/findosh/contactdesk/internal/config"
	"github.com/findosh/contactdesk/internal/metrics"
	"github.com/findosh/contactdesk/internal/middleware"
	"github.com/findosh/contactdesk/internal/response"
	"github.com/findosh/contactdesk/internal/services/audit"
	"github.com/findosh/contactdesk/internal/services/auth"
	"github.com/findosh/contactdesk/internal/services/otp"
	"github.com/findosh/contactdesk/internal/services/ratelimit"
	"github.com/findosh/contactdesk/internal/services/session"
	"github.com/findosh/contactdesk/internal/storage/memory"
)

const admin = "admin@example.com"

type inbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (i *inbox) SendCode(_ context.Context, identity, code string, _ time.Duration) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.codes[identity] = code
	return nil
}

func (i *inbox) code(identity string) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.codes[identity]
}

type failingPinger struct{}

func (failingPinger) PingContext(context.Context) error { return errors.New("connection refused") }

type server struct {
	handler http.Handler
	inbox   *inbox
	clock   *clock.Mock
	store   *memory.Store
}

func newServer(t *testing.T, db Pinger) *server {
	t.Helper()
	cfg := config.Default()
	cfg.AdminEmail = admin

	store := memory.New()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	box := &inbox{codes: map[string]string{}}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	recorder, err := audit.NewRecorder(store.SecurityEvents(), []byte("k"), clk, nil)
	require.NoError(t, err)

	svc := auth.NewService(auth.Deps{
		AdminIdentity: admin,
		Limiter:       ratelimit.New(store.RateLimits(), ratelimit.Options{Limit: cfg.RateLimit.Requests, Window: cfg.RateLimit.Window, Retention: cfg.RateLimit.Retention}, clk, nil),
		OTPs:          otp.New(store.OTPs(), box, otp.Options{AdminIdentity: admin, TTL: cfg.Security.OTPExpiry, MaxAttempts: cfg.Security.OTPMaxAttempts}, clk, nil),
		Sessions:      session.NewManager(store.Sessions(), cfg.Security.SessionTimeout, clk, nil),
		Audit:         recorder,
		Metrics:       m,
	}, nil)

	if db == nil {
		db = store
	}
	h := New(Deps{Config: cfg, Auth: svc, DB: db, Gatherer: reg, Metrics: m}, nil)
	return &server{handler: h.Routes(), inbox: box, clock: clk, store: store}
}

func (s *server) do(t *testing.T, method, path, body string, setup ...func(*http.Request)) (*httptest.ResponseRecorder, response.Envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "203.0.113.7:41000"
	req.Header.Set("Content-Type", "application/json")
	for _, fn := range setup {
		fn(req)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env response.Envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func (s *server) auth(t *testing.T, body string) (*httptest.ResponseRecorder, response.Envelope) {
	t.Helper()
	return s.do(t, http.MethodPost, "/api/admin/auth", body)
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func dataMap(t *testing.T, env response.Envelope) map[string]any {
	t.Helper()
	data, ok := env.Data.(map[string]any)
	require.True(t, ok, "data should be an object, got %T", env.Data)
	return data
}

func TestAdminAuth_LoginFlow(t *testing.T) {
	s := newServer(t, nil)

	rec, env := s.auth(t, `{"action":"request_otp","email":"Admin@Example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.Equal(t, auth.MsgOTPSent, env.Message)
	assert.EqualValues(t, 10, dataMap(t, env)["expires_in_minutes"])
	_, err := time.Parse(time.RFC3339, env.Timestamp)
	require.NoError(t, err)

	code := s.inbox.code(admin)
	require.Len(t, code, 6)

	rec, env = s.auth(t, `{"action":"verify_otp","email":"admin@example.com","otp":"`+code+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, auth.MsgLoginSuccessful, env.Message)
	data := dataMap(t, env)
	token, _ := data["session_token"].(string)
	require.NotEmpty(t, token)
	assert.Equal(t, admin, data["admin_email"])
	assert.Equal(t, "2026-03-01T13:00:00Z", data["expires_at"])

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, token, cookie.Value)
	assert.True(t, cookie.HttpOnly)

	rec, env = s.do(t, http.MethodGet, "/api/admin/session", "", bearer(token))
	require.Equal(t, http.StatusOK, rec.Code)
	info := dataMap(t, env)
	assert.Equal(t, admin, info["admin_email"])
	assert.Equal(t, "2026-03-01T12:00:00Z", info["issued_at"])
	assert.Equal(t, "2026-03-01T13:00:00Z", info["expires_at"])

	rec, _ = s.do(t, http.MethodGet, "/api/admin/session", "", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: middleware.SessionCookie, Value: token})
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = s.auth(t, `{"action":"logout","session_token":"`+token+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, auth.MsgLoggedOut, env.Message)

	rec, env = s.do(t, http.MethodGet, "/api/admin/session", "", bearer(token))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, env.Success)
}

func TestAdminAuth_UniformResponseForUnknownEmail(t *testing.T) {
	s := newServer(t, nil)

	recAdmin, envAdmin := s.auth(t, `{"action":"request_otp","email":"admin@example.com"}`)
	recOther, envOther := s.auth(t, `{"action":"request_otp","email":"someone@example.com"}`)

	assert.Equal(t, recAdmin.Code, recOther.Code)
	assert.Equal(t, envAdmin.Message, envOther.Message)
	assert.Equal(t, envAdmin.Data, envOther.Data)
	assert.Empty(t, s.inbox.code("someone@example.com"))
}

func TestAdminAuth_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		message string
	}{
		{"invalid json", `{"action":`, http.StatusBadRequest, MsgInvalidJSON},
		{"unknown action", `{"action":"reset_password"}`, http.StatusBadRequest, MsgInvalidAction},
		{"missing action", `{}`, http.StatusBadRequest, MsgInvalidAction},
		{"missing email", `{"action":"request_otp"}`, http.StatusBadRequest, auth.MsgEmailRequired},
		{"bad email", `{"action":"request_otp","email":"nope"}`, http.StatusBadRequest, auth.MsgInvalidEmail},
		{"missing otp", `{"action":"verify_otp","email":"admin@example.com"}`, http.StatusBadRequest, auth.MsgOTPRequired},
		{"wrong otp", `{"action":"verify_otp","email":"admin@example.com","otp":"000000"}`, http.StatusUnauthorized, auth.MsgInvalidOTP},
		{"missing token", `{"action":"logout"}`, http.StatusBadRequest, auth.MsgTokenRequired},
		{"unknown token", `{"action":"logout","session_token":"abc"}`, http.StatusUnauthorized, auth.MsgInvalidSession},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServer(t, nil)
			rec, env := s.auth(t, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.False(t, env.Success)
			assert.Equal(t, tt.message, env.Message)
		})
	}
}

func TestAdminAuth_RateLimited(t *testing.T) {
	s := newServer(t, nil)

	for i := 0; i < 5; i++ {
		rec, _ := s.auth(t, `{"action":"request_otp","email":"someone@example.com"}`)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec, env := s.auth(t, `{"action":"request_otp","email":"admin@example.com"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, apperr.MsgRateLimited, env.Message)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Empty(t, s.inbox.code(admin))

	s.clock.Add(15 * time.Minute)
	rec, _ = s.auth(t, `{"action":"request_otp","email":"admin@example.com"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminAuth_ForwardedHeaderDoesNotResetWindow(t *testing.T) {
	s := newServer(t, nil)

	for i := 0; i < 6; i++ {
		forwarded := fmt.Sprintf("198.51.100.%d", i+1)
		rec, _ := s.do(t, http.MethodPost, "/api/admin/auth", `{"action":"request_otp","email":"someone@example.com"}`,
			func(r *http.Request) { r.Header.Set("X-Forwarded-For", forwarded) })
		if i < 5 {
			require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
		} else {
			assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		}
	}
}

func TestAdminSession_RequiresToken(t *testing.T) {
	s := newServer(t, nil)

	rec, env := s.do(t, http.MethodGet, "/api/admin/session", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, middleware.MsgAuthRequired, env.Message)
}

func TestHealthz(t *testing.T) {
	rec, env := newServer(t, nil).do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	rec, env = newServer(t, failingPinger{}).do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, env.Success)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t, nil)
	s.auth(t, `{"action":"request_otp","email":"admin@example.com"}`)

	rec, _ := s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "contactdesk_ratelimit_decisions_total")
	assert.Contains(t, rec.Body.String(), "contactdesk_otp_events_total")
}

func TestRoutes_CommonBehaviour(t *testing.T) {
	s := newServer(t, nil)

	rec, env := s.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec, _ = s.do(t, http.MethodGet, "/api/admin/auth", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRoutes_CORSPreflight(t *testing.T) {
	s := newServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/admin/auth", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
