package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/filecoin-project/go-clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/findosh/contactdesk/internal/apperr"
	"github.com/findosh/contactdesk/internal/metrics"
	"github.com/findosh/contactdesk/internal/models"
	"github.com/findosh/contactdesk/internal/services/audit"
	"github.com/findosh/contactdesk/internal/services/otp"
	"github.com/findosh/contactdesk/internal/services/ratelimit"
	"github.com/findosh/contactdesk/internal/services/session"
	"github.com/findosh/contactdesk/internal/storage/memory"
)

const admin = "admin@x.com"

var client = models.ClientInfo{IP: "203.0.113.7", UserAgent: "Mozilla/5.0"}

type inbox struct {
	mu    sync.Mutex
	codes []string
}

func (i *inbox) SendCode(_ context.Context, _, code string, _ time.Duration) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.codes = append(i.codes, code)
	return nil
}

func (i *inbox) last(t *testing.T) string {
	t.Helper()
	i.mu.Lock()
	defer i.mu.Unlock()
	require.NotEmpty(t, i.codes)
	return i.codes[len(i.codes)-1]
}

type fixture struct {
	svc     *Service
	store   *memory.Store
	inbox   *inbox
	clock   *clock.Mock
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	box := &inbox{}
	m := metrics.New(prometheus.NewRegistry())

	recorder, err := audit.NewRecorder(store.SecurityEvents(), []byte("test-key"), clk, nil)
	require.NoError(t, err)

	svc := NewService(Deps{
		AdminIdentity: admin,
		Limiter:       ratelimit.New(store.RateLimits(), ratelimit.Options{Limit: 5, Window: 15 * time.Minute, Retention: 24 * time.Hour}, clk, nil),
		OTPs:          otp.New(store.OTPs(), box, otp.Options{AdminIdentity: admin, TTL: 10 * time.Minute, MaxAttempts: 3}, clk, nil),
		Sessions:      session.NewManager(store.Sessions(), 60*time.Minute, clk, nil),
		Audit:         recorder,
		Metrics:       m,
	}, nil)

	return &fixture{svc: svc, store: store, inbox: box, clock: clk, metrics: m}
}

func (f *fixture) eventTypes() []string {
	var types []string
	for _, e := range f.store.SecurityEvents().All() {
		types = append(types, e.EventType)
	}
	return types
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"admin@x.com", "admin@x.com", false},
		{"  Admin@X.com ", "admin@x.com", false},
		{"", "", true},
		{"not-an-email", "", true},
		{"Admin <admin@x.com>", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeEmail(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, apperr.ErrValidation, tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestEndToEndLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.RequestOTP(ctx, admin, client)
	require.NoError(t, err)
	assert.Equal(t, 10, res.ExpiresInMinutes)
	code := f.inbox.last(t)

	wrong := "000000"
	if code == wrong {
		wrong = "999999"
	}
	_, err = f.svc.VerifyOTP(ctx, admin, wrong, client)
	assert.ErrorIs(t, err, apperr.ErrAuth)

	rec, ok := f.store.OTPs().Get(admin)
	require.True(t, ok)
	assert.Equal(t, 1, rec.Attempts)

	login, err := f.svc.VerifyOTP(ctx, admin, code, client)
	require.NoError(t, err)
	assert.Len(t, login.SessionToken, session.TokenLength)
	assert.Equal(t, 60, login.ExpiresInMinutes)
	assert.Equal(t, admin, login.Identity)

	_, err = f.svc.VerifyOTP(ctx, admin, code, client)
	assert.ErrorIs(t, err, apperr.ErrAuth, "code already consumed")

	sess, err := f.svc.Authenticate(ctx, login.SessionToken, client)
	require.NoError(t, err)
	assert.Equal(t, admin, sess.Identity)

	assert.Equal(t, []string{
		audit.EventOTPRequested,
		audit.EventInvalidOTPAttempt,
		audit.EventLoginSuccess,
		audit.EventInvalidOTPAttempt,
	}, f.eventTypes())

	for _, e := range f.store.SecurityEvents().All() {
		assert.NotContains(t, e.Details, code, "code never stored in cleartext")
		assert.NotContains(t, e.Details, login.SessionToken)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OTPEvents.WithLabelValues("issued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OTPEvents.WithLabelValues("verified")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.OTPEvents.WithLabelValues("failed")))
}

func TestVerifyOTP_DefaultsToAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestOTP(ctx, admin, client)
	require.NoError(t, err)

	login, err := f.svc.VerifyOTP(ctx, "", f.inbox.last(t), client)
	require.NoError(t, err)
	assert.Equal(t, admin, login.Identity)
}

func TestRequestOTP_NonAdminLooksTheSame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	adminRes, err := f.svc.RequestOTP(ctx, admin, client)
	require.NoError(t, err)
	otherRes, err := f.svc.RequestOTP(ctx, "intruder@example.com", client)
	require.NoError(t, err)

	assert.Equal(t, adminRes, otherRes)
	assert.Len(t, f.inbox.codes, 1, "no code issued for non-admin")
	assert.Contains(t, f.eventTypes(), audit.EventUnauthorizedAccess)
}

func TestRequestOTP_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestOTP(ctx, "", client)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, f.eventTypes())

	_, err = f.svc.RequestOTP(ctx, "nope", client)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, []string{audit.EventInvalidEmailFormat}, f.eventTypes())
}

func TestVerifyOTP_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.VerifyOTP(ctx, admin, "", client)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.VerifyOTP(ctx, admin, "12ab56", client)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, []string{audit.EventInvalidOTPFormat}, f.eventTypes())

	events := f.store.SecurityEvents().All()
	assert.Contains(t, events[0].Details, `"otp_length":"6"`)
}

func TestVerifyOTP_LockedAfterThreeFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestOTP(ctx, admin, client)
	require.NoError(t, err)
	code := f.inbox.last(t)
	wrong := "000000"
	if code == wrong {
		wrong = "999999"
	}

	for i := 0; i < 3; i++ {
		_, err := f.svc.VerifyOTP(ctx, admin, wrong, client)
		require.ErrorIs(t, err, apperr.ErrAuth)
	}

	_, err = f.svc.VerifyOTP(ctx, admin, code, client)
	assert.ErrorIs(t, err, apperr.ErrAuth)
}

func TestVerifyOTP_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestOTP(ctx, admin, client)
	require.NoError(t, err)

	f.clock.Add(11 * time.Minute)
	_, err = f.svc.VerifyOTP(ctx, admin, f.inbox.last(t), client)
	assert.ErrorIs(t, err, apperr.ErrAuth)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestOTP(ctx, admin, client)
	require.NoError(t, err)
	login, err := f.svc.VerifyOTP(ctx, admin, f.inbox.last(t), client)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, login.SessionToken, client))

	err = f.svc.Logout(ctx, login.SessionToken, client)
	assert.ErrorIs(t, err, apperr.ErrAuth)

	err = f.svc.Logout(ctx, "", client)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.Authenticate(ctx, login.SessionToken, client)
	assert.ErrorIs(t, err, apperr.ErrAuth)

	types := f.eventTypes()
	assert.Contains(t, types, audit.EventLogout)
	assert.Contains(t, types, audit.EventInvalidSession)
}

func TestAuthenticate_SessionExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestOTP(ctx, admin, client)
	require.NoError(t, err)
	login, err := f.svc.VerifyOTP(ctx, admin, f.inbox.last(t), client)
	require.NoError(t, err)

	f.clock.Add(61 * time.Minute)
	_, err = f.svc.Authenticate(ctx, login.SessionToken, client)
	assert.ErrorIs(t, err, apperr.ErrAuth)
	assert.Equal(t, 0, f.store.Sessions().Count())
}

func TestCheckRateLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := models.ClientInfo{IP: "198.51.100.7"}

	for i := 1; i <= 5; i++ {
		assert.True(t, f.svc.CheckRateLimit(ctx, "contact_form", c), "call %d", i)
	}
	assert.False(t, f.svc.CheckRateLimit(ctx, "contact_form", c))

	limit, remaining := f.svc.RateLimitStatus(ctx, "contact_form", c)
	assert.Equal(t, 5, limit)
	assert.Equal(t, 0, remaining)

	f.clock.Add(16 * time.Minute)
	assert.True(t, f.svc.CheckRateLimit(ctx, "contact_form", c))

	assert.Equal(t, []string{audit.EventRateLimitExceeded}, f.eventTypes())
	events := f.store.SecurityEvents().All()
	assert.True(t, strings.Contains(events[0].Details, "contact_form"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RateLimitDecisions.WithLabelValues("contact_form", "denied")))
}
