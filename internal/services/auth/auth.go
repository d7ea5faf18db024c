// Package auth composes rate limiting, passcodes and sessions into the admin login flow
package auth

import (
	"context"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/findosh/contactdesk/internal/apperr"
	"github.com/findosh/contactdesk/internal/logging"
	"github.com/findosh/contactdesk/internal/metrics"
	"github.com/findosh/contactdesk/internal/models"
	"github.com/findosh/contactdesk/internal/services/audit"
	"github.com/findosh/contactdesk/internal/services/otp"
	"github.com/findosh/contactdesk/internal/services/ratelimit"
	"github.com/findosh/contactdesk/internal/services/session"
)

// Caller-visible messages
const (
	MsgEmailRequired   = "Email is required."
	MsgInvalidEmail    = "Invalid email format."
	MsgOTPRequired     = "OTP is required."
	MsgInvalidOTP      = "Invalid or expired OTP."
	MsgTokenRequired   = "Session token is required."
	MsgInvalidSession  = "Invalid session token."
	MsgSessionExpired  = "Invalid or expired session."
	MsgOTPSent         = "If this email is registered as an admin, an OTP has been sent."
	MsgLoginSuccessful = "Login successful."
	MsgLoggedOut       = "Logged out successfully."
)

// Service handles the admin authentication flow
type Service struct {
	admin    string
	limiter  *ratelimit.Limiter
	otps     *otp.Authenticator
	sessions *session.Manager
	audit    *audit.Recorder
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// Deps are the components the service composes
type Deps struct {
	AdminIdentity string
	Limiter       *ratelimit.Limiter
	OTPs          *otp.Authenticator
	Sessions      *session.Manager
	Audit         *audit.Recorder
	Metrics       *metrics.Metrics
}

// NewService creates a new auth service
func NewService(deps Deps, logger *zap.Logger) *Service {
	return &Service{
		admin:    deps.AdminIdentity,
		limiter:  deps.Limiter,
		otps:     deps.OTPs,
		sessions: deps.Sessions,
		audit:    deps.Audit,
		metrics:  deps.Metrics,
		logger:   logging.OrNop(logger).Named("auth"),
	}
}

// OTPRequestResult is returned for every well-formed code request
type OTPRequestResult struct {
	ExpiresInMinutes int `json:"expires_in_minutes"`
}

// LoginResult is returned after a successful verification
type LoginResult struct {
	SessionToken     string    `json:"session_token"`
	ExpiresInMinutes int       `json:"expires_in_minutes"`
	Identity         string    `json:"admin_email"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// NormalizeEmail trims and lower-cases a bare email address
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apperr.Validation(MsgEmailRequired)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.Validation(MsgInvalidEmail)
	}
	return email, nil
}

// RequestOTP issues a code when email is the admin. The result is the same
// for every well-formed address.
func (s *Service) RequestOTP(ctx context.Context, email string, client models.ClientInfo) (*OTPRequestResult, error) {
	identity, err := NormalizeEmail(email)
	if err != nil {
		if strings.TrimSpace(email) != "" {
			s.audit.Record(ctx, audit.Event{
				Type:    audit.EventInvalidEmailFormat,
				Client:  client,
				Details: map[string]string{"email": email},
			})
		}
		return nil, err
	}

	issue, err := s.otps.RequestCode(ctx, identity, client)
	if err != nil {
		s.metrics.OTPEvent("request_failed")
		return nil, err
	}

	if !issue.Authorized {
		s.metrics.OTPEvent("unauthorized")
		s.audit.Record(ctx, audit.Event{Type: audit.EventUnauthorizedAccess, Identity: identity, Client: client})
	} else {
		s.metrics.OTPEvent("issued")
		s.audit.Record(ctx, audit.Event{Type: audit.EventOTPRequested, Identity: identity, Client: client})
	}

	return &OTPRequestResult{ExpiresInMinutes: issue.ExpiresInMinutes}, nil
}

// VerifyOTP checks and consumes the code and opens a session. An empty email
// means the configured admin.
func (s *Service) VerifyOTP(ctx context.Context, email, code string, client models.ClientInfo) (*LoginResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperr.Validation(MsgOTPRequired)
	}

	identity := s.admin
	if strings.TrimSpace(email) != "" {
		var err error
		if identity, err = NormalizeEmail(email); err != nil {
			return nil, err
		}
	}

	ok, err := s.otps.Verify(ctx, identity, code)
	if apperr.KindOf(err) == apperr.KindValidation {
		s.audit.Record(ctx, audit.Event{
			Type:     audit.EventInvalidOTPFormat,
			Identity: identity,
			Client:   client,
			Details:  map[string]string{"otp_length": strconv.Itoa(len(code))},
		})
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if !ok {
		if err := s.otps.RecordFailedAttempt(ctx, identity); err != nil {
			s.logger.Error("failed attempt not recorded", zap.Error(err))
		}
		s.metrics.OTPEvent("failed")
		s.audit.Record(ctx, audit.Event{
			Type:     audit.EventInvalidOTPAttempt,
			Identity: identity,
			Client:   client,
			Details:  map[string]string{"otp_fingerprint": s.audit.Fingerprint(code)},
		})
		return nil, apperr.Auth(MsgInvalidOTP)
	}

	consumed, err := s.otps.Consume(ctx, identity, code)
	if err != nil {
		return nil, err
	}
	if !consumed {
		s.metrics.OTPEvent("consume_failed")
		s.audit.Record(ctx, audit.Event{
			Type:     audit.EventOTPConsumptionFailed,
			Identity: identity,
			Client:   client,
			Details:  map[string]string{"otp_fingerprint": s.audit.Fingerprint(code)},
		})
		return nil, apperr.Auth(MsgInvalidOTP)
	}
	s.metrics.OTPEvent("verified")

	sess, err := s.sessions.Create(ctx, identity, client)
	if err != nil {
		return nil, err
	}
	s.metrics.SessionEvent("created")
	s.audit.Record(ctx, audit.Event{Type: audit.EventLoginSuccess, Identity: identity, Client: client})

	return &LoginResult{
		SessionToken:     sess.Token,
		ExpiresInMinutes: int(sess.ExpiresAt.Sub(sess.IssuedAt) / time.Minute),
		Identity:         identity,
		ExpiresAt:        sess.ExpiresAt,
	}, nil
}

// Logout destroys the session for token
func (s *Service) Logout(ctx context.Context, token string, client models.ClientInfo) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperr.Validation(MsgTokenRequired)
	}

	sess, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return err
	}
	if sess == nil {
		s.invalidSession(ctx, token, client)
		return apperr.Auth(MsgInvalidSession)
	}

	destroyed, err := s.sessions.Destroy(ctx, token)
	if err != nil {
		return err
	}
	if !destroyed {
		return apperr.Auth(MsgInvalidSession)
	}

	s.metrics.SessionEvent("destroyed")
	s.audit.Record(ctx, audit.Event{Type: audit.EventLogout, Identity: sess.Identity, Client: client})
	return nil
}

// Authenticate resolves a bearer token to its live session
func (s *Service) Authenticate(ctx context.Context, token string, client models.ClientInfo) (*models.Session, error) {
	sess, err := s.sessions.Validate(ctx, strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}
	if sess == nil {
		s.invalidSession(ctx, token, client)
		return nil, apperr.Auth(MsgSessionExpired)
	}
	return sess, nil
}

// CheckRateLimit counts the request against endpoint and reports whether it may proceed
func (s *Service) CheckRateLimit(ctx context.Context, endpoint string, client models.ClientInfo) bool {
	allowed := s.limiter.IsAllowed(ctx, endpoint, client.IP)
	s.metrics.RateLimitDecision(endpoint, allowed)
	if !allowed {
		s.audit.Record(ctx, audit.Event{
			Type:    audit.EventRateLimitExceeded,
			Client:  client,
			Details: map[string]string{"endpoint": endpoint},
		})
	}
	return allowed
}

// RateLimitStatus returns the limit and the requests left for the client on endpoint
func (s *Service) RateLimitStatus(ctx context.Context, endpoint string, client models.ClientInfo) (limit, remaining int) {
	return s.limiter.Limit(), s.limiter.Remaining(ctx, endpoint, client.IP)
}

func (s *Service) invalidSession(ctx context.Context, token string, client models.ClientInfo) {
	s.metrics.SessionEvent("invalid")
	details := map[string]string{}
	if token != "" {
		details["token_fingerprint"] = s.audit.Fingerprint(token)
	}
	s.audit.Record(ctx, audit.Event{Type: audit.EventInvalidSession, Client: client, Details: details})
}
