// Package otp issues, verifies and consumes one-time passcodes for the admin identity
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/filecoin-project/go-clock"
	"go.uber.org/zap"

	"github.com/findosh/contactdesk/internal/apperr"
	"github.com/findosh/contactdesk/internal/logging"
	"github.com/findosh/contactdesk/internal/models"
	"github.com/findosh/contactdesk/internal/services/notify"
	"github.com/findosh/contactdesk/internal/storage"
)

// MsgInvalidFormat is returned for codes that are not six digits
const MsgInvalidFormat = "Invalid OTP format."

var codeSpace = big.NewInt(1_000_000)

// Store is the persistence the authenticator needs
type Store interface {
	Replace(ctx context.Context, rec *models.OTPRecord) error
	FindActive(ctx context.Context, identity string) (*models.OTPRecord, error)
	IncrementAttempts(ctx context.Context, identity string) (int64, error)
	Consume(ctx context.Context, identity, code string, now time.Time, maxAttempts int) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Options configures the authenticator
type Options struct {
	AdminIdentity string
	TTL           time.Duration
	MaxAttempts   int
}

// Authenticator manages the passcode lifecycle
type Authenticator struct {
	store    Store
	notifier notify.Notifier
	clock    clock.Clock
	logger   *zap.Logger
	opts     Options
	rand     io.Reader
}

// New creates an authenticator
func New(store Store, notifier notify.Notifier, opts Options, clk clock.Clock, logger *zap.Logger) *Authenticator {
	if clk == nil {
		clk = clock.New()
	}
	return &Authenticator{
		store:    store,
		notifier: notifier,
		clock:    clk,
		logger:   logging.OrNop(logger).Named("otp"),
		opts:     opts,
		rand:     rand.Reader,
	}
}

// Issue describes the outcome of a code request
type Issue struct {
	ExpiresInMinutes int
	// Authorized is false when the identity is not the admin and nothing was issued
	Authorized bool
}

// RequestCode issues a fresh code to the admin identity, replacing any
// previous one. Other identities get the same response with nothing issued.
func (a *Authenticator) RequestCode(ctx context.Context, identity string, client models.ClientInfo) (Issue, error) {
	issue := Issue{ExpiresInMinutes: int(a.opts.TTL / time.Minute)}
	if identity != a.opts.AdminIdentity {
		return issue, nil
	}
	issue.Authorized = true

	code, err := GenerateCode(a.rand)
	if err != nil {
		return issue, err
	}

	rec := models.NewOTPRecord(identity, code, client, a.clock.Now(), a.opts.TTL)
	if err := a.store.Replace(ctx, rec); err != nil {
		a.logger.Error("failed to store otp", zap.Error(err))
		return issue, apperr.Storage(err)
	}

	if err := a.notifier.SendCode(ctx, identity, code, a.opts.TTL); err != nil {
		a.logger.Error("failed to deliver otp", zap.Error(err))
		return issue, apperr.Delivery(err)
	}

	a.logger.Info("otp issued", zap.Time("expires_at", rec.ExpiresAt))
	return issue, nil
}

// Verify reports whether code is the identity's current unused, unexpired and
// unlocked code. It does not consume it. On false the caller records a failed attempt.
func (a *Authenticator) Verify(ctx context.Context, identity, code string) (bool, error) {
	if !ValidCode(code) {
		return false, apperr.Validation(MsgInvalidFormat)
	}

	rec, err := a.store.FindActive(ctx, identity)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		a.logger.Error("failed to load otp", zap.Error(err))
		return false, apperr.Storage(err)
	}

	if rec.IsExpired(a.clock.Now()) {
		if _, err := a.CleanupExpired(ctx); err != nil {
			a.logger.Warn("opportunistic otp cleanup failed", zap.Error(err))
		}
		return false, nil
	}

	if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(code)) != 1 {
		return false, nil
	}

	// attempts is checked before this attempt is counted, so the first
	// unconditional rejection is attempt MaxAttempts+1
	if rec.IsLocked(a.opts.MaxAttempts) {
		return false, nil
	}

	return true, nil
}

// RecordFailedAttempt increments the attempt counter of the identity's active code
func (a *Authenticator) RecordFailedAttempt(ctx context.Context, identity string) error {
	if _, err := a.store.IncrementAttempts(ctx, identity); err != nil {
		a.logger.Error("failed to record otp attempt", zap.Error(err))
		return apperr.Storage(err)
	}
	return nil
}

// Consume marks the code used in a single conditional write. False means the
// code was already used, expired, locked or a concurrent caller won.
func (a *Authenticator) Consume(ctx context.Context, identity, code string) (bool, error) {
	ok, err := a.store.Consume(ctx, identity, code, a.clock.Now(), a.opts.MaxAttempts)
	if err != nil {
		a.logger.Error("failed to consume otp", zap.Error(err))
		return false, apperr.Storage(err)
	}
	return ok, nil
}

// CleanupExpired deletes every record past its expiry
func (a *Authenticator) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := a.store.DeleteExpired(ctx, a.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("cleanup expired otps: %w", err)
	}
	return n, nil
}

// GenerateCode draws a code uniformly from 000000-999999
func GenerateCode(r io.Reader) (string, error) {
	n, err := rand.Int(r, codeSpace)
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", models.OTPCodeLength, n.Int64()), nil
}

// ValidCode reports whether code is exactly six ASCII digits
func ValidCode(code string) bool {
	if len(code) != models.OTPCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
