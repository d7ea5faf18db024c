// Package audit records security-relevant outcomes to the log and the datastore.
package audit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/filecoin-project/go-clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/findosh/contactdesk/internal/logging"
	"github.com/findosh/contactdesk/internal/models"
)

// Event types
const (
	EventRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	EventInvalidEmailFormat   = "INVALID_ADMIN_EMAIL_FORMAT"
	EventUnauthorizedAccess   = "UNAUTHORIZED_ADMIN_ACCESS_ATTEMPT"
	EventOTPRequested         = "OTP_REQUESTED"
	EventInvalidOTPFormat     = "INVALID_OTP_FORMAT"
	EventInvalidOTPAttempt    = "INVALID_OTP_ATTEMPT"
	EventOTPConsumptionFailed = "OTP_CONSUMPTION_FAILED"
	EventLoginSuccess         = "ADMIN_LOGIN_SUCCESS"
	EventLogout               = "ADMIN_LOGOUT"
	EventInvalidSession       = "INVALID_SESSION"
)

// Severities
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
)

// fingerprintLen is the number of hex characters kept from the keyed hash
const fingerprintLen = 16

// Event is one security-relevant outcome
type Event struct {
	Type     string
	Identity string
	Client   models.ClientInfo
	Details  map[string]string
}

// Store persists events
type Store interface {
	Insert(ctx context.Context, e *models.SecurityEvent) error
}

// Recorder writes events to the audit logger and the store
type Recorder struct {
	store  Store
	clock  clock.Clock
	logger *zap.Logger
	key    []byte
}

// NewRecorder creates a recorder. An empty key is replaced by a random one,
// which makes fingerprints comparable only within this process.
func NewRecorder(store Store, key []byte, clk clock.Clock, logger *zap.Logger) (*Recorder, error) {
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate audit key: %w", err)
		}
	}
	if len(key) > blake2b.Size {
		return nil, fmt.Errorf("audit key must be at most %d bytes", blake2b.Size)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Recorder{
		store:  store,
		clock:  clk,
		logger: logging.OrNop(logger).Named("audit"),
		key:    key,
	}, nil
}

// Fingerprint returns a short keyed hash of secret. Codes and tokens only
// ever reach the audit trail in this form.
func (r *Recorder) Fingerprint(secret string) string {
	h, _ := blake2b.New256(r.key) // key length checked in NewRecorder
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))[:fingerprintLen]
}

// Record logs the event and persists it. Persistence failures are logged only.
func (r *Recorder) Record(ctx context.Context, e Event) {
	severity := Severity(e.Type)

	fields := []zap.Field{
		zap.String("event", e.Type),
		zap.String("identity", e.Identity),
		zap.String("ip", e.Client.IP),
		zap.String("user_agent", e.Client.UserAgent),
	}
	if len(e.Details) > 0 {
		fields = append(fields, zap.Any("details", e.Details))
	}
	if severity == SeverityWarning {
		r.logger.Warn("security event", fields...)
	} else {
		r.logger.Info("security event", fields...)
	}

	if r.store == nil {
		return
	}

	details := "{}"
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err == nil {
			details = string(b)
		}
	}

	err := r.store.Insert(ctx, &models.SecurityEvent{
		ID:        uuid.New(),
		EventType: e.Type,
		Severity:  severity,
		Identity:  e.Identity,
		IPAddress: e.Client.IP,
		UserAgent: e.Client.UserAgent,
		Details:   details,
		CreatedAt: r.clock.Now().UTC(),
	})
	if err != nil {
		r.logger.Error("failed to persist security event", zap.String("event", e.Type), zap.Error(err))
	}
}

// Severity classifies an event type
func Severity(eventType string) string {
	switch eventType {
	case EventOTPRequested, EventLoginSuccess, EventLogout:
		return SeverityInfo
	default:
		return SeverityWarning
	}
}
