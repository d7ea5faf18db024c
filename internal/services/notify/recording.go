package notify

import (
	"context"
	"time"

	"github.com/filecoin-project/go-clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/findosh/contactdesk/internal/logging"
	"github.com/findosh/contactdesk/internal/models"
)

// LogStore persists delivery attempts
type LogStore interface {
	Insert(ctx context.Context, l *models.EmailLog) error
}

// Recording stores every delivery attempt of the wrapped notifier
type Recording struct {
	next   Notifier
	store  LogStore
	clock  clock.Clock
	logger *zap.Logger
}

// NewRecording wraps next
func NewRecording(next Notifier, store LogStore, clk clock.Clock, logger *zap.Logger) *Recording {
	if clk == nil {
		clk = clock.New()
	}
	return &Recording{next: next, store: store, clock: clk, logger: logging.OrNop(logger).Named("notify")}
}

func (r *Recording) SendCode(ctx context.Context, identity, code string, ttl time.Duration) error {
	sendErr := r.next.SendCode(ctx, identity, code, ttl)

	entry := &models.EmailLog{
		ID:        uuid.New(),
		EmailType: EmailTypeOTP,
		Recipient: identity,
		Subject:   OTPSubject,
		Status:    models.EmailStatusSent,
		CreatedAt: r.clock.Now().UTC(),
	}
	if sendErr != nil {
		entry.Status = models.EmailStatusFailed
		entry.ErrorMessage = sendErr.Error()
	}
	if err := r.store.Insert(ctx, entry); err != nil {
		r.logger.Error("failed to record email attempt", zap.Error(err))
	}

	return sendErr
}
