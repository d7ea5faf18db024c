// Package maintenance runs periodic storage hygiene. Expiry is enforced on
// access everywhere; sweeping only bounds storage growth.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/filecoin-project/go-clock"
	"go.uber.org/zap"

	"github.com/findosh/contactdesk/internal/logging"
)

// Retention horizons
const (
	SecurityEventRetention  = 90 * 24 * time.Hour
	SentEmailLogRetention   = 30 * 24 * time.Hour
	FailedEmailLogRetention = 90 * 24 * time.Hour
)

// ExpiryCleaner deletes records past their expiry
type ExpiryCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// WindowPurger deletes stale rate windows
type WindowPurger interface {
	Purge(ctx context.Context) (int64, error)
}

// EventStore deletes old security events
type EventStore interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// EmailLogStore deletes old delivery log entries
type EmailLogStore interface {
	DeleteOlderThan(ctx context.Context, sentCutoff, failedCutoff time.Time) (int64, error)
}

// Deps are the stores and services the sweeper cleans
type Deps struct {
	OTPs       ExpiryCleaner
	Sessions   ExpiryCleaner
	RateLimits WindowPurger
	Events     EventStore
	EmailLogs  EmailLogStore
}

// Report counts the rows removed by one sweep
type Report struct {
	ExpiredOTPs     int64 `json:"expired_otps"`
	ExpiredSessions int64 `json:"expired_sessions"`
	RateWindows     int64 `json:"rate_windows"`
	SecurityEvents  int64 `json:"security_events"`
	EmailLogs       int64 `json:"email_logs"`
}

// Total is the number of rows removed
func (r Report) Total() int64 {
	return r.ExpiredOTPs + r.ExpiredSessions + r.RateWindows + r.SecurityEvents + r.EmailLogs
}

// Sweeper deletes expired and stale rows
type Sweeper struct {
	deps   Deps
	clock  clock.Clock
	logger *zap.Logger
}

// NewSweeper creates a sweeper
func NewSweeper(deps Deps, clk clock.Clock, logger *zap.Logger) *Sweeper {
	if clk == nil {
		clk = clock.New()
	}
	return &Sweeper{deps: deps, clock: clk, logger: logging.OrNop(logger).Named("maintenance")}
}

// RunOnce sweeps every category. A failing category does not stop the
// others; their errors are joined.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	var report Report
	var errs []error
	now := s.clock.Now()

	step := func(name string, dst *int64, fn func() (int64, error)) {
		n, err := fn()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = n
	}

	if s.deps.OTPs != nil {
		step("otps", &report.ExpiredOTPs, func() (int64, error) { return s.deps.OTPs.CleanupExpired(ctx) })
	}
	if s.deps.Sessions != nil {
		step("sessions", &report.ExpiredSessions, func() (int64, error) { return s.deps.Sessions.CleanupExpired(ctx) })
	}
	if s.deps.RateLimits != nil {
		step("rate limits", &report.RateWindows, func() (int64, error) { return s.deps.RateLimits.Purge(ctx) })
	}
	if s.deps.Events != nil {
		step("security events", &report.SecurityEvents, func() (int64, error) {
			return s.deps.Events.DeleteOlderThan(ctx, now.Add(-SecurityEventRetention))
		})
	}
	if s.deps.EmailLogs != nil {
		step("email logs", &report.EmailLogs, func() (int64, error) {
			return s.deps.EmailLogs.DeleteOlderThan(ctx, now.Add(-SentEmailLogRetention), now.Add(-FailedEmailLogRetention))
		})
	}

	return report, errors.Join(errs...)
}

// Run sweeps every interval until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	s.logger.Info("maintenance loop started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("maintenance loop stopped")
			return nil
		case <-ticker.C:
			report, err := s.RunOnce(ctx)
			if err != nil {
				s.logger.Error("maintenance sweep failed", zap.Error(err))
			}
			s.logger.Info("maintenance sweep finished",
				zap.Int64("expired_otps", report.ExpiredOTPs),
				zap.Int64("expired_sessions", report.ExpiredSessions),
				zap.Int64("rate_windows", report.RateWindows),
				zap.Int64("security_events", report.SecurityEvents),
				zap.Int64("email_logs", report.EmailLogs),
			)
		}
	}
}
