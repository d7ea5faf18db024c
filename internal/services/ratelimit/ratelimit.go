// Package ratelimit implements fixed-window request limiting per client and endpoint
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/filecoin-project/go-clock"
	"go.uber.org/zap"

	"github.com/findosh/contactdesk/internal/logging"
	"github.com/findosh/contactdesk/internal/models"
	"github.com/findosh/contactdesk/internal/storage"
)

// Store is the persistence the limiter needs
type Store interface {
	Hit(ctx context.Context, clientID, endpoint string, now time.Time, window time.Duration, limit int) (bool, int, error)
	Find(ctx context.Context, clientID, endpoint string) (*models.RateWindow, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Options configures the limiter
type Options struct {
	Limit     int
	Window    time.Duration
	Retention time.Duration
}

// Limiter counts requests in fixed windows. Storage failures allow the request.
type Limiter struct {
	store  Store
	clock  clock.Clock
	logger *zap.Logger
	opts   Options
}

// New creates a limiter
func New(store Store, opts Options, clk clock.Clock, logger *zap.Logger) *Limiter {
	if clk == nil {
		clk = clock.New()
	}
	return &Limiter{
		store:  store,
		clock:  clk,
		logger: logging.OrNop(logger).Named("ratelimit"),
		opts:   opts,
	}
}

// IsAllowed counts the request and reports whether it fits in the current window
func (l *Limiter) IsAllowed(ctx context.Context, endpoint, clientID string) bool {
	allowed, _, err := l.store.Hit(ctx, clientID, endpoint, l.clock.Now(), l.opts.Window, l.opts.Limit)
	if err != nil {
		l.logger.Error("rate limit check failed, allowing request",
			zap.String("endpoint", endpoint), zap.Error(err))
		return true
	}
	return allowed
}

// Remaining returns how many requests the client has left in its window
func (l *Limiter) Remaining(ctx context.Context, endpoint, clientID string) int {
	w, err := l.store.Find(ctx, clientID, endpoint)
	if errors.Is(err, storage.ErrNotFound) {
		return l.opts.Limit
	}
	if err != nil {
		l.logger.Warn("rate limit lookup failed", zap.String("endpoint", endpoint), zap.Error(err))
		return l.opts.Limit
	}
	if w.Elapsed(l.clock.Now(), l.opts.Window) {
		return l.opts.Limit
	}
	return max(0, l.opts.Limit-w.Requests)
}

// Limit is the configured number of requests per window
func (l *Limiter) Limit() int {
	return l.opts.Limit
}

// Purge deletes windows older than the retention horizon
func (l *Limiter) Purge(ctx context.Context) (int64, error) {
	n, err := l.store.DeleteOlderThan(ctx, l.clock.Now().Add(-l.opts.Retention))
	if err != nil {
		return 0, fmt.Errorf("purge rate limits: %w", err)
	}
	return n, nil
}
