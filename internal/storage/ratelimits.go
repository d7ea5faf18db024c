package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/findosh/contactdesk/internal/models"
)

// hitQuery counts a request in one statement. A stale window restarts at 1;
// a live window under the limit is incremented; a live window at the limit is
// left untouched and no row is returned.
const hitQuery = `
	INSERT INTO rate_limits (client_id, endpoint, requests, window_start, updated_at)
	VALUES (?, ?, 1, ?, ?)
	ON CONFLICT (client_id, endpoint) DO UPDATE SET
		requests = CASE WHEN rate_limits.window_start <= ? THEN 1 ELSE rate_limits.requests + 1 END,
		window_start = CASE WHEN rate_limits.window_start <= ? THEN ? ELSE rate_limits.window_start END,
		updated_at = ?
	WHERE rate_limits.window_start <= ? OR rate_limits.requests < ?
	RETURNING requests
`

// RateLimitRepository provides fixed-window counter data access
type RateLimitRepository struct {
	db *sqlx.DB
}

// NewRateLimitRepository creates a new rate limit repository
func NewRateLimitRepository(db *DB) *RateLimitRepository {
	return &RateLimitRepository{db: db.DB}
}

// Hit records one request for the pair. It returns whether the request fits
// within limit and the window's count after it was recorded.
func (r *RateLimitRepository) Hit(ctx context.Context, clientID, endpoint string, now time.Time, window time.Duration, limit int) (bool, int, error) {
	now = now.UTC()
	cutoff := now.Add(-window)

	var count int
	err := r.db.QueryRowxContext(ctx, r.db.Rebind(hitQuery),
		clientID, endpoint, now, now,
		cutoff,
		cutoff, now,
		now,
		cutoff, limit,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return false, limit, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("failed to record request: %w", err)
	}
	return true, count, nil
}

// Find returns the counter for the pair
func (r *RateLimitRepository) Find(ctx context.Context, clientID, endpoint string) (*models.RateWindow, error) {
	query := r.db.Rebind(`
		SELECT client_id, endpoint, requests, window_start, updated_at
		FROM rate_limits WHERE client_id = ? AND endpoint = ?
	`)

	var w models.RateWindow
	if err := r.db.GetContext(ctx, &w, query, clientID, endpoint); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get rate limit: %w", err)
	}
	return &w, nil
}

// DeleteOlderThan removes counters whose window started before cutoff
func (r *RateLimitRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM rate_limits WHERE window_start < ?`), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge rate limits: %w", err)
	}
	return res.RowsAffected()
}
