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

// SessionRepository provides admin session data access
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db.DB}
}

// Replace removes the identity's sessions and inserts s in one transaction
func (r *SessionRepository) Replace(ctx context.Context, s *models.Session) error {
	return WithTx(ctx, r.db, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM admin_sessions WHERE email = ?`), s.Identity); err != nil {
			return fmt.Errorf("failed to delete previous sessions: %w", err)
		}

		query := tx.Rebind(`
			INSERT INTO admin_sessions (id, email, token_hash, ip_address, user_agent, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		_, err := tx.ExecContext(ctx, query,
			s.ID.String(),
			s.Identity,
			s.TokenHash,
			s.IPAddress,
			s.UserAgent,
			s.IssuedAt,
			s.ExpiresAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		return nil
	})
}

// FindByTokenHash retrieves a session by the hash of its token
func (r *SessionRepository) FindByTokenHash(ctx context.Context, hash string) (*models.Session, error) {
	query := r.db.Rebind(`
		SELECT id, email, token_hash, ip_address, user_agent, created_at, expires_at
		FROM admin_sessions WHERE token_hash = ?
	`)

	var s models.Session
	if err := r.db.GetContext(ctx, &s, query, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &s, nil
}

// DeleteByTokenHash removes a session and reports whether one existed
func (r *SessionRepository) DeleteByTokenHash(ctx context.Context, hash string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM admin_sessions WHERE token_hash = ?`), hash)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteExpired removes all expired sessions
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM admin_sessions WHERE expires_at < ?`), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}
