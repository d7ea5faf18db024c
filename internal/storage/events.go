package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/findosh/contactdesk/internal/models"
)

// SecurityEventRepository persists the audit trail
type SecurityEventRepository struct {
	db *sqlx.DB
}

// NewSecurityEventRepository creates a new security event repository
func NewSecurityEventRepository(db *DB) *SecurityEventRepository {
	return &SecurityEventRepository{db: db.DB}
}

// Insert stores one event
func (r *SecurityEventRepository) Insert(ctx context.Context, e *models.SecurityEvent) error {
	query := r.db.Rebind(`
		INSERT INTO security_events (id, event_type, severity, email, ip_address, user_agent, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query,
		e.ID.String(),
		e.EventType,
		e.Severity,
		e.Identity,
		e.IPAddress,
		e.UserAgent,
		e.Details,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert security event: %w", err)
	}
	return nil
}

// ListRecent returns the newest events, optionally filtered by type
func (r *SecurityEventRepository) ListRecent(ctx context.Context, eventType string, limit int) ([]models.SecurityEvent, error) {
	query := `
		SELECT id, event_type, severity, email, ip_address, user_agent, details, created_at
		FROM security_events`
	args := []any{}
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	var events []models.SecurityEvent
	if err := r.db.SelectContext(ctx, &events, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}
	return events, nil
}

// DeleteOlderThan removes events created before cutoff
func (r *SecurityEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM security_events WHERE created_at < ?`), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge security events: %w", err)
	}
	return res.RowsAffected()
}

// EmailLogRepository persists outbound mail attempts
type EmailLogRepository struct {
	db *sqlx.DB
}

// NewEmailLogRepository creates a new email log repository
func NewEmailLogRepository(db *DB) *EmailLogRepository {
	return &EmailLogRepository{db: db.DB}
}

// Insert stores one delivery attempt
func (r *EmailLogRepository) Insert(ctx context.Context, l *models.EmailLog) error {
	query := r.db.Rebind(`
		INSERT INTO email_logs (id, email_type, recipient_email, subject, status, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query,
		l.ID.String(),
		l.EmailType,
		l.Recipient,
		l.Subject,
		l.Status,
		l.ErrorMessage,
		l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert email log: %w", err)
	}
	return nil
}

// DeleteOlderThan removes sent entries older than sentCutoff and failed
// entries older than failedCutoff
func (r *EmailLogRepository) DeleteOlderThan(ctx context.Context, sentCutoff, failedCutoff time.Time) (int64, error) {
	query := r.db.Rebind(`
		DELETE FROM email_logs
		WHERE (status = ? AND created_at < ?) OR (status = ? AND created_at < ?)
	`)
	res, err := r.db.ExecContext(ctx, query,
		models.EmailStatusSent, sentCutoff.UTC(),
		models.EmailStatusFailed, failedCutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge email logs: %w", err)
	}
	return res.RowsAffected()
}
