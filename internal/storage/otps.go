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

const otpColumns = `id, email, otp_code, ip_address, user_agent, attempts, used, created_at, expires_at`

// OTPRepository provides one-time passcode data access
type OTPRepository struct {
	db *sqlx.DB
}

// NewOTPRepository creates a new OTP repository
func NewOTPRepository(db *DB) *OTPRepository {
	return &OTPRepository{db: db.DB}
}

// Replace deletes every record for the identity and inserts rec in one transaction
func (r *OTPRepository) Replace(ctx context.Context, rec *models.OTPRecord) error {
	return WithTx(ctx, r.db, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM otp_tokens WHERE email = ?`), rec.Identity); err != nil {
			return fmt.Errorf("failed to delete previous otp: %w", err)
		}

		query := tx.Rebind(`
			INSERT INTO otp_tokens (` + otpColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		_, err := tx.ExecContext(ctx, query,
			rec.ID.String(),
			rec.Identity,
			rec.Code,
			rec.IPAddress,
			rec.UserAgent,
			rec.Attempts,
			rec.Used,
			rec.CreatedAt,
			rec.ExpiresAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create otp: %w", err)
		}
		return nil
	})
}

// FindActive returns the newest unused record for the identity
func (r *OTPRepository) FindActive(ctx context.Context, identity string) (*models.OTPRecord, error) {
	query := r.db.Rebind(`
		SELECT ` + otpColumns + `
		FROM otp_tokens
		WHERE email = ? AND used = FALSE
		ORDER BY created_at DESC
		LIMIT 1
	`)

	var rec models.OTPRecord
	if err := r.db.GetContext(ctx, &rec, query, identity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get otp: %w", err)
	}
	return &rec, nil
}

// IncrementAttempts bumps the attempt counter of the identity's unused records
func (r *OTPRepository) IncrementAttempts(ctx context.Context, identity string) (int64, error) {
	query := r.db.Rebind(`UPDATE otp_tokens SET attempts = attempts + 1 WHERE email = ? AND used = FALSE`)
	res, err := r.db.ExecContext(ctx, query, identity)
	if err != nil {
		return 0, fmt.Errorf("failed to increment otp attempts: %w", err)
	}
	return res.RowsAffected()
}

// Consume marks the matching record used if it is still unused, unexpired and
// under the attempt limit. It reports whether exactly one record changed.
func (r *OTPRepository) Consume(ctx context.Context, identity, code string, now time.Time, maxAttempts int) (bool, error) {
	var consumed bool
	err := WithTx(ctx, r.db, func(ctx context.Context, tx DBTX) error {
		query := tx.Rebind(`
			UPDATE otp_tokens SET used = TRUE
			WHERE email = ? AND otp_code = ? AND used = FALSE AND expires_at >= ? AND attempts < ?
		`)
		res, err := tx.ExecContext(ctx, query, identity, code, now.UTC(), maxAttempts)
		if err != nil {
			return fmt.Errorf("failed to consume otp: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 1 {
			return fmt.Errorf("consume matched %d otp records", n)
		}
		consumed = n == 1
		return nil
	})
	return consumed, err
}

// DeleteExpired removes records past their expiry
func (r *OTPRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM otp_tokens WHERE expires_at < ?`), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired otps: %w", err)
	}
	return res.RowsAffected()
}
