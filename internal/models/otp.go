// Package models defines core domain types
package models

import (
	"time"

	"github.com/google/uuid"
)

// OTPCodeLength is the number of decimal digits in a one-time passcode
const OTPCodeLength = 6

// OTPRecord is a one-time passcode issued to the admin identity
type OTPRecord struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Identity  string    `db:"email" json:"email"`
	Code      string    `db:"otp_code" json:"-"` // Never serialize
	IPAddress string    `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent string    `db:"user_agent" json:"user_agent,omitempty"`
	Attempts  int       `db:"attempts" json:"attempts"`
	Used      bool      `db:"used" json:"used"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
}

// NewOTPRecord creates an unused record valid for ttl from now
func NewOTPRecord(identity, code string, client ClientInfo, now time.Time, ttl time.Duration) *OTPRecord {
	now = now.UTC()
	return &OTPRecord{
		ID:        uuid.New(),
		Identity:  identity,
		Code:      code,
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// IsExpired reports whether the code is past its expiry at now
func (r *OTPRecord) IsExpired(now time.Time) bool {
	return now.UTC().After(r.ExpiresAt)
}

// IsLocked reports whether the record has used up its verification attempts
func (r *OTPRecord) IsLocked(maxAttempts int) bool {
	return r.Attempts >= maxAttempts
}
