package models

import (
	"time"

	"github.com/google/uuid"
)

// Session represents the admin's bearer session
type Session struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Identity  string    `db:"email" json:"email"`
	Token     string    `db:"-" json:"-"` // Only populated on creation
	TokenHash string    `db:"token_hash" json:"-"`
	IPAddress string    `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent string    `db:"user_agent" json:"user_agent,omitempty"`
	IssuedAt  time.Time `db:"created_at" json:"issued_at"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
}

// IsExpired checks if the session has expired at now
func (s *Session) IsExpired(now time.Time) bool {
	return now.UTC().After(s.ExpiresAt)
}

// ClientInfo is the request metadata captured for sessions, codes and audit events
type ClientInfo struct {
	IP        string
	UserAgent string
}
