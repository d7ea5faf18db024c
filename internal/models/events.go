package models

import (
	"time"

	"github.com/google/uuid"
)

// SecurityEvent is a persisted audit trail entry
type SecurityEvent struct {
	ID        uuid.UUID `db:"id" json:"id"`
	EventType string    `db:"event_type" json:"event_type"`
	Severity  string    `db:"severity" json:"severity"`
	Identity  string    `db:"email" json:"email,omitempty"`
	IPAddress string    `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent string    `db:"user_agent" json:"user_agent,omitempty"`
	Details   string    `db:"details" json:"details,omitempty"` // JSON encoded
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Email delivery statuses
const (
	EmailStatusSent   = "sent"
	EmailStatusFailed = "failed"
)

// EmailLog records one outbound mail attempt
type EmailLog struct {
	ID           uuid.UUID `db:"id" json:"id"`
	EmailType    string    `db:"email_type" json:"email_type"`
	Recipient    string    `db:"recipient_email" json:"recipient_email"`
	Subject      string    `db:"subject" json:"subject"`
	Status       string    `db:"status" json:"status"`
	ErrorMessage string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
