package models

import (
	"time"

	"github.com/google/uuid"
)

// Session represents one authenticated device or browser instance.
// Sessions are never hard-deleted, the history is kept for audit.
type Session struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	Token             string
	DeviceFingerprint string
	UserAgent         string
	UserAgentHash     string
	IPAddress         string
	LoginMethod       string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	LastActiveAt      *time.Time
	Active            bool
	Expired           bool
	Suspicious        bool
	Terminated        bool
	TerminatedAt      *time.Time
	TerminationReason *string
}

// IsValid reports whether the session may still be used:
// active, not expired and never terminated.
func (s Session) IsValid() bool {
	return s.Active && !s.Expired && s.TerminatedAt == nil
}
