package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is the persisted record of a long-lived refresh credential.
// Only the salted hash of the token value is stored, never the value itself.
//
// ExpiresAt is the rolling inactivity expiry. AbsoluteExpiry is fixed at
// issuance and is never extended by use: no amount of refreshing moves it.
type RefreshToken struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	TokenHash      string
	DeviceInfo     string
	IPAddress      string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	AbsoluteExpiry time.Time
	IsRevoked      bool
	UsageCount     int
	LastUsedAt     *time.Time
}

// Usable reports whether the record may still be exchanged for access tokens.
func (t RefreshToken) Usable(now time.Time) bool {
	return !t.IsRevoked && now.Before(t.AbsoluteExpiry)
}
