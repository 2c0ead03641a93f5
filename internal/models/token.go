package models

import (
	"time"
)

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// TokenPair issued on login or refresh
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}
