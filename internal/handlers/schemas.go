package handlers

import (
	"time"

	"github.com/google/uuid"

	"github.com/timothysaatum/hepvac-api-sub000/internal/models"
)

type UserResponse struct {
	ID          uuid.UUID  `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	IsActive    bool       `json:"is_active"`
	IsSuspended bool       `json:"is_suspended"`
	Roles       []string   `json:"roles"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toUserResponse(u models.User) UserResponse {
	roles := make([]string, 0, len(u.Roles))
	for _, role := range u.Roles {
		roles = append(roles, role.Name)
	}

	return UserResponse{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		IsActive:    u.IsActive,
		IsSuspended: u.IsSuspended,
		Roles:       roles,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}

type SessionResponse struct {
	ID           uuid.UUID  `json:"id"`
	IPAddress    string     `json:"ip_address"`
	Device       string     `json:"device"`
	LoginMethod  string     `json:"login_method"`
	Suspicious   bool       `json:"suspicious"`
	Current      bool       `json:"current"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
	ExpiresAt    time.Time  `json:"expires_at"`
}

func toSessionResponse(s models.Session, currentID uuid.UUID) SessionResponse {
	return SessionResponse{
		ID:           s.ID,
		IPAddress:    s.IPAddress,
		Device:       s.UserAgent,
		LoginMethod:  s.LoginMethod,
		Suspicious:   s.Suspicious,
		Current:      s.ID == currentID,
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.LastActiveAt,
		ExpiresAt:    s.ExpiresAt,
	}
}

type TokenResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        UserResponse `json:"user"`
}

func toTokenResponse(access models.IssuedToken, u models.User) TokenResponse {
	return TokenResponse{
		AccessToken: access.Value,
		TokenType:   "Bearer",
		ExpiresAt:   access.ExpiresAt,
		User:        toUserResponse(u),
	}
}
