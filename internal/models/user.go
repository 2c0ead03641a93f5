package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/timothysaatum/hepvac-api-sub000/internal/apperrors"
)

type Permission struct {
	ID          uuid.UUID
	Name        string
	Description string
}

type Role struct {
	ID          uuid.UUID
	Name        string
	Description string
	Permissions []Permission
}

type User struct {
	ID               uuid.UUID
	Username         string
	Email            string
	HashedPassword   string
	IsActive         bool
	IsSuspended      bool
	IsDeleted        bool
	DeletedAt        *time.Time
	LoginAttempts    int
	MaxLoginAttempts int
	LastLoginAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Roles            []Role
}

// CanLogin reports whether the account is allowed to authenticate at all.
// A suspended, inactive or role-less user can never login.
func (u User) CanLogin() error {
	switch {
	case !u.IsActive:
		return apperrors.ErrAccountInactive
	case u.IsSuspended:
		return apperrors.ErrAccountSuspended
	case len(u.Roles) == 0:
		return apperrors.ErrNoAssignedRole
	}
	return nil
}

func (u User) HasRole(name string) bool {
	for _, role := range u.Roles {
		if role.Name == name {
			return true
		}
	}
	return false
}

func (u User) HasAnyRole(names ...string) bool {
	for _, name := range names {
		if u.HasRole(name) {
			return true
		}
	}
	return false
}

// PermissionSet is the union of permissions over all assigned roles.
// Computed once per request and checked with plain set membership.
func (u User) PermissionSet() map[string]struct{} {
	set := make(map[string]struct{})
	for _, role := range u.Roles {
		for _, perm := range role.Permissions {
			set[perm.Name] = struct{}{}
		}
	}
	return set
}

func (u User) HasAnyPermission(names ...string) bool {
	set := u.PermissionSet()
	for _, name := range names {
		if _, ok := set[name]; ok {
			return true
		}
	}
	return false
}
