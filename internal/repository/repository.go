package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/timothysaatum/hepvac-api-sub000/internal/models"
)

type CreateUserParams struct {
	Username     string
	Email        string
	PasswordHash string
}

// User repository interface
type UserRepo interface {
	// Create user
	// If a user with the same username or email exists already has to return apperrors.ErrUserAlreadyExists
	Create(ctx context.Context, arg CreateUserParams) (models.User, error)

	// Get user by id or username with roles and permissions loaded.
	// Soft-deleted users are never returned.
	// If user not found must return apperrors.ErrUserNotFound
	GetByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetByUsername(ctx context.Context, username string) (models.User, error)

	List(ctx context.Context) ([]models.User, error)

	// RecordFailedLogin increments login_attempts and flips is_suspended when the
	// threshold is reached, all in one atomic update. Counting stops once the user
	// is suspended or at the threshold. Returns the resulting counter state.
	RecordFailedLogin(ctx context.Context, userID uuid.UUID) (attempts int, suspended bool, err error)

	// RecordSuccessfulLogin resets login_attempts and stamps last_login_at
	RecordSuccessfulLogin(ctx context.Context, userID uuid.UUID) error

	UpdatePasswordHash(ctx context.Context, userID uuid.UUID, passwordHash string) error

	// Activate lifts a suspension and resets the failure counter.
	// This is the only way a suspension is ever lifted.
	Activate(ctx context.Context, userID uuid.UUID) error
	Deactivate(ctx context.Context, userID uuid.UUID) error

	// AssignRole attaches an existing role to the user
	// If the role not found must return apperrors.ErrRoleNotFound
	AssignRole(ctx context.Context, userID uuid.UUID, roleName string) error
}

// Role and permission reference data. Read-mostly, mutated by the startup
// bootstrap and test fixtures only.
type RoleRepo interface {
	// CreateRole and CreatePermission are upserts on the name,
	// so the bootstrap can run them on every start
	CreateRole(ctx context.Context, name string, description string) (models.Role, error)
	CreatePermission(ctx context.Context, name string, description string) (models.Permission, error)
	GrantPermission(ctx context.Context, roleName string, permissionName string) error
	GetRoleByName(ctx context.Context, name string) (models.Role, error)
}

// Session repository interface
type SessionRepo interface {
	Create(ctx context.Context, session models.Session) (models.Session, error)

	// If session not found must return apperrors.ErrSessionNotFound
	Get(ctx context.Context, sessionID uuid.UUID) (models.Session, error)

	ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]models.Session, error)

	// Touch stamps last_active_at and stores the currently observed IP
	Touch(ctx context.Context, sessionID uuid.UUID, ip string, now time.Time) error

	MarkSuspicious(ctx context.Context, sessionID uuid.UUID) error

	// Terminate is idempotent: repeated calls keep the first termination
	// reason and timestamp. Returns false if the session does not exist.
	Terminate(ctx context.Context, sessionID uuid.UUID, reason string) (bool, error)

	// TerminateOverdue terminates every valid session past its expiry.
	// Returns the number of sessions touched.
	TerminateOverdue(ctx context.Context, now time.Time, reason string) (int64, error)
}

// RefreshToken repository interface
type RefreshTokenRepo interface {
	Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// GetByHash returns the record whatever its state, revoked included.
	// If not found must return apperrors.ErrRefreshTokenNotFound
	GetByHash(ctx context.Context, tokenHash string) (models.RefreshToken, error)

	// MarkUsed atomically increments usage_count and stamps last_used_at.
	// Must return apperrors.ErrRefreshTokenRevoked if the record is revoked.
	MarkUsed(ctx context.Context, tokenID uuid.UUID, now time.Time) (models.RefreshToken, error)

	// UpdateClient stores the latest observed IP and device descriptor
	UpdateClient(ctx context.Context, tokenID uuid.UUID, ip string, deviceInfo string) error

	// Revoke is idempotent
	Revoke(ctx context.Context, tokenID uuid.UUID) error

	// RevokeOverdue revokes every record past its absolute expiry
	RevokeOverdue(ctx context.Context, now time.Time) (int64, error)
}

// Storage aggregates every repository and runs them in one transaction when needed
type Storage interface {
	User() UserRepo
	Role() RoleRepo
	Session() SessionRepo
	Refresh() RefreshTokenRepo

	InTx(ctx context.Context, fn func(Storage) error) error
}
