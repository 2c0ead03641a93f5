package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/timothysaatum/hepvac-api-sub000/internal/apperrors"
	"github.com/timothysaatum/hepvac-api-sub000/internal/models"
	"github.com/timothysaatum/hepvac-api-sub000/internal/repository"
)

type UserRepo struct {
	db DBTX
}

const userColumns = `id, username, email, password_hash,
	is_active, is_suspended, is_deleted, deleted_at,
	login_attempts, max_login_attempts, last_login_at,
	created_at, updated_at`

const createUser = `-- name: CreateUser
INSERT INTO users (id, username, email, password_hash)
VALUES ($1, $2, $3, $4)
RETURNING ` + userColumns

func (r *UserRepo) Create(ctx context.Context, arg repository.CreateUserParams) (models.User, error) {
	rows, _ := r.db.Query(ctx, createUser, uuid.New(), arg.Username, arg.Email, arg.PasswordHash)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return user, apperrors.ErrUserAlreadyExists
		}

		return user, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

const getUserByID = `-- name: GetUserByID
SELECT ` + userColumns + `
FROM users
WHERE id = $1 AND NOT is_deleted
`

func (r *UserRepo) GetByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	rows, _ := r.db.Query(ctx, getUserByID, userID)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return r.withRoles(ctx, user)
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrUserNotFound
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

const getUserByUsername = `-- name: GetUserByUsername
SELECT ` + userColumns + `
FROM users
WHERE username = $1 AND NOT is_deleted
`

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (models.User, error) {
	rows, _ := r.db.Query(ctx, getUserByUsername, username)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return r.withRoles(ctx, user)
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrUserNotFound
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

const listUsers = `-- name: ListUsers
SELECT ` + userColumns + `
FROM users
WHERE NOT is_deleted
ORDER BY created_at
`

func (r *UserRepo) List(ctx context.Context) ([]models.User, error) {
	rows, _ := r.db.Query(ctx, listUsers)
	users, err := pgx.CollectRows(rows, rowToUser)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	for i := range users {
		users[i], err = r.withRoles(ctx, users[i])
		if err != nil {
			return nil, err
		}
	}

	return users, nil
}

const recordFailedLogin = `-- name: RecordFailedLogin
UPDATE users
SET login_attempts = login_attempts + 1,
    is_suspended = (login_attempts + 1 >= max_login_attempts),
    updated_at = now()
WHERE id = $1
  AND NOT is_suspended
  AND login_attempts < max_login_attempts
RETURNING login_attempts, is_suspended
`

const getLoginCounters = `-- name: GetLoginCounters
SELECT login_attempts, is_suspended FROM users
WHERE id = $1 AND NOT is_deleted
`

type loginCounters struct {
	Attempts  int
	Suspended bool
}

// RecordFailedLogin counts one failed attempt in a single statement: the
// increment and the suspension flip commit together, so two racing failures
// can not both observe the pre-threshold counter. Once suspended (or at the
// threshold) the row no longer matches and the counter stays put.
func (r *UserRepo) RecordFailedLogin(ctx context.Context, userID uuid.UUID) (int, bool, error) {
	rows, _ := r.db.Query(ctx, recordFailedLogin, userID)
	c, err := pgx.CollectOneRow(rows, rowToLoginCounters)

	switch {
	case err == nil:
		return c.Attempts, c.Suspended, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Already suspended or at the cap, report the current state
	default:
		return 0, false, fmt.Errorf("db error: %w", err)
	}

	rows, _ = r.db.Query(ctx, getLoginCounters, userID)
	c, err = pgx.CollectOneRow(rows, rowToLoginCounters)

	switch {
	case err == nil:
		return c.Attempts, c.Suspended, nil
	case errors.Is(err, pgx.ErrNoRows):
		return 0, false, apperrors.ErrUserNotFound
	default:
		return 0, false, fmt.Errorf("db error: %w", err)
	}
}

const recordSuccessfulLogin = `-- name: RecordSuccessfulLogin
UPDATE users
SET login_attempts = 0, last_login_at = now(), updated_at = now()
WHERE id = $1 AND NOT is_deleted
`

func (r *UserRepo) RecordSuccessfulLogin(ctx context.Context, userID uuid.UUID) error {
	return r.execOnUser(ctx, recordSuccessfulLogin, userID)
}

const updatePasswordHash = `-- name: UpdatePasswordHash
UPDATE users
SET password_hash = $2, updated_at = now()
WHERE id = $1 AND NOT is_deleted
`

func (r *UserRepo) UpdatePasswordHash(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	return r.execOnUser(ctx, updatePasswordHash, userID, passwordHash)
}

const activateUser = `-- name: ActivateUser
UPDATE users
SET is_active = TRUE, is_suspended = FALSE, login_attempts = 0, updated_at = now()
WHERE id = $1 AND NOT is_deleted
`

func (r *UserRepo) Activate(ctx context.Context, userID uuid.UUID) error {
	return r.execOnUser(ctx, activateUser, userID)
}

const deactivateUser = `-- name: DeactivateUser
UPDATE users
SET is_active = FALSE, updated_at = now()
WHERE id = $1 AND NOT is_deleted
`

func (r *UserRepo) Deactivate(ctx context.Context, userID uuid.UUID) error {
	return r.execOnUser(ctx, deactivateUser, userID)
}

const assignRole = `-- name: AssignRole
INSERT INTO user_roles (user_id, role_id)
VALUES ($1, $2)
ON CONFLICT DO NOTHING
`

func (r *UserRepo) AssignRole(ctx context.Context, userID uuid.UUID, roleName string) error {
	role, err := (&RoleRepo{db: r.db}).GetRoleByName(ctx, roleName)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, assignRole, userID, role.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return apperrors.ErrUserNotFound
		}

		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

const getUserRoles = `-- name: GetUserRoles
SELECT r.id, r.name, r.description
FROM roles r
JOIN user_roles ur ON ur.role_id = r.id
WHERE ur.user_id = $1
ORDER BY r.name
`

const getUserPermissions = `-- name: GetUserPermissions
SELECT rp.role_id, p.id, p.name, p.description
FROM permissions p
JOIN role_permissions rp ON rp.permission_id = p.id
JOIN user_roles ur ON ur.role_id = rp.role_id
WHERE ur.user_id = $1
ORDER BY p.name
`

// withRoles attaches the user's roles with their permissions
func (r *UserRepo) withRoles(ctx context.Context, user models.User) (models.User, error) {
	rows, _ := r.db.Query(ctx, getUserRoles, user.ID)
	roles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Role, error) {
		var role models.Role
		err := row.Scan(&role.ID, &role.Name, &role.Description)
		return role, err
	})
	if err != nil {
		return user, fmt.Errorf("db error: %w", err)
	}

	byRole := make(map[uuid.UUID][]models.Permission)
	rows, _ = r.db.Query(ctx, getUserPermissions, user.ID)
	_, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (struct{}, error) {
		var roleID uuid.UUID
		var perm models.Permission
		err := row.Scan(&roleID, &perm.ID, &perm.Name, &perm.Description)
		byRole[roleID] = append(byRole[roleID], perm)
		return struct{}{}, err
	})
	if err != nil {
		return user, fmt.Errorf("db error: %w", err)
	}

	for i := range roles {
		roles[i].Permissions = byRole[roles[i].ID]
	}
	user.Roles = roles

	return user, nil
}

func (r *UserRepo) execOnUser(ctx context.Context, sql string, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrUserNotFound
	}
	return nil
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.HashedPassword,
		&u.IsActive, &u.IsSuspended, &u.IsDeleted, &u.DeletedAt,
		&u.LoginAttempts, &u.MaxLoginAttempts, &u.LastLoginAt,
		&u.CreatedAt, &u.UpdatedAt,
	)
	return u, err
}

func rowToLoginCounters(row pgx.CollectableRow) (loginCounters, error) {
	var c loginCounters
	err := row.Scan(&c.Attempts, &c.Suspended)
	return c, err
}
