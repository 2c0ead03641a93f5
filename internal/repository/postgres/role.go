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
)

type RoleRepo struct {
	db DBTX
}

const createRole = `-- name: CreateRole
INSERT INTO roles (id, name, description)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
RETURNING id, name, description
`

func (r *RoleRepo) CreateRole(ctx context.Context, name string, description string) (models.Role, error) {
	rows, _ := r.db.Query(ctx, createRole, uuid.New(), name, description)
	role, err := pgx.CollectOneRow(rows, rowToRole)
	if err != nil {
		return role, fmt.Errorf("db error: %w", err)
	}
	return role, nil
}

const createPermission = `-- name: CreatePermission
INSERT INTO permissions (id, name, description)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
RETURNING id, name, description
`

func (r *RoleRepo) CreatePermission(ctx context.Context, name string, description string) (models.Permission, error) {
	rows, _ := r.db.Query(ctx, createPermission, uuid.New(), name, description)
	perm, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (models.Permission, error) {
		var p models.Permission
		err := row.Scan(&p.ID, &p.Name, &p.Description)
		return p, err
	})
	if err != nil {
		return perm, fmt.Errorf("db error: %w", err)
	}
	return perm, nil
}

const grantPermission = `-- name: GrantPermission
INSERT INTO role_permissions (role_id, permission_id)
SELECT r.id, p.id
FROM roles r, permissions p
WHERE r.name = $1 AND p.name = $2
ON CONFLICT DO NOTHING
`

func (r *RoleRepo) GrantPermission(ctx context.Context, roleName string, permissionName string) error {
	tag, err := r.db.Exec(ctx, grantPermission, roleName, permissionName)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return apperrors.ErrRoleNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the pair is granted already or one of the names is unknown.
		// Look the names up to tell the cases apart.
		if _, err := r.GetRoleByName(ctx, roleName); err != nil {
			return err
		}
		if err := r.getPermissionByName(ctx, permissionName); err != nil {
			return err
		}
	}
	return nil
}

const getRoleByName = `-- name: GetRoleByName
SELECT id, name, description FROM roles
WHERE name = $1
`

func (r *RoleRepo) GetRoleByName(ctx context.Context, name string) (models.Role, error) {
	rows, _ := r.db.Query(ctx, getRoleByName, name)
	role, err := pgx.CollectOneRow(rows, rowToRole)

	switch {
	case err == nil:
		return role, nil
	case errors.Is(err, pgx.ErrNoRows):
		return role, apperrors.ErrRoleNotFound
	default:
		return role, fmt.Errorf("db error: %w", err)
	}
}

const getPermissionByName = `-- name: GetPermissionByName
SELECT id FROM permissions
WHERE name = $1
`

func (r *RoleRepo) getPermissionByName(ctx context.Context, name string) error {
	rows, _ := r.db.Query(ctx, getPermissionByName, name)
	_, err := pgx.CollectOneRow(rows, pgx.RowTo[uuid.UUID])

	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return apperrors.ErrPermissionNotFound
	default:
		return fmt.Errorf("db error: %w", err)
	}
}

func rowToRole(row pgx.CollectableRow) (models.Role, error) {
	var role models.Role
	err := row.Scan(&role.ID, &role.Name, &role.Description)
	return role, err
}
