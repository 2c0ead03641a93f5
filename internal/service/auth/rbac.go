package auth

import (
	"context"
	"fmt"

	"github.com/timothysaatum/hepvac-api-sub000/internal/logger"
	"github.com/timothysaatum/hepvac-api-sub000/internal/repository"
)

// Baseline permissions created at startup, keyed by name
var defaultPermissions = map[string]string{
	"user.create": "Create new users",
	"user.read":   "View user information",
	"user.update": "Update user information",
	"user.delete": "Delete users",
	"user.list":   "List all users",

	"role.create": "Create new roles",
	"role.read":   "View role information",
	"role.update": "Update role information",
	"role.delete": "Delete roles",
	"role.assign": "Assign roles to users",

	"session.view_all":  "View all user sessions",
	"session.terminate": "Terminate user sessions",

	"audit.view":   "View audit logs",
	"audit.export": "Export audit logs",
}

var defaultRoles = []struct {
	Name        string
	Description string
	Permissions []string
}{
	{
		Name:        "superadmin",
		Description: "Super Administrator with full system access",
		Permissions: []string{
			"user.create", "user.read", "user.update", "user.delete", "user.list",
			"role.create", "role.read", "role.update", "role.delete", "role.assign",
			"session.view_all", "session.terminate",
			"audit.view", "audit.export",
		},
	},
	{
		Name:        "admin",
		Description: "Administrator with user and role management access",
		Permissions: []string{
			"user.create", "user.read", "user.update", "user.list",
			"role.read", "role.assign",
			"session.view_all", "session.terminate",
			"audit.view",
		},
	},
	{
		Name:        "staff",
		Description: "Staff member with basic access",
		Permissions: []string{
			"user.read", "user.list", "role.read",
		},
	},
}

// EnsureBaselineRoles makes the default roles and permissions exist.
// Safe to run on every startup: existing rows are left untouched.
func EnsureBaselineRoles(ctx context.Context, storage repository.Storage, l logger.Logger) error {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return storage.InTx(ctx, func(storage repository.Storage) error {
		roles := storage.Role()

		for name, description := range defaultPermissions {
			if _, err := roles.CreatePermission(ctx, name, description); err != nil {
				return fmt.Errorf("create permission %q: %w", name, err)
			}
		}

		for _, role := range defaultRoles {
			if _, err := roles.CreateRole(ctx, role.Name, role.Description); err != nil {
				return fmt.Errorf("create role %q: %w", role.Name, err)
			}

			for _, permission := range role.Permissions {
				if err := roles.GrantPermission(ctx, role.Name, permission); err != nil {
					return fmt.Errorf("grant %q to %q: %w", permission, role.Name, err)
				}
			}
		}

		l.Info("Baseline roles ensured", "roles", len(defaultRoles), "permissions", len(defaultPermissions))
		return nil
	})
}
