package middleware

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/timothysaatum/hepvac-api-sub000/internal/apperrors"
	"github.com/timothysaatum/hepvac-api-sub000/internal/handlers/render"
	"github.com/timothysaatum/hepvac-api-sub000/internal/handlers/userctx"
	"github.com/timothysaatum/hepvac-api-sub000/internal/models"
	"github.com/timothysaatum/hepvac-api-sub000/internal/service/device"
)

type accessResolver interface {
	// ResolveAccess verifies the access token and returns the user it belongs to.
	// When validateSession is true the embedded session must still be valid.
	ResolveAccess(ctx context.Context, access string, validateSession bool, currentIP string) (models.User, models.Session, error)
}

// Requirement describes what a route demands from the caller.
// Roles and Permissions are both any-of lists; either one matching is enough.
// Empty lists mean any authenticated user passes.
type Requirement struct {
	Roles           []string
	Permissions     []string
	ValidateSession bool
}

// AuthMiddleware authenticates the request with the bearer access token and
// enforces the route requirement. Authentication failures answer 401,
// an authenticated user lacking the required role or permission gets 403.
func AuthMiddleware(resolver accessResolver, l logger, req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access, ok := bearerToken(r)
			if !ok {
				render.ServiceError(w, "Authorization required", http.StatusUnauthorized)
				return
			}

			ip := device.ClientIP(r)

			user, session, err := resolver.ResolveAccess(r.Context(), access, req.ValidateSession, ip)
			if err != nil {
				l.Warn("access denied",
					"uri", r.RequestURI,
					"ip", ip,
					"user_agent", r.UserAgent(),
					"error", err,
				)
				render.ServiceError(w, deniedMessage(err), http.StatusUnauthorized)
				return
			}

			if !satisfies(user, req) {
				l.Warn("access forbidden",
					"uri", r.RequestURI,
					"user_id", user.ID,
					"ip", ip,
					"user_agent", r.UserAgent(),
					"required_roles", req.Roles,
					"required_permissions", req.Permissions,
					"held_roles", roleNames(user),
					"held_permissions", permissionNames(user),
				)
				render.ServiceError(w, "Insufficient permissions", http.StatusForbidden)
				return
			}

			ctx := userctx.New(r.Context(), user)
			ctx = userctx.WithSession(ctx, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// deniedMessage keeps credential failures generic but names account-state
// rejections, so a suspended or deactivated user knows to call an administrator
func deniedMessage(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrAccountSuspended):
		return "Account suspended"
	case errors.Is(err, apperrors.ErrAccountInactive):
		return "Account inactive"
	}
	return "Invalid or expired credentials"
}

func roleNames(user models.User) []string {
	names := make([]string, 0, len(user.Roles))
	for _, role := range user.Roles {
		names = append(names, role.Name)
	}
	return names
}

func permissionNames(user models.User) []string {
	set := user.PermissionSet()
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func satisfies(user models.User, req Requirement) bool {
	if len(req.Roles) == 0 && len(req.Permissions) == 0 {
		return true
	}
	return user.HasAnyRole(req.Roles...) || user.HasAnyPermission(req.Permissions...)
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")

	token, found := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	if !found || token == "" {
		return "", false
	}
	return token, true
}
