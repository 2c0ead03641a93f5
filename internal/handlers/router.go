package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/timothysaatum/hepvac-api-sub000/internal/handlers/middleware"
	"github.com/timothysaatum/hepvac-api-sub000/internal/logger"
	"github.com/timothysaatum/hepvac-api-sub000/internal/models"
	"github.com/timothysaatum/hepvac-api-sub000/internal/service/auth"
	"github.com/timothysaatum/hepvac-api-sub000/internal/service/device"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	authService authService,
	userService userService,
	sessionService sessionService,
	l logger.Logger,
) http.Handler {
	authHandler := NewAuth(authService, l)
	userHandler := NewUser(userService, l)
	sessionHandler := NewSession(sessionService, l)

	// Authenticated routes re-validate the session against the store, so
	// terminating a session takes effect before the access token expires
	withAuth := func(h http.Handler, req middleware.Requirement) http.Handler {
		req.ValidateSession = true
		return middleware.AuthMiddleware(authService, l, req)(h)
	}
	// The profile endpoint trusts the token alone and skips the store roundtrip
	tokenOnly := func(h http.Handler) http.Handler {
		return middleware.AuthMiddleware(authService, l, middleware.Requirement{})(h)
	}
	anyUser := middleware.Requirement{}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/register", authHandler.register)
	mux.HandleFunc("POST /api/auth/login", authHandler.login)
	mux.HandleFunc("POST /api/auth/refresh", authHandler.refresh)
	mux.Handle("POST /api/auth/logout", withAuth(http.HandlerFunc(authHandler.logout), anyUser))

	mux.Handle("GET /api/users/me", tokenOnly(http.HandlerFunc(userHandler.me)))
	mux.Handle("GET /api/users", withAuth(http.HandlerFunc(userHandler.list),
		middleware.Requirement{Permissions: []string{"user.list"}}))
	mux.Handle("POST /api/users/{id}/activate", withAuth(http.HandlerFunc(userHandler.activate),
		middleware.Requirement{Permissions: []string{"user.update"}}))
	mux.Handle("POST /api/users/{id}/deactivate", withAuth(http.HandlerFunc(userHandler.deactivate),
		middleware.Requirement{Permissions: []string{"user.update"}}))
	mux.Handle("GET /api/users/{id}/sessions", withAuth(http.HandlerFunc(sessionHandler.listForUser),
		middleware.Requirement{Permissions: []string{"session.view_all"}}))

	mux.Handle("GET /api/sessions", withAuth(http.HandlerFunc(sessionHandler.list), anyUser))
	mux.Handle("DELETE /api/sessions", withAuth(http.HandlerFunc(sessionHandler.terminateOthers), anyUser))
	mux.Handle("DELETE /api/sessions/{id}", withAuth(http.HandlerFunc(sessionHandler.terminate), anyUser))

	return chain(mux,
		middleware.LoggerMiddleware(l),
	)
}

type authService interface {
	// Register user with username, email and password
	// Has to return apperrors.ErrUserAlreadyExists if user already exists
	Register(ctx context.Context, username string, email string, password string) (models.User, error)

	// Login runs the full pipeline: credentials, attempt accounting,
	// device trust, session and tokens
	Login(ctx context.Context, username string, password string, info device.Info) (auth.LoginResult, error)

	// Refresh exchanges the refresh token for a new access token and session.
	// The refresh token itself is reused, not rotated.
	Refresh(ctx context.Context, refresh string, info device.Info) (auth.LoginResult, error)

	// Logout closes the session and revokes the refresh token, both idempotent
	Logout(ctx context.Context, sessionID uuid.UUID, refresh string) error

	// ResolveAccess authenticates a bearer access token
	ResolveAccess(ctx context.Context, access string, validateSession bool, currentIP string) (models.User, models.Session, error)
}

type userService interface {
	List(ctx context.Context) ([]models.User, error)

	// Activate lifts a suspension as well, it is the only way out of one
	Activate(ctx context.Context, userID uuid.UUID) error
	Deactivate(ctx context.Context, userID uuid.UUID) error
}

type sessionService interface {
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Session, error)
	Terminate(ctx context.Context, sessionID uuid.UUID, reason string) error
	TerminateAllForUser(ctx context.Context, userID uuid.UUID, keep uuid.UUID, reason string) (int, error)
}
