package e2e

import (
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stretchr/testify/require"

	"github.com/timothysaatum/hepvac-api-sub000/internal/handlers"
	"github.com/timothysaatum/hepvac-api-sub000/internal/logger"
	"github.com/timothysaatum/hepvac-api-sub000/internal/repository"
	"github.com/timothysaatum/hepvac-api-sub000/internal/repository/postgres"
	"github.com/timothysaatum/hepvac-api-sub000/internal/service/auth"
	"github.com/timothysaatum/hepvac-api-sub000/internal/service/auth/tokenmanager"
	"github.com/timothysaatum/hepvac-api-sub000/internal/service/devicetrust"
	"github.com/timothysaatum/hepvac-api-sub000/internal/service/session"
	"github.com/timothysaatum/hepvac-api-sub000/internal/testutil"
)

type Services struct {
	AuthService    *auth.AuthService
	SessionService *session.Service
	Storage        repository.Storage
}

// Create db transaction and run server with that connection (one connection cause one transaction)
// The created transaction passed to inner function: so, you can safely use testutil.WithTx with it.
// Pass nil trust to allow every device.
func ServeWithTx(dbpool *pgxpool.Pool, t *testing.T, trust devicetrust.Checker, fn func(tx pgx.Tx, srvURL string, services Services)) {
	testutil.WithTx(dbpool, t, func(tx pgx.Tx) {
		storage := postgres.NewStorage(tx)
		l := logger.NewNoOpLogger()

		require.NoError(t, auth.EnsureBaselineRoles(t.Context(), storage, l))

		// Initialize services
		tokenManager, err := tokenmanager.New(tokenmanager.Config{SecretKey: "test-secret"}, storage.Refresh())
		require.NoError(t, err, "token manager should be created without errors")

		sessionService := session.NewService(session.Config{}, storage.Session(), l)

		authService, err := auth.NewAuthService(
			auth.Config{DefaultRole: "staff"},
			storage, tokenManager, sessionService, trust, l,
		)
		require.NoError(t, err, "auth service starting error", err)

		// Complete all together as router
		router := handlers.NewRouter(authService, storage.User(), sessionService, l)

		// Run http server with the router in transaction
		srv := httptest.NewServer(router)
		defer srv.Close()

		fn(tx, srv.URL, Services{
			AuthService:    authService,
			SessionService: sessionService,
			Storage:        storage,
		})
	})
}
