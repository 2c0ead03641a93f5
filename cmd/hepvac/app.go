package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/timothysaatum/hepvac-api-sub000/internal/db"
	"github.com/timothysaatum/hepvac-api-sub000/internal/handlers"
	"github.com/timothysaatum/hepvac-api-sub000/internal/logger"
	"github.com/timothysaatum/hepvac-api-sub000/internal/repository/postgres"
	"github.com/timothysaatum/hepvac-api-sub000/internal/service/auth"
	"github.com/timothysaatum/hepvac-api-sub000/internal/service/auth/tokenmanager"
	"github.com/timothysaatum/hepvac-api-sub000/internal/service/devicetrust"
	"github.com/timothysaatum/hepvac-api-sub000/internal/service/session"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger  logger.Logger
	cleaner *session.Cleaner
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Roles and permissions the authorization gate relies on
	if err := auth.EnsureBaselineRoles(ctx, storage, logger); err != nil {
		return nil, fmt.Errorf("error while ensuring baseline roles. Err: %w", err)
	}

	// Initialize services
	tokenManager, err := tokenmanager.New(tokenmanager.Config{SecretKey: c.SecretKey}, storage.Refresh())
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	sessionService := session.NewService(session.Config{}, storage.Session(), logger)
	cleaner := session.NewCleaner(0, storage.Session(), storage.Refresh(), logger)

	var trust devicetrust.Checker = devicetrust.AllowAll{}
	if c.TrustAddr != "" {
		trust = devicetrust.NewClient(c.TrustAddr, logger)
	}

	authService, err := auth.NewAuthService(
		auth.Config{DefaultRole: c.DefaultRole},
		storage, tokenManager, sessionService, trust, logger,
	)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	mux := handlers.NewRouter(authService, storage.User(), sessionService, logger)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
		logger:     logger,
		cleaner:    cleaner,
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	// Background sweep of overdue sessions and refresh tokens
	cleanerStopped := s.cleaner.Run(srvCtx)

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "addr", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-cleanerStopped

	return err
}
