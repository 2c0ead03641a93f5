package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/timothysaatum/hepvac-api-sub000/internal/apperrors"
	"github.com/timothysaatum/hepvac-api-sub000/internal/logger"
	"github.com/timothysaatum/hepvac-api-sub000/internal/models"
	"github.com/timothysaatum/hepvac-api-sub000/internal/repository"
	"github.com/timothysaatum/hepvac-api-sub000/internal/service/device"
)

const defaultSessionTTL = 24 * time.Hour

// Termination reasons stored next to the session for the audit trail
const (
	ReasonUserLogout   = "user_logout"
	ReasonExpired      = "expired"
	ReasonUserRevoked  = "user_revoked"
	ReasonAdminRevoked = "admin_revoked"
)

type Config struct {
	// Session lifetime, defaults to 24 hours
	TTL time.Duration
}

// Service owns the session lifecycle: one row per authenticated device,
// validated on demand and closed exactly once.
type Service struct {
	ttl      time.Duration
	sessions repository.SessionRepo
	logger   logger.Logger
}

func NewService(cfg Config, sessions repository.SessionRepo, l logger.Logger) *Service {
	if cfg.TTL == 0 {
		cfg.TTL = defaultSessionTTL
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Service{
		ttl:      cfg.TTL,
		sessions: sessions,
		logger:   l,
	}
}

// Create opens a session for the user from what the device looks like now
func (s *Service) Create(ctx context.Context, userID uuid.UUID, info device.Info, loginMethod string) (models.Session, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return models.Session{}, fmt.Errorf("generate session token: %w", err)
	}

	uaHash := sha256.Sum256([]byte(info.UserAgent))

	session, err := s.sessions.Create(ctx, models.Session{
		ID:                uuid.New(),
		UserID:            userID,
		Token:             hex.EncodeToString(b),
		DeviceFingerprint: info.Fingerprint,
		UserAgent:         info.UserAgent,
		UserAgentHash:     hex.EncodeToString(uaHash[:]),
		IPAddress:         info.IP,
		LoginMethod:       loginMethod,
		ExpiresAt:         time.Now().Add(s.ttl),
	})
	if err != nil {
		return session, fmt.Errorf("error while creating session. Err: %w", err)
	}

	s.logger.Info("Session created",
		"session_id", session.ID,
		"user_id", userID,
		"login_method", loginMethod,
		"ip", info.IP,
		"risk_level", info.RiskLevel,
	)

	return session, nil
}

// Validate checks the session may still be used and records the activity.
// An address change marks the session suspicious and is logged, but the
// session stays valid: clinics sit behind flaky NATs and mobile networks.
func (s *Service) Validate(ctx context.Context, sessionID uuid.UUID, currentIP string) (models.Session, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return session, err
	}

	now := time.Now()
	if session.IsValid() && now.After(session.ExpiresAt) {
		if _, err := s.sessions.Terminate(ctx, sessionID, ReasonExpired); err != nil {
			return session, fmt.Errorf("error while expiring session. Err: %w", err)
		}
		session.Active = false
		session.Expired = true
	}

	if !session.IsValid() {
		return session, fmt.Errorf("session %s: %w", sessionID, apperrors.ErrSessionInvalid)
	}

	if currentIP != "" && session.IPAddress != "" && currentIP != session.IPAddress && !session.Suspicious {
		s.logger.Warn("Session IP changed",
			"session_id", session.ID,
			"user_id", session.UserID,
			"old_ip", session.IPAddress,
			"new_ip", currentIP,
		)
		if err := s.sessions.MarkSuspicious(ctx, sessionID); err != nil {
			return session, fmt.Errorf("error while marking session suspicious. Err: %w", err)
		}
		session.Suspicious = true
	}

	if err := s.sessions.Touch(ctx, sessionID, currentIP, now); err != nil {
		return session, fmt.Errorf("error while touching session. Err: %w", err)
	}
	session.LastActiveAt = &now
	if currentIP != "" {
		session.IPAddress = currentIP
	}

	return session, nil
}

// Terminate closes the session, repeated calls are fine
func (s *Service) Terminate(ctx context.Context, sessionID uuid.UUID, reason string) error {
	found, err := s.sessions.Terminate(ctx, sessionID, reason)
	if err != nil {
		return fmt.Errorf("error while terminating session. Err: %w", err)
	}
	if !found {
		return apperrors.ErrSessionNotFound
	}

	s.logger.Info("Session terminated", "session_id", sessionID, "reason", reason)
	return nil
}

func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Session, error) {
	sessions, err := s.sessions.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error while listing sessions. Err: %w", err)
	}
	return sessions, nil
}

// TerminateAllForUser closes every active session, the one given in keep excepted.
// Used when a password changes or an admin locks the account.
func (s *Service) TerminateAllForUser(ctx context.Context, userID uuid.UUID, keep uuid.UUID, reason string) (int, error) {
	sessions, err := s.sessions.ListActiveByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("error while listing sessions. Err: %w", err)
	}

	terminated := 0
	for _, session := range sessions {
		if session.ID == keep {
			continue
		}
		err := s.Terminate(ctx, session.ID, reason)
		switch {
		case errors.Is(err, apperrors.ErrSessionNotFound):
			continue
		case err != nil:
			return terminated, err
		}
		terminated++
	}

	return terminated, nil
}
