package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/timothysaatum/hepvac-api-sub000/internal/apperrors"
	"github.com/timothysaatum/hepvac-api-sub000/internal/logger"
	"github.com/timothysaatum/hepvac-api-sub000/internal/models"
	"github.com/timothysaatum/hepvac-api-sub000/internal/repository"
	"github.com/timothysaatum/hepvac-api-sub000/internal/service/auth/tokenmanager"
	"github.com/timothysaatum/hepvac-api-sub000/internal/service/device"
	"github.com/timothysaatum/hepvac-api-sub000/internal/service/devicetrust"
	"github.com/timothysaatum/hepvac-api-sub000/internal/service/session"
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate digest from password
	Hash(password string) (string, error)

	// Compare known digest and user provided password
	// Must be protected against timing attacks
	// A mismatch is (false, nil), an error means the digest is unusable
	Verify(digest string, password string) (bool, error)

	// Report whether the digest should be produced again with current parameters
	NeedsRehash(digest string) bool
}

type Config struct {
	// Hasher used during registration and login
	// Argon2id is the default
	Hasher PasswordHasher

	// Role every self-registered user starts with
	// If empty no role is assigned and an administrator has to step in
	DefaultRole string
}

// LoginResult is everything a transport needs to answer a successful login
type LoginResult struct {
	User    models.User
	Session models.Session
	Tokens  models.TokenPair
}

// AuthService drives the authentication flows end to end:
// registration, the login pipeline, token refresh and logout.
type AuthService struct {
	hasher      PasswordHasher
	defaultRole string

	storage  repository.Storage
	tokens   *tokenmanager.TokenManager
	sessions *session.Service
	trust    devicetrust.Checker
	logger   logger.Logger
}

func NewAuthService(
	cfg Config,
	storage repository.Storage,
	tokens *tokenmanager.TokenManager,
	sessions *session.Service,
	trust devicetrust.Checker,
	l logger.Logger,
) (*AuthService, error) {
	if storage == nil || tokens == nil || sessions == nil {
		return nil, errors.New("storage, token manager and session service must not be nil")
	}

	hasher := cfg.Hasher
	if hasher == nil {
		hasher = NewArgon2Hasher()
	}
	if trust == nil {
		trust = devicetrust.AllowAll{}
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &AuthService{
		hasher:      hasher,
		defaultRole: cfg.DefaultRole,
		storage:     storage,
		tokens:      tokens,
		sessions:    sessions,
		trust:       trust,
		logger:      l,
	}, nil
}

// Register creates the user and assigns the default role in one transaction
func (s *AuthService) Register(ctx context.Context, username string, email string, password string) (models.User, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.User{}, fmt.Errorf("can't use this as password, error=%w", err)
	}

	var user models.User
	err = s.storage.InTx(ctx, func(storage repository.Storage) error {
		var err error
		user, err = storage.User().Create(ctx, repository.CreateUserParams{
			Username:     username,
			Email:        email,
			PasswordHash: hash,
		})
		if err != nil {
			return err
		}

		if s.defaultRole != "" {
			if err := storage.User().AssignRole(ctx, user.ID, s.defaultRole); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.User{}, err
	}

	s.logger.Info("User registered", "user_id", user.ID, "username", username)

	return s.storage.User().GetByID(ctx, user.ID)
}

// Login runs the whole pipeline: account state, credentials, attempt
// accounting, device trust, session and the token pair. Failures are
// deliberately coarse towards the caller and detailed in the logs.
func (s *AuthService) Login(ctx context.Context, username string, password string, info device.Info) (LoginResult, error) {
	user, err := s.storage.User().GetByUsername(ctx, username)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		// Burn comparable time so a missing user is not distinguishable by latency
		_, _ = s.hasher.Hash(password)
		return LoginResult{}, apperrors.ErrInvalidCredentials
	case err != nil:
		return LoginResult{}, err
	}

	if err := user.CanLogin(); err != nil {
		s.logger.Warn("Login rejected by account state", "user_id", user.ID, "reason", err)
		return LoginResult{}, err
	}

	ok, err := s.hasher.Verify(user.HashedPassword, password)
	if err != nil {
		// An unreadable digest can never match, it must not crash the login
		s.logger.Error("Stored password digest is unusable", "user_id", user.ID, "error", err)
		ok = false
	}
	if !ok {
		return LoginResult{}, s.recordFailure(ctx, user)
	}

	// Credentials check out: opportunistically upgrade old digests
	if s.hasher.NeedsRehash(user.HashedPassword) {
		s.rehash(ctx, user.ID, password)
	}

	if err := s.storage.User().RecordSuccessfulLogin(ctx, user.ID); err != nil {
		return LoginResult{}, err
	}

	verdict, err := s.trust.Check(ctx, user.ID, info)
	if err != nil {
		// The trust service being down must not lock every clinic out
		s.logger.Warn("Device trust check failed, allowing login", "user_id", user.ID, "error", err)
	} else if !verdict.Allowed() {
		s.logger.Warn("Login blocked by device trust",
			"user_id", user.ID,
			"fingerprint", info.Fingerprint,
			"status", verdict.Status,
		)
		return LoginResult{}, apperrors.ErrDeviceNotTrusted
	}

	return s.openSession(ctx, user, info, "password", nil)
}

// Refresh exchanges a still valid refresh token for a fresh access token.
// The refresh token itself is reused as is: its expiries were fixed at
// issuance and no amount of refreshing extends them.
func (s *AuthService) Refresh(ctx context.Context, refresh string, info device.Info) (LoginResult, error) {
	record, err := s.tokens.UseRefresh(ctx, refresh)
	if err != nil {
		return LoginResult{}, err
	}

	user, err := s.storage.User().GetByID(ctx, record.UserID)
	if err != nil {
		return LoginResult{}, err
	}
	if err := user.CanLogin(); err != nil {
		s.logger.Warn("Refresh rejected by account state", "user_id", user.ID, "reason", err)
		return LoginResult{}, err
	}

	if record.IPAddress != info.IP || record.DeviceInfo != info.Describe() {
		if err := s.storage.Refresh().UpdateClient(ctx, record.ID, info.IP, info.Describe()); err != nil {
			s.logger.Error("Failed to update refresh token client info", "token_id", record.ID, "error", err)
		}
	}

	reused := models.IssuedToken{Value: refresh, ExpiresAt: record.ExpiresAt}
	return s.openSession(ctx, user, info, "refresh_token", &reused)
}

// Logout closes the session and revokes the refresh token it came with.
// Both steps are idempotent, a replayed logout is a no-op.
func (s *AuthService) Logout(ctx context.Context, sessionID uuid.UUID, refresh string) error {
	err := s.sessions.Terminate(ctx, sessionID, session.ReasonUserLogout)
	if err != nil && !errors.Is(err, apperrors.ErrSessionNotFound) {
		return err
	}

	if refresh != "" {
		if err := s.tokens.RevokeRefresh(ctx, refresh); err != nil {
			return err
		}
	}

	return nil
}

// ResolveAccess decodes the access token and loads its user, optionally
// re-checking the bound session against the store. Transports use it as
// the single entry point for authenticating requests.
func (s *AuthService) ResolveAccess(ctx context.Context, access string, validateSession bool, currentIP string) (models.User, models.Session, error) {
	userID, sessionID, err := s.tokens.DecodeAccess(access)
	if err != nil {
		return models.User{}, models.Session{}, err
	}

	user, err := s.storage.User().GetByID(ctx, userID)
	if err != nil {
		return models.User{}, models.Session{}, err
	}

	switch {
	case !user.IsActive:
		return models.User{}, models.Session{}, apperrors.ErrAccountInactive
	case user.IsSuspended:
		return models.User{}, models.Session{}, apperrors.ErrAccountSuspended
	}

	sess := models.Session{ID: sessionID, UserID: userID}
	if validateSession {
		sess, err = s.sessions.Validate(ctx, sessionID, currentIP)
		if err != nil {
			return models.User{}, models.Session{}, err
		}
	}

	return user, sess, nil
}

func (s *AuthService) openSession(ctx context.Context, user models.User, info device.Info, loginMethod string, reuseRefresh *models.IssuedToken) (LoginResult, error) {
	sess, err := s.sessions.Create(ctx, user.ID, info, loginMethod)
	if err != nil {
		return LoginResult{}, err
	}

	access, err := s.tokens.IssueAccess(user.ID, sess.ID)
	if err != nil {
		return LoginResult{}, err
	}

	var refresh models.IssuedToken
	if reuseRefresh != nil {
		refresh = *reuseRefresh
	} else {
		refresh, _, err = s.tokens.IssueRefresh(ctx, user.ID, info.Describe(), info.IP)
		if err != nil {
			return LoginResult{}, err
		}
	}

	return LoginResult{
		User:    user,
		Session: sess,
		Tokens:  models.TokenPair{Access: access, Refresh: refresh},
	}, nil
}

// recordFailure counts the failed attempt and reports what the caller
// should hear: still just bad credentials, or a fresh suspension.
func (s *AuthService) recordFailure(ctx context.Context, user models.User) error {
	attempts, suspended, err := s.storage.User().RecordFailedLogin(ctx, user.ID)
	if err != nil {
		return err
	}

	s.logger.Warn("Failed login attempt",
		"user_id", user.ID,
		"attempts", attempts,
		"suspended", suspended,
	)

	if suspended {
		return apperrors.ErrAccountSuspended
	}
	return apperrors.ErrInvalidCredentials
}

func (s *AuthService) rehash(ctx context.Context, userID uuid.UUID, password string) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Error("Failed to rehash password", "user_id", userID, "error", err)
		return
	}
	if err := s.storage.User().UpdatePasswordHash(ctx, userID, hash); err != nil {
		s.logger.Error("Failed to store rehashed password", "user_id", userID, "error", err)
		return
	}
	s.logger.Info("Password digest upgraded", "user_id", userID)
}
