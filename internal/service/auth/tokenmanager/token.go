package tokenmanager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/timothysaatum/hepvac-api-sub000/internal/apperrors"
	"github.com/timothysaatum/hepvac-api-sub000/internal/models"
	"github.com/timothysaatum/hepvac-api-sub000/internal/repository"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultSigningMethod   = "HS256"
	defaultRefreshTokenTTL = 30 * 24 * time.Hour
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims carried by both token kinds. Subject holds the user id,
// the type claim tells them apart, sid binds an access token to its session.
type Claims struct {
	jwt.RegisteredClaims
	TokenType string `json:"type"`
	SessionID string `json:"sid,omitempty"`
}

// Token manager with sensible default
type Config struct {
	// Secret key to sign tokens
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Hard cap on a refresh token lifetime. The rolling expiry never pushes
	// a token past this point. Defaults to RefreshTTL.
	AbsoluteTTL time.Duration
}

type TokenManager struct {
	key string
	alg jwt.SigningMethod

	accessTTL   time.Duration
	refreshTTL  time.Duration
	absoluteTTL time.Duration

	refreshRepo repository.RefreshTokenRepo
}

func New(cfg Config, refreshRepo repository.RefreshTokenRepo) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)
	setDefaultDuration(&cfg.AbsoluteTTL, cfg.RefreshTTL)

	return &TokenManager{
		key:         cfg.SecretKey,
		alg:         jwt.GetSigningMethod(cfg.Alg),
		accessTTL:   cfg.AccessTTL,
		refreshTTL:  cfg.RefreshTTL,
		absoluteTTL: cfg.AbsoluteTTL,
		refreshRepo: refreshRepo,
	}, nil
}

// HashToken is the only form a refresh token is ever persisted in
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// IssueAccess signs a short-lived access token bound to the session
func (m *TokenManager) IssueAccess(userID uuid.UUID, sessionID uuid.UUID) (models.IssuedToken, error) {
	now := time.Now().Truncate(time.Second)
	expiresAt := now.Add(m.accessTTL)

	token := jwt.NewWithClaims(m.alg, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		TokenType: TokenTypeAccess,
		SessionID: sessionID.String(),
	})

	signed, err := token.SignedString([]byte(m.key))
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	return models.IssuedToken{Value: signed, ExpiresAt: expiresAt}, nil
}

// IssueRefresh signs a long-lived refresh token and saves its hashed record.
// Both expiries start at now+RefreshTTL; use moves only the rolling one.
func (m *TokenManager) IssueRefresh(ctx context.Context, userID uuid.UUID, deviceInfo string, ip string) (models.IssuedToken, models.RefreshToken, error) {
	now := time.Now().Truncate(time.Second)
	expiresAt := now.Add(m.refreshTTL)
	absoluteExpiry := now.Add(m.absoluteTTL)

	token := jwt.NewWithClaims(m.alg, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		TokenType: TokenTypeRefresh,
	})

	signed, err := token.SignedString([]byte(m.key))
	if err != nil {
		return models.IssuedToken{}, models.RefreshToken{}, fmt.Errorf("error while signing refresh token. Err: %w", err)
	}

	record, err := m.refreshRepo.Save(ctx, models.RefreshToken{
		ID:             uuid.New(),
		UserID:         userID,
		TokenHash:      HashToken(signed),
		DeviceInfo:     deviceInfo,
		IPAddress:      ip,
		ExpiresAt:      expiresAt,
		AbsoluteExpiry: absoluteExpiry,
	})
	if err != nil {
		return models.IssuedToken{}, record, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	return models.IssuedToken{Value: signed, ExpiresAt: expiresAt}, record, nil
}

// DecodeAccess parses and validates an access token.
// Returns the user and the session the token was issued for.
func (m *TokenManager) DecodeAccess(access string) (userID uuid.UUID, sessionID uuid.UUID, err error) {
	claims, err := m.decode(access, TokenTypeAccess)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}

	userID, err = uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("bad subject claim: %w", apperrors.ErrInvalidOrExpiredToken)
	}

	sessionID, err = uuid.Parse(claims.SessionID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("bad session claim: %w", apperrors.ErrInvalidOrExpiredToken)
	}

	return userID, sessionID, nil
}

// UseRefresh validates the refresh token and counts one use of it.
// The same token value stays valid until it expires or is revoked,
// crossing the absolute expiry revokes it on the spot.
func (m *TokenManager) UseRefresh(ctx context.Context, refresh string) (models.RefreshToken, error) {
	claims, err := m.decode(refresh, TokenTypeRefresh)
	if err != nil {
		return models.RefreshToken{}, err
	}

	record, err := m.refreshRepo.GetByHash(ctx, HashToken(refresh))
	if err != nil {
		return record, fmt.Errorf("error while loading refresh token. Err: %w", err)
	}

	if record.UserID.String() != claims.Subject {
		return record, fmt.Errorf("subject mismatch: %w", apperrors.ErrInvalidOrExpiredToken)
	}

	if record.IsRevoked {
		return record, fmt.Errorf("error while using refresh token. Err: %w", apperrors.ErrRefreshTokenRevoked)
	}

	now := time.Now()
	if !now.Before(record.AbsoluteExpiry) {
		if err := m.refreshRepo.Revoke(ctx, record.ID); err != nil {
			return record, fmt.Errorf("error while revoking overdue token. Err: %w", err)
		}
		return record, fmt.Errorf("error while using refresh token. Err: %w", apperrors.ErrRefreshAbsolutelyExpired)
	}

	record, err = m.refreshRepo.MarkUsed(ctx, record.ID, now)
	if err != nil {
		return record, fmt.Errorf("error while marking token used. Err: %w", err)
	}

	return record, nil
}

// RevokeRefresh revokes the stored record for the token value.
// Missing records are fine: logout with a stale cookie is not an error.
func (m *TokenManager) RevokeRefresh(ctx context.Context, refresh string) error {
	record, err := m.refreshRepo.GetByHash(ctx, HashToken(refresh))
	switch {
	case errors.Is(err, apperrors.ErrRefreshTokenNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("error while loading refresh token. Err: %w", err)
	}

	if err := m.refreshRepo.Revoke(ctx, record.ID); err != nil {
		return fmt.Errorf("error while revoking refresh token. Err: %w", err)
	}
	return nil
}

func (m *TokenManager) decode(token string, wantType string) (*Claims, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (any, error) {
			return []byte(m.key), nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("error while parsing or validating token. Err: %w", apperrors.ErrInvalidOrExpiredToken)
	}

	if claims.TokenType != wantType {
		return nil, fmt.Errorf("got %q token where %q expected: %w", claims.TokenType, wantType, apperrors.ErrWrongTokenType)
	}

	return claims, nil
}
