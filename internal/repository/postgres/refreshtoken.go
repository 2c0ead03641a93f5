package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/timothysaatum/hepvac-api-sub000/internal/apperrors"
	"github.com/timothysaatum/hepvac-api-sub000/internal/models"
)

type RefreshTokenRepo struct {
	db DBTX
}

const refreshTokenColumns = `id, user_id, token_hash, device_info, ip_address,
	created_at, expires_at, absolute_expiry, is_revoked, usage_count, last_used_at`

const saveRefreshToken = `-- name: SaveRefreshToken
INSERT INTO refresh_tokens (
	id, user_id, token_hash, device_info, ip_address,
	expires_at, absolute_expiry
)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + refreshTokenColumns

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	rows, _ := r.db.Query(ctx, saveRefreshToken,
		token.ID, token.UserID, token.TokenHash, token.DeviceInfo, token.IPAddress,
		token.ExpiresAt, token.AbsoluteExpiry,
	)
	saved, err := pgx.CollectOneRow(rows, rowToRefreshToken)
	if err != nil {
		return saved, fmt.Errorf("db error: %w", err)
	}
	return saved, nil
}

const getRefreshTokenByHash = `-- name: GetRefreshTokenByHash
SELECT ` + refreshTokenColumns + `
FROM refresh_tokens
WHERE token_hash = $1
`

// GetByHash returns the record whatever its state, revoked and expired
// included. Deciding what the state means is the caller's job.
func (r *RefreshTokenRepo) GetByHash(ctx context.Context, tokenHash string) (models.RefreshToken, error) {
	rows, _ := r.db.Query(ctx, getRefreshTokenByHash, tokenHash)
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const markRefreshTokenUsed = `-- name: MarkRefreshTokenUsed
UPDATE refresh_tokens
SET usage_count = usage_count + 1, last_used_at = $2
WHERE id = $1 AND NOT is_revoked
RETURNING ` + refreshTokenColumns

// MarkUsed counts one use of the token. The NOT is_revoked guard makes the
// revocation check and the counter bump one atomic statement.
func (r *RefreshTokenRepo) MarkUsed(ctx context.Context, tokenID uuid.UUID, now time.Time) (models.RefreshToken, error) {
	rows, _ := r.db.Query(ctx, markRefreshTokenUsed, tokenID, now)
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, r.usedFailureReason(ctx, tokenID)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const updateRefreshTokenClient = `-- name: UpdateRefreshTokenClient
UPDATE refresh_tokens
SET ip_address = $2, device_info = $3
WHERE id = $1
`

func (r *RefreshTokenRepo) UpdateClient(ctx context.Context, tokenID uuid.UUID, ip string, deviceInfo string) error {
	tag, err := r.db.Exec(ctx, updateRefreshTokenClient, tokenID, ip, deviceInfo)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}
	return nil
}

const revokeRefreshToken = `-- name: RevokeRefreshToken
UPDATE refresh_tokens
SET is_revoked = TRUE
WHERE id = $1
`

func (r *RefreshTokenRepo) Revoke(ctx context.Context, tokenID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, revokeRefreshToken, tokenID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}
	return nil
}

const revokeOverdueRefreshTokens = `-- name: RevokeOverdueRefreshTokens
UPDATE refresh_tokens
SET is_revoked = TRUE
WHERE absolute_expiry <= $1 AND NOT is_revoked
`

func (r *RefreshTokenRepo) RevokeOverdue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, revokeOverdueRefreshTokens, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

// usedFailureReason tells a revoked token apart from a missing one
func (r *RefreshTokenRepo) usedFailureReason(ctx context.Context, tokenID uuid.UUID) error {
	rows, _ := r.db.Query(ctx, `SELECT is_revoked FROM refresh_tokens WHERE id = $1`, tokenID)
	revoked, err := pgx.CollectOneRow(rows, pgx.RowTo[bool])

	switch {
	case err == nil && revoked:
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenRevoked)
	case err == nil:
		return fmt.Errorf("db error: token exists but update matched no rows")
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return fmt.Errorf("db error: %w", err)
	}
}

func rowToRefreshToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(
		&t.ID, &t.UserID, &t.TokenHash, &t.DeviceInfo, &t.IPAddress,
		&t.CreatedAt, &t.ExpiresAt, &t.AbsoluteExpiry,
		&t.IsRevoked, &t.UsageCount, &t.LastUsedAt,
	)
	return t, err
}
