package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timothysaatum/hepvac-api-sub000/internal/apperrors"
	"github.com/timothysaatum/hepvac-api-sub000/internal/models"
	"github.com/timothysaatum/hepvac-api-sub000/internal/testutil"
)

func mustSaveRefreshToken(t *testing.T, tx pgx.Tx) models.RefreshToken {
	t.Helper()

	users := UserRepo{db: tx}
	user := mustCreateUser(t, &users, "tokenowner-"+uuid.NewString()[:8])

	r := RefreshTokenRepo{db: tx}
	now := time.Now()
	token, err := r.Save(t.Context(), models.RefreshToken{
		ID:             uuid.New(),
		UserID:         user.ID,
		TokenHash:      uuid.NewString(),
		DeviceInfo:     "Firefox on Linux",
		IPAddress:      "203.0.113.7",
		ExpiresAt:      now.Add(30 * 24 * time.Hour),
		AbsoluteExpiry: now.Add(30 * 24 * time.Hour),
	})
	require.NoError(t, err)
	return token
}

func Test_RefreshTokenRepo(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("save and get by hash", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := RefreshTokenRepo{db: tx}
			saved := mustSaveRefreshToken(t, tx)

			got, err := r.GetByHash(t.Context(), saved.TokenHash)

			require.NoError(t, err)
			assert.Equal(t, saved.ID, got.ID)
			assert.Equal(t, saved.UserID, got.UserID)
			assert.False(t, got.IsRevoked)
			assert.Equal(t, 1, got.UsageCount, "first use is the issuance itself")
			assert.Nil(t, got.LastUsedAt)
		})
	})

	t.Run("get by hash not found", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := RefreshTokenRepo{db: tx}

			_, err := r.GetByHash(t.Context(), "nosuchhash")

			assert.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
		})
	})

	t.Run("mark used bumps counter", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := RefreshTokenRepo{db: tx}
			saved := mustSaveRefreshToken(t, tx)
			now := time.Now()

			got, err := r.MarkUsed(t.Context(), saved.ID, now)

			require.NoError(t, err)
			assert.Equal(t, 2, got.UsageCount)
			require.NotNil(t, got.LastUsedAt)
			assert.WithinDuration(t, now, *got.LastUsedAt, time.Second)
		})
	})

	t.Run("mark used on revoked token", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := RefreshTokenRepo{db: tx}
			saved := mustSaveRefreshToken(t, tx)
			require.NoError(t, r.Revoke(t.Context(), saved.ID))

			_, err := r.MarkUsed(t.Context(), saved.ID, time.Now())

			assert.ErrorIs(t, err, apperrors.ErrRefreshTokenRevoked)
		})
	})

	t.Run("mark used on missing token", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := RefreshTokenRepo{db: tx}

			_, err := r.MarkUsed(t.Context(), uuid.New(), time.Now())

			assert.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
		})
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := RefreshTokenRepo{db: tx}
			saved := mustSaveRefreshToken(t, tx)

			require.NoError(t, r.Revoke(t.Context(), saved.ID))
			require.NoError(t, r.Revoke(t.Context(), saved.ID))

			got, err := r.GetByHash(t.Context(), saved.TokenHash)
			require.NoError(t, err)
			assert.True(t, got.IsRevoked)
		})
	})

	t.Run("update client", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := RefreshTokenRepo{db: tx}
			saved := mustSaveRefreshToken(t, tx)

			require.NoError(t, r.UpdateClient(t.Context(), saved.ID, "198.51.100.1", "Chrome on Windows"))

			got, err := r.GetByHash(t.Context(), saved.TokenHash)
			require.NoError(t, err)
			assert.Equal(t, "198.51.100.1", got.IPAddress)
			assert.Equal(t, "Chrome on Windows", got.DeviceInfo)
		})
	})

	t.Run("revoke overdue", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := RefreshTokenRepo{db: tx}
			overdue := mustSaveRefreshToken(t, tx)
			fresh := mustSaveRefreshToken(t, tx)

			_, err := tx.Exec(t.Context(),
				"UPDATE refresh_tokens SET absolute_expiry = now() - interval '1 minute' WHERE id = $1", overdue.ID)
			require.NoError(t, err)

			n, err := r.RevokeOverdue(t.Context(), time.Now())

			require.NoError(t, err)
			assert.EqualValues(t, 1, n)

			got, err := r.GetByHash(t.Context(), overdue.TokenHash)
			require.NoError(t, err)
			assert.True(t, got.IsRevoked)

			got, err = r.GetByHash(t.Context(), fresh.TokenHash)
			require.NoError(t, err)
			assert.False(t, got.IsRevoked)
		})
	})
}
