package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timothysaatum/hepvac-api-sub000/internal/apperrors"
	"github.com/timothysaatum/hepvac-api-sub000/internal/models"
	"github.com/timothysaatum/hepvac-api-sub000/internal/repository"
	"github.com/timothysaatum/hepvac-api-sub000/internal/repository/postgres"
	"github.com/timothysaatum/hepvac-api-sub000/internal/service/auth/tokenmanager"
	"github.com/timothysaatum/hepvac-api-sub000/internal/service/device"
	"github.com/timothysaatum/hepvac-api-sub000/internal/service/devicetrust"
	"github.com/timothysaatum/hepvac-api-sub000/internal/service/session"
	"github.com/timothysaatum/hepvac-api-sub000/internal/testutil"
)

var loginDevice = device.Info{
	UserAgent:   "Mozilla/5.0 (X11; Linux x86_64) Firefox/115.0",
	Browser:     "Firefox",
	OS:          "Linux",
	IP:          "203.0.113.7",
	Fingerprint: "abcdef0123456789abcdef0123456789",
	RiskLevel:   device.RiskLow,
}

// blockAll rejects every device, stands in for a strict trust service
type blockAll struct{}

func (blockAll) Check(ctx context.Context, userID uuid.UUID, info device.Info) (devicetrust.Verdict, error) {
	return devicetrust.Verdict{Status: devicetrust.StatusBlocked}, nil
}

func Test_AuthService(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	type env struct {
		service *AuthService
		storage repository.Storage
	}

	withService := func(t *testing.T, cfg Config, trust devicetrust.Checker, fn func(e env)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			require.NoError(t, EnsureBaselineRoles(t.Context(), storage, nil))

			tokens, err := tokenmanager.New(tokenmanager.Config{SecretKey: "test-secret-key"}, storage.Refresh())
			require.NoError(t, err)

			sessions := session.NewService(session.Config{}, storage.Session(), nil)

			service, err := NewAuthService(cfg, storage, tokens, sessions, trust, nil)
			require.NoError(t, err)

			fn(env{service: service, storage: storage})
		})
	}

	register := func(t *testing.T, e env, username string) models.User {
		t.Helper()
		user, err := e.service.Register(t.Context(), username, username+"@clinic.example", "correct horse battery")
		require.NoError(t, err)
		return user
	}

	t.Run("register assigns the default role", func(t *testing.T) {
		withService(t, Config{DefaultRole: "staff"}, nil, func(e env) {
			user := register(t, e, "newstaffer")

			assert.Equal(t, "newstaffer", user.Username)
			require.Len(t, user.Roles, 1)
			assert.Equal(t, "staff", user.Roles[0].Name)
			assert.NotEqual(t, "correct horse battery", user.HashedPassword, "password must be hashed")
		})
	})

	t.Run("register duplicate", func(t *testing.T) {
		withService(t, Config{DefaultRole: "staff"}, nil, func(e env) {
			register(t, e, "duplicated")

			_, err := e.service.Register(t.Context(), "duplicated", "other@clinic.example", "correct horse battery")

			assert.ErrorIs(t, err, apperrors.ErrUserAlreadyExists)
		})
	})

	t.Run("register unknown default role rolls back", func(t *testing.T) {
		withService(t, Config{DefaultRole: "nosuchrole"}, nil, func(e env) {
			_, err := e.service.Register(t.Context(), "orphan", "orphan@clinic.example", "correct horse battery")
			require.ErrorIs(t, err, apperrors.ErrRoleNotFound)

			_, err = e.storage.User().GetByUsername(t.Context(), "orphan")
			assert.ErrorIs(t, err, apperrors.ErrUserNotFound, "user creation must not survive the failed role assignment")
		})
	})

	t.Run("login ok", func(t *testing.T) {
		withService(t, Config{DefaultRole: "staff"}, nil, func(e env) {
			user := register(t, e, "gooduser")

			result, err := e.service.Login(t.Context(), "gooduser", "correct horse battery", loginDevice)

			require.NoError(t, err)
			assert.Equal(t, user.ID, result.User.ID)
			assert.Equal(t, "password", result.Session.LoginMethod)
			assert.NotEmpty(t, result.Tokens.Access.Value)
			assert.NotEmpty(t, result.Tokens.Refresh.Value)

			stored, err := e.storage.User().GetByID(t.Context(), user.ID)
			require.NoError(t, err)
			require.NotNil(t, stored.LastLoginAt)
			assert.Equal(t, 0, stored.LoginAttempts)
		})
	})

	t.Run("login unknown user", func(t *testing.T) {
		withService(t, Config{}, nil, func(e env) {
			_, err := e.service.Login(t.Context(), "ghost", "whatever", loginDevice)

			assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
		})
	})

	t.Run("wrong passwords suspend the account", func(t *testing.T) {
		withService(t, Config{DefaultRole: "staff"}, nil, func(e env) {
			user := register(t, e, "unlucky")

			for i := 1; i < user.MaxLoginAttempts; i++ {
				_, err := e.service.Login(t.Context(), "unlucky", "wrong", loginDevice)
				assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
			}

			// The attempt that crosses the threshold reports the suspension
			_, err := e.service.Login(t.Context(), "unlucky", "wrong", loginDevice)
			assert.ErrorIs(t, err, apperrors.ErrAccountSuspended)

			// And even the right password does not help anymore
			_, err = e.service.Login(t.Context(), "unlucky", "correct horse battery", loginDevice)
			assert.ErrorIs(t, err, apperrors.ErrAccountSuspended)
		})
	})

	t.Run("corrupt stored digest counts as a failed attempt", func(t *testing.T) {
		withService(t, Config{DefaultRole: "staff"}, nil, func(e env) {
			user := register(t, e, "corrupted")
			require.NoError(t, e.storage.User().UpdatePasswordHash(t.Context(), user.ID, "not-a-digest-at-all"))

			_, err := e.service.Login(t.Context(), "corrupted", "correct horse battery", loginDevice)
			assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

			stored, err := e.storage.User().GetByID(t.Context(), user.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, stored.LoginAttempts, "the unusable digest still burns an attempt")
		})
	})

	t.Run("activation lifts the suspension", func(t *testing.T) {
		withService(t, Config{DefaultRole: "staff"}, nil, func(e env) {
			user := register(t, e, "forgiven")

			for range user.MaxLoginAttempts {
				_, _ = e.service.Login(t.Context(), "forgiven", "wrong", loginDevice)
			}
			_, err := e.service.Login(t.Context(), "forgiven", "correct horse battery", loginDevice)
			require.ErrorIs(t, err, apperrors.ErrAccountSuspended)

			require.NoError(t, e.storage.User().Activate(t.Context(), user.ID))

			_, err = e.service.Login(t.Context(), "forgiven", "correct horse battery", loginDevice)
			assert.NoError(t, err)
		})
	})

	t.Run("inactive user", func(t *testing.T) {
		withService(t, Config{DefaultRole: "staff"}, nil, func(e env) {
			user := register(t, e, "inactive")
			require.NoError(t, e.storage.User().Deactivate(t.Context(), user.ID))

			_, err := e.service.Login(t.Context(), "inactive", "correct horse battery", loginDevice)

			assert.ErrorIs(t, err, apperrors.ErrAccountInactive)
		})
	})

	t.Run("user without roles", func(t *testing.T) {
		withService(t, Config{}, nil, func(e env) {
			register(t, e, "roleless")

			_, err := e.service.Login(t.Context(), "roleless", "correct horse battery", loginDevice)

			assert.ErrorIs(t, err, apperrors.ErrNoAssignedRole)
		})
	})

	t.Run("blocked device", func(t *testing.T) {
		withService(t, Config{DefaultRole: "staff"}, blockAll{}, func(e env) {
			user := register(t, e, "blockeddevice")

			_, err := e.service.Login(t.Context(), "blockeddevice", "correct horse battery", loginDevice)

			require.ErrorIs(t, err, apperrors.ErrDeviceNotTrusted)

			// Credentials were right, so no failed attempt is counted
			stored, err := e.storage.User().GetByID(t.Context(), user.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, stored.LoginAttempts)
		})
	})

	t.Run("old digest upgraded on login", func(t *testing.T) {
		withService(t, Config{DefaultRole: "staff"}, nil, func(e env) {
			weaker := NewArgon2Hasher()
			weaker.params.Iterations = 1
			oldDigest, err := weaker.Hash("correct horse battery")
			require.NoError(t, err)

			user := register(t, e, "olddigest")
			require.NoError(t, e.storage.User().UpdatePasswordHash(t.Context(), user.ID, oldDigest))

			_, err = e.service.Login(t.Context(), "olddigest", "correct horse battery", loginDevice)
			require.NoError(t, err)

			stored, err := e.storage.User().GetByID(t.Context(), user.ID)
			require.NoError(t, err)
			assert.NotEqual(t, oldDigest, stored.HashedPassword, "digest should be rehashed with current parameters")
			ok, err := NewArgon2Hasher().Verify(stored.HashedPassword, "correct horse battery")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	})

	t.Run("refresh reuses the token and opens a new session", func(t *testing.T) {
		withService(t, Config{DefaultRole: "staff"}, nil, func(e env) {
			register(t, e, "refresher")
			login, err := e.service.Login(t.Context(), "refresher", "correct horse battery", loginDevice)
			require.NoError(t, err)

			result, err := e.service.Refresh(t.Context(), login.Tokens.Refresh.Value, loginDevice)

			require.NoError(t, err)
			assert.Equal(t, login.Tokens.Refresh.Value, result.Tokens.Refresh.Value, "refresh token is reused, never rotated")
			assert.NotEqual(t, login.Session.ID, result.Session.ID)
			assert.Equal(t, "refresh_token", result.Session.LoginMethod)
			assert.NotEqual(t, login.Tokens.Access.Value, result.Tokens.Access.Value)
		})
	})

	t.Run("refresh after logout", func(t *testing.T) {
		withService(t, Config{DefaultRole: "staff"}, nil, func(e env) {
			register(t, e, "loggedout")
			login, err := e.service.Login(t.Context(), "loggedout", "correct horse battery", loginDevice)
			require.NoError(t, err)

			require.NoError(t, e.service.Logout(t.Context(), login.Session.ID, login.Tokens.Refresh.Value))

			_, err = e.service.Refresh(t.Context(), login.Tokens.Refresh.Value, loginDevice)
			assert.ErrorIs(t, err, apperrors.ErrRefreshTokenRevoked)
		})
	})

	t.Run("refresh for deactivated user", func(t *testing.T) {
		withService(t, Config{DefaultRole: "staff"}, nil, func(e env) {
			user := register(t, e, "goneinactive")
			login, err := e.service.Login(t.Context(), "goneinactive", "correct horse battery", loginDevice)
			require.NoError(t, err)

			require.NoError(t, e.storage.User().Deactivate(t.Context(), user.ID))

			_, err = e.service.Refresh(t.Context(), login.Tokens.Refresh.Value, loginDevice)
			assert.ErrorIs(t, err, apperrors.ErrAccountInactive)
		})
	})

	t.Run("logout is idempotent", func(t *testing.T) {
		withService(t, Config{DefaultRole: "staff"}, nil, func(e env) {
			register(t, e, "doublelogout")
			login, err := e.service.Login(t.Context(), "doublelogout", "correct horse battery", loginDevice)
			require.NoError(t, err)

			require.NoError(t, e.service.Logout(t.Context(), login.Session.ID, login.Tokens.Refresh.Value))
			assert.NoError(t, e.service.Logout(t.Context(), login.Session.ID, login.Tokens.Refresh.Value))
		})
	})

	t.Run("ResolveAccess", func(t *testing.T) {
		t.Run("ok without session check", func(t *testing.T) {
			withService(t, Config{DefaultRole: "staff"}, nil, func(e env) {
				register(t, e, "resolved")
				login, err := e.service.Login(t.Context(), "resolved", "correct horse battery", loginDevice)
				require.NoError(t, err)

				user, sess, err := e.service.ResolveAccess(t.Context(), login.Tokens.Access.Value, false, loginDevice.IP)

				require.NoError(t, err)
				assert.Equal(t, login.User.ID, user.ID)
				assert.Equal(t, login.Session.ID, sess.ID)
			})
		})

		t.Run("session check catches logout", func(t *testing.T) {
			withService(t, Config{DefaultRole: "staff"}, nil, func(e env) {
				register(t, e, "checkedout")
				login, err := e.service.Login(t.Context(), "checkedout", "correct horse battery", loginDevice)
				require.NoError(t, err)

				// Without the check the token still resolves
				_, _, err = e.service.ResolveAccess(t.Context(), login.Tokens.Access.Value, false, loginDevice.IP)
				require.NoError(t, err)

				require.NoError(t, e.service.Logout(t.Context(), login.Session.ID, ""))

				_, _, err = e.service.ResolveAccess(t.Context(), login.Tokens.Access.Value, true, loginDevice.IP)
				assert.ErrorIs(t, err, apperrors.ErrSessionInvalid)
			})
		})

		t.Run("suspended user rejected even with valid token", func(t *testing.T) {
			withService(t, Config{DefaultRole: "staff"}, nil, func(e env) {
				user := register(t, e, "suspendedtoken")
				login, err := e.service.Login(t.Context(), "suspendedtoken", "correct horse battery", loginDevice)
				require.NoError(t, err)

				for range user.MaxLoginAttempts {
					_, _ = e.service.Login(t.Context(), "suspendedtoken", "wrong", loginDevice)
				}

				_, _, err = e.service.ResolveAccess(t.Context(), login.Tokens.Access.Value, false, loginDevice.IP)
				assert.ErrorIs(t, err, apperrors.ErrAccountSuspended)
			})
		})

		t.Run("garbage token", func(t *testing.T) {
			withService(t, Config{}, nil, func(e env) {
				_, _, err := e.service.ResolveAccess(t.Context(), "garbage", false, "")

				assert.ErrorIs(t, err, apperrors.ErrInvalidOrExpiredToken)
			})
		})
	})
}

func Test_EnsureBaselineRoles(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
		storage := postgres.NewStorage(tx)

		// Twice on purpose: the bootstrap runs on every start
		require.NoError(t, EnsureBaselineRoles(t.Context(), storage, nil))
		require.NoError(t, EnsureBaselineRoles(t.Context(), storage, nil))

		role, err := storage.Role().GetRoleByName(t.Context(), "superadmin")
		require.NoError(t, err)
		assert.Equal(t, "superadmin", role.Name)

		_, err = storage.Role().GetRoleByName(t.Context(), "staff")
		require.NoError(t, err)
	})
}
