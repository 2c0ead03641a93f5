package apperrors

import (
	"errors"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")

	// Account state errors. All of them map to 401 on the HTTP layer,
	// the structured reason is kept for security logs only.
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAccountInactive    = errors.New("user account is inactive")
	ErrAccountSuspended   = errors.New("user account is suspended")
	ErrNoAssignedRole     = errors.New("user does not have any assigned role")

	ErrRoleNotFound       = errors.New("role not found")
	ErrPermissionNotFound = errors.New("permission not found")
	ErrForbidden          = errors.New("access denied")

	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrWrongTokenType        = errors.New("wrong token type")

	ErrSessionNotFound = errors.New("session not found")
	ErrSessionInvalid  = errors.New("session is invalid")

	ErrRefreshTokenNotFound     = errors.New("refresh token not found")
	ErrRefreshTokenRevoked      = errors.New("refresh token is revoked")
	ErrRefreshAbsolutelyExpired = errors.New("refresh token is absolutely expired")

	ErrDeviceNotTrusted = errors.New("device is not trusted")
)
