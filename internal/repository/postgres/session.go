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

type SessionRepo struct {
	db DBTX
}

const sessionColumns = `id, user_id, token, device_fingerprint, user_agent, user_agent_hash,
	ip_address, login_method, created_at, expires_at, last_active_at,
	active, expired, suspicious, terminated, terminated_at, termination_reason`

const createSession = `-- name: CreateSession
INSERT INTO sessions (
	id, user_id, token, device_fingerprint, user_agent, user_agent_hash,
	ip_address, login_method, expires_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + sessionColumns

func (r *SessionRepo) Create(ctx context.Context, session models.Session) (models.Session, error) {
	rows, _ := r.db.Query(ctx, createSession,
		session.ID, session.UserID, session.Token,
		session.DeviceFingerprint, session.UserAgent, session.UserAgentHash,
		session.IPAddress, session.LoginMethod, session.ExpiresAt,
	)
	created, err := pgx.CollectOneRow(rows, rowToSession)
	if err != nil {
		return created, fmt.Errorf("db error: %w", err)
	}
	return created, nil
}

const getSession = `-- name: GetSession
SELECT ` + sessionColumns + `
FROM sessions
WHERE id = $1
`

func (r *SessionRepo) Get(ctx context.Context, sessionID uuid.UUID) (models.Session, error) {
	rows, _ := r.db.Query(ctx, getSession, sessionID)
	session, err := pgx.CollectOneRow(rows, rowToSession)

	switch {
	case err == nil:
		return session, nil
	case errors.Is(err, pgx.ErrNoRows):
		return session, apperrors.ErrSessionNotFound
	default:
		return session, fmt.Errorf("db error: %w", err)
	}
}

const listActiveSessions = `-- name: ListActiveSessions
SELECT ` + sessionColumns + `
FROM sessions
WHERE user_id = $1 AND active AND NOT expired AND terminated_at IS NULL
ORDER BY created_at DESC
`

func (r *SessionRepo) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]models.Session, error) {
	rows, _ := r.db.Query(ctx, listActiveSessions, userID)
	sessions, err := pgx.CollectRows(rows, rowToSession)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return sessions, nil
}

const touchSession = `-- name: TouchSession
UPDATE sessions
SET last_active_at = $3, ip_address = $2
WHERE id = $1
`

func (r *SessionRepo) Touch(ctx context.Context, sessionID uuid.UUID, ip string, now time.Time) error {
	return r.execOnSession(ctx, touchSession, sessionID, ip, now)
}

const markSessionSuspicious = `-- name: MarkSessionSuspicious
UPDATE sessions
SET suspicious = TRUE
WHERE id = $1
`

func (r *SessionRepo) MarkSuspicious(ctx context.Context, sessionID uuid.UUID) error {
	return r.execOnSession(ctx, markSessionSuspicious, sessionID)
}

const terminateSession = `-- name: TerminateSession
UPDATE sessions
SET active = FALSE,
    expired = TRUE,
    terminated = TRUE,
    terminated_at = COALESCE(terminated_at, now()),
    termination_reason = COALESCE(termination_reason, $2)
WHERE id = $1
`

// Terminate closes the session keeping the first termination reason and
// timestamp, so repeated calls change nothing. Reports whether the session exists.
func (r *SessionRepo) Terminate(ctx context.Context, sessionID uuid.UUID, reason string) (bool, error) {
	tag, err := r.db.Exec(ctx, terminateSession, sessionID, reason)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const terminateOverdueSessions = `-- name: TerminateOverdueSessions
UPDATE sessions
SET active = FALSE,
    expired = TRUE,
    terminated = TRUE,
    terminated_at = COALESCE(terminated_at, $1),
    termination_reason = COALESCE(termination_reason, $2)
WHERE expires_at <= $1 AND active AND NOT expired AND terminated_at IS NULL
`

func (r *SessionRepo) TerminateOverdue(ctx context.Context, now time.Time, reason string) (int64, error) {
	tag, err := r.db.Exec(ctx, terminateOverdueSessions, now, reason)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *SessionRepo) execOnSession(ctx context.Context, sql string, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrSessionNotFound
	}
	return nil
}

func rowToSession(row pgx.CollectableRow) (models.Session, error) {
	var s models.Session
	err := row.Scan(
		&s.ID, &s.UserID, &s.Token,
		&s.DeviceFingerprint, &s.UserAgent, &s.UserAgentHash,
		&s.IPAddress, &s.LoginMethod, &s.CreatedAt, &s.ExpiresAt, &s.LastActiveAt,
		&s.Active, &s.Expired, &s.Suspicious, &s.Terminated,
		&s.TerminatedAt, &s.TerminationReason,
	)
	return s, err
}
