package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/nextgendem/slicehub/internal/domain"
)

// ErrSessionConflict is returned by CreateSession when a session for the
// given user already exists; callers should re-read GetSessionByUser and
// redirect to it rather than treating this as a hard failure.
var ErrSessionConflict = errors.New("session already exists for user")

// ErrSessionNotFound is returned when a lookup by id or user matches no row.
var ErrSessionNotFound = errors.New("session not found")

const uniqueViolation = "23505"

// SessionStore handles all session-table operations.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore wraps a Database for session-table access.
func NewSessionStore(database *Database) *SessionStore {
	return &SessionStore{db: database.DB()}
}

// CreateSession inserts a new session row. If a session for session.User
// already exists, it returns ErrSessionConflict and the caller must fetch
// the existing row itself — this enforces the "at most one session per
// user" invariant across concurrent logins via the table's unique
// constraint rather than a check-then-insert race.
func (s *SessionStore) CreateSession(ctx context.Context, session *domain.Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	if session.LastActivity.IsZero() {
		session.LastActivity = session.CreatedAt
	}

	query := `
		INSERT INTO sessions (
			id, user_name, url_path, service_address, container_name,
			restart, gpu, shared, cpu_percent, created_at, last_activity
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.User, session.URLPath, nullString(session.ServiceAddress), session.ContainerName,
		session.Restart, session.GPU, session.Shared, session.CPUPercent, session.CreatedAt, session.LastActivity,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrSessionConflict
		}
		return fmt.Errorf("failed to create session for user %s: %w", session.User, err)
	}
	return nil
}

// GetSession retrieves a session by id.
func (s *SessionStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, selectSessionQuery+" WHERE id = $1", id))
}

// GetSessionByUser retrieves the (at most one) session belonging to a user.
func (s *SessionStore) GetSessionByUser(ctx context.Context, user string) (*domain.Session, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, selectSessionQuery+" WHERE user_name = $1", user))
}

// ListSessions returns every session in the store.
func (s *SessionStore) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, selectSessionQuery+" ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ListSharedSessions returns every session currently marked shared, for the
// landing page's non-admin view.
func (s *SessionStore) ListSharedSessions(ctx context.Context) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, selectSessionQuery+" WHERE shared = true ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list shared sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// UpdateServiceAddress records a container's proxy-reachable address once
// it becomes available.
func (s *SessionStore) UpdateServiceAddress(ctx context.Context, id, address string) error {
	return s.exec(ctx, `UPDATE sessions SET service_address = $1 WHERE id = $2`, nullString(address), id)
}

// UpdateShared toggles a session's landing-page visibility.
func (s *SessionStore) UpdateShared(ctx context.Context, id string, shared bool) error {
	return s.exec(ctx, `UPDATE sessions SET shared = $1 WHERE id = $2`, shared, id)
}

// UpdateRestart sets a session's restart intent flag (the administrative
// write path resolving the restart Open Question).
func (s *SessionStore) UpdateRestart(ctx context.Context, id string, restart bool) error {
	return s.exec(ctx, `UPDATE sessions SET restart = $1 WHERE id = $2`, restart, id)
}

// TouchActivity records an observed CPU sample and, when it exceeds the
// activity threshold, refreshes last_activity to now.
func (s *SessionStore) TouchActivity(ctx context.Context, id string, cpuPercent float64, active bool) error {
	if active {
		return s.exec(ctx, `UPDATE sessions SET cpu_percent = $1, last_activity = $2 WHERE id = $3`,
			cpuPercent, time.Now(), id)
	}
	return s.exec(ctx, `UPDATE sessions SET cpu_percent = $1 WHERE id = $2`, cpuPercent, id)
}

// DeleteSession removes a session row outright; there is no soft-delete
// state because retired sessions carry no audit requirement in this spec.
func (s *SessionStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// CountSessions returns the number of live sessions, for capacity checks.
func (s *SessionStore) CountSessions(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

func (s *SessionStore) exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("session update failed: %w", err)
	}
	return nil
}

const selectSessionQuery = `
	SELECT id, user_name, url_path, COALESCE(service_address, ''), container_name,
		restart, gpu, shared, cpu_percent, created_at, last_activity
	FROM sessions`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *SessionStore) scanOne(row rowScanner) (*domain.Session, error) {
	session := &domain.Session{}
	err := row.Scan(
		&session.ID, &session.User, &session.URLPath, &session.ServiceAddress, &session.ContainerName,
		&session.Restart, &session.GPU, &session.Shared, &session.CPUPercent, &session.CreatedAt, &session.LastActivity,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return session, nil
}

func scanSessions(rows *sql.Rows) ([]*domain.Session, error) {
	var sessions []*domain.Session
	for rows.Next() {
		session := &domain.Session{}
		err := rows.Scan(
			&session.ID, &session.User, &session.URLPath, &session.ServiceAddress, &session.ContainerName,
			&session.Restart, &session.GPU, &session.Shared, &session.CPUPercent, &session.CreatedAt, &session.LastActivity,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
