// Package postgres provides a Postgres-backed session store
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AltairaLabs/mcpchat/internal/storage"
	"github.com/AltairaLabs/mcpchat/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	id          TEXT PRIMARY KEY,
	user_email  TEXT NOT NULL DEFAULT '',
	data        JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	last_active TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_sessions_last_active ON chat_sessions (last_active);
`

// SessionStore implements storage.SessionStore on a pgx connection pool
type SessionStore struct {
	DB *pgxpool.Pool
}

var _ storage.SessionStore = (*SessionStore)(nil)

// NewSessionStore connects to Postgres and ensures the session table exists
func NewSessionStore(ctx context.Context, connStr string) (*SessionStore, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}
	if _, err := db.Exec(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create session schema: %w", err)
	}
	return &SessionStore{DB: db}, nil
}

// GetSession loads a session, returning nil, nil when it does not exist
func (ps *SessionStore) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	if sessionID == "" {
		return nil, storage.ErrSessionIDEmpty
	}

	var data []byte
	err := ps.DB.QueryRow(ctx, `SELECT data FROM chat_sessions WHERE id = $1`, sessionID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return decode(data)
}

// SaveSession upserts the session row
func (ps *SessionStore) SaveSession(ctx context.Context, session *types.Session) error {
	if err := storage.ValidateSession(session); err != nil {
		return err
	}

	now := time.Now().UTC()
	stored := session.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.LastActive.IsZero() {
		stored.LastActive = now
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", session.ID, err)
	}

	query := `
		INSERT INTO chat_sessions (id, user_email, data, created_at, last_active)
		VALUES ($1, $2, $3::jsonb, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET user_email = EXCLUDED.user_email, data = EXCLUDED.data, last_active = EXCLUDED.last_active;
	`
	if _, err := ps.DB.Exec(ctx, query, stored.ID, stored.UserEmail, data, stored.CreatedAt, stored.LastActive); err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}
	return nil
}

// DeleteSession removes the session row
func (ps *SessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return storage.ErrSessionIDEmpty
	}
	if _, err := ps.DB.Exec(ctx, `DELETE FROM chat_sessions WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

// UpdateSessionActivity bumps last_active in both the column and the JSON document
func (ps *SessionStore) UpdateSessionActivity(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return storage.ErrSessionIDEmpty
	}

	now := time.Now().UTC()
	stamp, _ := json.Marshal(now)
	tag, err := ps.DB.Exec(ctx, `
		UPDATE chat_sessions
		SET last_active = $2, data = jsonb_set(data, '{last_active}', $3::jsonb)
		WHERE id = $1`, sessionID, now, stamp)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrSessionNotFound
	}
	return nil
}

// ListStaleSessions returns the IDs of sessions inactive since before
func (ps *SessionStore) ListStaleSessions(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := ps.DB.Query(ctx, `SELECT id FROM chat_sessions WHERE last_active < $1`, before)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close releases the pool
func (ps *SessionStore) Close(ctx context.Context) error {
	if ps != nil && ps.DB != nil {
		ps.DB.Close()
	}
	return nil
}

func decode(data []byte) (*types.Session, error) {
	var session types.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if session.Files == nil {
		session.Files = make(map[string]types.FileRef)
	}
	return &session, nil
}
