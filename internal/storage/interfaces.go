// Package storage defines the pluggable session persistence backends
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/AltairaLabs/mcpchat/internal/types"
)

var (
	// ErrSessionNil is returned when a nil session is saved
	ErrSessionNil = errors.New("session cannot be nil")
	// ErrSessionIDEmpty is returned when a session ID is empty
	ErrSessionIDEmpty = errors.New("session ID cannot be empty")
	// ErrSessionNotFound is returned by operations that require an existing session
	ErrSessionNotFound = errors.New("session not found")
)

// SessionStore persists conversation sessions. Implementations hand out copies;
// callers mutate the copy and call SaveSession to persist it.
type SessionStore interface {
	// GetSession returns the session or nil, nil when it does not exist
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// SaveSession inserts or replaces the session
	SaveSession(ctx context.Context, session *types.Session) error

	// DeleteSession removes a session. Deleting a missing session is not an error.
	DeleteSession(ctx context.Context, sessionID string) error

	// UpdateSessionActivity bumps LastActive to now
	UpdateSessionActivity(ctx context.Context, sessionID string) error

	// ListStaleSessions returns the IDs of sessions inactive since before
	ListStaleSessions(ctx context.Context, before time.Time) ([]string, error)

	// Close releases backend resources
	Close(ctx context.Context) error
}

// ValidateSession checks the fields every backend requires before writing
func ValidateSession(session *types.Session) error {
	if session == nil {
		return ErrSessionNil
	}
	if session.ID == "" {
		return ErrSessionIDEmpty
	}
	return nil
}
