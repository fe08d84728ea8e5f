// Package store provides session persistence and per-session locking.
package store

import (
	"context"
	"time"

	"github.com/ashureev/lendflow/internal/domain"
)

// SessionStore persists loan origination sessions and their transcripts.
type SessionStore interface {
	// Create inserts a new session. It fails if the ID already exists.
	Create(ctx context.Context, s *domain.Session) error

	// Load returns the session with its transcript in order, or nil, nil
	// when no such session exists.
	Load(ctx context.Context, sessionID string) (*domain.Session, error)

	// Save writes the stage and result fields of s in a single transaction.
	// The transcript is not written; see AppendTurn. Save fails with
	// domain.ErrPersistenceConflict if s.Version is stale and increments
	// s.Version on success.
	Save(ctx context.Context, s *domain.Session) error

	// AppendTurn adds one turn to the end of the session transcript.
	AppendTurn(ctx context.Context, sessionID string, turn domain.Turn) error

	// DeleteExpired removes sessions not updated within ttl.
	DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// Locker serialises work on a key across goroutines or processes.
type Locker interface {
	// Lock blocks until the key is held or ctx ends. The returned unlock
	// function is safe to call more than once.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
