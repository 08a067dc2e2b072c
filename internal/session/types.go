package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means no session has ever been saved.
	ErrNotFound = errors.New("session not found")
)

// Session is the opaque authentication state for the remote system.
// It is replaced wholesale on every save, never merged.
type Session struct {
	Blob    []byte
	SavedAt time.Time
}

// StoreConfig configures session persistence.
//
// Driver values:
//   - "file": single-file snapshot, atomic rename on save (default)
//   - "sqlite": SQLite database file
type StoreConfig struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records an operator action against the service.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At     time.Time
	Action string
	Actor  string
	Detail string
	Error  string
}

// Store is the minimal persistence API for sessions plus the audit trail.
type Store interface {
	Load(ctx context.Context) (Session, error)
	Save(ctx context.Context, s Session) error
	AppendAudit(ctx context.Context, e AuditEntry) error

	// WatchPath returns the filesystem path to watch for out-of-band session
	// replacement, or "" when the backend has no watchable file.
	WatchPath() string

	Close() error
}
