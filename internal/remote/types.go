package remote

import (
	"context"
	"errors"

	"campd/internal/job"
)

var (
	// ErrNotLoggedIn means the client has no usable session.
	ErrNotLoggedIn = errors.New("client not logged in")
	// ErrClientDead means the underlying connection/process is gone and the
	// client must be recreated.
	ErrClientDead = errors.New("client dead")
)

// Client is one live connection to the external system. Each worker owns
// exactly one client for its whole lifetime; a client is recreated only
// after a crash or a failed re-authentication.
type Client interface {
	// Restore loads a previously captured session blob into the client.
	Restore(ctx context.Context, blob []byte) error

	// LoginInteractive performs a from-scratch login and returns the
	// resulting session blob. Slow; may prompt external systems.
	LoginInteractive(ctx context.Context) ([]byte, error)

	// LoggedIn probes whether the current session is still accepted.
	// Cheap compared to LoginInteractive but still a remote round trip.
	LoggedIn(ctx context.Context) (bool, error)

	// Alive reports whether the client itself is still usable.
	Alive() bool

	Close() error
}

// Progress lets a handler stream human-readable progress lines into the
// job's bounded log tail.
type Progress func(line string)

// Handler executes one job type against the remote system.
type Handler func(ctx context.Context, c Client, j job.Job, progress Progress) (map[string]any, error)

type HandlerMap map[job.Type]Handler

// Driver creates clients and supplies the handler for each job type.
type Driver interface {
	Name() string
	NewClient(ctx context.Context) (Client, error)
	Handlers() HandlerMap
}
