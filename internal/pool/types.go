package pool

import (
	"errors"
	"time"

	"campd/internal/job"
)

var (
	// ErrPoolDisabled fast-fails submissions while the breaker is open.
	ErrPoolDisabled = errors.New("pool disabled")
	// ErrDuplicateJob rejects a submission reusing an existing job ID.
	ErrDuplicateJob = errors.New("duplicate job id")
)

// WorkerState is the lifecycle state of one execution worker.
type WorkerState int32

const (
	StateStarting WorkerState = iota
	StateAuthenticating
	StateIdle
	StateExecuting
	StateReAuthenticating
	StateTerminated
)

func (s WorkerState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateAuthenticating:
		return "authenticating"
	case StateIdle:
		return "idle"
	case StateExecuting:
		return "executing"
	case StateReAuthenticating:
		return "re-authenticating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Config tunes the pool. Zero values fall back to production defaults;
// tests shrink the durations so everything runs in milliseconds.
type Config struct {
	MaxWorkers     int
	ScaleThreshold int
	TripThreshold  int

	IdleTimeout    time.Duration
	SessionWait    time.Duration
	DequeueWait    time.Duration
	VerifyInterval time.Duration
}

func (c Config) normalized() Config {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
	if c.ScaleThreshold <= 0 {
		c.ScaleThreshold = 4
	}
	if c.TripThreshold <= 0 {
		c.TripThreshold = 5
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.SessionWait <= 0 {
		c.SessionWait = 3 * time.Minute
	}
	if c.DequeueWait <= 0 {
		c.DequeueWait = 5 * time.Second
	}
	if c.VerifyInterval <= 0 {
		c.VerifyInterval = 5 * time.Minute
	}
	return c
}

// Notifier receives every job that reaches a terminal state.
// Delivery is best-effort; implementations must not block.
type Notifier interface {
	JobFinished(j job.Job)
}

// WorkerHealth is one worker's row in the health report.
type WorkerHealth struct {
	ID      int    `json:"id"`
	Primary bool   `json:"primary"`
	State   string `json:"state"`
	// Failures is this worker's current consecutive-failure streak.
	Failures int `json:"failures"`
}

// Health is a point-in-time view of the pool for /health.
// ConsecutiveFailures is the worst live worker's streak.
type Health struct {
	Launched            bool           `json:"launched"`
	Disabled            bool           `json:"disabled"`
	DisabledReason      string         `json:"disabled_reason,omitempty"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	Queued              int            `json:"queued"`
	Workers             []WorkerHealth `json:"workers"`
}
