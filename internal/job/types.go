package job

import (
	"fmt"
	"time"
)

// Type identifies what a job does against the remote system.
type Type string

const (
	// TypeFetchState reads the current state of a single target.
	TypeFetchState Type = "fetch-state"
	// TypeFetchAggregate collects summary data across targets.
	TypeFetchAggregate Type = "fetch-aggregate"
	// TypeApplyChanges mutates a target and is therefore the most urgent.
	TypeApplyChanges Type = "apply-changes"
)

func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeFetchState, TypeFetchAggregate, TypeApplyChanges:
		return Type(s), nil
	default:
		return "", fmt.Errorf("unknown job type %q", s)
	}
}

// DefaultPriority maps a type to its queue priority (lower runs sooner).
// Mutations jump the line, aggregates next, plain reads last.
func (t Type) DefaultPriority() int {
	switch t {
	case TypeApplyChanges:
		return 1
	case TypeFetchAggregate:
		return 2
	default:
		return 3
	}
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job is a point-in-time snapshot of a tracked job.
//
// Snapshots are value copies; mutating one never affects the registry.
type Job struct {
	ID       string         `json:"id"`
	Type     Type           `json:"type"`
	TargetID string         `json:"target_id,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	Priority int            `json:"priority"`

	Status Status         `json:"status"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`

	// CallbackURL overrides the notifier's default webhook for this job.
	CallbackURL string `json:"callback_url,omitempty"`

	WorkerID int `json:"worker_id,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	// Logs is a bounded tail of progress lines (oldest first).
	Logs []string `json:"logs,omitempty"`
}

// Duration reports wall time from start to completion, zero until terminal.
func (j Job) Duration() time.Duration {
	if j.StartedAt.IsZero() || j.CompletedAt.IsZero() {
		return 0
	}
	return j.CompletedAt.Sub(j.StartedAt)
}

// Counts is a point-in-time tally by status.
type Counts struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Alive is the number of jobs still in flight.
func (c Counts) Alive() int { return c.Pending + c.Running }
