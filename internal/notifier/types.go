package notifier

import "time"

// Config controls the async webhook pipeline.
type Config struct {
	Enabled bool

	// WebhookURL is the default callback target. Jobs may override it.
	WebhookURL string
	// WebhookToken, when set, is sent as an Authorization bearer header.
	WebhookToken string

	Workers    int
	QueueSize  int
	RatePerSec int

	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	// Timeout bounds one HTTP delivery attempt.
	Timeout time.Duration
}

// Payload is the JSON body POSTed to the callback URL when a job reaches a
// terminal state. Schema-stable; consumers key off status.
type Payload struct {
	JobID      string         `json:"job_id"`
	TaskType   string         `json:"task_type"`
	TargetID   string         `json:"target_id,omitempty"`
	Status     string         `json:"status"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	FinishedAt string         `json:"finished_at,omitempty"`
}
