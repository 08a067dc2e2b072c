package job

import (
	"sync"
	"time"
)

const defaultMaxLogLines = 200

// Registry tracks every job the service has accepted, in memory.
//
// All state transitions go through the registry so that completion is
// reported exactly once even when a cancel races a running worker:
//   - MarkRunning succeeds only from pending
//   - Complete/Fail succeed only from running
//   - Cancel succeeds from pending or running
//
// Terminal jobs stay readable until PruneTerminal removes them.
type Registry struct {
	mu          sync.Mutex
	jobs        map[string]*record
	maxLogLines int
}

type record struct {
	job  Job
	logs *logRing
}

type Option func(*Registry)

// WithMaxLogLines caps the per-job progress log tail.
func WithMaxLogLines(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxLogLines = n
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		jobs:        map[string]*record{},
		maxLogLines: defaultMaxLogLines,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Add registers a new pending job. Duplicate IDs are rejected.
func (r *Registry) Add(j Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[j.ID]; ok {
		return false
	}
	j.Status = StatusPending
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	r.jobs[j.ID] = &record{job: j, logs: newLogRing(r.maxLogLines)}
	return true
}

// Snapshot returns a value copy of the job, logs included.
func (r *Registry) Snapshot(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return rec.snapshot(), true
}

func (rec *record) snapshot() Job {
	j := rec.job
	if j.Payload != nil {
		p := make(map[string]any, len(j.Payload))
		for k, v := range j.Payload {
			p[k] = v
		}
		j.Payload = p
	}
	if j.Result != nil {
		res := make(map[string]any, len(j.Result))
		for k, v := range j.Result {
			res[k] = v
		}
		j.Result = res
	}
	j.Logs = rec.logs.Lines()
	return j
}

// MarkRunning transitions pending -> running. Returns false when the job is
// missing or no longer pending (e.g. cancelled while queued); callers skip
// execution in that case.
func (r *Registry) MarkRunning(id string, workerID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.jobs[id]
	if !ok || rec.job.Status != StatusPending {
		return false
	}
	rec.job.Status = StatusRunning
	rec.job.WorkerID = workerID
	rec.job.StartedAt = time.Now()
	return true
}

// Complete transitions running -> completed. Returns false when the job was
// cancelled mid-flight (the cancel already produced the terminal state).
func (r *Registry) Complete(id string, result map[string]any) bool {
	return r.finish(id, StatusCompleted, result, "")
}

// Fail transitions running -> failed.
func (r *Registry) Fail(id string, errMsg string) bool {
	return r.finish(id, StatusFailed, nil, errMsg)
}

func (r *Registry) finish(id string, st Status, result map[string]any, errMsg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.jobs[id]
	if !ok || rec.job.Status != StatusRunning {
		return false
	}
	rec.job.Status = st
	rec.job.Result = result
	rec.job.Error = errMsg
	rec.job.CompletedAt = time.Now()
	return true
}

// Cancel marks a pending or running job cancelled. A running job's handler
// is not interrupted; its eventual Complete/Fail is simply discarded.
func (r *Registry) Cancel(id, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.jobs[id]
	if !ok || rec.job.Status.Terminal() {
		return false
	}
	rec.job.Status = StatusCancelled
	rec.job.Error = reason
	rec.job.CompletedAt = time.Now()
	return true
}

// AppendLog adds a progress line to the job's bounded tail.
func (r *Registry) AppendLog(id, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.jobs[id]; ok {
		rec.logs.Append(line)
	}
}

func (r *Registry) Counts() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	var c Counts
	for _, rec := range r.jobs {
		switch rec.job.Status {
		case StatusPending:
			c.Pending++
		case StatusRunning:
			c.Running++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		case StatusCancelled:
			c.Cancelled++
		}
	}
	return c
}

// PruneTerminal drops terminal jobs older than the retention window.
// Returns how many were removed.
func (r *Registry) PruneTerminal(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, rec := range r.jobs {
		if rec.job.Status.Terminal() && !rec.job.CompletedAt.IsZero() && rec.job.CompletedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// ---- bounded log tail ----

type logRing struct {
	lines []string
	next  int
	full  bool
}

func newLogRing(cap int) *logRing {
	if cap <= 0 {
		cap = defaultMaxLogLines
	}
	return &logRing{lines: make([]string, cap)}
}

func (lr *logRing) Append(line string) {
	lr.lines[lr.next] = line
	lr.next = (lr.next + 1) % len(lr.lines)
	if lr.next == 0 {
		lr.full = true
	}
}

// Lines returns the tail oldest-first.
func (lr *logRing) Lines() []string {
	if !lr.full {
		if lr.next == 0 {
			return nil
		}
		out := make([]string, lr.next)
		copy(out, lr.lines[:lr.next])
		return out
	}
	out := make([]string, 0, len(lr.lines))
	out = append(out, lr.lines[lr.next:]...)
	out = append(out, lr.lines[:lr.next]...)
	return out
}
