package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"campd/internal/eventbus"
	"campd/internal/job"
	"campd/internal/queue"
	"campd/internal/remote"
	"campd/internal/runtime/supervisor"
	"campd/internal/session"
	logx "campd/pkg/logx"
)

// Manager owns the worker pool: lazy launch, scale-up, the circuit breaker,
// reset, and the watchdog check.
//
// Invariants:
//   - The pool never scales down; workers leave via idle timeout or pills.
//   - Worker 1's role (interactive auth) belongs to whichever worker
//     currently carries the primary flag, not to a fixed ID.
//   - Failure streaks are per worker; one worker reaching the trip
//     threshold on its own jobs opens the breaker for the whole pool.
//   - While disabled, Submit fast-fails and Scale is a no-op.
type Manager struct {
	cfg      Config
	queue    *queue.Queue
	registry *job.Registry
	sessions *session.Manager
	driver   remote.Driver
	notifier Notifier
	bus      eventbus.Bus
	log      logx.Logger
	sup      *supervisor.Supervisor

	mu             sync.Mutex
	launched       bool
	disabled       bool
	disabledReason string
	workers        map[int]*worker
	nextID         int
}

type ManagerOption func(*Manager)

func WithNotifier(n Notifier) ManagerOption {
	return func(m *Manager) { m.notifier = n }
}

func WithBus(bus eventbus.Bus) ManagerOption {
	return func(m *Manager) { m.bus = bus }
}

func WithLogger(log logx.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

func NewManager(
	cfg Config,
	q *queue.Queue,
	reg *job.Registry,
	sessions *session.Manager,
	driver remote.Driver,
	sup *supervisor.Supervisor,
	opts ...ManagerOption,
) *Manager {
	m := &Manager{
		cfg:      cfg.normalized(),
		queue:    q,
		registry: reg,
		sessions: sessions,
		driver:   driver,
		sup:      sup,
		log:      logx.Nop(),
		workers:  map[int]*worker{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Submit registers the job, queues it, and triggers a scale check.
// Returns the pending snapshot.
func (m *Manager) Submit(ctx context.Context, j job.Job) (job.Job, error) {
	_ = ctx

	m.mu.Lock()
	if m.disabled {
		reason := m.disabledReason
		m.mu.Unlock()
		return job.Job{}, fmt.Errorf("%w: %s", ErrPoolDisabled, reason)
	}
	m.mu.Unlock()

	if !m.registry.Add(j) {
		return job.Job{}, fmt.Errorf("%w: %s", ErrDuplicateJob, j.ID)
	}
	m.queue.Push(j.ID, j.Priority)
	m.publish(eventbus.EventJobSubmitted, j.ID)
	m.log.Info("job submitted",
		logx.String("job_id", j.ID),
		logx.String("type", string(j.Type)),
		logx.Int("priority", j.Priority),
	)

	m.Scale()

	snap, _ := m.registry.Snapshot(j.ID)
	return snap, nil
}

// Scale brings the pool to its desired size. Lazy: the first call starts
// only the primary. Load at or above the threshold grows the pool to max.
// A dead primary is replaced so the pool can always authenticate.
func (m *Manager) Scale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disabled {
		return
	}

	m.pruneLocked()

	if !m.launched {
		m.launched = true
		m.startWorkerLocked(true)
		return
	}

	if !m.primaryAliveLocked() {
		// A replacement primary starts with a clean failure streak of its
		// own; the dead one's streak died with it.
		m.startWorkerLocked(true)
	}

	load := m.registry.Counts().Alive()
	desired := 1
	if load >= m.cfg.ScaleThreshold {
		desired = m.cfg.MaxWorkers
	}
	for len(m.workers) < desired {
		m.startWorkerLocked(false)
	}
}

func (m *Manager) pruneLocked() {
	for id, w := range m.workers {
		if w.State() == StateTerminated {
			delete(m.workers, id)
		}
	}
}

func (m *Manager) primaryAliveLocked() bool {
	for _, w := range m.workers {
		if w.primary && w.State() != StateTerminated {
			return true
		}
	}
	return false
}

func (m *Manager) startWorkerLocked(primary bool) {
	m.nextID++
	w := newWorker(m.nextID, primary, m)
	m.workers[w.id] = w
	m.sup.Go0(fmt.Sprintf("worker.%d", w.id), w.run)
}

// Reset drains the queue (cancelling every pending job), tells each live
// worker to stop via a poison pill, and closes the breaker. Idempotent.
func (m *Manager) Reset(ctx context.Context, actor string) {
	ids := m.queue.Drain()
	for _, id := range ids {
		if m.registry.Cancel(id, "pool reset") {
			m.notifyFinished(id)
		}
	}

	m.mu.Lock()
	m.pruneLocked()
	alive := len(m.workers)
	m.disabled = false
	m.disabledReason = ""
	m.launched = false
	m.workers = map[int]*worker{}
	m.mu.Unlock()

	for i := 0; i < alive; i++ {
		m.queue.PushShutdown()
	}

	m.publish(eventbus.EventPoolReset, map[string]any{"cancelled": len(ids), "workers": alive})
	m.sessions.Audit(ctx, "pool.reset", actor,
		fmt.Sprintf("cancelled=%d workers=%d", len(ids), alive), "")
	m.log.Info("pool reset",
		logx.Int("cancelled", len(ids)),
		logx.Int("workers", alive),
		logx.String("actor", actor),
	)
}

// ClearQueue cancels every queued job without stopping workers or touching
// the breaker. Running jobs finish normally; shutdown pills stay queued.
// Returns how many jobs were cancelled.
func (m *Manager) ClearQueue(ctx context.Context, actor string) int {
	ids := m.queue.DrainJobs()
	for _, id := range ids {
		if m.registry.Cancel(id, "queue cleared") {
			m.notifyFinished(id)
		}
	}
	if len(ids) > 0 {
		m.sessions.Audit(ctx, "queue.clear", actor, fmt.Sprintf("cancelled=%d", len(ids)), "")
	}
	m.log.Info("queue cleared",
		logx.Int("cancelled", len(ids)),
		logx.String("actor", actor),
	)
	return len(ids)
}

// Cancel marks a job cancelled (pending or running) and fires the webhook.
// Returns false when the job is unknown or already terminal.
func (m *Manager) Cancel(id, reason string) bool {
	if !m.registry.Cancel(id, reason) {
		return false
	}
	m.notifyFinished(id)
	return true
}

// NotifySessionPushed closes the breaker after a fresh session arrives.
// Every live worker's failure streak is cleared with it; the failures were
// symptoms of the session the push just replaced.
func (m *Manager) NotifySessionPushed() {
	m.mu.Lock()
	was := m.disabled
	m.disabled = false
	m.disabledReason = ""
	for _, w := range m.workers {
		w.consecFails.Store(0)
	}
	m.mu.Unlock()
	if was {
		m.log.Info("pool re-enabled after session push")
	}
}

// WatchdogCheck runs one watchdog pass. While disabled it drains the queue
// as cancelled so callers are not left waiting on jobs that will never run.
// Otherwise it revives a dead primary when work is waiting.
func (m *Manager) WatchdogCheck() {
	m.mu.Lock()
	disabled := m.disabled
	reason := m.disabledReason
	m.mu.Unlock()

	if disabled {
		ids := m.queue.Drain()
		for _, id := range ids {
			if m.registry.Cancel(id, "pool disabled: "+reason) {
				m.notifyFinished(id)
			}
		}
		if len(ids) > 0 {
			m.log.Warn("watchdog drained queue while pool disabled",
				logx.Int("cancelled", len(ids)),
				logx.String("reason", reason),
			)
		}
		return
	}

	if m.queue.Len() > 0 {
		m.mu.Lock()
		m.pruneLocked()
		primaryDead := m.launched && !m.primaryAliveLocked()
		m.mu.Unlock()
		if primaryDead {
			m.log.Warn("watchdog reviving dead primary worker")
			m.Scale()
		}
	}
}

// Disabled reports the breaker state and its reason.
func (m *Manager) Disabled() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disabled, m.disabledReason
}

func (m *Manager) Health() Health {
	m.mu.Lock()
	h := Health{
		Launched:       m.launched,
		Disabled:       m.disabled,
		DisabledReason: m.disabledReason,
	}
	for _, w := range m.workers {
		if w.State() == StateTerminated {
			continue
		}
		fails := int(w.consecFails.Load())
		if fails > h.ConsecutiveFailures {
			h.ConsecutiveFailures = fails
		}
		h.Workers = append(h.Workers, WorkerHealth{
			ID:       w.id,
			Primary:  w.primary,
			State:    w.State().String(),
			Failures: fails,
		})
	}
	m.mu.Unlock()

	sort.Slice(h.Workers, func(i, j int) bool { return h.Workers[i].ID < h.Workers[j].ID })
	h.Queued = m.queue.Len()
	return h
}

// disable opens the breaker. Workers call it when their own failure streak
// reaches the trip threshold and on unrecoverable auth failures.
func (m *Manager) disable(reason string) {
	m.mu.Lock()
	already := m.disabled
	if !already {
		m.disabled = true
		m.disabledReason = reason
	}
	m.mu.Unlock()
	if !already {
		m.publish(eventbus.EventPoolDisabled, reason)
		m.log.Error("pool disabled", logx.String("reason", reason))
	}
}

// ---- notifications ----

func (m *Manager) notifyFinished(id string) {
	snap, ok := m.registry.Snapshot(id)
	if !ok {
		return
	}
	switch snap.Status {
	case job.StatusCompleted:
		m.publish(eventbus.EventJobCompleted, id)
	case job.StatusFailed:
		m.publish(eventbus.EventJobFailed, id)
	case job.StatusCancelled:
		m.publish(eventbus.EventJobCancelled, id)
	}
	if m.notifier != nil {
		m.notifier.JobFinished(snap)
	}
}

func (m *Manager) publish(typ string, data any) {
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}
