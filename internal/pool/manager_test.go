package pool

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"campd/internal/job"
	"campd/internal/queue"
	"campd/internal/remote"
	"campd/internal/runtime/supervisor"
	"campd/internal/session"
	logx "campd/pkg/logx"
)

// expirableDriver is a driver whose shared session can be invalidated and
// whose interactive login can be made to fail, with counters for both.
type expirableDriver struct {
	expired   atomic.Bool
	failLogin atomic.Bool
	logins    atomic.Int32
	probes    atomic.Int32
}

func (d *expirableDriver) Name() string { return "expirable" }

func (d *expirableDriver) NewClient(ctx context.Context) (remote.Client, error) {
	return &expirableClient{d: d}, nil
}

func (d *expirableDriver) Handlers() remote.HandlerMap {
	handle := func(ctx context.Context, c remote.Client, j job.Job, progress remote.Progress) (map[string]any, error) {
		if ms, ok := j.Payload["sleep_ms"].(float64); ok && ms > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(ms) * time.Millisecond):
			}
		}
		return map[string]any{"target_id": j.TargetID}, nil
	}
	return remote.HandlerMap{
		job.TypeFetchState:     handle,
		job.TypeFetchAggregate: handle,
		job.TypeApplyChanges:   handle,
	}
}

type expirableClient struct {
	d      *expirableDriver
	closed atomic.Bool
}

func (c *expirableClient) Restore(ctx context.Context, blob []byte) error {
	if c.closed.Load() {
		return remote.ErrClientDead
	}
	if len(blob) == 0 {
		return remote.ErrNotLoggedIn
	}
	return nil
}

func (c *expirableClient) LoginInteractive(ctx context.Context) ([]byte, error) {
	c.d.logins.Add(1)
	if c.d.failLogin.Load() {
		return nil, errors.New("login rejected")
	}
	c.d.expired.Store(false)
	return []byte("expirable-session"), nil
}

func (c *expirableClient) LoggedIn(ctx context.Context) (bool, error) {
	c.d.probes.Add(1)
	return !c.d.expired.Load(), nil
}

func (c *expirableClient) Alive() bool { return !c.closed.Load() }

func (c *expirableClient) Close() error {
	c.closed.Store(true)
	return nil
}

// recordingNotifier captures terminal jobs in arrival order.
type recordingNotifier struct {
	mu   sync.Mutex
	jobs []job.Job
}

func (n *recordingNotifier) JobFinished(j job.Job) {
	n.mu.Lock()
	n.jobs = append(n.jobs, j)
	n.mu.Unlock()
}

func (n *recordingNotifier) ids() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.jobs))
	for i, j := range n.jobs {
		out[i] = j.ID
	}
	return out
}

type testPool struct {
	m        *Manager
	queue    *queue.Queue
	registry *job.Registry
	sessions *session.Manager
	notif    *recordingNotifier
	sup      *supervisor.Supervisor
}

func newTestPool(t *testing.T, cfg Config) *testPool {
	t.Helper()
	driver, err := remote.Open("loopback", nil, logx.Nop())
	if err != nil {
		t.Fatalf("open driver: %v", err)
	}
	return newTestPoolWithDriver(t, cfg, driver)
}

func newTestPoolWithDriver(t *testing.T, cfg Config, driver remote.Driver) *testPool {
	t.Helper()

	store, err := session.Open(session.StoreConfig{
		Driver: "file",
		Path:   filepath.Join(t.TempDir(), "svc"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	sessions := session.NewManager(store, session.WithAuthRetry(1, 0))

	sup := supervisor.New(context.Background())
	t.Cleanup(func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Wait(wctx)
	})

	q := queue.New()
	reg := job.NewRegistry()
	notif := &recordingNotifier{}
	m := NewManager(cfg, q, reg, sessions, driver, sup, WithNotifier(notif))

	return &testPool{m: m, queue: q, registry: reg, sessions: sessions, notif: notif, sup: sup}
}

func fastConfig() Config {
	return Config{
		MaxWorkers:     1,
		ScaleThreshold: 100,
		TripThreshold:  5,
		IdleTimeout:    2 * time.Second,
		SessionWait:    200 * time.Millisecond,
		DequeueWait:    20 * time.Millisecond,
		VerifyInterval: time.Hour,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (tp *testPool) waitStatus(t *testing.T, id string, st job.Status) job.Job {
	t.Helper()
	waitFor(t, "job "+id+" to reach "+string(st), func() bool {
		snap, ok := tp.registry.Snapshot(id)
		return ok && snap.Status == st
	})
	snap, _ := tp.registry.Snapshot(id)
	return snap
}

func TestSubmitRunsJobToCompletion(t *testing.T) {
	t.Parallel()
	tp := newTestPool(t, fastConfig())

	snap, err := tp.m.Submit(context.Background(), job.Job{
		ID:       "j1",
		Type:     job.TypeFetchState,
		TargetID: "t-9",
		Priority: job.TypeFetchState.DefaultPriority(),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if snap.Status != job.StatusPending {
		t.Fatalf("submit snapshot status = %s, want pending", snap.Status)
	}

	done := tp.waitStatus(t, "j1", job.StatusCompleted)
	if done.Result["target_id"] != "t-9" {
		t.Fatalf("result = %v", done.Result)
	}
	if done.WorkerID == 0 {
		t.Fatal("completed job has no worker id")
	}
	waitFor(t, "webhook", func() bool { return len(tp.notif.ids()) == 1 })
	if !tp.sessions.Authenticated() {
		t.Fatal("primary run did not mark the session authenticated")
	}
}

func TestSubmitDuplicateRejected(t *testing.T) {
	t.Parallel()
	tp := newTestPool(t, fastConfig())

	if _, err := tp.m.Submit(context.Background(), job.Job{ID: "dup", Type: job.TypeFetchState, Priority: 3}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_, err := tp.m.Submit(context.Background(), job.Job{ID: "dup", Type: job.TypeFetchState, Priority: 3})
	if !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("err = %v, want ErrDuplicateJob", err)
	}
}

func TestSingleWorkerRunsByPriority(t *testing.T) {
	t.Parallel()
	tp := newTestPool(t, fastConfig())
	ctx := context.Background()

	// Occupy the only worker, then queue a read before a mutation. The
	// mutation must still run first.
	if _, err := tp.m.Submit(ctx, job.Job{
		ID:       "busy",
		Type:     job.TypeFetchState,
		Priority: 3,
		Payload:  map[string]any{"sleep_ms": float64(300)},
	}); err != nil {
		t.Fatalf("Submit busy: %v", err)
	}
	waitFor(t, "busy job to start", func() bool {
		snap, _ := tp.registry.Snapshot("busy")
		return snap.Status == job.StatusRunning
	})

	if _, err := tp.m.Submit(ctx, job.Job{ID: "read", Type: job.TypeFetchState, Priority: 3}); err != nil {
		t.Fatalf("Submit read: %v", err)
	}
	if _, err := tp.m.Submit(ctx, job.Job{ID: "mutate", Type: job.TypeApplyChanges, Priority: 1}); err != nil {
		t.Fatalf("Submit mutate: %v", err)
	}

	tp.waitStatus(t, "read", job.StatusCompleted)
	ids := tp.notif.ids()
	if len(ids) != 3 || ids[0] != "busy" || ids[1] != "mutate" || ids[2] != "read" {
		t.Fatalf("completion order = %v, want [busy mutate read]", ids)
	}
}

func TestScaleGrowsToMaxAtThreshold(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()
	cfg.MaxWorkers = 3
	cfg.ScaleThreshold = 2
	tp := newTestPool(t, cfg)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := tp.m.Submit(ctx, job.Job{
			ID:       id,
			Type:     job.TypeFetchState,
			Priority: 3,
			Payload:  map[string]any{"sleep_ms": float64(200)},
		}); err != nil {
			t.Fatalf("Submit %s: %v", id, err)
		}
	}

	waitFor(t, "pool to scale to max", func() bool {
		return len(tp.m.Health().Workers) == 3
	})
	for _, id := range []string{"a", "b", "c"} {
		tp.waitStatus(t, id, job.StatusCompleted)
	}
}

func TestBreakerTripsAndFastFails(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()
	cfg.TripThreshold = 2
	tp := newTestPool(t, cfg)
	ctx := context.Background()

	for _, id := range []string{"f1", "f2"} {
		if _, err := tp.m.Submit(ctx, job.Job{
			ID:       id,
			Type:     job.TypeFetchState,
			Priority: 3,
			Payload:  map[string]any{"fail": true},
		}); err != nil {
			t.Fatalf("Submit %s: %v", id, err)
		}
		tp.waitStatus(t, id, job.StatusFailed)
	}

	waitFor(t, "breaker to trip", func() bool {
		d, _ := tp.m.Disabled()
		return d
	})
	_, err := tp.m.Submit(ctx, job.Job{ID: "after", Type: job.TypeFetchState, Priority: 3})
	if !errors.Is(err, ErrPoolDisabled) {
		t.Fatalf("Submit while disabled = %v, want ErrPoolDisabled", err)
	}
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()
	cfg.TripThreshold = 2
	tp := newTestPool(t, cfg)
	ctx := context.Background()

	if _, err := tp.m.Submit(ctx, job.Job{
		ID: "f1", Type: job.TypeFetchState, Priority: 3,
		Payload: map[string]any{"fail": true},
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	tp.waitStatus(t, "f1", job.StatusFailed)

	if _, err := tp.m.Submit(ctx, job.Job{ID: "ok", Type: job.TypeFetchState, Priority: 3}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	tp.waitStatus(t, "ok", job.StatusCompleted)

	if _, err := tp.m.Submit(ctx, job.Job{
		ID: "f2", Type: job.TypeFetchState, Priority: 3,
		Payload: map[string]any{"fail": true},
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	tp.waitStatus(t, "f2", job.StatusFailed)

	if d, reason := tp.m.Disabled(); d {
		t.Fatalf("breaker tripped across a success: %s", reason)
	}
}

func TestSessionPushClearsBreaker(t *testing.T) {
	t.Parallel()
	tp := newTestPool(t, fastConfig())

	tp.m.disable("primary authentication failed: simulated")
	if d, _ := tp.m.Disabled(); !d {
		t.Fatal("disable did not take")
	}

	tp.m.NotifySessionPushed()
	if d, _ := tp.m.Disabled(); d {
		t.Fatal("session push did not clear the breaker")
	}
	if _, err := tp.m.Submit(context.Background(), job.Job{ID: "j", Type: job.TypeFetchState, Priority: 3}); err != nil {
		t.Fatalf("Submit after push: %v", err)
	}
	tp.waitStatus(t, "j", job.StatusCompleted)
}

func TestWatchdogDrainsQueueWhileDisabled(t *testing.T) {
	t.Parallel()
	tp := newTestPool(t, fastConfig())

	// Queue work directly so no worker is competing for it.
	for _, id := range []string{"q1", "q2"} {
		tp.registry.Add(job.Job{ID: id, Type: job.TypeFetchState, Priority: 3})
		tp.queue.Push(id, 3)
	}
	tp.m.disable("circuit breaker: simulated")

	tp.m.WatchdogCheck()

	for _, id := range []string{"q1", "q2"} {
		snap, _ := tp.registry.Snapshot(id)
		if snap.Status != job.StatusCancelled {
			t.Fatalf("%s status = %s, want cancelled", id, snap.Status)
		}
		if snap.Error == "" {
			t.Fatalf("%s carries no cancellation reason", id)
		}
	}
	if got := len(tp.notif.ids()); got != 2 {
		t.Fatalf("webhooks = %d, want 2", got)
	}
	if tp.queue.Len() != 0 {
		t.Fatal("queue not drained")
	}
}

func TestWatchdogRevivesDeadPrimary(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()
	cfg.IdleTimeout = 50 * time.Millisecond
	tp := newTestPool(t, cfg)
	ctx := context.Background()

	if _, err := tp.m.Submit(ctx, job.Job{ID: "warm", Type: job.TypeFetchState, Priority: 3}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	tp.waitStatus(t, "warm", job.StatusCompleted)

	// Let the worker idle out.
	waitFor(t, "worker to idle out", func() bool {
		return len(tp.m.Health().Workers) == 0
	})

	// Queue work without triggering Submit's own scale-up.
	tp.registry.Add(job.Job{ID: "stuck", Type: job.TypeFetchState, Priority: 3})
	tp.queue.Push("stuck", 3)

	tp.m.WatchdogCheck()
	tp.waitStatus(t, "stuck", job.StatusCompleted)
}

func TestResetCancelsQueuedAndReEnables(t *testing.T) {
	t.Parallel()
	tp := newTestPool(t, fastConfig())

	for _, id := range []string{"q1", "q2"} {
		tp.registry.Add(job.Job{ID: id, Type: job.TypeFetchState, Priority: 3})
		tp.queue.Push(id, 3)
	}
	tp.m.disable("circuit breaker: simulated")

	tp.m.Reset(context.Background(), "test")

	if d, _ := tp.m.Disabled(); d {
		t.Fatal("pool still disabled after reset")
	}
	for _, id := range []string{"q1", "q2"} {
		snap, _ := tp.registry.Snapshot(id)
		if snap.Status != job.StatusCancelled {
			t.Fatalf("%s status = %s, want cancelled", id, snap.Status)
		}
	}

	// Idempotent.
	tp.m.Reset(context.Background(), "test")

	// The pool relaunches lazily on the next submission.
	if _, err := tp.m.Submit(context.Background(), job.Job{ID: "fresh", Type: job.TypeFetchState, Priority: 3}); err != nil {
		t.Fatalf("Submit after reset: %v", err)
	}
	tp.waitStatus(t, "fresh", job.StatusCompleted)
}

func TestResetStopsLiveWorkersWithPills(t *testing.T) {
	t.Parallel()
	tp := newTestPool(t, fastConfig())
	ctx := context.Background()

	if _, err := tp.m.Submit(ctx, job.Job{ID: "warm", Type: job.TypeFetchState, Priority: 3}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	tp.waitStatus(t, "warm", job.StatusCompleted)

	tp.m.Reset(ctx, "test")

	// The old worker consumes its pill and terminates; the health view only
	// tracks the fresh (empty) roster.
	waitFor(t, "pill consumption", func() bool { return tp.queue.Len() == 0 })
	h := tp.m.Health()
	if h.Launched {
		t.Fatal("pool still marked launched after reset")
	}
	if len(h.Workers) != 0 {
		t.Fatalf("workers after reset = %d, want 0", len(h.Workers))
	}
}

func TestCancelPendingJob(t *testing.T) {
	t.Parallel()
	tp := newTestPool(t, fastConfig())
	ctx := context.Background()

	// Hold the single worker busy so the second job stays pending.
	if _, err := tp.m.Submit(ctx, job.Job{
		ID: "busy", Type: job.TypeFetchState, Priority: 3,
		Payload: map[string]any{"sleep_ms": float64(300)},
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := tp.m.Submit(ctx, job.Job{ID: "victim", Type: job.TypeFetchState, Priority: 3}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if !tp.m.Cancel("victim", "operator") {
		t.Fatal("Cancel returned false for a pending job")
	}
	snap, _ := tp.registry.Snapshot("victim")
	if snap.Status != job.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", snap.Status)
	}
	if tp.m.Cancel("victim", "again") {
		t.Fatal("Cancel succeeded twice")
	}

	// The worker skips the cancelled entry and stays healthy.
	tp.waitStatus(t, "busy", job.StatusCompleted)
	if _, err := tp.m.Submit(ctx, job.Job{ID: "next", Type: job.TypeFetchState, Priority: 3}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	tp.waitStatus(t, "next", job.StatusCompleted)
}

func TestWorkerVerifiesSessionBeforeJob(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()
	cfg.VerifyInterval = time.Millisecond
	d := &expirableDriver{}
	tp := newTestPoolWithDriver(t, cfg, d)
	ctx := context.Background()

	// Keep the worker busy so the next job is dequeued back-to-back, with
	// the verification interval long elapsed and the session invalidated
	// mid-flight.
	if _, err := tp.m.Submit(ctx, job.Job{
		ID: "busy", Type: job.TypeFetchState, Priority: 3,
		Payload: map[string]any{"sleep_ms": float64(300)},
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "busy job to start", func() bool {
		snap, _ := tp.registry.Snapshot("busy")
		return snap.Status == job.StatusRunning
	})
	if _, err := tp.m.Submit(ctx, job.Job{ID: "next", Type: job.TypeFetchState, Priority: 3}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	probes := d.probes.Load()
	d.expired.Store(true)

	// The worker must notice the dead session before running the job and
	// re-login rather than executing against it.
	tp.waitStatus(t, "next", job.StatusCompleted)
	if d.probes.Load() == probes {
		t.Fatal("worker never probed the session before executing")
	}
	if got := d.logins.Load(); got != 2 {
		t.Fatalf("interactive logins = %d, want 2 (initial + re-login)", got)
	}
	if d.expired.Load() {
		t.Fatal("session still expired after re-login")
	}
	if dis, _ := tp.m.Disabled(); dis {
		t.Fatal("pool disabled despite successful re-login")
	}
}

func TestReauthExhaustionFailsJobInHand(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()
	cfg.VerifyInterval = time.Millisecond
	d := &expirableDriver{}
	tp := newTestPoolWithDriver(t, cfg, d)
	ctx := context.Background()

	if _, err := tp.m.Submit(ctx, job.Job{
		ID: "busy", Type: job.TypeFetchState, Priority: 3,
		Payload: map[string]any{"sleep_ms": float64(300)},
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "busy job to start", func() bool {
		snap, _ := tp.registry.Snapshot("busy")
		return snap.Status == job.StatusRunning
	})
	if _, err := tp.m.Submit(ctx, job.Job{ID: "doomed", Type: job.TypeFetchState, Priority: 3}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	d.expired.Store(true)
	d.failLogin.Store(true)

	// Pre-execution verification fails, re-login is exhausted, and the job
	// in hand is failed rather than silently dropped or left pending.
	snap := tp.waitStatus(t, "doomed", job.StatusFailed)
	if snap.Error == "" {
		t.Fatal("failed job carries no error")
	}
	waitFor(t, "breaker to open", func() bool {
		dis, _ := tp.m.Disabled()
		return dis
	})
	waitFor(t, "webhooks", func() bool { return len(tp.notif.ids()) == 2 })
}

func TestFailuresOnDifferentWorkersDoNotAggregate(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()
	cfg.MaxWorkers = 2
	cfg.ScaleThreshold = 2
	cfg.TripThreshold = 2
	tp := newTestPool(t, cfg)
	ctx := context.Background()

	// One failure on the primary (kept busy so it cannot take the second
	// job), one on the scaled-up secondary. The streaks must not add up.
	if _, err := tp.m.Submit(ctx, job.Job{
		ID: "slow-fail", Type: job.TypeFetchState, Priority: 3,
		Payload: map[string]any{"sleep_ms": float64(400), "fail": true},
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "slow-fail to start", func() bool {
		snap, _ := tp.registry.Snapshot("slow-fail")
		return snap.Status == job.StatusRunning
	})
	if _, err := tp.m.Submit(ctx, job.Job{
		ID: "quick-fail", Type: job.TypeFetchState, Priority: 3,
		Payload: map[string]any{"fail": true},
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	tp.waitStatus(t, "quick-fail", job.StatusFailed)
	tp.waitStatus(t, "slow-fail", job.StatusFailed)

	if d, reason := tp.m.Disabled(); d {
		t.Fatalf("breaker aggregated failures across workers: %s", reason)
	}
	h := tp.m.Health()
	for _, w := range h.Workers {
		if w.Failures > 1 {
			t.Fatalf("worker %d failure streak = %d, want at most 1", w.ID, w.Failures)
		}
	}
	if h.ConsecutiveFailures > 1 {
		t.Fatalf("health failure streak = %d, want at most 1", h.ConsecutiveFailures)
	}
}

func TestClearQueueKeepsWorkersAndBreaker(t *testing.T) {
	t.Parallel()
	tp := newTestPool(t, fastConfig())
	ctx := context.Background()

	// Hold the single worker busy so the victims stay queued.
	if _, err := tp.m.Submit(ctx, job.Job{
		ID: "busy", Type: job.TypeFetchState, Priority: 3,
		Payload: map[string]any{"sleep_ms": float64(300)},
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "busy job to start", func() bool {
		snap, _ := tp.registry.Snapshot("busy")
		return snap.Status == job.StatusRunning
	})
	for _, id := range []string{"v1", "v2"} {
		if _, err := tp.m.Submit(ctx, job.Job{ID: id, Type: job.TypeFetchState, Priority: 3}); err != nil {
			t.Fatalf("Submit %s: %v", id, err)
		}
	}

	if n := tp.m.ClearQueue(ctx, "test"); n != 2 {
		t.Fatalf("ClearQueue = %d, want 2", n)
	}
	for _, id := range []string{"v1", "v2"} {
		snap, _ := tp.registry.Snapshot(id)
		if snap.Status != job.StatusCancelled {
			t.Fatalf("%s status = %s, want cancelled", id, snap.Status)
		}
	}

	// The running job and the pool itself are untouched.
	tp.waitStatus(t, "busy", job.StatusCompleted)
	if d, _ := tp.m.Disabled(); d {
		t.Fatal("clear queue tripped the breaker")
	}
	if !tp.m.Health().Launched {
		t.Fatal("clear queue tore the pool down")
	}
	if _, err := tp.m.Submit(ctx, job.Job{ID: "after", Type: job.TypeFetchState, Priority: 3}); err != nil {
		t.Fatalf("Submit after clear: %v", err)
	}
	tp.waitStatus(t, "after", job.StatusCompleted)
}

func TestHealthSnapshot(t *testing.T) {
	t.Parallel()
	tp := newTestPool(t, fastConfig())

	h := tp.m.Health()
	if h.Launched || h.Disabled || len(h.Workers) != 0 {
		t.Fatalf("initial health = %+v", h)
	}

	if _, err := tp.m.Submit(context.Background(), job.Job{ID: "j", Type: job.TypeFetchState, Priority: 3}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h = tp.m.Health()
	if !h.Launched {
		t.Fatal("health not marked launched after submit")
	}
	tp.waitStatus(t, "j", job.StatusCompleted)
}
