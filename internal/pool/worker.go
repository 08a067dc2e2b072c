package pool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"campd/internal/eventbus"
	"campd/internal/job"
	"campd/internal/remote"
	logx "campd/pkg/logx"
)

// errReauthFailed reports that interactive re-authentication ran out of
// attempts. A worker holding a job when this happens fails that job before
// terminating; the pool is already disabled at that point.
var errReauthFailed = errors.New("re-authentication failed")

// worker is one long-lived executor. It owns exactly one remote client for
// its lifetime and recreates it only when the client dies or a session
// refresh fails.
//
// Lifecycle: starting -> authenticating -> idle -> executing -> {idle |
// re-authenticating | terminated}. The primary authenticates from scratch
// when needed; secondaries wait for the primary to publish a session.
type worker struct {
	id      int
	primary bool
	m       *Manager
	log     logx.Logger

	state atomic.Int32

	// consecFails is this worker's own failure streak; its jobs alone feed
	// it, and only its own success clears it. Atomic because Health reads
	// it from outside the worker goroutine.
	consecFails atomic.Int32

	client     remote.Client
	sessionGen uint64
	lastVerify time.Time
}

func newWorker(id int, primary bool, m *Manager) *worker {
	w := &worker{
		id:      id,
		primary: primary,
		m:       m,
		log: m.log.With(
			logx.Int("worker", id),
			logx.Bool("primary", primary),
		),
	}
	w.state.Store(int32(StateStarting))
	return w
}

func (w *worker) State() WorkerState { return WorkerState(w.state.Load()) }

func (w *worker) setState(s WorkerState) { w.state.Store(int32(s)) }

func (w *worker) run(ctx context.Context) {
	w.m.publish(eventbus.EventWorkerStarted, w.id)
	w.log.Info("worker starting")

	defer func() {
		w.setState(StateTerminated)
		if w.client != nil {
			_ = w.client.Close()
			w.client = nil
		}
		w.m.publish(eventbus.EventWorkerStopped, w.id)
		w.log.Info("worker terminated")
	}()

	if !w.openClient(ctx) {
		return
	}
	if !w.acquireSession(ctx) {
		return
	}

	w.setState(StateIdle)
	idleDeadline := time.Now().Add(w.m.cfg.IdleTimeout)

	for {
		if ctx.Err() != nil {
			return
		}

		entry, ok := w.m.queue.Pop(ctx, w.m.cfg.DequeueWait)
		if !ok {
			if time.Now().After(idleDeadline) {
				w.log.Info("worker idle timeout reached")
				return
			}
			if w.keepSessionFresh(ctx) != nil {
				return
			}
			continue
		}

		if entry.Shutdown {
			w.log.Info("worker received shutdown pill")
			return
		}

		idleDeadline = time.Now().Add(w.m.cfg.IdleTimeout)

		// A pushed session or an elapsed verification interval is dealt
		// with before the job leaves pending. Exhausted re-auth fails the
		// job in hand; any other trouble puts it back for another worker.
		if err := w.keepSessionFresh(ctx); err != nil {
			if errors.Is(err, errReauthFailed) {
				if w.m.registry.MarkRunning(entry.JobID, w.id) &&
					w.m.registry.Fail(entry.JobID, err.Error()) {
					w.m.notifyFinished(entry.JobID)
				}
			} else {
				w.m.queue.Push(entry.JobID, entry.Priority())
			}
			return
		}

		if !w.m.registry.MarkRunning(entry.JobID, w.id) {
			// Cancelled (or pruned) while queued.
			continue
		}

		w.execute(ctx, entry.JobID)

		if d, _ := w.m.Disabled(); d {
			return
		}
		w.setState(StateIdle)
	}
}

// openClient creates the worker's remote client.
func (w *worker) openClient(ctx context.Context) bool {
	c, err := w.m.driver.NewClient(ctx)
	if err != nil {
		w.log.Error("remote client creation failed", logx.Err(err))
		if w.primary {
			w.m.disable(fmt.Sprintf("remote client creation failed: %v", err))
		}
		return false
	}
	w.client = c
	return true
}

// reopenClient tears down and recreates the client after a crash or a
// rejected session.
func (w *worker) reopenClient(ctx context.Context) bool {
	if w.client != nil {
		_ = w.client.Close()
		w.client = nil
	}
	return w.openClient(ctx)
}

// acquireSession gets the worker authenticated.
//
// Primary: restore the stored session and verify it; fall back to the
// interactive login with retries. Failure disables the pool (nothing can
// run without a session) and terminates the worker.
//
// Secondary: wait, bounded, for a published session; never logs in itself.
func (w *worker) acquireSession(ctx context.Context) bool {
	w.setState(StateAuthenticating)

	if w.primary {
		return w.authenticatePrimary(ctx)
	}
	return w.adoptSession(ctx)
}

func (w *worker) authenticatePrimary(ctx context.Context) bool {
	sess, gen, have := w.m.sessions.Current()
	if have {
		if err := w.client.Restore(ctx, sess.Blob); err == nil {
			if ok, err := w.client.LoggedIn(ctx); err == nil && ok {
				w.sessionGen = gen
				w.lastVerify = time.Now()
				w.m.sessions.SetAuthenticated(true)
				w.log.Info("stored session verified", logx.Uint64("generation", gen))
				return true
			}
		}
		w.log.Warn("stored session rejected; falling back to interactive login")
	}

	blob, err := w.m.sessions.Authenticate(ctx, w.client.LoginInteractive)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		w.m.disable(fmt.Sprintf("primary authentication failed: %v", err))
		return false
	}
	// LoginInteractive leaves the client logged in; Restore is still called
	// so drivers that separate the two stay correct.
	if err := w.client.Restore(ctx, blob); err != nil {
		w.m.disable(fmt.Sprintf("session restore after login failed: %v", err))
		return false
	}
	w.sessionGen = w.m.sessions.Generation()
	w.lastVerify = time.Now()
	return true
}

func (w *worker) adoptSession(ctx context.Context) bool {
	deadline := time.Now().Add(w.m.cfg.SessionWait)
	for {
		sess, gen, have := w.m.sessions.Current()
		if have {
			if err := w.client.Restore(ctx, sess.Blob); err != nil {
				w.log.Warn("session adoption failed", logx.Err(err))
				return false
			}
			w.sessionGen = gen
			w.lastVerify = time.Now()
			w.log.Info("adopted shared session", logx.Uint64("generation", gen))
			return true
		}
		if time.Now().After(deadline) {
			w.log.Warn("gave up waiting for a shared session")
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// refreshIfPushed re-restores the session when its generation moved
// (operator push or re-auth) since this worker last loaded it.
func (w *worker) refreshIfPushed(ctx context.Context) bool {
	gen := w.m.sessions.Generation()
	if gen == w.sessionGen {
		return true
	}
	sess, gen, have := w.m.sessions.Current()
	if !have {
		return true
	}
	if err := w.client.Restore(ctx, sess.Blob); err != nil {
		w.log.Warn("refreshing pushed session failed; recreating client", logx.Err(err))
		if !w.reopenClient(ctx) {
			return false
		}
		if err := w.client.Restore(ctx, sess.Blob); err != nil {
			w.log.Error("pushed session unusable", logx.Err(err))
			return false
		}
	}
	w.sessionGen = gen
	w.lastVerify = time.Now()
	w.log.Info("picked up pushed session", logx.Uint64("generation", gen))
	return true
}

// keepSessionFresh picks up pushed sessions and, once the verification
// interval has elapsed, probes that the session is still accepted. It runs
// both while idle and before every job. An expired session sends the primary
// through interactive re-login; secondaries terminate and wait for the
// primary to recover. A non-nil return means the worker must terminate;
// errReauthFailed marks the exhausted-re-login case specifically.
func (w *worker) keepSessionFresh(ctx context.Context) error {
	if !w.refreshIfPushed(ctx) {
		return errors.New("pushed session unusable")
	}
	if time.Since(w.lastVerify) < w.m.cfg.VerifyInterval {
		return nil
	}

	ok, err := w.client.LoggedIn(ctx)
	w.lastVerify = time.Now()
	if err == nil && ok {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	w.log.Warn("session no longer valid", logx.Err(err))
	w.m.sessions.SetAuthenticated(false)

	if !w.primary {
		// Secondaries never log in; terminate and let scaling decide
		// whether a replacement is needed once the primary recovers.
		return errors.New("session expired; awaiting primary re-login")
	}

	w.setState(StateReAuthenticating)
	if !w.reopenClient(ctx) {
		return errReauthFailed
	}
	blob, err := w.m.sessions.Authenticate(ctx, w.client.LoginInteractive)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.m.disable(fmt.Sprintf("re-authentication failed: %v", err))
		return errReauthFailed
	}
	if err := w.client.Restore(ctx, blob); err != nil {
		w.m.disable(fmt.Sprintf("session restore after re-login failed: %v", err))
		return errReauthFailed
	}
	w.sessionGen = w.m.sessions.Generation()
	w.lastVerify = time.Now()
	w.setState(StateIdle)
	return nil
}

// execute runs one job through the driver's handler and reports the
// terminal state exactly once. A cancel that raced the execution wins;
// the handler's outcome is then discarded.
func (w *worker) execute(ctx context.Context, id string) {
	snap, ok := w.m.registry.Snapshot(id)
	if !ok {
		return
	}

	w.setState(StateExecuting)
	w.m.publish(eventbus.EventJobStarted, id)
	w.log.Info("job started",
		logx.String("job_id", id),
		logx.String("type", string(snap.Type)),
	)

	progress := func(line string) { w.m.registry.AppendLog(id, line) }

	result, err := w.runHandler(ctx, snap, progress)

	if err != nil {
		if w.m.registry.Fail(id, err.Error()) {
			w.log.Warn("job failed", logx.String("job_id", id), logx.Err(err))
			w.m.notifyFinished(id)
			w.noteFailure()
		}
		return
	}
	if w.m.registry.Complete(id, result) {
		w.log.Info("job completed", logx.String("job_id", id))
		w.m.notifyFinished(id)
		w.consecFails.Store(0)
	}
}

// noteFailure counts one handler failure on this worker and opens the
// breaker when the worker's own streak reaches the trip threshold. The run
// loop sees the disabled pool after the current job and terminates.
func (w *worker) noteFailure() {
	n := int(w.consecFails.Add(1))
	if n >= w.m.cfg.TripThreshold {
		w.m.disable(fmt.Sprintf("circuit breaker: %d consecutive failures on worker %d", n, w.id))
	}
}

// runHandler invokes the handler with panic recovery so a buggy driver
// fails one job instead of killing the worker.
func (w *worker) runHandler(ctx context.Context, j job.Job, progress remote.Progress) (result map[string]any, err error) {
	h, ok := w.m.driver.Handlers()[j.Type]
	if !ok {
		return nil, fmt.Errorf("driver %s has no handler for %s", w.m.driver.Name(), j.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, w.client, j, progress)
}
