package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"campd/internal/eventbus"
	logx "campd/pkg/logx"
)

var (
	// ErrAuthFailed means interactive authentication exhausted its attempts.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrReauthRunning means a background re-login is already in flight.
	ErrReauthRunning = errors.New("re-authentication already running")
)

// LoginFunc performs one interactive login and returns the session blob.
type LoginFunc func(ctx context.Context) ([]byte, error)

// Reauth states reported by Manager.Reauth().
const (
	ReauthIdle    = "idle"
	ReauthRunning = "running"
	ReauthSuccess = "success"
	ReauthFailed  = "failed"
)

type ReauthState struct {
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Manager owns the in-memory session and its durable copy.
//
// The generation counter bumps on every save or push. Workers remember the
// generation they restored and re-restore whenever the counter moves, so a
// pushed session propagates without any consumable global flag.
type Manager struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger

	attempts int
	backoff  time.Duration

	mu   sync.Mutex
	cur  Session
	have bool
	gen  uint64

	authenticated atomic.Bool

	reauthMu sync.Mutex
	reauth   ReauthState
}

type ManagerOption func(*Manager)

func WithLogger(log logx.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

func WithBus(bus eventbus.Bus) ManagerOption {
	return func(m *Manager) { m.bus = bus }
}

// WithAuthRetry overrides interactive login attempts and the fixed backoff
// between them.
func WithAuthRetry(attempts int, backoff time.Duration) ManagerOption {
	return func(m *Manager) {
		if attempts > 0 {
			m.attempts = attempts
		}
		if backoff >= 0 {
			m.backoff = backoff
		}
	}
}

func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		log:      logx.Nop(),
		attempts: 4,
		backoff:  30 * time.Second,
		reauth:   ReauthState{Status: ReauthIdle},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Load pulls the persisted session into memory. A missing session is not an
// error; the primary worker will log in interactively.
func (m *Manager) Load(ctx context.Context) error {
	sess, err := m.store.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	m.mu.Lock()
	m.cur = sess
	m.have = true
	m.gen++
	m.mu.Unlock()

	m.log.Info("session restored from store", logx.Time("saved_at", sess.SavedAt))
	return nil
}

// Current returns the session, its generation, and whether one exists.
func (m *Manager) Current() (Session, uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur, m.gen, m.have
}

func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

func (m *Manager) Authenticated() bool     { return m.authenticated.Load() }
func (m *Manager) SetAuthenticated(v bool) { m.authenticated.Store(v) }

// Save persists a fresh blob and bumps the generation.
func (m *Manager) Save(ctx context.Context, blob []byte) error {
	sess := Session{Blob: blob, SavedAt: time.Now()}
	if err := m.store.Save(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	m.mu.Lock()
	m.cur = sess
	m.have = true
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.publish(eventbus.EventSessionSaved, gen)
	return nil
}

// Push replaces the session with an operator-supplied blob.
// The caller is responsible for re-enabling the pool.
func (m *Manager) Push(ctx context.Context, blob []byte, actor string) error {
	if err := m.Save(ctx, blob); err != nil {
		m.Audit(ctx, "session.push", actor, "", err.Error())
		return err
	}

	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()

	m.Audit(ctx, "session.push", actor, fmt.Sprintf("generation=%d", gen), "")
	m.publish(eventbus.EventSessionPushed, gen)
	m.log.Info("session pushed", logx.Uint64("generation", gen), logx.String("actor", actor))
	return nil
}

// Authenticate runs the interactive login with bounded retries and a fixed
// backoff, persisting the blob on success.
func (m *Manager) Authenticate(ctx context.Context, login LoginFunc) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		blob, err := login(ctx)
		if err == nil {
			if err := m.Save(ctx, blob); err != nil {
				return nil, err
			}
			m.authenticated.Store(true)
			m.log.Info("interactive login succeeded", logx.Int("attempt", attempt))
			return blob, nil
		}
		lastErr = err
		m.log.Warn("interactive login failed",
			logx.Int("attempt", attempt),
			logx.Int("max_attempts", m.attempts),
			logx.Err(err),
		)
		if attempt == m.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.backoff):
		}
	}
	m.authenticated.Store(false)
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrAuthFailed, m.attempts, lastErr)
}

// TriggerReauth starts a background interactive login. Only one may run at
// a time. ctx should be the application context, not a request context.
func (m *Manager) TriggerReauth(ctx context.Context, login LoginFunc) error {
	m.reauthMu.Lock()
	if m.reauth.Status == ReauthRunning {
		m.reauthMu.Unlock()
		return ErrReauthRunning
	}
	m.reauth = ReauthState{Status: ReauthRunning, StartedAt: time.Now()}
	m.reauthMu.Unlock()

	m.publish(eventbus.EventReauthStarted, nil)
	m.Audit(ctx, "reauth.trigger", "", "", "")

	go func() {
		_, err := m.Authenticate(ctx, login)

		m.reauthMu.Lock()
		m.reauth.FinishedAt = time.Now()
		if err != nil {
			m.reauth.Status = ReauthFailed
			m.reauth.Error = err.Error()
		} else {
			m.reauth.Status = ReauthSuccess
			m.reauth.Error = ""
		}
		state := m.reauth
		m.reauthMu.Unlock()

		m.publish(eventbus.EventReauthFinished, state.Status)
		if err != nil {
			m.log.Error("background re-authentication failed", logx.Err(err))
		} else {
			m.log.Info("background re-authentication succeeded")
		}
	}()
	return nil
}

func (m *Manager) Reauth() ReauthState {
	m.reauthMu.Lock()
	defer m.reauthMu.Unlock()
	return m.reauth
}

// Audit appends an operator action to the store, best-effort.
func (m *Manager) Audit(ctx context.Context, action, actor, detail, errStr string) {
	if m.store == nil {
		return
	}
	e := AuditEntry{At: time.Now(), Action: action, Actor: actor, Detail: detail, Error: errStr}
	if err := m.store.AppendAudit(ctx, e); err != nil {
		m.log.Debug("audit append failed", logx.String("action", action), logx.Err(err))
	}
}

func (m *Manager) publish(typ string, data any) {
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

// WatchStore reloads the session when out-of-band tooling replaces the store
// file directly (bypassing the API). No-op for backends without a watchable
// path. Blocks until ctx is done; intended to run under the supervisor.
func (m *Manager) WatchStore(ctx context.Context) error {
	path := m.store.WatchPath()
	if path == "" {
		<-ctx.Done()
		return nil
	}
	dir := filepath.Dir(path)
	file := filepath.Base(path)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			sess, err := m.store.Load(context.Background())
			if err != nil {
				if !errors.Is(err, ErrNotFound) {
					m.log.Warn("session reload failed", logx.Err(err))
				}
				return
			}

			m.mu.Lock()
			// Ignore our own writes: Save already holds the latest copy.
			if m.have && sess.SavedAt.Equal(m.cur.SavedAt) {
				m.mu.Unlock()
				return
			}
			m.cur = sess
			m.have = true
			m.gen++
			gen := m.gen
			m.mu.Unlock()

			m.log.Info("session file replaced externally", logx.Uint64("generation", gen))
			m.publish(eventbus.EventSessionPushed, gen)
		})
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("session watch: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("session watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("session watcher closed")
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) {
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					debounce()
				}
			}
		case werr, ok := <-w.Errors:
			if !ok {
				return errors.New("session watcher closed")
			}
			if werr != nil {
				m.log.Warn("session watch error", logx.Err(werr))
			}
		}
	}
}
