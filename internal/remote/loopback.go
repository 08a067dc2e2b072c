package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"campd/internal/job"
	logx "campd/pkg/logx"
)

func init() {
	Register("loopback", newLoopback)
}

// loopback is an in-process driver used for development and smoke tests.
// It fabricates sessions and answers every job type locally.
//
// Settings:
//   - "latency": per-operation delay as a Go duration (default none)
//
// Per-job payload knobs:
//   - "fail": any value forces the handler to return an error
//   - "sleep_ms": extra handler delay in milliseconds
type loopback struct {
	latency time.Duration
	log     logx.Logger
}

func newLoopback(settings map[string]string, log logx.Logger) (Driver, error) {
	d := &loopback{log: log}
	if raw := settings["latency"]; raw != "" {
		l, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("loopback latency: %w", err)
		}
		d.latency = l
	}
	return d, nil
}

func (d *loopback) Name() string { return "loopback" }

func (d *loopback) NewClient(ctx context.Context) (Client, error) {
	_ = ctx
	return &loopbackClient{drv: d}, nil
}

func (d *loopback) Handlers() HandlerMap {
	return HandlerMap{
		job.TypeFetchState:     d.handle,
		job.TypeFetchAggregate: d.handle,
		job.TypeApplyChanges:   d.handle,
	}
}

func (d *loopback) handle(ctx context.Context, c Client, j job.Job, progress Progress) (map[string]any, error) {
	lc, ok := c.(*loopbackClient)
	if !ok || !lc.Alive() {
		return nil, ErrClientDead
	}
	if !lc.loggedIn() {
		return nil, ErrNotLoggedIn
	}

	if err := d.pause(ctx, j); err != nil {
		return nil, err
	}

	if _, forced := j.Payload["fail"]; forced {
		return nil, fmt.Errorf("forced failure for %s", j.ID)
	}

	progress(fmt.Sprintf("%s: executing against target %s", j.Type, j.TargetID))

	switch j.Type {
	case job.TypeFetchState:
		return map[string]any{
			"target_id":  j.TargetID,
			"state":      "active",
			"fetched_at": time.Now().Format(time.RFC3339),
		}, nil
	case job.TypeFetchAggregate:
		return map[string]any{
			"targets":      1,
			"collected_at": time.Now().Format(time.RFC3339),
		}, nil
	case job.TypeApplyChanges:
		applied := make(map[string]any, len(j.Payload))
		for k, v := range j.Payload {
			applied[k] = v
		}
		progress("changes applied")
		return map[string]any{
			"target_id": j.TargetID,
			"applied":   applied,
		}, nil
	default:
		return nil, fmt.Errorf("loopback: unsupported job type %q", j.Type)
	}
}

func (d *loopback) pause(ctx context.Context, j job.Job) error {
	wait := d.latency
	if raw, ok := j.Payload["sleep_ms"]; ok {
		if ms, ok := raw.(float64); ok && ms > 0 {
			wait += time.Duration(ms) * time.Millisecond
		}
	}
	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

type loopbackClient struct {
	drv *loopback

	mu     sync.Mutex
	logged bool
	closed bool
}

func (c *loopbackClient) Restore(ctx context.Context, blob []byte) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientDead
	}
	if len(blob) == 0 {
		return ErrNotLoggedIn
	}
	c.logged = true
	return nil
}

func (c *loopbackClient) LoginInteractive(ctx context.Context) ([]byte, error) {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientDead
	}
	c.logged = true
	blob := []byte(fmt.Sprintf("loopback-session-%d", time.Now().UnixNano()))
	return blob, nil
}

func (c *loopbackClient) LoggedIn(ctx context.Context) (bool, error) {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrClientDead
	}
	return c.logged, nil
}

func (c *loopbackClient) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *loopbackClient) loggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logged && !c.closed
}

func (c *loopbackClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.logged = false
	return nil
}
