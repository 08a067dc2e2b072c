package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"campd/internal/job"
	logx "campd/pkg/logx"
)

type capture struct {
	mu       sync.Mutex
	payloads []Payload
	auths    []string
}

func captureServer(t *testing.T, status int) (*httptest.Server, *capture) {
	t.Helper()
	c := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p Payload
		_ = json.NewDecoder(r.Body).Decode(&p)
		c.mu.Lock()
		c.payloads = append(c.payloads, p)
		c.auths = append(c.auths, r.Header.Get("Authorization"))
		c.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func startService(t *testing.T, cfg Config) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func terminalJob(id string, st job.Status) job.Job {
	now := time.Now()
	j := job.Job{
		ID:          id,
		Type:        job.TypeApplyChanges,
		TargetID:    "t-1",
		Status:      st,
		StartedAt:   now.Add(-2 * time.Second),
		CompletedAt: now,
	}
	switch st {
	case job.StatusCompleted:
		j.Result = map[string]any{"applied": true}
	case job.StatusFailed:
		j.Error = "remote rejected the change"
	case job.StatusCancelled:
		j.Error = "pool reset"
	}
	return j
}

func waitCount(t *testing.T, c *capture, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for c.count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("deliveries = %d, want %d", c.count(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDeliversPayloadWithBearerToken(t *testing.T) {
	t.Parallel()
	srv, c := captureServer(t, http.StatusOK)
	s := startService(t, Config{
		Enabled:      true,
		WebhookURL:   srv.URL,
		WebhookToken: "hook-secret",
		RatePerSec:   100,
	})

	s.JobFinished(terminalJob("j1", job.StatusCompleted))
	waitCount(t, c, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.payloads[0]
	if p.JobID != "j1" || p.TaskType != "apply-changes" || p.Status != "completed" {
		t.Fatalf("payload = %+v", p)
	}
	if p.Result == nil || p.Error != "" {
		t.Fatalf("completed payload carries error/result wrong: %+v", p)
	}
	if p.DurationMS <= 0 || p.FinishedAt == "" {
		t.Fatalf("timing fields missing: %+v", p)
	}
	if c.auths[0] != "Bearer hook-secret" {
		t.Fatalf("Authorization = %q", c.auths[0])
	}
}

func TestFailedJobCarriesErrorNotResult(t *testing.T) {
	t.Parallel()
	srv, c := captureServer(t, http.StatusOK)
	s := startService(t, Config{Enabled: true, WebhookURL: srv.URL, RatePerSec: 100})

	s.JobFinished(terminalJob("j2", job.StatusFailed))
	waitCount(t, c, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.payloads[0]
	if p.Status != "failed" || p.Error == "" || p.Result != nil {
		t.Fatalf("payload = %+v", p)
	}
	if c.auths[0] != "" {
		t.Fatalf("unexpected Authorization header %q without a token", c.auths[0])
	}
}

func TestPerJobCallbackOverridesDefault(t *testing.T) {
	t.Parallel()
	def, defC := captureServer(t, http.StatusOK)
	override, ovC := captureServer(t, http.StatusOK)
	s := startService(t, Config{Enabled: true, WebhookURL: def.URL, RatePerSec: 100})

	j := terminalJob("j3", job.StatusCompleted)
	j.CallbackURL = override.URL
	s.JobFinished(j)

	waitCount(t, ovC, 1)
	if defC.count() != 0 {
		t.Fatal("default webhook also received the delivery")
	}
}

func TestNoURLSkipsSilently(t *testing.T) {
	t.Parallel()
	s := startService(t, Config{Enabled: true, RatePerSec: 100})
	// Nothing to assert beyond "does not block or panic".
	s.JobFinished(terminalJob("j4", job.StatusCompleted))
}

func TestRetriesOnServerError(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		n := hits
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	s := startService(t, Config{
		Enabled:    true,
		WebhookURL: srv.URL,
		RatePerSec: 100,
		RetryMax:   2,
		RetryBase:  5 * time.Millisecond,
	})
	s.JobFinished(terminalJob("j5", job.StatusCompleted))

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := hits
		mu.Unlock()
		if n >= 2 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("hits = %d, want >= 2", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDeliveryFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	srv, c := captureServer(t, http.StatusInternalServerError)
	s := startService(t, Config{
		Enabled:    true,
		WebhookURL: srv.URL,
		RatePerSec: 100,
		RetryMax:   1,
		RetryBase:  time.Millisecond,
	})

	// Must not panic, block, or propagate anywhere.
	s.JobFinished(terminalJob("j6", job.StatusFailed))
	waitCount(t, c, 1)
}

func TestDisabledServiceDropsEverything(t *testing.T) {
	t.Parallel()
	srv, c := captureServer(t, http.StatusOK)
	s := New(Config{Enabled: false, WebhookURL: srv.URL}, logx.Nop(), nil)
	s.Start(context.Background())

	s.JobFinished(terminalJob("j7", job.StatusCompleted))
	time.Sleep(50 * time.Millisecond)
	if c.count() != 0 {
		t.Fatal("disabled notifier delivered a webhook")
	}
}

func TestStopDrainsQueuedDeliveries(t *testing.T) {
	t.Parallel()
	srv, c := captureServer(t, http.StatusOK)
	s := New(Config{Enabled: true, WebhookURL: srv.URL, RatePerSec: 100}, logx.Nop(), nil)
	s.Start(context.Background())

	for i := 0; i < 5; i++ {
		s.JobFinished(terminalJob(string(rune('a'+i)), job.StatusCompleted))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Stop(ctx)

	if c.count() != 5 {
		t.Fatalf("deliveries after stop = %d, want 5", c.count())
	}
}
