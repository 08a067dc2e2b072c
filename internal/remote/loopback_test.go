package remote

import (
	"context"
	"errors"
	"testing"

	"campd/internal/job"
	logx "campd/pkg/logx"
)

func openLoopback(t *testing.T) Driver {
	t.Helper()
	d, err := Open("loopback", nil, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return d
}

func TestOpenDefaultsToLoopback(t *testing.T) {
	t.Parallel()
	d, err := Open("", nil, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if d.Name() != "loopback" {
		t.Fatalf("Name = %s", d.Name())
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open("carrier-pigeon", nil, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpenRejectsBadLatency(t *testing.T) {
	t.Parallel()
	if _, err := Open("loopback", map[string]string{"latency": "soon"}, logx.Nop()); err == nil {
		t.Fatal("expected error for bad latency setting")
	}
}

func TestClientLoginAndRestore(t *testing.T) {
	t.Parallel()
	d := openLoopback(t)
	ctx := context.Background()

	c, err := d.NewClient(ctx)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer c.Close()

	if ok, _ := c.LoggedIn(ctx); ok {
		t.Fatal("fresh client reports logged in")
	}
	if err := c.Restore(ctx, nil); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("Restore(nil) = %v, want ErrNotLoggedIn", err)
	}

	blob, err := c.LoginInteractive(ctx)
	if err != nil || len(blob) == 0 {
		t.Fatalf("LoginInteractive = %q, %v", blob, err)
	}
	if ok, _ := c.LoggedIn(ctx); !ok {
		t.Fatal("not logged in after interactive login")
	}

	// A second client adopts the blob.
	c2, _ := d.NewClient(ctx)
	defer c2.Close()
	if err := c2.Restore(ctx, blob); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if ok, _ := c2.LoggedIn(ctx); !ok {
		t.Fatal("restored client not logged in")
	}
}

func TestClosedClientIsDead(t *testing.T) {
	t.Parallel()
	d := openLoopback(t)
	ctx := context.Background()

	c, _ := d.NewClient(ctx)
	_ = c.Close()

	if c.Alive() {
		t.Fatal("closed client reports alive")
	}
	if _, err := c.LoginInteractive(ctx); !errors.Is(err, ErrClientDead) {
		t.Fatalf("LoginInteractive = %v, want ErrClientDead", err)
	}
	if err := c.Restore(ctx, []byte("x")); !errors.Is(err, ErrClientDead) {
		t.Fatalf("Restore = %v, want ErrClientDead", err)
	}
}

func TestHandlersCoverEveryJobType(t *testing.T) {
	t.Parallel()
	h := openLoopback(t).Handlers()
	for _, typ := range []job.Type{job.TypeFetchState, job.TypeFetchAggregate, job.TypeApplyChanges} {
		if _, ok := h[typ]; !ok {
			t.Fatalf("no handler for %s", typ)
		}
	}
}

func TestHandlerRequiresLogin(t *testing.T) {
	t.Parallel()
	d := openLoopback(t)
	ctx := context.Background()
	c, _ := d.NewClient(ctx)
	defer c.Close()

	h := d.Handlers()[job.TypeFetchState]
	_, err := h(ctx, c, job.Job{ID: "j", Type: job.TypeFetchState}, func(string) {})
	if !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("err = %v, want ErrNotLoggedIn", err)
	}
}

func TestHandlerResultsAndProgress(t *testing.T) {
	t.Parallel()
	d := openLoopback(t)
	ctx := context.Background()
	c, _ := d.NewClient(ctx)
	defer c.Close()
	_, _ = c.LoginInteractive(ctx)

	var lines []string
	progress := func(l string) { lines = append(lines, l) }

	res, err := d.Handlers()[job.TypeApplyChanges](ctx, c, job.Job{
		ID:       "j",
		Type:     job.TypeApplyChanges,
		TargetID: "t-1",
		Payload:  map[string]any{"mode": "fast"},
	}, progress)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	applied, _ := res["applied"].(map[string]any)
	if applied["mode"] != "fast" {
		t.Fatalf("result = %v", res)
	}
	if len(lines) == 0 {
		t.Fatal("no progress lines emitted")
	}
}

func TestHandlerFailKnob(t *testing.T) {
	t.Parallel()
	d := openLoopback(t)
	ctx := context.Background()
	c, _ := d.NewClient(ctx)
	defer c.Close()
	_, _ = c.LoginInteractive(ctx)

	_, err := d.Handlers()[job.TypeFetchState](ctx, c, job.Job{
		ID:      "j",
		Type:    job.TypeFetchState,
		Payload: map[string]any{"fail": true},
	}, func(string) {})
	if err == nil {
		t.Fatal("expected forced failure")
	}
}

func TestNamesIncludesLoopback(t *testing.T) {
	t.Parallel()
	found := false
	for _, n := range Names() {
		if n == "loopback" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Names() = %v", Names())
	}
}
