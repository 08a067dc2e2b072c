package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "campd/pkg/logx"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(StoreConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "svc.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(StoreConfig{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestSQLiteRoundtrip(t *testing.T) {
	t.Parallel()
	st := newSQLiteStore(t)
	ctx := context.Background()

	if _, err := st.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load before save = %v, want ErrNotFound", err)
	}

	saved := Session{Blob: []byte("sqlite-session"), SavedAt: time.Now()}
	if err := st.Save(ctx, saved); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got.Blob) != string(saved.Blob) {
		t.Fatalf("Blob = %q", got.Blob)
	}

	// Saves replace, not append.
	if err := st.Save(ctx, Session{Blob: []byte("newer")}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, _ = st.Load(ctx)
	if string(got.Blob) != "newer" {
		t.Fatalf("Blob = %q, want newer", got.Blob)
	}
}

func TestSQLiteAudit(t *testing.T) {
	t.Parallel()
	st := newSQLiteStore(t)
	ctx := context.Background()

	for _, a := range []string{"session.push", "pool.reset", "reauth.trigger"} {
		if err := st.AppendAudit(ctx, AuditEntry{Action: a, Actor: "op"}); err != nil {
			t.Fatalf("AppendAudit(%s): %v", a, err)
		}
	}
}

func TestSQLiteHasNoWatchPath(t *testing.T) {
	t.Parallel()
	if p := newSQLiteStore(t).WatchPath(); p != "" {
		t.Fatalf("WatchPath = %q, want empty", p)
	}
}
