package queue

import (
	"context"
	"testing"
	"time"
)

func TestPopOrdersByPriorityThenArrival(t *testing.T) {
	t.Parallel()
	q := New()
	q.Push("low-a", 3)
	q.Push("high", 1)
	q.Push("low-b", 3)
	q.Push("mid", 2)

	want := []string{"high", "mid", "low-a", "low-b"}
	for _, id := range want {
		e, ok := q.Pop(context.Background(), 10*time.Millisecond)
		if !ok {
			t.Fatalf("Pop returned no entry, want %s", id)
		}
		if e.JobID != id {
			t.Fatalf("Pop = %s, want %s", e.JobID, id)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("Len = %d after draining, want 0", q.Len())
	}
}

func TestShutdownPillJumpsQueue(t *testing.T) {
	t.Parallel()
	q := New()
	q.Push("urgent", 1)
	q.PushShutdown()

	e, ok := q.Pop(context.Background(), 10*time.Millisecond)
	if !ok || !e.Shutdown {
		t.Fatalf("first entry = %+v, want shutdown pill", e)
	}
	e, ok = q.Pop(context.Background(), 10*time.Millisecond)
	if !ok || e.JobID != "urgent" {
		t.Fatalf("second entry = %+v, want urgent job", e)
	}
}

func TestPopTimesOut(t *testing.T) {
	t.Parallel()
	q := New()
	start := time.Now()
	_, ok := q.Pop(context.Background(), 30*time.Millisecond)
	if ok {
		t.Fatal("Pop returned an entry from an empty queue")
	}
	if time.Since(start) < 25*time.Millisecond {
		t.Fatal("Pop returned before the wait elapsed")
	}
}

func TestPopHonorsContextCancel(t *testing.T) {
	t.Parallel()
	q := New()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, ok := q.Pop(ctx, 5*time.Second)
	if ok {
		t.Fatal("Pop returned an entry after cancel")
	}
	if time.Since(start) > time.Second {
		t.Fatal("Pop ignored cancellation")
	}
}

func TestPushWakesBlockedPop(t *testing.T) {
	t.Parallel()
	q := New()
	got := make(chan Entry, 1)
	go func() {
		e, ok := q.Pop(context.Background(), 5*time.Second)
		if ok {
			got <- e
		}
	}()
	time.Sleep(10 * time.Millisecond)
	q.Push("wake", 2)

	select {
	case e := <-got:
		if e.JobID != "wake" {
			t.Fatalf("got %s, want wake", e.JobID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked Pop never woke up")
	}
}

func TestDrainDiscardsPills(t *testing.T) {
	t.Parallel()
	q := New()
	q.Push("a", 2)
	q.PushShutdown()
	q.Push("b", 1)

	ids := q.Drain()
	if len(ids) != 2 || ids[0] != "b" || ids[1] != "a" {
		t.Fatalf("Drain = %v, want [b a]", ids)
	}
	if q.Len() != 0 {
		t.Fatalf("Len = %d after Drain, want 0", q.Len())
	}
}

func TestDrainJobsKeepsPills(t *testing.T) {
	t.Parallel()
	q := New()
	q.Push("a", 2)
	q.PushShutdown()
	q.Push("b", 1)

	ids := q.DrainJobs()
	if len(ids) != 2 || ids[0] != "b" || ids[1] != "a" {
		t.Fatalf("DrainJobs = %v, want [b a]", ids)
	}
	if q.Len() != 1 {
		t.Fatalf("Len = %d after DrainJobs, want the pill left", q.Len())
	}
	e, ok := q.Pop(context.Background(), 10*time.Millisecond)
	if !ok || !e.Shutdown {
		t.Fatalf("remaining entry = %+v, want shutdown pill", e)
	}
}
