package queue

import (
	"container/heap"
	"context"
	"math"
	"sync"
	"time"
)

// Entry is what workers pull off the queue. Exactly one of the two variants
// is set:
//   - a job reference (JobID non-empty)
//   - a shutdown pill (Shutdown true), used to stop one worker
//
// Pills carry the lowest possible priority value so they jump ahead of all
// queued work.
type Entry struct {
	Shutdown bool
	JobID    string

	priority int
	seq      uint64
}

// Priority of this entry as enqueued. Pills report math.MinInt.
func (e Entry) Priority() int { return e.priority }

// Queue is a blocking priority queue ordered by (priority, arrival).
// Lower priority values dequeue first; ties dequeue in FIFO order.
//
// There is deliberately no aging: priorities express operator intent and
// queues here stay short (jobs run for minutes, not microseconds).
type Queue struct {
	mu    sync.Mutex
	items entryHeap
	seq   uint64

	// notify wakes at most one blocked Dequeue per push. A woken worker that
	// finds more items re-signals, so a burst of pushes never strands items.
	notify chan struct{}
}

func New() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push enqueues a job reference.
func (q *Queue) Push(jobID string, priority int) {
	q.push(Entry{JobID: jobID, priority: priority})
}

// PushShutdown enqueues one poison pill. It sorts ahead of every job so the
// receiving worker stops promptly even with a deep backlog.
func (q *Queue) PushShutdown() {
	q.push(Entry{Shutdown: true, priority: math.MinInt})
}

func (q *Queue) push(e Entry) {
	q.mu.Lock()
	q.seq++
	e.seq = q.seq
	heap.Push(&q.items, e)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop blocks until an entry is available, the wait elapses, or ctx is done.
// The second return is false on timeout/cancellation.
func (q *Queue) Pop(ctx context.Context, wait time.Duration) (Entry, bool) {
	deadline := time.Now().Add(wait)
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			e := heap.Pop(&q.items).(Entry)
			more := q.items.Len() > 0
			q.mu.Unlock()
			if more {
				// Hand the wakeup on to the next blocked worker.
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			return e, true
		}
		q.mu.Unlock()

		remain := time.Until(deadline)
		if remain <= 0 {
			return Entry{}, false
		}
		t := time.NewTimer(remain)
		select {
		case <-ctx.Done():
			t.Stop()
			return Entry{}, false
		case <-t.C:
			return Entry{}, false
		case <-q.notify:
			t.Stop()
			// Loop and race for the item.
		}
	}
}

// Drain removes everything queued and returns the job IDs in dequeue order.
// Pills are discarded, not returned.
func (q *Queue) Drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var ids []string
	for q.items.Len() > 0 {
		e := heap.Pop(&q.items).(Entry)
		if !e.Shutdown {
			ids = append(ids, e.JobID)
		}
	}
	return ids
}

// DrainJobs removes every queued job reference but leaves shutdown pills in
// place, so a pending worker stop is not swallowed by a queue clear.
// Returns the removed job IDs in dequeue order.
func (q *Queue) DrainJobs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var ids []string
	var pills []Entry
	for q.items.Len() > 0 {
		e := heap.Pop(&q.items).(Entry)
		if e.Shutdown {
			pills = append(pills, e)
			continue
		}
		ids = append(ids, e.JobID)
	}
	for _, e := range pills {
		heap.Push(&q.items, e)
	}
	return ids
}

// Len reports how many entries (jobs and pills) are queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// ---- heap internals ----

type entryHeap []Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(Entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
