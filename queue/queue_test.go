package queue

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// collect returns an enqueue helper that records delivery order.
func collect() (func(priority int, label string) (int, func() error), func() []string) {
	var mu sync.Mutex
	var order []string
	mk := func(priority int, label string) (int, func() error) {
		return priority, func() error {
			mu.Lock()
			order = append(order, label)
			mu.Unlock()
			return nil
		}
	}
	snap := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), order...)
	}
	return mk, snap
}

func waitProcessed(t *testing.T, q *Queue, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if q.Stats().Processed >= want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out: stats = %+v, want %d processed", q.Stats(), want)
}

func TestDrainsInFIFOOrder(t *testing.T) {
	mk, snap := collect()
	q := New(Config{MaxSize: 10, BatchSize: 10, ProcessInterval: 20 * time.Millisecond})
	defer q.Close()

	for _, label := range []string{"a", "b", "c"} {
		if err := q.Enqueue(mk(5, label)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	waitProcessed(t, q, 3)
	got := snap()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("order = %v", got)
	}
}

func TestSortsOnlyWithMixedPriorities(t *testing.T) {
	mk, snap := collect()
	q := New(Config{MaxSize: 10, BatchSize: 10, ProcessInterval: 50 * time.Millisecond})
	defer q.Close()

	// Two items at priority 2 and one at 1: the batch sorts, but the
	// equal-priority pair must keep its enqueue order.
	q.Enqueue(mk(2, "second-1"))
	q.Enqueue(mk(2, "second-2"))
	q.Enqueue(mk(1, "first"))

	waitProcessed(t, q, 3)
	got := snap()
	if len(got) != 3 || got[0] != "first" || got[1] != "second-1" || got[2] != "second-2" {
		t.Fatalf("order = %v", got)
	}
}

func TestShedsOldestAtCapacity(t *testing.T) {
	mk, snap := collect()
	q := New(Config{MaxSize: 2, BatchSize: 10, ProcessInterval: 50 * time.Millisecond})
	defer q.Close()

	q.Enqueue(mk(0, "oldest"))
	q.Enqueue(mk(0, "kept"))
	q.Enqueue(mk(0, "newest")) // Pushes "oldest" out.

	waitProcessed(t, q, 2)
	got := snap()
	if len(got) != 2 || got[0] != "kept" || got[1] != "newest" {
		t.Fatalf("order = %v", got)
	}
	if st := q.Stats(); st.Dropped != 1 {
		t.Fatalf("dropped = %d, want 1", st.Dropped)
	}
}

func TestDeliveryFailureIsNonFatal(t *testing.T) {
	var mu sync.Mutex
	var seen []error
	q := New(Config{
		MaxSize:         10,
		BatchSize:       10,
		ProcessInterval: 10 * time.Millisecond,
		OnError: func(err error) {
			mu.Lock()
			seen = append(seen, err)
			mu.Unlock()
		},
	})
	defer q.Close()

	boom := errors.New("boom")
	q.Enqueue(0, func() error { return boom })
	q.Enqueue(0, func() error { return nil })

	waitProcessed(t, q, 2)
	st := q.Stats()
	if st.Failed != 1 {
		t.Fatalf("failed = %d, want 1", st.Failed)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || !errors.Is(seen[0], boom) {
		t.Fatalf("OnError saw %v", seen)
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	q := New(Config{MaxSize: 10})
	q.Close()
	q.Close() // Idempotent.
	if err := q.Enqueue(0, func() error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}

func TestBatchBound(t *testing.T) {
	mk, _ := collect()
	q := New(Config{MaxSize: 100, BatchSize: 4, ProcessInterval: 10 * time.Millisecond})
	defer q.Close()
	for i := 0; i < 10; i++ {
		q.Enqueue(mk(0, "x"))
	}
	waitProcessed(t, q, 10)
	if st := q.Stats(); st.Pending != 0 || st.Processed != 10 {
		t.Fatalf("stats = %+v", st)
	}
}
