// Package queue implements the bounded outbound message queue: a
// FIFO-with-priority buffer drained in batches by a background worker.
// It is the designated back-pressure point of the broadcast path; at
// capacity the oldest undelivered item is shed.
package queue

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shuliangfu/wsmesh/internal/defaults"
)

var log = logrus.WithField("prefix", "queue")

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("message queue closed")

// Item is one deferred delivery. Lower Priority drains earlier within a
// batch; equal priorities keep FIFO order.
type Item struct {
	Priority int
	Do       func() error
}

// Config tunes a Queue. Zero values take defaults.
type Config struct {
	MaxSize         int           // Buffer bound; oldest is shed at capacity.
	BatchSize       int           // Items drained per worker pass.
	ProcessInterval time.Duration // Pause between passes.
	OnError         func(error)   // Delivery failure hook; default logs.
}

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	Enqueued  uint64
	Processed uint64
	Dropped   uint64
	Failed    uint64
	Pending   int
}

// Queue is safe for concurrent enqueue. One background worker owns the
// drain loop from New until Close.
type Queue struct {
	cfg Config

	mu        sync.Mutex // Guards items and counters.
	items     []Item
	closed    bool
	enqueued  uint64
	processed uint64
	dropped   uint64
	failed    uint64

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New builds a queue and starts its worker.
func New(cfg Config) *Queue {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaults.QueueMaxSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.QueueBatchSize
	}
	if cfg.ProcessInterval <= 0 {
		cfg.ProcessInterval = defaults.QueueProcessInterval
	}
	if cfg.OnError == nil {
		cfg.OnError = func(err error) {
			log.WithError(err).Warn("queued delivery failed")
		}
	}
	q := &Queue{
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue buffers one delivery. At capacity the head (oldest) item is
// dropped to admit the new one.
func (q *Queue) Enqueue(priority int, do func() error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if len(q.items) >= q.cfg.MaxSize {
		q.items = q.items[:copy(q.items, q.items[1:])]
		q.dropped++
	}
	q.items = append(q.items, Item{Priority: priority, Do: do})
	q.enqueued++
	return nil
}

// Len returns the number of buffered items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns a snapshot of the counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Enqueued:  q.enqueued,
		Processed: q.processed,
		Dropped:   q.dropped,
		Failed:    q.failed,
		Pending:   len(q.items),
	}
}

// Close stops the worker. Buffered items that have not drained are
// discarded. Close is idempotent and returns once the worker has exited.
func (q *Queue) Close() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.stop)
	})
	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)
	ticker := time.NewTicker(q.cfg.ProcessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.drainBatch()
		}
	}
}

// drainBatch takes up to BatchSize items and delivers them. The batch is
// sorted by priority only when it holds at least two distinct priorities,
// and the sort is stable, so a uniform batch keeps strict FIFO order.
func (q *Queue) drainBatch() {
	batch := q.takeBatch()
	if len(batch) == 0 {
		return
	}
	if mixedPriorities(batch) {
		sort.SliceStable(batch, func(i, j int) bool {
			return batch[i].Priority < batch[j].Priority
		})
	}
	var failed uint64
	for _, it := range batch {
		if err := it.Do(); err != nil {
			failed++
			q.cfg.OnError(err)
		}
	}
	q.mu.Lock()
	q.processed += uint64(len(batch))
	q.failed += failed
	q.mu.Unlock()
}

func (q *Queue) takeBatch() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if n > q.cfg.BatchSize {
		n = q.cfg.BatchSize
	}
	if n == 0 {
		return nil
	}
	batch := make([]Item, n)
	copy(batch, q.items[:n])
	q.items = q.items[:copy(q.items, q.items[n:])]
	return batch
}

func mixedPriorities(batch []Item) bool {
	for i := 1; i < len(batch); i++ {
		if batch[i].Priority != batch[0].Priority {
			return true
		}
	}
	return false
}
