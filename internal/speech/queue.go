package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrAlreadyStarted is returned by Start on a queue whose consumer is
// already running.
var ErrAlreadyStarted = errors.New("queue already started")

// Queue is a bounded FIFO between many producers (the adapters) and one
// consumer goroutine that drives the speech backend. Add never blocks: when
// the queue is full the new item is dropped, because stalling chat
// ingestion is worse than losing a line.
type Queue struct {
	backend  Backend
	log      *slog.Logger
	items    chan Item
	stopWait time.Duration

	accepting atomic.Bool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewQueue builds a queue of the given capacity in front of backend. Items
// may be added before Start; they are spoken once the consumer runs.
func NewQueue(backend Backend, capacity int, log *slog.Logger) *Queue {
	if capacity <= 0 {
		capacity = 50
	}
	q := &Queue{
		backend:  backend,
		log:      log.With(slog.String("component", "speech-queue")),
		items:    make(chan Item, capacity),
		stopWait: 10 * time.Second,
	}
	q.accepting.Store(true)
	return q
}

// Add enqueues an item. It reports false when the queue is full or stopped.
func (q *Queue) Add(item Item) bool {
	if !q.accepting.Load() {
		return false
	}
	select {
	case q.items <- item:
		return true
	default:
		q.log.Warn("queue full, dropping item",
			slog.String("source", item.Source), slog.String("id", item.ID))
		return false
	}
}

// Pending reports how many items are queued but not yet spoken.
func (q *Queue) Pending() int { return len(q.items) }

// Start launches the consumer goroutine. The queue is one-shot: a second
// Start is rejected so only a single consumer ever drains items.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.started = true
	q.cancel = cancel
	q.done = make(chan struct{})
	done := q.done
	q.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-runCtx.Done():
				return
			case item := <-q.items:
				start := time.Now()
				if err := q.backend.Speak(runCtx, item); err != nil {
					if runCtx.Err() != nil {
						return
					}
					// Synthesis failures never abort the consumer.
					q.log.Error("speak failed",
						slog.String("id", item.ID), slog.Any("error", err))
					continue
				}
				q.log.Debug("spoke item",
					slog.String("id", item.ID),
					slog.String("source", item.Source),
					slog.Duration("took", time.Since(start)))
			}
		}
	}()
	q.log.Info("speech queue started", slog.Int("capacity", cap(q.items)))
	return nil
}

// Stop stops accepting work, cancels the consumer, waits for it within a
// bound, and silences any in-progress playback. Safe to call repeatedly.
func (q *Queue) Stop() {
	q.accepting.Store(false)
	q.mu.Lock()
	cancel := q.cancel
	done := q.done
	q.cancel = nil
	q.mu.Unlock()
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-time.After(q.stopWait):
			q.log.Warn("consumer did not stop in time")
		}
	}
	q.backend.Stop()
	q.log.Info("speech queue stopped")
}

// Clear discards all queued, not-yet-spoken items. An in-flight synthesis
// call is left alone.
func (q *Queue) Clear() {
	n := 0
	for {
		select {
		case <-q.items:
			n++
		default:
			if n > 0 {
				q.log.Info("queue cleared", slog.Int("discarded", n))
			}
			return
		}
	}
}
