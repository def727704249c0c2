package speech

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// LogBackend "speaks" by logging the rendered text. Used when no synthesis
// command is configured, so messages are still visible even if not audible.
type LogBackend struct {
	log *slog.Logger
}

func NewLogBackend(log *slog.Logger) *LogBackend {
	return &LogBackend{log: log.With(slog.String("component", "speech"))}
}

func (b *LogBackend) Speak(_ context.Context, item Item) error {
	b.log.Info("speak", slog.String("source", item.Source), slog.String("text", item.Text))
	return nil
}

func (b *LogBackend) Stop() {}

// MockBackend records Speak calls for tests. Delay simulates synthesis
// time; an injected error is returned by every Speak call until cleared.
type MockBackend struct {
	Delay time.Duration

	mu       sync.Mutex
	err      error
	spoken   []Item
	stops    int
	inFlight atomic.Int32
	overlap  atomic.Bool
}

func (b *MockBackend) Speak(ctx context.Context, item Item) error {
	if b.inFlight.Add(1) > 1 {
		b.overlap.Store(true)
	}
	defer b.inFlight.Add(-1)

	if b.Delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Delay):
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.spoken = append(b.spoken, item)
	return nil
}

// SetErr injects (or clears) the error returned by Speak.
func (b *MockBackend) SetErr(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

func (b *MockBackend) Stop() {
	b.mu.Lock()
	b.stops++
	b.mu.Unlock()
}

// Spoken returns the items spoken so far, in order.
func (b *MockBackend) Spoken() []Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Item, len(b.spoken))
	copy(out, b.spoken)
	return out
}

// Stops reports how many times Stop was called.
func (b *MockBackend) Stops() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stops
}

// Overlapped reports whether two Speak calls ever ran concurrently.
func (b *MockBackend) Overlapped() bool { return b.overlap.Load() }
