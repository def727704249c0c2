// Package speech serializes concurrently produced speech items into one
// ordered stream consumed by a single synthesis call at a time.
package speech

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Item is one unit of speech work: the text actually sent to synthesis plus
// bookkeeping for logs.
type Item struct {
	ID         string // correlation tag for logs
	Text       string // rendered text handed to the backend
	Source     string // originating platform, for logging only
	EnqueuedAt time.Time
}

// NewItem builds an Item tagged with a fresh id.
func NewItem(text, source string) Item {
	return Item{
		ID:         uuid.NewString(),
		Text:       text,
		Source:     source,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Backend turns text into audible output. Speak blocks until audio has
// fully played (or fails); Stop interrupts any in-progress playback and is
// idempotent.
type Backend interface {
	Speak(ctx context.Context, item Item) error
	Stop()
}
