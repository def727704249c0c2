// Package handler defines the uniform lifecycle every platform adapter
// implements, so the orchestrator can treat all platforms identically.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/john/chatspeaker/internal/message"
)

// State is the lifecycle phase of a handler.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateRunning
	StateReconnecting
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateReconnecting:
		return "reconnecting"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Callback receives each parsed chat message, in the order the adapter
// observed it. Errors returned by the callback are logged by the runner and
// never terminate the adapter's run loop.
type Callback func(msg message.ChatMessage) error

// Handler is the contract every platform adapter satisfies.
type Handler interface {
	Platform() message.Platform
	// SetCallback installs the message sink. Set-once-before-start: calls
	// after Start are ignored.
	SetCallback(cb Callback)
	// Start acquires a session and spawns the receive loop. On failure no
	// resources remain held and the handler stays idle.
	Start(ctx context.Context) error
	// Stop cancels the run loop, waits for it to observe cancellation, then
	// releases session resources. Safe to call repeatedly and from any
	// goroutine, including before Start.
	Stop()
	State() State
}

// ErrAlreadyStarted is returned by Start on a handler that is not idle.
var ErrAlreadyStarted = errors.New("handler already started")

// Hooks are the protocol-specific pieces an adapter plugs into a Runner.
type Hooks struct {
	// Connect acquires session state. Implementations must close any
	// partially opened socket/process before returning an error.
	Connect func(ctx context.Context) error
	// Run is the receive loop. It returns when ctx is cancelled or the
	// session is gone for good, and must observe cancellation within seconds.
	Run func(ctx context.Context) error
	// Disconnect releases session resources. Must be idempotent.
	Disconnect func()
}

// Runner implements the shared Start/Stop state machine. Adapters embed a
// *Runner and supply their protocol behavior through Hooks; this keeps the
// lifecycle glue in one place without inheritance.
type Runner struct {
	platform message.Platform
	log      *slog.Logger
	hooks    Hooks

	// stopWait bounds how long Stop waits for the run loop to exit.
	stopWait time.Duration

	mu      sync.Mutex
	state   State
	cb      Callback
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	// stopped is closed once Stop has fully completed, so concurrent Stop
	// callers all return with the handler actually stopped.
	stopped chan struct{}
}

// NewRunner builds the lifecycle runner for one adapter.
func NewRunner(platform message.Platform, log *slog.Logger, hooks Hooks) *Runner {
	return &Runner{
		platform: platform,
		log:      log.With(slog.String("platform", string(platform))),
		hooks:    hooks,
		stopWait: 10 * time.Second,
		state:    StateIdle,
	}
}

func (r *Runner) Platform() message.Platform { return r.platform }

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SetCallback installs the message sink. Ignored after Start.
func (r *Runner) SetCallback(cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		r.log.Warn("callback set after start ignored")
		return
	}
	r.cb = cb
}

// Emit delivers one message to the installed callback. Callback failures are
// logged and swallowed so they cannot take down the run loop.
func (r *Runner) Emit(msg message.ChatMessage) {
	r.mu.Lock()
	cb := r.cb
	r.mu.Unlock()
	if cb == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("message callback panicked", slog.Any("panic", rec))
		}
	}()
	if err := cb(msg); err != nil {
		r.log.Error("message callback failed", slog.Any("error", err))
	}
}

// SetState records a lifecycle transition driven from inside a run loop,
// such as RUNNING -> RECONNECTING during a transport outage.
func (r *Runner) SetState(s State) {
	r.mu.Lock()
	prev := r.state
	// A run loop still unwinding after Stop began must not resurrect the
	// handler's externally visible state.
	if prev == StateStopping || prev == StateIdle {
		r.mu.Unlock()
		return
	}
	r.state = s
	r.mu.Unlock()
	if prev != s {
		r.log.Debug("handler state changed",
			slog.String("from", prev.String()), slog.String("to", s.String()))
	}
}

// Start transitions IDLE -> CONNECTING, runs the connect hook, and on
// success spawns the run loop and transitions to RUNNING. On failure the
// handler remains idle and the error is returned.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateIdle || r.started {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.state = StateConnecting
	r.started = true
	r.mu.Unlock()

	if err := r.hooks.Connect(ctx); err != nil {
		r.mu.Lock()
		r.state = StateIdle
		r.started = false
		r.mu.Unlock()
		r.log.Error("connect failed", slog.Any("error", err))
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.mu.Lock()
	r.state = StateRunning
	r.cancel = cancel
	r.done = done
	r.stopped = make(chan struct{})
	r.mu.Unlock()

	r.log.Info("handler started")

	go func() {
		defer close(done)
		if err := r.hooks.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Error("run loop ended with error", slog.Any("error", err))
		}
		// A loop that returns on its own (stream ended, session gone) leaves
		// the handler idle; the orchestrator observes this via State.
		r.mu.Lock()
		if r.state != StateStopping {
			r.state = StateIdle
		}
		r.mu.Unlock()
	}()

	return nil
}

// Stop requests cancellation of the run loop, waits for it within a bound,
// then disconnects. A Stop before a successful Start is a no-op.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	stopped := r.stopped
	if cancel == nil {
		r.mu.Unlock()
		// Either never started (nothing to release) or another Stop owns
		// the teardown; wait for it so a return means fully stopped.
		if stopped != nil {
			<-stopped
		}
		return
	}
	r.state = StateStopping
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(r.stopWait):
		r.log.Warn("run loop did not stop in time", slog.Duration("waited", r.stopWait))
	}

	r.hooks.Disconnect()

	r.mu.Lock()
	r.state = StateIdle
	r.mu.Unlock()
	close(stopped)
	r.log.Info("handler stopped")
}

// Sleep waits for d or until ctx is cancelled, whichever comes first. It
// returns false if the context ended, so run loops can bail out promptly
// from backoff delays.
func Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
