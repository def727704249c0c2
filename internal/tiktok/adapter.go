// Package tiktok ingests TikTok Live chat through an out-of-process worker.
// The platform client library owns its own event loop and cannot safely run
// inside this process, so the adapter launches it as a subprocess and
// consumes newline-delimited JSON events from its standard output.
package tiktok

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/john/chatspeaker/internal/handler"
	"github.com/john/chatspeaker/internal/message"
)

const inboxSize = 256

// workerEvent is one line of the worker's stdout protocol. Unknown fields
// are ignored so the worker implementation can evolve independently.
type workerEvent struct {
	Type     string `json:"type"` // connected | message | disconnected | error
	Username string `json:"username"`
	Message  string `json:"message"` // chat text, or the detail of an "error" event
	UserID   string `json:"user_id"`
}

// Adapter is the isolated-worker chat handler for one TikTok user.
type Adapter struct {
	*handler.Runner

	username string
	argv     []string
	log      *slog.Logger

	startupProbe time.Duration
	restartDelay time.Duration
	killGrace    time.Duration

	// inbox is the bounded transport between the reader goroutine and the
	// run loop. It outlives individual worker processes so a relaunch
	// resumes from wherever the previous process left off.
	inbox chan workerEvent

	proc *workerProcess
}

// New builds an adapter that runs workerCommand with the target username
// appended as the final argument.
func New(username, workerCommand string, log *slog.Logger) (*Adapter, error) {
	username = strings.TrimPrefix(username, "@")
	argv, err := shellwords.Parse(workerCommand)
	if err != nil {
		return nil, fmt.Errorf("parse worker command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("worker command empty")
	}

	a := &Adapter{
		username:     username,
		argv:         append(argv, "@"+username),
		log:          log.With(slog.String("component", "tiktok"), slog.String("username", username)),
		startupProbe: 2 * time.Second,
		restartDelay: 5 * time.Second,
		killGrace:    3 * time.Second,
		inbox:        make(chan workerEvent, inboxSize),
	}
	a.Runner = handler.NewRunner(message.PlatformTikTok, log, handler.Hooks{
		Connect:    a.connect,
		Run:        a.run,
		Disconnect: a.disconnect,
	})
	return a, nil
}

// connect launches the worker and waits briefly to catch immediate exits,
// which indicate a fatal local error rather than a transient one.
func (a *Adapter) connect(ctx context.Context) error {
	proc, err := launchWorker(a.argv, a.handleLine, a.log)
	if err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	select {
	case err := <-proc.exited:
		proc.stop(a.killGrace)
		return fmt.Errorf("worker exited immediately: %v", err)
	case <-ctx.Done():
		proc.stop(a.killGrace)
		return ctx.Err()
	case <-time.After(a.startupProbe):
	}

	a.proc = proc
	a.log.Info("worker started", slog.Int("pid", proc.pid()))
	return nil
}

func (a *Adapter) disconnect() {
	if a.proc != nil {
		a.proc.stop(a.killGrace)
		a.proc = nil
	}
}

// handleLine is the reader goroutine's per-line hook. It forwards message
// events into the bounded inbox and treats everything unparseable as
// diagnostic noise.
func (a *Adapter) handleLine(line string) {
	var ev workerEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		if strings.Contains(strings.ToLower(line), "not live") {
			a.log.Warn("user is not currently live")
		} else {
			a.log.Debug("worker output", slog.String("line", line))
		}
		return
	}

	switch ev.Type {
	case "message":
		select {
		case a.inbox <- ev:
		default:
			a.log.Warn("worker inbox full, dropping message")
		}
	case "connected":
		a.log.Info("worker connected to live chat")
	case "disconnected":
		a.log.Info("worker disconnected from live chat")
	case "error":
		a.log.Error("worker reported error", slog.String("detail", ev.Message))
	default:
		// Versionless tolerance: unknown event types are skipped.
		a.log.Debug("unknown worker event", slog.String("type", ev.Type))
	}
}

func (a *Adapter) run(ctx context.Context) error {
	for {
		proc := a.proc
		if proc == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev := <-a.inbox:
			msg := message.New(message.PlatformTikTok, ev.Username, ev.Message)
			msg.UserID = ev.UserID
			if msg.Username == "" {
				msg.Username = "Unknown"
			}
			if msg.Text == "" {
				continue
			}
			a.Emit(msg)

		case err := <-proc.exited:
			a.log.Warn("worker exited unexpectedly, relaunching", slog.Any("error", err))
			a.SetState(handler.StateReconnecting)
			a.proc = nil
			if !handler.Sleep(ctx, a.restartDelay) {
				return ctx.Err()
			}
			next, lerr := launchWorker(a.argv, a.handleLine, a.log)
			if lerr != nil {
				a.log.Error("worker relaunch failed, ending chat loop", slog.Any("error", lerr))
				return nil
			}
			a.proc = next
			a.SetState(handler.StateRunning)
			a.log.Info("worker relaunched", slog.Int("pid", next.pid()))
		}
	}
}
