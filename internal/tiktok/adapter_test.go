package tiktok

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/john/chatspeaker/internal/message"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAdapter(t *testing.T, workerScript string) (*Adapter, chan message.ChatMessage) {
	a, err := New("someuser", "sh "+writeScript(t, workerScript), testLogger())
	require.NoError(t, err)
	a.startupProbe = 50 * time.Millisecond
	a.restartDelay = 50 * time.Millisecond
	a.killGrace = time.Second

	msgs := make(chan message.ChatMessage, 32)
	a.SetCallback(func(m message.ChatMessage) error {
		msgs <- m
		return nil
	})
	return a, msgs
}

// writeScript stores the worker body in a file so its quoting survives the
// command-line split.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func collect(t *testing.T, msgs chan message.ChatMessage, n int) []message.ChatMessage {
	var out []message.ChatMessage
	deadline := time.After(10 * time.Second)
	for len(out) < n {
		select {
		case m := <-msgs:
			out = append(out, m)
		case <-deadline:
			t.Fatalf("timed out waiting for %d messages, got %d", n, len(out))
		}
	}
	return out
}

func TestWorkerMessagesReachCallback(t *testing.T) {
	script := `printf '{"type":"connected"}\n' ;` +
		`printf '{"type":"message","username":"alice","message":"hi there","user_id":"u1"}\n' ;` +
		`sleep 60`
	a, msgs := newTestAdapter(t, script)
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	got := collect(t, msgs, 1)
	assert.Equal(t, message.PlatformTikTok, got[0].Platform)
	assert.Equal(t, "alice", got[0].Username)
	assert.Equal(t, "hi there", got[0].Text)
	assert.Equal(t, "u1", got[0].UserID)
	assert.False(t, got[0].IsModerator)
	assert.False(t, got[0].IsSubscriber)
}

func TestWorkerNoiseAndUnknownEventsIgnored(t *testing.T) {
	script := `printf 'some stray log line\n' ;` +
		`printf '{"type":"viewer_count","count":3}\n' ;` +
		`printf '{"type":"message","username":"bob","message":"only me"}\n' ;` +
		`sleep 60`
	a, msgs := newTestAdapter(t, script)
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	got := collect(t, msgs, 1)
	assert.Equal(t, "only me", got[0].Text)

	select {
	case m := <-msgs:
		t.Fatalf("noise line produced a message: %+v", m)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWorkerRelaunchedAfterExit(t *testing.T) {
	// First launch emits two messages and exits; the relaunched worker
	// (marker file present) emits the third and stays up. The adapter must
	// resume without replaying the first two.
	marker := filepath.Join(t.TempDir(), "relaunched")
	script := fmt.Sprintf(`if [ -f %s ]; then `+
		`printf '{"type":"message","username":"a","message":"three"}\n' ; sleep 60 ; `+
		`else touch %s ; `+
		`printf '{"type":"message","username":"a","message":"one"}\n' ; `+
		`printf '{"type":"message","username":"a","message":"two"}\n' ; `+
		`sleep 0.3 ; fi`, marker, marker)

	a, msgs := newTestAdapter(t, script)
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	got := collect(t, msgs, 3)
	assert.Equal(t, "one", got[0].Text)
	assert.Equal(t, "two", got[1].Text)
	assert.Equal(t, "three", got[2].Text)

	select {
	case m := <-msgs:
		t.Fatalf("duplicate message after relaunch: %+v", m)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestShortLivedWorkerKeepsAdapterAlive(t *testing.T) {
	// A worker that keeps dying is relaunched rather than tearing the
	// adapter down; only a failed launch ends the loop.
	script := `sleep 0.2`
	a, _ := newTestAdapter(t, script)
	require.NoError(t, a.Start(context.Background()))

	time.Sleep(100 * time.Millisecond)
	a.Stop()
}

func TestConnectFailsWhenWorkerExitsImmediately(t *testing.T) {
	a, _ := newTestAdapter(t, "exit 3")
	err := a.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker exited immediately")
}

func TestStopTerminatesWorkerPromptly(t *testing.T) {
	a, _ := newTestAdapter(t, `printf '{"type":"connected"}\n' ; sleep 60`)
	require.NoError(t, a.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		a.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not terminate the worker in time")
	}
}

func TestStopKillsWorkerHelpers(t *testing.T) {
	// The worker spawns a helper that inherits the stdout pipe and would
	// outlive a kill of the direct child alone. Stop signals the whole
	// process group and must not wait on the pipe draining.
	script := `printf '{"type":"connected"}\n' ; sleep 60 & wait`
	a, _ := newTestAdapter(t, script)
	require.NoError(t, a.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		a.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop hung on the worker's helper process")
	}
}

func TestHandleLineClassification(t *testing.T) {
	a, err := New("someuser", "true", testLogger())
	require.NoError(t, err)

	a.handleLine(`{"type":"message","username":"x","message":"kept"}`)
	a.handleLine(`{"type":"error","message":"boom"}`)
	a.handleLine(`user is not live right now`)
	a.handleLine(`garbage that is not json`)

	require.Len(t, a.inbox, 1)
	ev := <-a.inbox
	assert.Equal(t, "kept", ev.Message)
}
