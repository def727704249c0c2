package speech

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	shellwords "github.com/mattn/go-shellwords"
)

// ExecBackend speaks by piping the rendered text to an external synthesis
// command's stdin and waiting for it to exit, which is when playback is
// done. Any local or piped TTS tool works: espeak-ng, piper piped into a
// player, say, a cloud-rendering wrapper script.
type ExecBackend struct {
	argv []string

	mu      sync.Mutex
	current *exec.Cmd
}

// NewExecBackend parses command shell-style into the argv to run per item.
func NewExecBackend(command string) (*ExecBackend, error) {
	argv, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse speech command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("speech command empty")
	}
	return &ExecBackend{argv: argv}, nil
}

// Speak runs the synthesis command to completion with the item text on
// stdin. Exactly one command runs at a time; the queue guarantees callers
// do not overlap.
func (b *ExecBackend) Speak(ctx context.Context, item Item) error {
	cmd := exec.CommandContext(ctx, b.argv[0], b.argv[1:]...)
	cmd.Stdin = strings.NewReader(item.Text + "\n")

	b.mu.Lock()
	b.current = cmd
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.current = nil
		b.mu.Unlock()
	}()

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("synthesis command: %w", err)
	}
	return nil
}

// Stop kills any in-flight synthesis command. Idempotent.
func (b *ExecBackend) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current != nil && b.current.Process != nil {
		_ = b.current.Process.Kill()
	}
}
