package tiktok

import (
	"bufio"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// workerProcess owns one running worker subprocess: the exec handle, the
// pipe reader goroutines, and the exit notification.
type workerProcess struct {
	cmd *exec.Cmd
	log *slog.Logger

	// exited receives the process's Wait result exactly once, as soon as
	// the process is reaped.
	exited chan error

	stopOnce sync.Once
}

// launchWorker starts argv[0] in its own process group and wires its stdout
// through onLine, one call per newline-delimited record. Stderr is
// diagnostic-only and is logged at debug level.
func launchWorker(argv []string, onLine func(string), log *slog.Logger) (*workerProcess, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	// Wrapper workers spawn helpers of their own; a dedicated group lets
	// stop signal all of them at once.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, err
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		return nil, err
	}
	// The child holds its own copies of the write ends now.
	outW.Close()
	errW.Close()

	p := &workerProcess{
		cmd:    cmd,
		log:    log,
		exited: make(chan error, 1),
	}

	go func() {
		defer outR.Close()
		scanner := bufio.NewScanner(outR)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			onLine(line)
		}
	}()
	go func() {
		defer errR.Close()
		scanner := bufio.NewScanner(errR)
		for scanner.Scan() {
			p.log.Debug("worker stderr", slog.String("line", scanner.Text()))
		}
	}()

	go func() {
		// The reap alone drives the exit notification. The readers drain on
		// their own: a helper process that inherited a pipe can hold it open
		// past the worker's death, and must not delay the exit signal.
		p.exited <- cmd.Wait()
		close(p.exited)
	}()

	return p, nil
}

func (p *workerProcess) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// stop terminates the worker's process group: SIGTERM first, escalating to
// SIGKILL after the grace period. It returns once the process is reaped.
func (p *workerProcess) stop(grace time.Duration) {
	p.stopOnce.Do(func() {
		p.signal(syscall.SIGTERM)
		select {
		case <-p.exited:
			return
		case <-time.After(grace):
		}
		p.signal(syscall.SIGKILL)
		<-p.exited
	})
}

// signal delivers sig to the whole process group, falling back to the
// direct child when the group is already gone.
func (p *workerProcess) signal(sig syscall.Signal) {
	if p.cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-p.cmd.Process.Pid, sig); err != nil {
		_ = p.cmd.Process.Signal(sig)
	}
}
