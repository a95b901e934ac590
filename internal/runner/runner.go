package runner

import (
	"bufio"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// DefaultGracePeriod is how long Terminate waits between SIGTERM and SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// stderrLimit caps how much stderr is retained for diagnostics.
const stderrLimit = 16 * 1024

// Handle represents one live external process plus its line-oriented stdout
// stream. A Handle is owned by exactly one task; its resources are released
// exactly once, on natural exit or on Terminate.
type Handle struct {
	cmd   *exec.Cmd
	lines chan string
	done  chan struct{}
	grace time.Duration

	terminate sync.Once

	mu       sync.Mutex
	exitCode int
	stderr   []byte
}

// Start launches the binary with the given arguments and working directory
// and begins streaming its stdout. It fails when the binary does not exist,
// is not executable, or the OS refuses to create the process. On success the
// caller must either drain Lines and call Wait, or call Terminate, so the
// process is always reaped.
func Start(binary string, args []string, dir string) (*Handle, error) {
	cmd := exec.Command(binary, args...)
	cmd.Dir = dir
	// Own process group, so Terminate can signal the whole tree. A child
	// left behind by the scan binary would otherwise hold the stdout pipe
	// open and stall end-of-stream detection.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", binary, err)
	}

	h := &Handle{
		cmd:      cmd,
		lines:    make(chan string, 64),
		done:     make(chan struct{}),
		grace:    DefaultGracePeriod,
		exitCode: -1,
	}

	// Read stderr concurrently with stdout to prevent pipe deadlocks.
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderrPipe)
		for scanner.Scan() {
			h.mu.Lock()
			if len(h.stderr) < stderrLimit {
				h.stderr = append(h.stderr, scanner.Bytes()...)
				h.stderr = append(h.stderr, '\n')
			}
			h.mu.Unlock()
		}
	}()

	go func() {
		scanner := bufio.NewScanner(stdoutPipe)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			h.lines <- scanner.Text()
		}
		<-stderrDone

		err := cmd.Wait()
		h.mu.Lock()
		if cmd.ProcessState != nil {
			h.exitCode = cmd.ProcessState.ExitCode()
		} else if err != nil {
			h.exitCode = -1
		}
		h.mu.Unlock()

		close(h.lines)
		close(h.done)
	}()

	return h, nil
}

// Lines returns the stdout stream, one complete line per receive. The channel
// is closed once the process has closed stdout and exited; after that Wait
// returns immediately.
func (h *Handle) Lines() <-chan string {
	return h.lines
}

// Wait blocks until the process has exited and the stream is drained, then
// returns the exit code. -1 means the process was killed by a signal.
func (h *Handle) Wait() int {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Stderr returns the captured stderr output, truncated to a fixed limit.
func (h *Handle) Stderr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return string(h.stderr)
}

// Terminate requests process termination: SIGTERM first, then SIGKILL once
// the grace period elapses without the process exiting. It is idempotent and
// a no-op on an already-exited process.
func (h *Handle) Terminate() {
	h.terminate.Do(func() {
		select {
		case <-h.done:
			return
		default:
		}

		pgid := h.cmd.Process.Pid
		_ = syscall.Kill(-pgid, syscall.SIGTERM)

		go func() {
			select {
			case <-h.done:
			case <-time.After(h.grace):
				// Still alive after the grace period: force-kill the group.
				_ = syscall.Kill(-pgid, syscall.SIGKILL)
			}
		}()
	})
}

// GracePeriod reports how long Terminate waits before escalating to SIGKILL.
func (h *Handle) GracePeriod() time.Duration {
	return h.grace
}

// SetGracePeriod adjusts the SIGTERM-to-SIGKILL delay. It has no effect once
// Terminate has been called.
func (h *Handle) SetGracePeriod(d time.Duration) {
	if d > 0 {
		h.grace = d
	}
}
