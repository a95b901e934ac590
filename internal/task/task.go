package task

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hakim/waverly/internal/models"
	"github.com/hakim/waverly/internal/nuclei"
	"github.com/hakim/waverly/internal/runner"
)

// ErrNotPending is returned by Submit when the task has already been
// submitted or stopped. A task runs at most once.
var ErrNotPending = errors.New("task has already been submitted")

// ProcessHandle is the contract the task requires from a live scan process.
// *runner.Handle satisfies it; tests substitute a scripted fake.
type ProcessHandle interface {
	Lines() <-chan string
	Wait() int
	Terminate()
	Stderr() string
}

// StartFunc spawns the external scan process. It exists so the process layer
// can be replaced in tests; the default wraps runner.Start.
type StartFunc func(binary string, args []string, dir string) (ProcessHandle, error)

func defaultStart(binary string, args []string, dir string) (ProcessHandle, error) {
	return runner.Start(binary, args, dir)
}

// Task is a state machine around one nuclei invocation:
//
//	pending → running → {completed, failed, stopped}
//
// The output-reading goroutine started by Submit is the sole writer of the
// task's findings and of the running→terminal transition; Stop and Snapshot
// only ever read or flip the stop-request flag under the same mutex, so no
// torn state is observable.
type Task struct {
	mu            sync.Mutex
	meta          models.TaskMeta
	findings      []models.Finding
	templatePaths []string

	binary    string
	extraArgs []string
	workDir   string
	grace     time.Duration
	start     StartFunc

	handle        ProcessHandle
	stopRequested bool
	done          chan struct{}
}

// Option customises a Task at construction time.
type Option func(*Task)

// WithStartFunc replaces the process spawner. Used by tests.
func WithStartFunc(start StartFunc) Option {
	return func(t *Task) { t.start = start }
}

// WithWorkDir sets the working directory for the spawned process.
func WithWorkDir(dir string) Option {
	return func(t *Task) { t.workDir = dir }
}

// WithExtraArgs appends fixed arguments (typically from configuration) to
// the end of every invocation's argument list.
func WithExtraArgs(args []string) Option {
	return func(t *Task) { t.extraArgs = args }
}

// WithGracePeriod bounds how long Stop waits for termination confirmation.
func WithGracePeriod(d time.Duration) Option {
	return func(t *Task) {
		if d > 0 {
			t.grace = d
		}
	}
}

// New creates a pending task. templatePaths are the resolved filesystem
// paths handed to nuclei; meta.Templates keeps the caller-facing template
// identifiers. Both are fixed for the lifetime of the task.
func New(meta models.TaskMeta, templatePaths []string, binary string, opts ...Option) *Task {
	t := &Task{
		meta:          meta,
		templatePaths: templatePaths,
		binary:        binary,
		grace:         runner.DefaultGracePeriod,
		start:         defaultStart,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ID returns the task's unique identifier.
func (t *Task) ID() string {
	return t.meta.ID
}

// Submit spawns the scan process and begins consuming its output. It is
// valid only once, from pending. A spawn failure transitions the task
// directly to failed with the error recorded; the error is also returned so
// callers can report it immediately.
func (t *Task) Submit() error {
	t.mu.Lock()

	if t.meta.Status != models.StatusPending {
		status := t.meta.Status
		t.mu.Unlock()
		return fmt.Errorf("%w (status %s)", ErrNotPending, status)
	}

	args := nuclei.BuildArgs(t.meta.Targets, t.templatePaths, t.meta.Options)
	args = append(args, t.extraArgs...)

	handle, err := t.start(t.binary, args, t.workDir)
	if err != nil {
		now := time.Now()
		t.meta.Status = models.StatusFailed
		t.meta.LastError = fmt.Sprintf("spawning %s: %v", t.binary, err)
		t.meta.FinishedAt = &now
		close(t.done)
		t.mu.Unlock()
		return fmt.Errorf("spawning %s: %w", t.binary, err)
	}

	if h, ok := handle.(*runner.Handle); ok {
		h.SetGracePeriod(t.grace)
	}

	now := time.Now()
	t.handle = handle
	t.meta.Status = models.StatusRunning
	t.meta.StartedAt = &now
	t.mu.Unlock()

	go t.consume(handle)
	return nil
}

// consume drains the process output, accumulates findings, then performs the
// single running→terminal transition once end of stream is observed.
func (t *Task) consume(handle ProcessHandle) {
	for line := range handle.Lines() {
		if strings.TrimSpace(line) == "" {
			continue
		}

		finding, ok := nuclei.ParseFinding(line)

		t.mu.Lock()
		if ok {
			t.findings = append(t.findings, finding)
		} else {
			t.meta.MalformedLines++
		}
		t.mu.Unlock()
	}

	exitCode := handle.Wait()

	t.mu.Lock()
	now := time.Now()
	t.meta.FinishedAt = &now
	switch {
	case t.stopRequested:
		t.meta.Status = models.StatusStopped
	case exitCode == 0:
		t.meta.Status = models.StatusCompleted
	default:
		t.meta.Status = models.StatusFailed
		t.meta.LastError = exitError(t.binary, exitCode, handle.Stderr())
	}
	close(t.done)
	t.mu.Unlock()
}

// Stop requests cancellation. From pending it transitions straight to
// stopped without spawning anything. From running it terminates the process
// and waits for the reading goroutine to confirm, bounded by the grace
// period plus a margin. Stop on a task already in a terminal status is a
// no-op; calling it repeatedly is safe.
func (t *Task) Stop() error {
	t.mu.Lock()

	switch {
	case t.meta.Status == models.StatusPending:
		now := time.Now()
		t.meta.Status = models.StatusStopped
		t.meta.FinishedAt = &now
		close(t.done)
		t.mu.Unlock()
		return nil
	case t.meta.Status.Terminal():
		t.mu.Unlock()
		return nil
	}

	t.stopRequested = true
	handle := t.handle
	t.mu.Unlock()

	handle.Terminate()

	// The handle force-kills after the grace period, so the reader is
	// guaranteed to observe end of stream shortly after this deadline.
	select {
	case <-t.done:
	case <-time.After(t.grace + 2*time.Second):
	}
	return nil
}

// Snapshot returns a consistent point-in-time copy of the task's state. It
// never blocks on the scan process.
func (t *Task) Snapshot() models.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return models.Snapshot{
		ID:             t.meta.ID,
		Name:           t.meta.Name,
		Status:         t.meta.Status,
		TargetCount:    len(t.meta.Targets),
		TemplateCount:  len(t.meta.Templates),
		ResultCount:    len(t.findings),
		MalformedLines: t.meta.MalformedLines,
		Elapsed:        t.elapsedLocked(),
		CreatedAt:      t.meta.CreatedAt,
		LastError:      t.meta.LastError,
	}
}

// Findings returns a copy of the findings accumulated so far. Partial
// results remain visible after a failure or stop.
func (t *Task) Findings() []models.Finding {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.Finding, len(t.findings))
	copy(out, t.findings)
	return out
}

// Record returns the archivable form of the task: metadata plus findings.
func (t *Task) Record() models.TaskRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	meta := t.meta
	meta.Targets = append([]string(nil), t.meta.Targets...)
	meta.Templates = append([]string(nil), t.meta.Templates...)

	findings := make([]models.Finding, len(t.findings))
	copy(findings, t.findings)

	return models.TaskRecord{TaskMeta: meta, Findings: findings}
}

// Done is closed once the task reaches a terminal status.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) elapsedLocked() time.Duration {
	if t.meta.StartedAt == nil {
		return 0
	}
	if t.meta.FinishedAt != nil {
		return t.meta.FinishedAt.Sub(*t.meta.StartedAt)
	}
	return time.Since(*t.meta.StartedAt)
}

func exitError(binary string, code int, stderr string) string {
	msg := fmt.Sprintf("%s exited with code %d", binary, code)
	if stderr = strings.TrimSpace(stderr); stderr != "" {
		// Keep the error message single-line and short.
		if idx := strings.IndexByte(stderr, '\n'); idx >= 0 {
			stderr = stderr[:idx]
		}
		msg += ": " + stderr
	}
	return msg
}
