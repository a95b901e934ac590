package scheduler

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hakim/waverly/internal/models"
	"github.com/hakim/waverly/internal/task"
)

// TemplateResolver maps a template identifier to the filesystem path handed
// to the scan binary. The template library itself lives elsewhere.
type TemplateResolver interface {
	Resolve(templateID string) (string, error)
}

// Archiver persists the record of a finished task when it is removed from
// the registry. *storage.Store satisfies it.
type Archiver interface {
	SaveTask(record *models.TaskRecord) error
}

// Scheduler owns the collection of active and historical tasks. All task
// membership changes funnel through it; it never touches a process handle
// directly, only the owning task's methods. Any number of tasks may run
// concurrently; bounding that is the caller's concern.
type Scheduler struct {
	binary    string
	extraArgs []string
	workDir   string
	grace     time.Duration
	resolver  TemplateResolver
	archive   Archiver
	taskOpts  []task.Option

	mu    sync.RWMutex
	tasks map[string]*task.Task
	order []string
}

// Option customises a Scheduler at construction time.
type Option func(*Scheduler)

// WithArchiver enables archiving of removed tasks.
func WithArchiver(a Archiver) Option {
	return func(s *Scheduler) { s.archive = a }
}

// WithWorkDir sets the working directory for spawned scan processes.
func WithWorkDir(dir string) Option {
	return func(s *Scheduler) { s.workDir = dir }
}

// WithExtraArgs appends fixed configuration-supplied arguments to every
// scan invocation.
func WithExtraArgs(args []string) Option {
	return func(s *Scheduler) { s.extraArgs = args }
}

// WithGracePeriod bounds how long Stop waits for process termination.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Scheduler) { s.grace = d }
}

// WithTaskOptions forwards extra options to every task the scheduler
// creates. Used by tests to inject a fake process spawner.
func WithTaskOptions(opts ...task.Option) Option {
	return func(s *Scheduler) { s.taskOpts = opts }
}

// New creates a scheduler that launches the given scan binary and resolves
// template identifiers through resolver.
func New(binary string, resolver TemplateResolver, opts ...Option) *Scheduler {
	s := &Scheduler{
		binary:   binary,
		resolver: resolver,
		tasks:    make(map[string]*task.Task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates the inputs, registers a new pending task and submits it.
// Validation failures are reported before any process is spawned and leave
// the registry unchanged. A spawn failure does not fail Create: the task is
// registered in the failed state with the error recorded, matching the
// no-retry model where the caller inspects the snapshot.
func (s *Scheduler) Create(name string, targets, templates []string, opts models.TaskOptions) (*task.Task, error) {
	cleaned, err := cleanTargets(targets)
	if err != nil {
		return nil, err
	}

	if len(templates) == 0 {
		return nil, &ValidationError{Field: "templates", Reason: "at least one template is required"}
	}

	if err := validateOptions(opts); err != nil {
		return nil, err
	}

	templatePaths := make([]string, 0, len(templates))
	for _, id := range templates {
		path, err := s.resolver.Resolve(id)
		if err != nil {
			return nil, &ValidationError{Field: "templates", Reason: fmt.Sprintf("resolving %q: %v", id, err)}
		}
		templatePaths = append(templatePaths, path)
	}

	meta := models.NewTaskMeta(name, cleaned, templates, opts)

	taskOpts := append([]task.Option{
		task.WithWorkDir(s.workDir),
		task.WithGracePeriod(s.grace),
		task.WithExtraArgs(s.extraArgs),
	}, s.taskOpts...)

	t := task.New(meta, templatePaths, s.binary, taskOpts...)

	s.mu.Lock()
	s.tasks[t.ID()] = t
	s.order = append(s.order, t.ID())
	s.mu.Unlock()

	// Spawn errors are recorded on the task itself; the caller observes
	// them through the snapshot rather than through Create.
	_ = t.Submit()

	return t, nil
}

// Get returns the snapshot of a registered task.
func (s *Scheduler) Get(id string) (models.Snapshot, error) {
	t, err := s.lookup(id)
	if err != nil {
		return models.Snapshot{}, err
	}
	return t.Snapshot(), nil
}

// Task returns the registered task itself, for callers that need findings
// or the done channel in addition to snapshots.
func (s *Scheduler) Task(id string) (*task.Task, error) {
	return s.lookup(id)
}

// Stop delegates cancellation to the owning task.
func (s *Scheduler) Stop(id string) error {
	t, err := s.lookup(id)
	if err != nil {
		return err
	}
	return t.Stop()
}

// List returns snapshots of every registered task in insertion order.
func (s *Scheduler) List() []models.Snapshot {
	s.mu.RLock()
	tasks := make([]*task.Task, 0, len(s.order))
	for _, id := range s.order {
		if t, ok := s.tasks[id]; ok {
			tasks = append(tasks, t)
		}
	}
	s.mu.RUnlock()

	snapshots := make([]models.Snapshot, len(tasks))
	for i, t := range tasks {
		snapshots[i] = t.Snapshot()
	}
	return snapshots
}

// Remove deletes a finished task from the registry, archiving its record
// first when an archiver is configured. Removing a pending or running task
// fails: a live process keeps its tracking record until it is stopped.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !t.Snapshot().Status.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotTerminal, id)
	}

	delete(s.tasks, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if s.archive != nil {
		record := t.Record()
		if err := s.archive.SaveTask(&record); err != nil {
			return fmt.Errorf("archiving task %s: %w", id, err)
		}
	}
	return nil
}

// StopAll requests cancellation of every non-terminal task. Each stop is
// bounded individually; tasks are stopped concurrently so one slow process
// cannot delay the rest.
func (s *Scheduler) StopAll() {
	s.mu.RLock()
	tasks := make([]*task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func(t *task.Task) {
			defer wg.Done()
			_ = t.Stop()
		}(t)
	}
	wg.Wait()
}

func (s *Scheduler) lookup(id string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, nil
}

// cleanTargets trims, drops empties and deduplicates while preserving the
// caller's order.
func cleanTargets(targets []string) ([]string, error) {
	seen := make(map[string]bool, len(targets))
	var cleaned []string
	for _, target := range targets {
		target = strings.TrimSpace(target)
		if target == "" || seen[target] {
			continue
		}
		seen[target] = true
		cleaned = append(cleaned, target)
	}
	if len(cleaned) == 0 {
		return nil, &ValidationError{Field: "targets", Reason: "at least one target is required"}
	}
	return cleaned, nil
}

var proxySchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"socks5": true,
}

func validateOptions(opts models.TaskOptions) error {
	if opts.RateLimit < 0 {
		return &ValidationError{Field: "rate_limit", Reason: "must be a positive integer"}
	}
	if opts.Concurrency < 0 {
		return &ValidationError{Field: "concurrency", Reason: "must be a positive integer"}
	}
	if opts.Proxy != "" {
		u, err := url.Parse(opts.Proxy)
		if err != nil || u.Host == "" {
			return &ValidationError{Field: "proxy", Reason: fmt.Sprintf("not a valid URL: %q", opts.Proxy)}
		}
		if !proxySchemes[u.Scheme] {
			return &ValidationError{Field: "proxy", Reason: fmt.Sprintf("unsupported scheme %q (http, https and socks5 are allowed)", u.Scheme)}
		}
	}
	return nil
}
