package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hakim/waverly/internal/models"
	"github.com/hakim/waverly/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resultLine = `{"template-id":"tmpl1","info":{"name":"Check","severity":"low"},"host":"http://a"}`

type stubResolver map[string]string

func (r stubResolver) Resolve(id string) (string, error) {
	path, ok := r[id]
	if !ok {
		return "", fmt.Errorf("no template %q", id)
	}
	return path, nil
}

// fakeHandle mirrors the scripted handle used in the task package tests.
type fakeHandle struct {
	lines  chan string
	done   chan struct{}
	mu     sync.Mutex
	code   int
	finish sync.Once
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{lines: make(chan string, 16), done: make(chan struct{})}
}

func (f *fakeHandle) emit(line string) { f.lines <- line }

func (f *fakeHandle) exit(code int) {
	f.finish.Do(func() {
		f.mu.Lock()
		f.code = code
		f.mu.Unlock()
		close(f.lines)
		close(f.done)
	})
}

func (f *fakeHandle) Lines() <-chan string { return f.lines }
func (f *fakeHandle) Wait() int {
	<-f.done
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code
}
func (f *fakeHandle) Terminate()     { f.exit(-1) }
func (f *fakeHandle) Stderr() string { return "" }

// fakeSpawner hands out one fake handle per Create call, in order, and
// records the argument list of every spawn.
type fakeSpawner struct {
	mu      sync.Mutex
	handles []*fakeHandle
	args    [][]string
}

func (s *fakeSpawner) start(binary string, args []string, dir string) (task.ProcessHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := newFakeHandle()
	s.handles = append(s.handles, h)
	s.args = append(s.args, args)
	return h, nil
}

func (s *fakeSpawner) handle(i int) *fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[i]
}

type memoryArchive struct {
	mu      sync.Mutex
	records []*models.TaskRecord
}

func (a *memoryArchive) SaveTask(record *models.TaskRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, record)
	return nil
}

func newTestScheduler(archive Archiver) (*Scheduler, *fakeSpawner) {
	spawner := &fakeSpawner{}
	resolver := stubResolver{"tmpl1": "/tmp/tmpl1.yaml", "tmpl2": "/tmp/tmpl2.yaml"}

	opts := []Option{
		WithGracePeriod(100 * time.Millisecond),
		WithTaskOptions(task.WithStartFunc(spawner.start)),
	}
	if archive != nil {
		opts = append(opts, WithArchiver(archive))
	}
	return New("nuclei", resolver, opts...), spawner
}

func waitTerminal(t *testing.T, tsk *task.Task) {
	t.Helper()
	select {
	case <-tsk.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not reach a terminal status")
	}
}

func TestCreateRunsTaskToCompletion(t *testing.T) {
	sched, spawner := newTestScheduler(nil)

	tsk, err := sched.Create("scan",
		[]string{"http://a", "http://b"},
		[]string{"tmpl1"},
		models.TaskOptions{Concurrency: 10},
	)
	require.NoError(t, err)

	h := spawner.handle(0)
	h.emit(resultLine)
	h.emit(resultLine)
	h.exit(0)
	waitTerminal(t, tsk)

	snap, err := sched.Get(tsk.ID())
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, snap.Status)
	assert.Equal(t, 2, snap.ResultCount)
}

func TestCreateValidation(t *testing.T) {
	sched, _ := newTestScheduler(nil)

	cases := []struct {
		name      string
		targets   []string
		templates []string
		opts      models.TaskOptions
		field     string
	}{
		{"empty targets", nil, []string{"tmpl1"}, models.TaskOptions{}, "targets"},
		{"whitespace targets", []string{"  ", ""}, []string{"tmpl1"}, models.TaskOptions{}, "targets"},
		{"empty templates", []string{"http://a"}, nil, models.TaskOptions{}, "templates"},
		{"unknown template", []string{"http://a"}, []string{"nope"}, models.TaskOptions{}, "templates"},
		{"negative rate limit", []string{"http://a"}, []string{"tmpl1"}, models.TaskOptions{RateLimit: -1}, "rate_limit"},
		{"negative concurrency", []string{"http://a"}, []string{"tmpl1"}, models.TaskOptions{Concurrency: -5}, "concurrency"},
		{"bad proxy url", []string{"http://a"}, []string{"tmpl1"}, models.TaskOptions{Proxy: "://nope"}, "proxy"},
		{"bad proxy scheme", []string{"http://a"}, []string{"tmpl1"}, models.TaskOptions{Proxy: "ftp://127.0.0.1:21"}, "proxy"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := sched.Create("scan", tc.targets, tc.templates, tc.opts)
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}

	// No task was registered by any failed creation.
	assert.Empty(t, sched.List())
}

func TestCreateDeduplicatesTargets(t *testing.T) {
	sched, spawner := newTestScheduler(nil)

	tsk, err := sched.Create("scan",
		[]string{"http://a", " http://a ", "http://b", "http://a"},
		[]string{"tmpl1"},
		models.TaskOptions{},
	)
	require.NoError(t, err)

	snap := tsk.Snapshot()
	assert.Equal(t, 2, snap.TargetCount)

	spawner.handle(0).exit(0)
	waitTerminal(t, tsk)
}

func TestCreateAppliesExtraArgs(t *testing.T) {
	spawner := &fakeSpawner{}
	resolver := stubResolver{"tmpl1": "/tmp/tmpl1.yaml"}

	sched := New("nuclei", resolver,
		WithExtraArgs([]string{"-duc"}),
		WithTaskOptions(task.WithStartFunc(spawner.start)),
	)

	tsk, err := sched.Create("scan", []string{"http://a"}, []string{"tmpl1"}, models.TaskOptions{})
	require.NoError(t, err)

	spawner.mu.Lock()
	require.Len(t, spawner.args, 1)
	args := spawner.args[0]
	spawner.mu.Unlock()
	assert.Equal(t, "-duc", args[len(args)-1])

	spawner.handle(0).exit(0)
	waitTerminal(t, tsk)
}

func TestGetUnknownTask(t *testing.T) {
	sched, _ := newTestScheduler(nil)

	_, err := sched.Get("no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, sched.Stop("no-such-id"), ErrNotFound)
	assert.ErrorIs(t, sched.Remove("no-such-id"), ErrNotFound)
}

func TestListInsertionOrder(t *testing.T) {
	sched, spawner := newTestScheduler(nil)

	first, err := sched.Create("first", []string{"http://a"}, []string{"tmpl1"}, models.TaskOptions{})
	require.NoError(t, err)
	second, err := sched.Create("second", []string{"http://b"}, []string{"tmpl2"}, models.TaskOptions{})
	require.NoError(t, err)

	snapshots := sched.List()
	require.Len(t, snapshots, 2)
	assert.Equal(t, first.ID(), snapshots[0].ID)
	assert.Equal(t, second.ID(), snapshots[1].ID)

	spawner.handle(0).exit(0)
	spawner.handle(1).exit(0)
	waitTerminal(t, first)
	waitTerminal(t, second)
}

func TestConcurrentTasksAreIsolated(t *testing.T) {
	sched, spawner := newTestScheduler(nil)

	one, err := sched.Create("one", []string{"http://a"}, []string{"tmpl1"}, models.TaskOptions{})
	require.NoError(t, err)
	two, err := sched.Create("two", []string{"http://b"}, []string{"tmpl2"}, models.TaskOptions{})
	require.NoError(t, err)

	spawner.handle(1).emit(resultLine)

	// Stopping one task never changes the other's state or results.
	require.NoError(t, sched.Stop(one.ID()))
	waitTerminal(t, one)

	snapOne, err := sched.Get(one.ID())
	require.NoError(t, err)
	assert.Equal(t, models.StatusStopped, snapOne.Status)

	snapTwo, err := sched.Get(two.ID())
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, snapTwo.Status)

	spawner.handle(1).exit(0)
	waitTerminal(t, two)

	snapTwo, err = sched.Get(two.ID())
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, snapTwo.Status)
	assert.Equal(t, 1, snapTwo.ResultCount)
}

func TestRemoveRequiresTerminalStatus(t *testing.T) {
	sched, spawner := newTestScheduler(nil)

	tsk, err := sched.Create("scan", []string{"http://a"}, []string{"tmpl1"}, models.TaskOptions{})
	require.NoError(t, err)

	// Still running: remove must fail and leave the task registered.
	err = sched.Remove(tsk.ID())
	assert.ErrorIs(t, err, ErrNotTerminal)
	assert.Len(t, sched.List(), 1)

	spawner.handle(0).exit(0)
	waitTerminal(t, tsk)

	require.NoError(t, sched.Remove(tsk.ID()))
	assert.Empty(t, sched.List())

	_, err = sched.Get(tsk.ID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveArchivesRecord(t *testing.T) {
	archive := &memoryArchive{}
	sched, spawner := newTestScheduler(archive)

	tsk, err := sched.Create("scan", []string{"http://a"}, []string{"tmpl1"}, models.TaskOptions{})
	require.NoError(t, err)

	h := spawner.handle(0)
	h.emit(resultLine)
	h.exit(0)
	waitTerminal(t, tsk)

	require.NoError(t, sched.Remove(tsk.ID()))

	archive.mu.Lock()
	defer archive.mu.Unlock()
	require.Len(t, archive.records, 1)
	assert.Equal(t, tsk.ID(), archive.records[0].ID)
	assert.Equal(t, models.StatusCompleted, archive.records[0].Status)
	assert.Len(t, archive.records[0].Findings, 1)
}

func TestStopAll(t *testing.T) {
	sched, _ := newTestScheduler(nil)

	var tasks []*task.Task
	for i := 0; i < 3; i++ {
		tsk, err := sched.Create(fmt.Sprintf("scan-%d", i), []string{"http://a"}, []string{"tmpl1"}, models.TaskOptions{})
		require.NoError(t, err)
		tasks = append(tasks, tsk)
	}

	sched.StopAll()

	for _, tsk := range tasks {
		waitTerminal(t, tsk)
		assert.Equal(t, models.StatusStopped, tsk.Snapshot().Status)
	}
}

func TestSpawnFailureIsRecordedOnTask(t *testing.T) {
	resolver := stubResolver{"tmpl1": "/tmp/tmpl1.yaml"}
	spawnErr := errors.New("executable file not found")

	sched := New("missing-binary", resolver,
		WithTaskOptions(task.WithStartFunc(
			func(string, []string, string) (task.ProcessHandle, error) { return nil, spawnErr },
		)),
	)

	tsk, err := sched.Create("scan", []string{"http://a"}, []string{"tmpl1"}, models.TaskOptions{})
	require.NoError(t, err, "spawn failures surface on the task, not on Create")

	waitTerminal(t, tsk)
	snap := tsk.Snapshot()
	assert.Equal(t, models.StatusFailed, snap.Status)
	assert.Contains(t, snap.LastError, "spawning")
}
