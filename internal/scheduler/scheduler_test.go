package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"docsentry/internal/service"
	"docsentry/pkg/config"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
	tick  chan string
}

func newFakeRunner(err error) *fakeRunner {
	return &fakeRunner{
		calls: make(map[string]int),
		err:   err,
		tick:  make(chan string, 64),
	}
}

func (f *fakeRunner) record(job string) (service.Stats, error) {
	f.mu.Lock()
	f.calls[job]++
	f.mu.Unlock()
	select {
	case f.tick <- job:
	default:
	}
	return service.Stats{}, f.err
}

func (f *fakeRunner) count(job string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[job]
}

func (f *fakeRunner) ScanNew(context.Context) (service.Stats, error) {
	return f.record("scan")
}

func (f *fakeRunner) SyncTags(context.Context) (service.Stats, error) {
	return f.record("tag_sync")
}

func (f *fakeRunner) RecheckModified(context.Context) (service.Stats, error) {
	return f.record("recheck")
}

func waitForJobs(t *testing.T, tick <-chan string, want ...string) {
	t.Helper()
	seen := make(map[string]bool)
	deadline := time.After(3 * time.Second)
	for len(seen) < len(want) {
		select {
		case job := <-tick:
			seen[job] = true
		case <-deadline:
			t.Fatalf("jobs never ran, saw only %v", seen)
		}
	}
}

func TestSchedulerRunsAllJobs(t *testing.T) {
	runner := newFakeRunner(nil)
	s := New(runner, config.SchedulerConfig{
		ScanInterval:    5 * time.Millisecond,
		TagSyncInterval: 5 * time.Millisecond,
		RecheckInterval: 5 * time.Millisecond,
	}, zap.NewNop())

	s.Start(context.Background())
	defer s.Stop()

	waitForJobs(t, runner.tick, "scan", "tag_sync", "recheck")
}

func TestSchedulerStopHaltsTicking(t *testing.T) {
	runner := newFakeRunner(nil)
	s := New(runner, config.SchedulerConfig{
		ScanInterval:    5 * time.Millisecond,
		TagSyncInterval: time.Hour,
		RecheckInterval: time.Hour,
	}, zap.NewNop())

	s.Start(context.Background())
	waitForJobs(t, runner.tick, "scan")
	s.Stop()

	before := runner.count("scan")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, runner.count("scan"))
}

func TestSchedulerKeepsTickingWhenPassIsBusy(t *testing.T) {
	runner := newFakeRunner(service.ErrPassActive)
	s := New(runner, config.SchedulerConfig{
		ScanInterval:    5 * time.Millisecond,
		TagSyncInterval: time.Hour,
		RecheckInterval: time.Hour,
	}, zap.NewNop())

	s.Start(context.Background())
	defer s.Stop()

	waitForJobs(t, runner.tick, "scan")
	waitForJobs(t, runner.tick, "scan")
}

func TestSchedulerDisablesNonPositiveIntervals(t *testing.T) {
	runner := newFakeRunner(nil)
	s := New(runner, config.SchedulerConfig{
		ScanInterval:    0,
		TagSyncInterval: 0,
		RecheckInterval: 0,
	}, zap.NewNop())

	s.Start(context.Background())
	s.Stop()

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, runner.count("scan"))
	assert.Zero(t, runner.count("tag_sync"))
	assert.Zero(t, runner.count("recheck"))
}
