package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"docsentry/internal/service"
	"docsentry/pkg/config"
)

// Runner is the subset of the reconciler the scheduler drives.
type Runner interface {
	ScanNew(ctx context.Context) (service.Stats, error)
	SyncTags(ctx context.Context) (service.Stats, error)
	RecheckModified(ctx context.Context) (service.Stats, error)
}

// Scheduler owns the periodic reconciliation jobs: a scan on the poll
// interval, a tag sync and a modification recheck on their own slower
// intervals. A tick that loses the pass lock is skipped, never queued.
type Scheduler struct {
	runner Runner
	cfg    config.SchedulerConfig
	logger *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(runner Runner, cfg config.SchedulerConfig, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		runner: runner,
		cfg:    cfg,
		logger: logger,
	}
}

// Start launches the job goroutines. Each fires first after one full
// interval. Jobs stop when ctx is canceled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.launch(ctx, "scan", s.cfg.ScanInterval, s.runner.ScanNew)
	s.launch(ctx, "tag_sync", s.cfg.TagSyncInterval, s.runner.SyncTags)
	s.launch(ctx, "recheck", s.cfg.RecheckInterval, s.runner.RecheckModified)

	s.logger.Info("scheduler started",
		zap.Duration("scan_interval", s.cfg.ScanInterval),
		zap.Duration("tag_sync_interval", s.cfg.TagSyncInterval),
		zap.Duration("recheck_interval", s.cfg.RecheckInterval))
}

func (s *Scheduler) launch(ctx context.Context, job string, interval time.Duration, run func(context.Context) (service.Stats, error)) {
	if interval <= 0 {
		s.logger.Warn("job disabled, interval is not positive", zap.String("job", job))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// Pass completion and failure are logged by the pass
				// itself; a lost race to the pass lock is logged here.
				if _, err := run(ctx); errors.Is(err, service.ErrPassActive) {
					s.logger.Info("tick skipped, a pass is still running", zap.String("job", job))
				}
			}
		}
	}()
}

// Stop cancels the jobs and waits for any in-flight tick to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}
