// Package scheduler runs the feed executor and the entity sync on cron schedules.
//
// Each job is registered under a name with a standard five-field cron expression. A
// job that is still running when its next tick fires is skipped, and a panic inside a
// job is recovered and logged, so one bad run never stops the schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/dshills/catalogfeed/internal/config"
	"github.com/dshills/catalogfeed/internal/feed"
	"github.com/dshills/catalogfeed/internal/logging"
	"github.com/dshills/catalogfeed/internal/syncer"
)

// ErrUnknownJob is returned by RunNow for a name that was never added
var ErrUnknownJob = errors.New("unknown job")

// Job is one scheduled unit of work
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler wraps a cron runner with named jobs and a lifecycle context
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]Job
}

// New creates a stopped scheduler
func New(logger *zap.Logger) *Scheduler {
	logger = logging.OrNop(logger)
	cl := cronLogger{logger: logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]Job),
	}
}

// Add registers a job. The schedule is validated before anything is registered.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job requires a name and a run function")
	}
	schedule, err := cron.ParseStandard(job.Schedule)
	if err != nil {
		return fmt.Errorf("failed to parse schedule %q for job %s: %w", job.Schedule, job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %s already registered", job.Name)
	}
	s.cron.Schedule(schedule, cron.FuncJob(func() {
		_ = s.run(s.ctx, job)
	}))
	s.jobs[job.Name] = job

	s.logger.Info("job scheduled",
		zap.String("job", job.Name),
		zap.String("schedule", job.Schedule),
		zap.Time("next_run", schedule.Next(time.Now())))
	return nil
}

// Start begins running jobs in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// RunNow runs a registered job synchronously, outside its schedule
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, job)
}

func (s *Scheduler) run(ctx context.Context, job Job) error {
	start := time.Now()
	err := job.Run(ctx)
	if err != nil {
		s.logger.Error("job failed", zap.String("job", job.Name), zap.Duration("duration", time.Since(start)), zap.Error(err))
		return err
	}
	s.logger.Debug("job finished", zap.String("job", job.Name), zap.Duration("duration", time.Since(start)))
	return nil
}

// PendingRunner executes pending feed tasks
type PendingRunner interface {
	RunPending(ctx context.Context, limit int, report func(feed.TaskResult)) ([]feed.TaskResult, error)
}

// EntitySyncer drains the ledger for a set of stores
type EntitySyncer interface {
	Sync(ctx context.Context, stores []config.Store, report func(syncer.EntityResult)) ([]*syncer.Statistics, error)
}

// FeedJob runs up to limit pending feed tasks per tick
func FeedJob(schedule string, runner PendingRunner, limit int) Job {
	return Job{
		Name:     "feed",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			_, err := runner.RunPending(ctx, limit, nil)
			return err
		},
	}
}

// SyncJob drains the ledger for stores per tick. An overlapping drain is not an error.
func SyncJob(schedule string, s EntitySyncer, stores []config.Store) Job {
	return Job{
		Name:     "sync",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			_, err := s.Sync(ctx, stores, nil)
			if errors.Is(err, syncer.ErrSyncInProgress) {
				return nil
			}
			return err
		},
	}
}

// cronLogger adapts zap to the cron.Logger interface
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
