package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/sitework/pkg/observability"
)

// Func is one run of a job
type Func func(ctx context.Context) error

// Scheduler runs named jobs on cron schedules in UTC. A run that is still
// going when its next tick fires is skipped.
type Scheduler struct {
	cron    *cron.Cron
	logger  *observability.Logger
	timeout time.Duration

	mu   sync.Mutex
	jobs map[string]Func
}

// NewScheduler creates a scheduler. Each run gets a context bounded by
// timeout.
func NewScheduler(logger *observability.Logger, timeout time.Duration) *Scheduler {
	if logger == nil {
		logger = observability.Discard()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger:  logger,
		timeout: timeout,
		jobs:    make(map[string]Func),
	}
}

// Add registers fn under name on a standard five-field cron spec
func (s *Scheduler) Add(name, spec string, fn Func) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q is already registered", name)
	}
	if _, err := s.cron.AddFunc(spec, func() { s.run(name, fn) }); err != nil {
		return fmt.Errorf("failed to schedule job %q: %w", name, err)
	}
	s.jobs[name] = fn
	return nil
}

// RunNow runs a registered job synchronously
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	fn, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q is not registered", name)
	}
	return s.run(name, fn)
}

func (s *Scheduler) run(name string, fn Func) (err error) {
	logger := s.logger.WithField("job", name)
	defer func() {
		if r := recover(); r != nil {
			err = observability.MustRecover(r)
			logger.WithError(err).Error("job panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(observability.WithLogger(context.Background(), logger), s.timeout)
	defer cancel()

	start := time.Now()
	if err = fn(ctx); err != nil {
		logger.WithError(err).Error("job failed")
		return err
	}
	logger.WithField("duration_ms", time.Since(start).Milliseconds()).Info("job finished")
	return nil
}

// Start starts the scheduler in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs until ctx is done
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("jobs still running at shutdown: %w", ctx.Err())
	}
}
