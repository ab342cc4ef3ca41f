// Package scheduler drives the recurring daemon jobs. Each named job runs
// on its own ticker; a job never overlaps itself, and reconfiguring a name
// replaces the previous cadence.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tomarr/internal/logging"
	"tomarr/internal/services"
)

// Well-known job names.
const (
	JobScan            = "scan"
	JobCheckMissing    = "check_missing"
	JobCheckNewVolumes = "check_new_volumes"
)

// JobFunc is one scheduled unit of work.
type JobFunc func(ctx context.Context) error

// Cadence is how often a job fires.
type Cadence struct {
	Enabled bool
	Every   int
	Unit    string // minutes, hours, days
}

// Interval converts the cadence to a duration.
func (c Cadence) Interval() (time.Duration, error) {
	if c.Every <= 0 {
		return 0, services.Wrap(services.ErrValidation, "scheduler", "interval",
			fmt.Sprintf("interval must be positive, got %d", c.Every), nil)
	}
	switch strings.ToLower(strings.TrimSpace(c.Unit)) {
	case "minutes":
		return time.Duration(c.Every) * time.Minute, nil
	case "hours":
		return time.Duration(c.Every) * time.Hour, nil
	case "days":
		return time.Duration(c.Every) * 24 * time.Hour, nil
	default:
		return 0, services.Wrap(services.ErrValidation, "scheduler", "interval",
			fmt.Sprintf("unknown interval unit %q", c.Unit), nil)
	}
}

type job struct {
	name    string
	fn      JobFunc
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
}

// Scheduler owns the job tickers.
type Scheduler struct {
	logger *slog.Logger

	mu     sync.Mutex
	jobs   map[string]*job
	closed bool
}

func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		logger: logging.WithComponent(logger, "scheduler"),
		jobs:   make(map[string]*job),
	}
}

// AddJob starts (or restarts) the named job with the given cadence. A
// disabled cadence just removes the job.
func (s *Scheduler) AddJob(name string, cadence Cadence, fn JobFunc) error {
	if !cadence.Enabled {
		s.RemoveJob(name)
		return nil
	}
	interval, err := cadence.Interval()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return services.Wrap(services.ErrValidation, "scheduler", "add",
			"scheduler is shut down", nil)
	}
	if previous, ok := s.jobs[name]; ok {
		previous.cancel()
		<-previous.done
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{name: name, fn: fn, cancel: cancel, done: make(chan struct{})}
	s.jobs[name] = j
	go s.loop(ctx, j, interval)

	s.logger.Info("job scheduled",
		logging.String(logging.FieldJob, name),
		logging.String("interval", interval.String()))
	return nil
}

// RemoveJob stops the named job and waits for its loop to exit. Removing a
// name that is not scheduled is a no-op.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if ok {
		delete(s.jobs, name)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	j.cancel()
	<-j.done
	s.logger.Info("job removed", logging.String(logging.FieldJob, name))
}

// TriggerNow runs the named job immediately in the calling goroutine. It
// still refuses to overlap a scheduled run of the same name.
func (s *Scheduler) TriggerNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return services.Wrap(services.ErrNotFound, "scheduler", "trigger",
			fmt.Sprintf("no job named %q", name), nil)
	}
	if !j.running.CompareAndSwap(false, true) {
		s.logger.Info("job already running, trigger skipped",
			logging.String(logging.FieldJob, name))
		return nil
	}
	defer j.running.Store(false)
	return j.fn(ctx)
}

// Jobs lists the currently scheduled job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

// Shutdown cancels every job and returns without waiting for in-flight
// runs; a running job sees its context cancelled and winds down on its
// own. It is safe to call more than once.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.jobs = make(map[string]*job)
	s.mu.Unlock()

	for _, j := range jobs {
		j.cancel()
		<-j.done
	}
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, j *job, interval time.Duration) {
	defer close(j.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// The run gets its own goroutine so cancellation never
			// waits behind a slow job.
			go s.runOnce(ctx, j)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, j *job) {
	if !j.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous run still active, skipping",
			logging.String(logging.FieldJob, j.name))
		return
	}
	defer j.running.Store(false)

	started := time.Now()
	if err := j.fn(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("job run failed",
			logging.String(logging.FieldJob, j.name),
			logging.Error(err))
		return
	}
	s.logger.Info("job run finished",
		logging.String(logging.FieldJob, j.name),
		logging.String("elapsed", time.Since(started).Round(time.Millisecond).String()))
}
