// Package scheduler runs the monitoring cycle on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"marketnotify/internal/model"
	"marketnotify/internal/service/ingest"
	"marketnotify/pkg/lock"
	"marketnotify/pkg/log"
)

const (
	defaultSpec       = "0 */5 * * * *"
	defaultMaxBatches = 500
	defaultTimeout    = 4 * time.Minute
	cycleLockName     = "cycle"
)

// ErrCycleRunning another cycle holds the local guard or the cluster lock.
var ErrCycleRunning = errors.New("scheduler: cycle already running")

// Runner processes one cycle's batches.
type Runner interface {
	ProcessBatches(ctx context.Context, batches []model.UserBatch) []ingest.IngestResult
}

// CycleStats summary of one cycle
type CycleStats struct {
	Batches    int `json:"batches"`
	Users      int `json:"users"`
	Persisted  int `json:"persisted"`
	Suppressed int `json:"suppressed"`
}

// Scheduler drains the batch source on each tick.
type Scheduler struct {
	source     BatchSource
	runner     Runner
	locker     *lock.Locker
	cron       *cron.Cron
	spec       string
	maxBatches int
	timeout    time.Duration
	running    atomic.Bool
	entry      cron.EntryID
}

// Option customises the Scheduler.
type Option func(*Scheduler)

// WithSpec cron expression with a leading seconds field.
func WithSpec(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.spec = spec
		}
	}
}

func WithMaxBatches(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxBatches = n
		}
	}
}

// WithTimeout bounds a cycle. Keep it below the cluster lock TTL.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLocker makes cycles mutually exclusive across instances.
func WithLocker(l *lock.Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

func New(source BatchSource, runner Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:     source,
		runner:     runner,
		spec:       defaultSpec,
		maxBatches: defaultMaxBatches,
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cron.PrintfLogger(log.GetLogger())),
		cron.WithLocation(time.UTC),
	)
	return s
}

// Start registers the cycle and starts the cron loop.
func (s *Scheduler) Start() error {
	id, err := s.cron.AddFunc(s.spec, func() {
		if _, err := s.RunOnce(context.Background()); err != nil && !errors.Is(err, ErrCycleRunning) {
			log.Component("scheduler").WithError(err).Error("monitoring cycle failed")
		}
	})
	if err != nil {
		return err
	}
	s.entry = id
	s.cron.Start()
	log.Component("scheduler").WithField("spec", s.spec).Info("scheduler started")
	return nil
}

// Stop waits for a running cycle to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextRun zero before Start.
func (s *Scheduler) NextRun() time.Time {
	if s.entry == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// RunOnce executes a single cycle now.
func (s *Scheduler) RunOnce(ctx context.Context) (CycleStats, error) {
	var stats CycleStats
	if !s.running.CompareAndSwap(false, true) {
		return stats, ErrCycleRunning
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.locker != nil {
		held, err := s.locker.TryAcquire(ctx, cycleLockName)
		if err != nil {
			if errors.Is(err, lock.ErrLockFailed) {
				return stats, ErrCycleRunning
			}
			return stats, err
		}
		defer func() {
			if err := held.Unlock(context.Background()); err != nil {
				log.Component("scheduler").WithError(err).Warn("failed to release cycle lock")
			}
		}()
	}

	batches, err := s.source.Next(ctx, s.maxBatches)
	if err != nil {
		return stats, err
	}
	stats.Batches = len(batches)
	if len(batches) == 0 {
		return stats, nil
	}

	results := s.runner.ProcessBatches(ctx, batches)
	stats.Users = len(results)
	for _, r := range results {
		stats.Persisted += r.Persisted
		stats.Suppressed += r.Suppressed
	}
	return stats, nil
}
