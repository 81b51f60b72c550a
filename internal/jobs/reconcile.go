// Package jobs runs periodic maintenance against the occupancy service.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"housingcore/internal/core"
)

// Reconciler is the service surface the scheduler drives.
type Reconciler interface {
	Reconcile(ctx context.Context) (core.ReconcileReport, error)
}

// Scheduler runs Reconcile on a cron schedule. Overlapping runs are skipped.
type Scheduler struct {
	cron       *cron.Cron
	reconciler Reconciler
	logger     core.Logger
	timeout    time.Duration

	mu   sync.Mutex
	last *core.ReconcileReport
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithTimeout bounds each reconciliation run.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// NewReconcileScheduler registers the reconcile job under spec, which accepts
// standard five-field cron expressions and descriptors such as "@every 15m".
func NewReconcileScheduler(spec string, reconciler Reconciler, logger core.Logger, opts ...Option) (*Scheduler, error) {
	if logger == nil {
		logger = discard{}
	}
	s := &Scheduler{reconciler: reconciler, logger: logger, timeout: time.Minute}
	for _, opt := range opts {
		opt(s)
	}
	cl := cronLogger{logger}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("schedule reconcile %q: %w", spec, err)
	}
	return s, nil
}

// Start begins running the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("reconcile scheduler started", "next", s.Next())
}

// Stop halts the schedule and waits for a running job until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next reports the next scheduled run, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunNow performs one reconciliation synchronously.
func (s *Scheduler) RunNow(ctx context.Context) (core.ReconcileReport, error) {
	report, err := s.reconciler.Reconcile(ctx)
	if err != nil {
		s.logger.Error("scheduled reconcile failed", "error", err)
		return report, err
	}
	s.mu.Lock()
	s.last = &report
	s.mu.Unlock()
	s.logger.Info("scheduled reconcile finished",
		"repaired_rooms", len(report.RepairedRooms),
		"repaired_buildings", len(report.RepairedBuildings),
		"conflicting_rooms", len(report.ConflictingRooms))
	return report, nil
}

// LastReport returns the most recent successful report.
func (s *Scheduler) LastReport() (core.ReconcileReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return core.ReconcileReport{}, false
	}
	return *s.last, true
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, _ = s.RunNow(ctx)
}

// cronLogger adapts core.Logger to cron.Logger.
type cronLogger struct{ l core.Logger }

func (c cronLogger) Info(msg string, kv ...interface{}) { c.l.Debug("cron: "+msg, kv...) }

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Error("cron: "+msg, append(kv, "error", err)...)
}

type discard struct{}

func (discard) Debug(string, ...any) {}
func (discard) Info(string, ...any)  {}
func (discard) Warn(string, ...any)  {}
func (discard) Error(string, ...any) {}
