// Package cleanup runs the periodic jobs that keep reservations moving when
// nobody touches them: dropping lapsed holds and sweeping the lifecycle.
package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"easybox-network/internal/clock"
	"easybox-network/internal/config"
	"easybox-network/internal/reservation"
)

// Jobs is the work the scheduler triggers.
type Jobs interface {
	ExpireHolds(ctx context.Context) (int64, error)
	Sweep(ctx context.Context) (*reservation.SweepReport, error)
}

type Scheduler struct {
	jobs  Jobs
	clock clock.Clock
	cfg   config.Cleanup

	mu     sync.Mutex
	cancel context.CancelFunc
	done   sync.WaitGroup

	logger *slog.Logger
}

func NewScheduler(jobs Jobs, clk clock.Clock, cfg config.Cleanup) *Scheduler {
	if cfg.HoldInterval <= 0 {
		cfg.HoldInterval = time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Minute
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = 30 * time.Second
	}
	return &Scheduler{
		jobs:   jobs,
		clock:  clk,
		cfg:    cfg,
		logger: slog.With("component", "cleanup"),
	}
}

// Start launches both loops. They end when ctx is canceled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.done.Add(2)
	go s.loop(ctx, "expire_holds", s.cfg.HoldInterval, s.expireHolds)
	go s.loop(ctx, "sweep", s.cfg.SweepInterval, s.sweep)
	s.logger.Info("Cleanup scheduler started", "hold_interval", s.cfg.HoldInterval, "sweep_interval", s.cfg.SweepInterval)
}

// Stop ends both loops and waits for a running tick to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.done.Wait()
	s.logger.Info("Cleanup scheduler stopped")
}

// RunOnce runs one pass of both jobs now.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, *reservation.SweepReport, error) {
	n, err := s.jobs.ExpireHolds(ctx)
	if err != nil {
		return 0, nil, err
	}
	report, err := s.jobs.Sweep(ctx)
	return n, report, err
}

func (s *Scheduler) loop(ctx context.Context, name string, every time.Duration, tick func(context.Context)) {
	defer s.done.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(every):
		}
		tctx, cancel := context.WithTimeout(ctx, s.cfg.TickTimeout)
		tick(tctx)
		cancel()
		s.logger.Debug("Tick finished", "job", name)
	}
}

func (s *Scheduler) expireHolds(ctx context.Context) {
	if _, err := s.jobs.ExpireHolds(ctx); err != nil {
		s.logger.Error("Expiring holds failed", "error", err)
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	report, err := s.jobs.Sweep(ctx)
	if err != nil {
		s.logger.Error("Reservation sweep failed", "error", err)
		return
	}
	if len(report.Transitions) > 0 || report.Errors > 0 {
		s.logger.Info("Reservation sweep", "checked", report.Checked, "transitions", report.Transitions,
			"conflicts", report.Conflicts, "errors", report.Errors)
	}
}
