package cleanup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"easybox-network/internal/clock"
	"easybox-network/internal/config"
	"easybox-network/internal/reservation"
	"easybox-network/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJobs struct {
	expired  atomic.Int32
	sweeps   atomic.Int32
	sweepErr error
}

func (j *countingJobs) ExpireHolds(ctx context.Context) (int64, error) {
	if _, ok := ctx.Deadline(); !ok {
		return 0, errors.New("tick without deadline")
	}
	j.expired.Add(1)
	return 2, nil
}

func (j *countingJobs) Sweep(ctx context.Context) (*reservation.SweepReport, error) {
	j.sweeps.Add(1)
	if j.sweepErr != nil {
		return nil, j.sweepErr
	}
	return &reservation.SweepReport{Checked: 1, Transitions: map[storage.ReservationStatus]int{storage.StatusExpired: 1}}, nil
}

var cfg = config.Cleanup{HoldInterval: time.Minute, SweepInterval: 10 * time.Minute, TickTimeout: time.Second}

func TestSchedulerTicksOnClock(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	jobs := &countingJobs{}
	s := NewScheduler(jobs, clk, cfg)

	s.Start(context.Background())
	defer s.Stop()
	require.Eventually(t, func() bool { return clk.Waiters() == 2 }, time.Second, time.Millisecond)

	clk.Advance(time.Minute)
	require.Eventually(t, func() bool { return jobs.expired.Load() == 1 && clk.Waiters() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), jobs.sweeps.Load())

	clk.Advance(9 * time.Minute)
	require.Eventually(t, func() bool { return jobs.sweeps.Load() == 1 && jobs.expired.Load() == 2 }, time.Second, time.Millisecond)

	s.Stop()
	clk.Advance(time.Hour)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), jobs.sweeps.Load())
	assert.Equal(t, int32(2), jobs.expired.Load())
}

func TestSchedulerStopsOnContext(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewScheduler(&countingJobs{}, clk, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRunOnce(t *testing.T) {
	jobs := &countingJobs{}
	s := NewScheduler(jobs, clock.Real{}, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n, report, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 1, report.Transitions[storage.StatusExpired])

	jobs.sweepErr = errors.New("db gone")
	_, _, err = s.RunOnce(ctx)
	assert.Error(t, err)
}
