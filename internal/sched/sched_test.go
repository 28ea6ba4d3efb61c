package sched

import (
	"context"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadcast/internal/metrics"
	"loadcast/internal/plan"
)

// stubExecutor sleeps for delay and reports a fixed status, tracking the
// concurrency high-water mark.
type stubExecutor struct {
	delay  time.Duration
	status int

	cur   atomic.Int64
	max   atomic.Int64
	calls atomic.Int64
}

func (s *stubExecutor) Execute(ctx context.Context, item plan.WorkItem, seq uint64) metrics.ResponseRecord {
	cur := s.cur.Add(1)
	for {
		m := s.max.Load()
		if cur <= m || s.max.CompareAndSwap(m, cur) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.cur.Add(-1)
	s.calls.Add(1)

	status := s.status
	if status == 0 {
		status = 200
	}
	return metrics.ResponseRecord{
		Timestamp:      time.Now(),
		ResponseTimeMs: float64(s.delay) / float64(time.Millisecond),
		StatusCode:     status,
		TargetURI:      item.Target.URI(),
		UserID:         userLabel(item.User),
	}
}

func schedPlan(users, iterations int) *plan.TestPlan {
	p := &plan.TestPlan{
		ConcurrentUsers: users,
		DurationSeconds: 1,
		Iterations:      iterations,
		RequestTimeout:  time.Second,
		Targets:         []plan.Target{{URITemplate: "http://localhost:9999/fast"}},
	}
	p.Normalize()
	return p
}

func newScheduler(t *testing.T, p *plan.TestPlan, strategy Strategy, exec Executor) (Scheduler, *metrics.Collector) {
	t.Helper()
	col := metrics.NewCollector()
	s, err := New(Options{
		Plan:     p,
		Executor: exec,
		Recorder: col,
		Strategy: strategy,
		Rand:     rand.New(rand.NewSource(7)),
	})
	require.NoError(t, err)
	return s, col
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyLoop, s)

	s, err = ParseStrategy("loop")
	require.NoError(t, err)
	assert.Equal(t, StrategyLoop, s)

	s, err = ParseStrategy("pool")
	require.NoError(t, err)
	assert.Equal(t, StrategyPool, s)

	_, err = ParseStrategy("fibers")
	assert.Error(t, err)
}

func TestLoopHonorsConcurrencyBound(t *testing.T) {
	p := schedPlan(4, 10)
	exec := &stubExecutor{delay: 10 * time.Millisecond}
	s, _ := newScheduler(t, p, StrategyLoop, exec)

	snap, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.LessOrEqual(t, exec.max.Load(), int64(4))
	assert.Equal(t, int64(40), snap.TotalRequests)
}

func TestPoolHonorsConcurrencyBound(t *testing.T) {
	p := schedPlan(4, 10)
	exec := &stubExecutor{delay: 10 * time.Millisecond}
	s, _ := newScheduler(t, p, StrategyPool, exec)

	snap, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.LessOrEqual(t, exec.max.Load(), int64(4))
	assert.Equal(t, int64(40), snap.TotalRequests)
}

func TestStrategiesAgreeOnTotals(t *testing.T) {
	for _, strategy := range []Strategy{StrategyLoop, StrategyPool} {
		p := schedPlan(3, 4)
		p.Targets = append(p.Targets, plan.Target{URITemplate: "http://localhost:9999/slow"})
		p.Normalize()
		exec := &stubExecutor{}
		s, _ := newScheduler(t, p, strategy, exec)

		snap, err := s.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(3*2*4), snap.TotalRequests, "strategy %s", strategy)
		assert.Equal(t, int64(3*2*4), exec.calls.Load(), "strategy %s", strategy)
	}
}

func TestLoopStopsDispatchAtDeadline(t *testing.T) {
	// Queue far larger than one second of capacity.
	p := schedPlan(5, 1000)
	exec := &stubExecutor{delay: 5 * time.Millisecond}
	s, _ := newScheduler(t, p, StrategyLoop, exec)

	started := time.Now()
	snap, err := s.Run(context.Background())
	elapsed := time.Since(started)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, elapsed, time.Second)
	assert.Less(t, elapsed, 3*time.Second, "drain must not run the full queue")
	assert.Less(t, snap.TotalRequests, int64(5000))
	assert.Greater(t, snap.TotalRequests, int64(0))

	// Drain policy: everything dispatched was recorded.
	assert.Equal(t, exec.calls.Load(), snap.TotalRequests)
}

func TestLoopCancelDrainsInFlight(t *testing.T) {
	p := schedPlan(3, 1000)
	exec := &stubExecutor{delay: 5 * time.Millisecond}
	s, _ := newScheduler(t, p, StrategyLoop, exec)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	snap, err := s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Greater(t, snap.TotalRequests, int64(0))
	assert.Equal(t, exec.calls.Load(), snap.TotalRequests)
}

func TestPoolStopsAtDeadline(t *testing.T) {
	p := schedPlan(5, 1000)
	exec := &stubExecutor{delay: 5 * time.Millisecond}
	s, _ := newScheduler(t, p, StrategyPool, exec)

	snap, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Less(t, snap.TotalRequests, int64(5000))
	assert.Greater(t, snap.TotalRequests, int64(0))
	assert.Equal(t, exec.calls.Load(), snap.TotalRequests)
}

func TestRampDelayDecreasesLinearly(t *testing.T) {
	p := &plan.TestPlan{
		ConcurrentUsers: 10,
		DurationSeconds: 60,
		RampUpSeconds:   10,
		Targets:         []plan.Target{{URITemplate: "http://localhost/x"}},
	}
	p.Normalize()
	b := base{plan: p}
	start := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	// rate = 10 users x 1 target / 10s = 1/s; initial gap 1s.
	assert.InDelta(t, float64(time.Second), float64(b.rampDelay(start, start)), float64(time.Millisecond))
	assert.InDelta(t, float64(500*time.Millisecond), float64(b.rampDelay(start, start.Add(5*time.Second))), float64(time.Millisecond))
	assert.Equal(t, time.Duration(0), b.rampDelay(start, start.Add(10*time.Second)))
	assert.Equal(t, time.Duration(0), b.rampDelay(start, start.Add(time.Minute)))
}

func TestRampDelayZeroWithoutRampUp(t *testing.T) {
	p := schedPlan(5, 1)
	b := base{plan: p}
	now := time.Now()
	assert.Equal(t, time.Duration(0), b.rampDelay(now, now))
}

func TestNewRejectsMissingPieces(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	_, err = New(Options{Plan: schedPlan(1, 1)})
	assert.Error(t, err)

	_, err = New(Options{Plan: schedPlan(1, 1), Executor: &stubExecutor{}})
	assert.Error(t, err)
}
