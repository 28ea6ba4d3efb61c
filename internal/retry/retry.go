// Package retry wraps a single operation with bounded retries and
// exponential backoff plus one-sided jitter.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Predicate decides whether err is worth a retry. attempt is the retry
// about to be taken, starting at 1.
type Predicate func(err error, attempt int) bool

type Policy struct {
	MaxRetries    int           // retries after the first attempt
	InitialDelay  time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
	JitterFactor  float64
	Predicate     Predicate // nil retries every error

	// Test seams. Nil uses math/rand and a timer.
	randFloat func() float64
	sleep     func(ctx context.Context, d time.Duration) error
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		BackoffFactor: 2,
		MaxDelay:      30 * time.Second,
		JitterFactor:  0.1,
	}
}

// Delay computes the wait before retry attempt (1-based):
// min(MaxDelay, InitialDelay*BackoffFactor^(attempt-1)), then stretched by
// up to JitterFactor of itself.
func (p Policy) Delay(attempt int) time.Duration {
	base := float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt-1))
	if limit := float64(p.MaxDelay); base > limit {
		base = limit
	}
	rf := p.randFloat
	if rf == nil {
		rf = rand.Float64
	}
	base += base * p.JitterFactor * rf()
	return time.Duration(base)
}

// Do runs op, retrying per the policy. It returns nil on the first
// success, the last operation error once retries are exhausted or the
// predicate declines, and ctx.Err() if the context ends during a wait.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if attempt > p.MaxRetries {
			return err
		}
		if p.Predicate != nil && !p.Predicate(err, attempt) {
			return err
		}
		if werr := p.wait(ctx, p.Delay(attempt)); werr != nil {
			return werr
		}
	}
}

func (p Policy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
