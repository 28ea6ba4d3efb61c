// Package breaker implements the per-target failure isolation state
// machine: Closed -> Open -> HalfOpen -> Closed | Open.
package breaker

import (
	"fmt"
	"sync"
	"time"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// TripPolicy selects how the Closed state decides to open. The set is
// closed; config strings are resolved once via ParseTripPolicy.
type TripPolicy int

const (
	// TripOnCount opens after an absolute number of failures inside the
	// rolling window. Default.
	TripOnCount TripPolicy = iota
	// TripOnRate opens when the failure percentage over the window's
	// tracked call volume crosses FailureRate, once MinVolume calls
	// have been seen.
	TripOnRate
)

func ParseTripPolicy(s string) (TripPolicy, error) {
	switch s {
	case "", "count":
		return TripOnCount, nil
	case "rate":
		return TripOnRate, nil
	default:
		return TripOnCount, fmt.Errorf("unknown trip policy %q", s)
	}
}

type Config struct {
	FailureThreshold int
	FailureWindow    time.Duration
	ResetTimeout     time.Duration
	SuccessThreshold int

	Policy      TripPolicy
	FailureRate float64 // TripOnRate: percentage of failed calls, 0-100
	MinVolume   int     // TripOnRate: calls required before the rate applies
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		FailureWindow:    60 * time.Second,
		ResetTimeout:     60 * time.Second,
		SuccessThreshold: 2,
		Policy:           TripOnCount,
		FailureRate:      50,
		MinVolume:        10,
	}
}

// OpenError is the fast-fail signal returned while a target's breaker is
// open. Callers turn it into a status-0 response record; it is never
// retried.
type OpenError struct {
	Target     string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for %s (retry in %s)", e.Target, e.RetryAfter.Round(time.Millisecond))
}

// StateHook observes transitions, keyed by target.
type StateHook func(target string, state State)

// Breaker guards one target. All mutation happens under the mutex so the
// worker-pool strategy can share it across goroutines.
type Breaker struct {
	target string
	cfg    Config
	now    func() time.Time
	hook   StateHook

	mu              sync.Mutex
	state           State
	failures        []time.Time // failure timestamps within FailureWindow
	calls           []time.Time // all call timestamps, TripOnRate volume
	lastFailure     time.Time
	halfOpenSuccess int
	probing         bool
}

func New(target string, cfg Config) *Breaker {
	return &Breaker{
		target: target,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Acquire asks permission to invoke the operation. A nil return means
// proceed; in HalfOpen it grants the single probe slot. An *OpenError
// means fail fast without invoking anything.
func (b *Breaker) Acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.prune(now)

	switch b.state {
	case Closed:
		return nil

	case Open:
		since := now.Sub(b.lastFailure)
		if since < b.cfg.ResetTimeout {
			return &OpenError{Target: b.target, RetryAfter: b.cfg.ResetTimeout - since}
		}
		// Cool-down elapsed: allow exactly one probe.
		b.transition(HalfOpen)
		b.halfOpenSuccess = 0
		b.probing = true
		return nil

	default: // HalfOpen
		if b.probing {
			return &OpenError{Target: b.target, RetryAfter: 0}
		}
		b.probing = true
		return nil
	}
}

// Success reports a successful operation outcome.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case HalfOpen:
		b.probing = false
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.cfg.SuccessThreshold {
			b.reset()
			b.transition(Closed)
		}
	case Closed:
		b.calls = append(b.calls, now)
		b.prune(now)
	case Open:
		// Late completion from before the trip; the cool-down stands.
	}
}

// Failure reports a failed operation outcome (network error, timeout, or
// non-2xx status).
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case HalfOpen:
		b.probing = false
		b.lastFailure = now
		b.transition(Open)
	case Closed:
		b.failures = append(b.failures, now)
		b.calls = append(b.calls, now)
		b.prune(now)
		if b.tripped() {
			b.lastFailure = now
			b.transition(Open)
		}
	case Open:
		// Stragglers must not extend the cool-down.
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// prune drops window entries older than FailureWindow. Callers hold the
// lock.
func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.FailureWindow)
	b.failures = trimBefore(b.failures, cutoff)
	b.calls = trimBefore(b.calls, cutoff)
}

func trimBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}

func (b *Breaker) tripped() bool {
	switch b.cfg.Policy {
	case TripOnRate:
		if len(b.calls) < b.cfg.MinVolume {
			return false
		}
		rate := float64(len(b.failures)) / float64(len(b.calls)) * 100
		return rate >= b.cfg.FailureRate
	default:
		return len(b.failures) >= b.cfg.FailureThreshold
	}
}

func (b *Breaker) reset() {
	b.failures = b.failures[:0]
	b.calls = b.calls[:0]
	b.halfOpenSuccess = 0
	b.probing = false
}

func (b *Breaker) transition(s State) {
	if b.state == s {
		return
	}
	b.state = s
	if b.hook != nil {
		b.hook(b.target, s)
	}
}
