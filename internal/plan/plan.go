package plan

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultIterations     = 1
)

// Target is one endpoint under test, supplied by the route-discovery
// collaborator and read-only during a run.
type Target struct {
	Method       string            `json:"method"`
	URITemplate  string            `json:"uri_template"`
	ResolvedURI  string            `json:"resolved_uri,omitempty"`
	RequiresAuth bool              `json:"requires_auth,omitempty"`
	AuthGuards   []string          `json:"auth_guards,omitempty"`
	FormData     map[string]string `json:"form_data,omitempty"`
}

// URI returns the resolved address, falling back to the raw template.
func (t Target) URI() string {
	if t.ResolvedURI != "" {
		return t.ResolvedURI
	}
	return t.URITemplate
}

// Key identifies the target for breaker and per-target accounting.
func (t Target) Key() string {
	return t.Method + " " + t.URI()
}

// VirtualUser is one simulated concurrent client. AuthContext is primed
// at run setup and refreshed per request through the plan's AuthFunc.
type VirtualUser struct {
	Index       int
	AuthContext http.Header
}

// AuthFunc resolves the current auth headers for a virtual user. Invoked
// per request since credentials may rotate mid-run.
type AuthFunc func(ctx context.Context, user VirtualUser) (http.Header, error)

// WorkItem pairs a target with a virtual user. Ownership transfers to the
// scheduler at enqueue time and each item is consumed exactly once.
type WorkItem struct {
	Target Target
	User   VirtualUser
}

// TestPlan is the immutable run configuration. Validate before use.
type TestPlan struct {
	ConcurrentUsers int           `json:"concurrent_users"`
	DurationSeconds int           `json:"duration_seconds"`
	RampUpSeconds   int           `json:"ramp_up_seconds"`
	RequestTimeout  time.Duration `json:"request_timeout"`
	Iterations      int           `json:"iterations"`
	Targets         []Target      `json:"targets"`

	// Static headers applied to every request, merged under auth headers.
	Headers http.Header `json:"-"`

	Auth     AuthFunc `json:"-"`
	Insecure bool     `json:"insecure,omitempty"`
}

func (p TestPlan) Duration() time.Duration {
	return time.Duration(p.DurationSeconds) * time.Second
}

func (p TestPlan) RampUp() time.Duration {
	return time.Duration(p.RampUpSeconds) * time.Second
}

// Normalize fills defaults for optional fields. It never overrides an
// explicit value.
func (p *TestPlan) Normalize() {
	if p.RequestTimeout == 0 {
		p.RequestTimeout = DefaultRequestTimeout
	}
	if p.Iterations == 0 {
		p.Iterations = DefaultIterations
	}
	for i := range p.Targets {
		if p.Targets[i].Method == "" {
			p.Targets[i].Method = http.MethodGet
		} else {
			p.Targets[i].Method = strings.ToUpper(p.Targets[i].Method)
		}
	}
}

// ValidationError reports an invalid TestPlan field. Fatal before any
// request is issued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid plan: %s %s", e.Field, e.Reason)
}

// AuthError reports an auth provider failure while priming a virtual
// user at run setup. Fatal for the run.
type AuthError struct {
	UserIndex int
	Err       error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth setup failed for user %d: %v", e.UserIndex, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Validate runs the pre-flight checks. All failures are configuration
// errors; nothing is dispatched when Validate returns non-nil.
func (p TestPlan) Validate() error {
	if p.ConcurrentUsers <= 0 {
		return &ValidationError{Field: "concurrent_users", Reason: "must be greater than zero"}
	}
	if p.DurationSeconds <= 0 {
		return &ValidationError{Field: "duration_seconds", Reason: "must be greater than zero"}
	}
	if p.RampUpSeconds < 0 {
		return &ValidationError{Field: "ramp_up_seconds", Reason: "must not be negative"}
	}
	if p.RequestTimeout <= 0 {
		return &ValidationError{Field: "request_timeout", Reason: "must be greater than zero"}
	}
	if p.Iterations < 1 {
		return &ValidationError{Field: "iterations", Reason: "must be at least one"}
	}
	if len(p.Targets) == 0 {
		return &ValidationError{Field: "targets", Reason: "requires at least one target"}
	}
	for i, t := range p.Targets {
		if t.URI() == "" {
			return &ValidationError{Field: fmt.Sprintf("targets[%d]", i), Reason: "has no uri"}
		}
	}
	return nil
}

// Users allocates one virtual user per concurrency slot. Auth contexts
// start empty; the caller primes them through the AuthFunc.
func (p TestPlan) Users() []VirtualUser {
	users := make([]VirtualUser, p.ConcurrentUsers)
	for i := range users {
		users[i] = VirtualUser{Index: i}
	}
	return users
}

// QueueFor builds the full work queue: the Cartesian product of targets
// and users repeated Iterations times, shuffled to avoid bursty
// per-target patterns. A nil rng seeds from the clock.
func (p TestPlan) QueueFor(users []VirtualUser, rng *rand.Rand) []WorkItem {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	queue := make([]WorkItem, 0, len(users)*len(p.Targets)*p.Iterations)
	for iter := 0; iter < p.Iterations; iter++ {
		for _, u := range users {
			for _, t := range p.Targets {
				queue = append(queue, WorkItem{Target: t, User: u})
			}
		}
	}
	rng.Shuffle(len(queue), func(i, j int) {
		queue[i], queue[j] = queue[j], queue[i]
	})
	return queue
}
