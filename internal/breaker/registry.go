package breaker

import (
	"sync"

	"go.uber.org/zap"
)

// Registry owns the per-target breakers for a single run. Failures on one
// target never affect another's breaker.
type Registry struct {
	cfg    Config
	logger *zap.Logger
	hook   StateHook

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry builds a run-scoped registry. hook may be nil; transitions
// are always logged.
func NewRegistry(cfg Config, logger *zap.Logger, hook StateHook) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:      cfg,
		logger:   logger,
		hook:     hook,
		breakers: make(map[string]*Breaker),
	}
}

// For returns the breaker guarding target, creating it on first use.
func (r *Registry) For(target string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[target]
	if !ok {
		b = New(target, r.cfg)
		b.hook = r.observe
		r.breakers[target] = b
	}
	return b
}

// States reports the current state per known target.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]State, len(r.breakers))
	for k, b := range r.breakers {
		out[k] = b.State()
	}
	return out
}

func (r *Registry) observe(target string, s State) {
	r.logger.Info("breaker state change",
		zap.String("target", target),
		zap.String("state", s.String()),
	)
	if r.hook != nil {
		r.hook(target, s)
	}
}
