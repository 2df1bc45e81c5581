// Package strategy holds the per-phase logic the orchestrator drives.
// Every phase is a different Strategy behind the same contract; the driver
// stays agnostic to which implementation is plugged in.
package strategy

import (
	"context"
	"sync"

	"github.com/castofly/remedy/pkg/schema"
)

// Input is what a strategy receives: the session's accumulated context,
// including every prior phase's artifact.
type Input struct {
	SessionID string
	Context   *schema.SessionContext
}

// Strategy is the capability contract every phase implements.
type Strategy interface {
	Phase() schema.Phase
	Execute(ctx context.Context, in Input) (any, error)
}

// Registry is a thread-safe phase → strategy map.
type Registry struct {
	mu         sync.RWMutex
	strategies map[schema.Phase]Strategy
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[schema.Phase]Strategy),
	}
}

// Register binds a strategy to its phase. Returns error on duplicate phase.
func (r *Registry) Register(s Strategy) error {
	if s == nil {
		return schema.NewError(schema.ErrCodeValidation, "strategy is nil")
	}
	phase := s.Phase()
	if phase == "" {
		return schema.NewError(schema.ErrCodeValidation, "strategy phase is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.strategies[phase]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "strategy for phase %q already registered", phase)
	}
	r.strategies[phase] = s
	return nil
}

// Get retrieves the strategy bound to a phase.
func (r *Registry) Get(phase schema.Phase) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[phase]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no strategy registered for phase %q", phase)
	}
	return s, nil
}

// Has checks whether a phase has a bound strategy.
func (r *Registry) Has(phase schema.Phase) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.strategies[phase]
	return ok
}
