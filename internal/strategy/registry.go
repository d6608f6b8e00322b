package strategy

import (
	"fmt"
	"sort"
	"sync"

	"aquant/internal/errors"
)

// Factory constructs a strategy from a parameter set.
type Factory func(params Params) (Strategy, error)

// Registry maps strategy names to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry pre-populated with the built-in strategies.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.factories["momentum"] = NewMomentum
	r.factories["ma_cross"] = NewMACross
	return r
}

// Register adds a factory under the given name.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return errors.NewConfigurationError("strategy", fmt.Sprintf("strategy %s already registered", name))
	}
	r.factories[name] = factory
	return nil
}

// Create instantiates a registered strategy with the given params.
func (r *Registry) Create(name string, params Params) (Strategy, error) {
	r.mu.RLock()
	factory, exists := r.factories[name]
	r.mu.RUnlock()
	if !exists {
		return nil, errors.NewConfigurationError("strategy", fmt.Sprintf("unknown strategy %s", name))
	}
	return factory(params)
}

// Names returns the registered strategy names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
