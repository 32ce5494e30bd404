package action

import (
	"fmt"
	"sort"
	"sync"

	proverrors "github.com/hostplane/provision/pkg/errors"
)

// Registry maps catalog action types to their implementations.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates an empty action registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register adds an action implementation for the provided type.
func (r *Registry) Register(actionType string, a Action) error {
	if a == nil {
		return proverrors.NewRegistryError(actionType, fmt.Errorf("action is nil"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[actionType]; exists {
		return proverrors.NewRegistryError(actionType, fmt.Errorf("action already registered"))
	}

	r.actions[actionType] = a
	return nil
}

// Get retrieves an action implementation by type.
func (r *Registry) Get(actionType string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.actions[actionType]
	if !ok {
		return nil, proverrors.NewRegistryError(actionType, fmt.Errorf("no action registered"))
	}

	return a, nil
}

// Types returns the registered action types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.actions))
	for t := range r.actions {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
