package entity

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps entity class names to their managers
type Registry struct {
	mu       sync.RWMutex
	managers map[string]Manager
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{managers: make(map[string]Manager)}
}

// Register binds manager to class, replacing any previous binding
func (r *Registry) Register(class string, manager Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.managers[class] = manager
}

// Replace swaps the whole set of bindings at once
func (r *Registry) Replace(managers map[string]Manager) {
	next := make(map[string]Manager, len(managers))
	for class, manager := range managers {
		next[class] = manager
	}

	r.mu.Lock()
	r.managers = next
	r.mu.Unlock()
}

// ManagerForClass returns the manager of class or an error wrapping
// ErrManagerNotFound.
func (r *Registry) ManagerForClass(class string) (Manager, error) {
	r.mu.RLock()
	manager, ok := r.managers[class]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrManagerNotFound, class)
	}
	return manager, nil
}

// Classes returns the registered class names in sorted order
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	classes := make([]string, 0, len(r.managers))
	for class := range r.managers {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	return classes
}
