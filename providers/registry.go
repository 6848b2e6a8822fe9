package providers

import (
	"sort"
	"sync"
)

// Registry holds the adapters a deployment has wired in, keyed by provider
// code. It is handed to the orchestrator at construction; there is no
// package-level instance.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds or replaces the adapter for its code.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Code()] = adapter
}

// Get returns the adapter for code, or a NOT_FOUND provider error when no
// adapter is registered under it.
func (r *Registry) Get(code string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[code]
	if !ok {
		return nil, NewError(code, ErrNotFound, "no adapter registered for provider")
	}
	return adapter, nil
}

// Codes lists the registered provider codes in stable order.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.adapters))
	for code := range r.adapters {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
