package provider

import (
	"sort"
	"sync"

	"github.com/dvloznov/donation-tracker/internal/apperr"
)

// Registry holds the configured adapters and the preferred adapter for each direction.
// It is safe for concurrent use.
type Registry struct {
	mu                 sync.RWMutex
	adapters           map[string]Adapter
	preferredReceiving string
	preferredSending   string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds a, replacing any adapter with the same name. The first adapter
// registered becomes preferred for both directions.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	r.adapters[name] = a
	if r.preferredReceiving == "" {
		r.preferredReceiving = name
	}
	if r.preferredSending == "" {
		r.preferredSending = name
	}
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[name]
	if !ok {
		return nil, apperr.NotFound(apperr.WithMessagef("payment provider %q is not registered", name))
	}
	return a, nil
}

// Names lists registered adapter names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetPreferredForReceiving selects the adapter used to collect donations.
func (r *Registry) SetPreferredForReceiving(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.adapters[name]; !ok {
		return apperr.NotFound(apperr.WithMessagef("payment provider %q is not registered", name))
	}
	r.preferredReceiving = name
	return nil
}

// PreferredForReceiving returns the adapter used to collect donations.
func (r *Registry) PreferredForReceiving() (Adapter, error) {
	r.mu.RLock()
	name := r.preferredReceiving
	r.mu.RUnlock()

	if name == "" {
		return nil, apperr.NotFound(apperr.WithMessage("no payment provider registered for receiving"))
	}
	return r.Get(name)
}

// SetPreferredForSending selects the adapter used to pay out distributions.
func (r *Registry) SetPreferredForSending(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.adapters[name]; !ok {
		return apperr.NotFound(apperr.WithMessagef("payment provider %q is not registered", name))
	}
	r.preferredSending = name
	return nil
}

// PreferredForSending returns the adapter used to pay out distributions.
func (r *Registry) PreferredForSending() (Adapter, error) {
	r.mu.RLock()
	name := r.preferredSending
	r.mu.RUnlock()

	if name == "" {
		return nil, apperr.NotFound(apperr.WithMessage("no payment provider registered for sending"))
	}
	return r.Get(name)
}
