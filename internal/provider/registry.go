package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a daemon client.
type Factory func() (Daemon, error)

// Registry manages the lifecycle of daemon clients. Implementations register
// a factory by name; the client is built once on first load.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	daemons   map[string]Daemon
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		daemons:   make(map[string]Daemon),
	}
}

// Register adds a factory under name, replacing any earlier one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[name] = f
	delete(r.daemons, name)
}

// LoadProvider initializes the named daemon client if it is not loaded yet.
func (r *Registry) LoadProvider(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.daemons[name]; exists {
		return nil
	}

	f, ok := r.factories[name]
	if !ok {
		return fmt.Errorf("unknown daemon: %s (available: %v)", name, r.namesLocked())
	}
	d, err := f()
	if err != nil {
		return fmt.Errorf("failed to initialize daemon %s: %w", name, err)
	}

	r.daemons[name] = d
	return nil
}

// Get returns a loaded daemon client.
func (r *Registry) Get(name string) (Daemon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.daemons[name]
	if !ok {
		return nil, fmt.Errorf("daemon not loaded: %s", name)
	}
	return d, nil
}

// Names lists the registered daemon names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
