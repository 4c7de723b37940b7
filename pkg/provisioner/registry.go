package provisioner

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a provisioner instance.
type Factory func() (Provisioner, error)

// Registry holds named provisioner factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under the given name, replacing any existing one.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get constructs the provisioner registered under name.
func (r *Registry) Get(name string) (Provisioner, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provisioner %q (registered: %v)", name, r.Names())
	}
	return factory()
}

// Names returns the registered provisioner names in sorted order.
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

// defaultRegistry is the process-wide registry provisioner packages
// register into from init().
var defaultRegistry = NewRegistry()

// Register adds a factory to the default registry.
func Register(name string, factory Factory) {
	defaultRegistry.Register(name, factory)
}

// Get constructs a provisioner from the default registry.
func Get(name string) (Provisioner, error) {
	return defaultRegistry.Get(name)
}

// Names lists the default registry's provisioner names.
func Names() []string {
	return defaultRegistry.Names()
}
