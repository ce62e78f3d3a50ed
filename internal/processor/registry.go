package processor

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a processor from its stage-level config map.
type Factory func(config map[string]any) (Processor, error)

// Registry maps processor names to factories. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name. Registering a name twice is an error so
// misconfigured hosts fail at startup rather than silently shadowing.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("processor name must not be empty")
	}
	if factory == nil {
		return fmt.Errorf("processor %q: factory must not be nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("processor %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Get returns the factory registered under name.
func (r *Registry) Get(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[name]
	return factory, ok
}

// New instantiates the named processor with the given config.
func (r *Registry) New(name string, config map[string]any) (Processor, error) {
	factory, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("processor %q not registered (known: %v)", name, r.List())
	}
	proc, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("construct processor %q: %w", name, err)
	}
	if proc == nil {
		return nil, fmt.Errorf("processor %q: factory returned nil", name)
	}
	return proc, nil
}

// List returns the registered names sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide registry. Hosts that want isolation
// construct their own with NewRegistry and pass it explicitly.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}
