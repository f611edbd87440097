package toolhost

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the consumer-facing map of prefixed tool names to
// adapters. It is populated during Host.Connect and append-only for the
// rest of the process.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]*ToolAdapter
}

// NewRegistry returns an empty registry. A process that never connects
// any tool server (for example behind a disabled feature gate) can hand
// one to consumers directly.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]*ToolAdapter)}
}

// register adds an adapter, rejecting name collisions loudly. The first
// registration always wins.
func (r *Registry) register(a *ToolAdapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.adapters[a.Name()]; ok {
		return &ConfigError{
			Name: a.Name(),
			Reason: fmt.Sprintf("tool name collides with %q from server %q",
				existing.desc.RemoteName, existing.desc.Server),
		}
	}
	r.adapters[a.Name()] = a
	return nil
}

// Adapter returns the adapter registered under name.
func (r *Registry) Adapter(name string) (*ToolAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns all registered tool names, sorted.
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

// Descriptors returns the descriptors of all registered tools, sorted
// by name.
func (r *Registry) Descriptors() []ToolDescriptor {
	r.mu.RLock()
	descs := make([]ToolDescriptor, 0, len(r.adapters))
	for _, a := range r.adapters {
		descs = append(descs, a.desc)
	}
	r.mu.RUnlock()
	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })
	return descs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}

// Call invokes a registered tool by its prefixed name with the default
// deadline. It is synchronous from the caller's point of view and
// always returns a normal value or error.
func (r *Registry) Call(name string, args map[string]any) (string, error) {
	a, ok := r.Adapter(name)
	if !ok {
		return "", fmt.Errorf("toolhost: unknown tool %q", name)
	}
	return a.Call(args)
}
