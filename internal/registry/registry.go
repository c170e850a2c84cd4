// Package registry maps capability units to the unit that implements them.
package registry

import (
	"slices"
	"sync"
)

// Registry records which implementation unit provides each capability. The
// last registration for a capability wins.
type Registry struct {
	mu    sync.RWMutex
	impls map[string]string
	order []string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{impls: make(map[string]string)}
}

// Register records impl as the implementation of every listed capability.
// It reports whether anything changed.
func (r *Registry) Register(impl string, capabilities ...string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := false
	for _, c := range capabilities {
		prev, ok := r.impls[c]
		if ok && prev == impl {
			continue
		}
		if !ok {
			r.order = append(r.order, c)
		}
		r.impls[c] = impl
		changed = true
	}
	return changed
}

// ImplementationFor returns the implementation registered for capability.
func (r *Registry) ImplementationFor(capability string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.impls[capability]
	return impl, ok
}

// Binding is one capability-to-implementation entry.
type Binding struct {
	Capability     string `json:"capability"`
	Implementation string `json:"implementation"`
}

// Implementations returns every binding in first-registration order.
func (r *Registry) Implementations() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Binding, 0, len(r.order))
	for _, c := range r.order {
		out = append(out, Binding{Capability: c, Implementation: r.impls[c]})
	}
	return out
}

// Capabilities returns the capability names with a registered
// implementation, sorted.
func (r *Registry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := slices.Clone(r.order)
	slices.Sort(out)
	return out
}
