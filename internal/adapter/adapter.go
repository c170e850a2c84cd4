// Package adapter converts runtime values between capability types. Rewritten
// code asks for a conversion by source and destination type descriptor; the
// adapter is looked up on first use and memoized.
package adapter

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jward/capgate/internal/ref"
)

// ErrNoAdapter is returned by a conversion with no registered adapter.
var ErrNoAdapter = errors.New("adapter: no adapter registered")

// Func converts one value.
type Func func(v any) (any, error)

// Hierarchy returns the direct supertypes of a unit.
type Hierarchy func(name string) []string

type pair struct{ src, dst string }

// Registry holds adapters keyed by (source, destination) type descriptor.
type Registry struct {
	mu        sync.Mutex
	adapters  map[pair]Func
	order     []pair
	resolved  map[pair]Func
	hierarchy Hierarchy
}

// Option configures a Registry.
type Option func(*Registry)

// WithHierarchy enables best-fit lookup: an adapter registered for a
// supertype of the source serves the source too, nearest supertype first.
func WithHierarchy(h Hierarchy) Option {
	return func(r *Registry) {
		r.hierarchy = h
	}
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		adapters: make(map[pair]Func),
		resolved: make(map[pair]Func),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds fn as the adapter from src to dst.
func (r *Registry) Register(src, dst string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := pair{src, dst}
	if _, ok := r.adapters[k]; !ok {
		r.order = append(r.order, k)
	}
	r.adapters[k] = fn
	clear(r.resolved)
}

// HasConversion reports whether src can be converted to dst.
func (r *Registry) HasConversion(src, dst string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.lookup(src, dst)
	return ok
}

// LazyConversion returns a conversion from src to dst. The adapter is found
// on the first call and reused afterwards; if none exists then, the call
// fails with ErrNoAdapter.
func (r *Registry) LazyConversion(src, dst string) Func {
	var (
		once sync.Once
		fn   Func
		err  error
	)
	return func(v any) (any, error) {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			f, ok := r.lookup(src, dst)
			if !ok {
				err = fmt.Errorf("%w: %s -> %s", ErrNoAdapter, src, dst)
				return
			}
			fn = f
		})
		if err != nil {
			return nil, err
		}
		return fn(v)
	}
}

func identity(v any) (any, error) { return v, nil }

func (r *Registry) lookup(src, dst string) (Func, bool) {
	if src == dst || dst == ref.TypeObject {
		return identity, true
	}
	k := pair{src, dst}
	if fn, ok := r.resolved[k]; ok {
		return fn, true
	}
	if fn, ok := r.adapters[k]; ok {
		r.resolved[k] = fn
		return fn, true
	}
	fn, ok := r.bestFit(src, dst)
	if ok {
		r.resolved[k] = fn
	}
	return fn, ok
}

// bestFit picks the adapter to dst whose source is the nearest supertype of
// src. Ties go to the earliest registration.
func (r *Registry) bestFit(src, dst string) (Func, bool) {
	if r.hierarchy == nil {
		return nil, false
	}
	name, ok := ref.ClassName(src)
	if !ok {
		return nil, false
	}
	dist := r.distances(name)

	best, bestDist := Func(nil), -1
	for _, k := range r.order {
		if k.dst != dst {
			continue
		}
		sname, ok := ref.ClassName(k.src)
		if !ok {
			continue
		}
		d, ok := dist[sname]
		if !ok {
			continue
		}
		if bestDist < 0 || d < bestDist {
			best, bestDist = r.adapters[k], d
		}
	}
	return best, best != nil
}

// distances returns the hierarchy distance from name to each supertype.
func (r *Registry) distances(name string) map[string]int {
	dist := map[string]int{name: 0}
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, st := range r.hierarchy(cur) {
			if _, seen := dist[st]; seen {
				continue
			}
			dist[st] = dist[cur] + 1
			queue = append(queue, st)
		}
	}
	return dist
}
