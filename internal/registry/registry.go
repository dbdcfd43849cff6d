// Package registry provides the single API surface the rest of the system
// uses to reach the named caches, and the lifecycle sequencing that keeps
// cache topology fixed for the process lifetime: every cache is registered
// before the cluster starts, and registration afterwards is rejected as a
// programming error.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/ironlake/hivecache/internal/cache"
	"github.com/ironlake/hivecache/internal/cluster"
)

var (
	// ErrSealed is returned when a cache is registered after cluster
	// start. Callers treat this as fatal; cache topology cannot change
	// at runtime.
	ErrSealed = errors.New("cache registry is sealed, registration after cluster start is a programming error")

	// ErrUnknownCache is returned for lookups of unregistered names.
	ErrUnknownCache = errors.New("unknown cache")
)

// Propagator is the registry's hook into the change propagation layer.
// Satisfied by *propagate.Propagator; tests inject fakes.
type Propagator interface {
	// Enqueue ships one local mutation to the cluster (may suspend
	// briefly under backpressure, never fails the local write).
	Enqueue(n cluster.Notification)

	// Attach hands the propagator a non-owning reference for applying
	// received peer mutations.
	Attach(c *cache.Cache)
}

// Registry owns all named caches. It is constructed once at startup,
// populated by Register calls, then sealed when the cluster joins.
//
// Thread-safe: all methods may be called concurrently.
type Registry struct {
	origin string // local node ID stamped onto mutations
	prop   Propagator

	mu     sync.RWMutex
	sealed bool
	caches map[string]*Handle
}

// New creates an empty registry. Mutations through its handles are
// propagated via prop; origin is the local node's ID.
func New(origin string, prop Propagator) *Registry {
	return &Registry{
		origin: origin,
		prop:   prop,
		caches: make(map[string]*Handle),
	}
}

// Register creates a named cache with the given policy and hard cap and
// attaches it to the propagator. Must be called for every cache before
// Seal; registering after the cluster has started, reusing a name, or
// passing a zero hard cap is a configuration error that aborts startup.
func (r *Registry) Register(name string, policy cache.Policy, hardCap int) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return nil, fmt.Errorf("register %q: %w", name, ErrSealed)
	}
	if _, exists := r.caches[name]; exists {
		return nil, fmt.Errorf("register %q: cache already registered", name)
	}

	c, err := cache.New(name, policy, hardCap, r.origin)
	if err != nil {
		return nil, err
	}
	h := &Handle{c: c, reg: r}
	r.caches[name] = h
	r.prop.Attach(c)
	return h, nil
}

// Seal fixes the cache topology. Called by the lifecycle manager
// immediately before cluster membership starts.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether the registry has been sealed.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Cache returns the handle for a registered cache name.
func (r *Registry) Cache(name string) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.caches[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCache, name)
	}
	return h, nil
}

// Names returns all registered cache names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.caches))
	for name := range r.caches {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ClearAll drops every entry from every cache and propagates the clears.
// Used once after schema/data migrations, before serving traffic, so no
// pre-migration residue survives into a new version.
func (r *Registry) ClearAll() {
	r.mu.RLock()
	handles := make([]*Handle, 0, len(r.caches))
	for _, h := range r.caches {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	for _, h := range handles {
		h.Clear()
	}
}

// each invokes f for every registered cache. Used by the lifecycle manager
// to start sweepers.
func (r *Registry) each(f func(c *cache.Cache)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.caches {
		f(h.c)
	}
}
