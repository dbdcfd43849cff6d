package registry

import (
	"time"

	"github.com/ironlake/hivecache/internal/cache"
	"github.com/ironlake/hivecache/internal/cluster"
)

// Handle is the per-cache API handed to the consuming subsystems (OIDC
// handlers, WebAuthn ceremonies, rate limiters). Every mutation performed
// through a handle is additionally serialized into a change notification
// and enqueued for cluster propagation; reads operate purely on local
// state and never suspend on cluster I/O.
type Handle struct {
	c   *cache.Cache
	reg *Registry
}

// Name returns the cache's unique name.
func (h *Handle) Name() string { return h.c.Name() }

// Insert stores value under key with the cache's policy TTL and propagates
// the write. Returns the version assigned by this node. May suspend briefly
// when the outbound propagation channel is full; the local write always
// succeeds.
func (h *Handle) Insert(key string, value []byte) uint64 {
	return h.InsertTTL(key, value, 0)
}

// InsertTTL is Insert with a per-entry TTL override. A zero ttl uses the
// cache policy's default.
func (h *Handle) InsertTTL(key string, value []byte, ttl time.Duration) uint64 {
	mut := h.c.Insert(key, value, ttl)
	h.reg.prop.Enqueue(cluster.Notification{
		Cache:   h.c.Name(),
		Key:     key,
		Op:      cluster.OpInsert,
		Value:   append([]byte(nil), value...),
		Origin:  h.reg.origin,
		Version: mut.Version,
		Stamp:   mut.Stamp,
	})
	return mut.Version
}

// Get retrieves the value stored under key. Returns cache.ErrNotFound for
// absent or expired keys.
func (h *Handle) Get(key string) ([]byte, error) {
	return h.c.Get(key)
}

// Remove deletes the entry stored under key and propagates the removal.
// Returns true if the key was present.
func (h *Handle) Remove(key string) bool {
	mut, existed := h.c.Remove(key)
	h.reg.prop.Enqueue(cluster.Notification{
		Cache:   h.c.Name(),
		Key:     key,
		Op:      cluster.OpRemove,
		Origin:  h.reg.origin,
		Version: mut.Version,
		Stamp:   mut.Stamp,
	})
	return existed
}

// Clear drops all entries and propagates the clear.
func (h *Handle) Clear() {
	mut := h.c.Clear()
	h.reg.prop.Enqueue(cluster.Notification{
		Cache:   h.c.Name(),
		Op:      cluster.OpClear,
		Origin:  h.reg.origin,
		Version: mut.Version,
		Stamp:   mut.Stamp,
	})
}

// Len returns the cache's current entry count.
func (h *Handle) Len() int { return h.c.Len() }

// Stats returns a snapshot of the cache's operation counters.
func (h *Handle) Stats() cache.Stats { return h.c.GetStats() }
