package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ironlake/hivecache/internal/logger"
	"github.com/ironlake/hivecache/internal/metrics"
)

// ErrNotFound is returned when a key doesn't exist or has expired.
var ErrNotFound = errors.New("cache entry not found")

// defaultTombstoneRetention bounds how long deletion markers are kept on
// capacity-bounded caches, which have no TTL to derive the window from.
const defaultTombstoneRetention = 5 * time.Minute

// minSweepInterval is the floor for the background sweep period.
const minSweepInterval = time.Second

// Mutation describes a committed local mutation: the version assigned by
// this node and the wall-clock stamp recorded on the entry. The registry
// uses it to build the change notification shipped to peers.
type Mutation struct {
	Version uint64 // Monotonic per-node mutation counter
	Stamp   int64  // Origin wall clock, unix nanoseconds
}

// entry is one stored value with the metadata needed for TTL expiry and
// cross-node conflict resolution.
type entry struct {
	value      []byte
	insertedAt time.Time
	expiresAt  time.Time // zero means no expiry
	version    uint64    // version assigned by the writing node
	origin     string    // node that produced this write
	stamp      int64     // writer's wall clock, unix nanoseconds
}

// expired reports whether the entry's TTL has elapsed at now.
func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// tombstone marks a deleted key so a late-arriving stale insert from a peer
// is rejected until the retention window elapses.
type tombstone struct {
	stamp   int64     // stamp of the deletion that produced the marker
	expires time.Time // when the marker may be reclaimed
}

// Stats tracks per-cache operation counters. All fields are updated
// atomically and safe to read concurrently via GetStats.
type Stats struct {
	Hits        uint64 // Successful gets
	Misses      uint64 // Gets of absent or expired keys
	Inserts     uint64 // Local and remote inserts applied
	Removes     uint64 // Explicit removals
	Evictions   uint64 // Entries evicted under capacity pressure
	Expirations uint64 // Entries reclaimed after TTL elapsed
}

// Cache is one independently-configured expiring key/value store. Every
// operation is safe under unbounded concurrent callers; local API calls and
// the propagator's receive loop serialize on the same mutex, and unrelated
// caches never share a lock.
//
// An entry count never exceeds the hard cap: inserts evict the entry with
// the nearest expiry (earliest-inserted when no entry carries a TTL) before
// the cap would be exceeded. Expired entries are reclaimed lazily on Get and
// by a periodic background sweep (RunSweeper).
type Cache struct {
	name    string
	policy  Policy
	hardCap int
	origin  string // local node ID stamped onto local mutations

	mu         sync.Mutex
	entries    map[string]*entry
	tombstones map[string]tombstone
	version    uint64 // last assigned local version

	// clearStamp guards against stale inserts arriving after a clear.
	clearStamp   int64
	clearExpires time.Time

	stats Stats
}

// New creates a named cache with the given eviction policy and hard cap.
// A hard cap of zero or a degenerate policy is a configuration error.
func New(name string, policy Policy, hardCap int, origin string) (*Cache, error) {
	if name == "" {
		return nil, errors.New("cache name cannot be empty")
	}
	if hardCap <= 0 {
		return nil, fmt.Errorf("cache %q: hard cap must be positive, got %d", name, hardCap)
	}
	if err := policy.validate(); err != nil {
		return nil, fmt.Errorf("cache %q: %w", name, err)
	}
	return &Cache{
		name:       name,
		policy:     policy,
		hardCap:    hardCap,
		origin:     origin,
		entries:    make(map[string]*entry),
		tombstones: make(map[string]tombstone),
	}, nil
}

// Name returns the cache's unique name.
func (c *Cache) Name() string { return c.name }

// Policy returns the cache's eviction policy.
func (c *Cache) Policy() Policy { return c.policy }

// HardCap returns the cache's maximum entry count.
func (c *Cache) HardCap() int { return c.hardCap }

// Insert stores value under key, stamps the insertion time, assigns the next
// local version and returns the mutation record for propagation. If the
// insert would exceed the cache's entry limit, a victim is evicted first.
// A positive ttlOverride replaces the policy TTL for this entry.
func (c *Cache) Insert(key string, value []byte, ttlOverride time.Duration) Mutation {
	now := time.Now()

	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.version++
	e := &entry{
		value:      stored,
		insertedAt: now,
		expiresAt:  c.expiryLocked(now, ttlOverride),
		version:    c.version,
		origin:     c.origin,
		stamp:      now.UnixNano(),
	}

	c.makeRoomLocked(key, now)
	c.entries[key] = e
	// A fresh local write supersedes any pending deletion marker.
	delete(c.tombstones, key)

	atomic.AddUint64(&c.stats.Inserts, 1)
	metrics.CacheOps.WithLabelValues(c.name, "insert").Inc()
	metrics.CacheEntries.WithLabelValues(c.name).Set(float64(len(c.entries)))

	return Mutation{Version: e.version, Stamp: e.stamp}
}

// Get retrieves the value stored under key, lazily expiring it if its TTL
// has elapsed. Returns ErrNotFound for absent or expired keys. Get never
// performs cluster I/O.
func (c *Cache) Get(key string) ([]byte, error) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		atomic.AddUint64(&c.stats.Misses, 1)
		metrics.CacheOps.WithLabelValues(c.name, "miss").Inc()
		return nil, ErrNotFound
	}
	if e.expired(now) {
		delete(c.entries, key)
		atomic.AddUint64(&c.stats.Expirations, 1)
		atomic.AddUint64(&c.stats.Misses, 1)
		metrics.CacheOps.WithLabelValues(c.name, "expire").Inc()
		metrics.CacheOps.WithLabelValues(c.name, "miss").Inc()
		metrics.CacheEntries.WithLabelValues(c.name).Set(float64(len(c.entries)))
		return nil, ErrNotFound
	}

	atomic.AddUint64(&c.stats.Hits, 1)
	metrics.CacheOps.WithLabelValues(c.name, "hit").Inc()

	// Return a copy to prevent external modification.
	result := make([]byte, len(e.value))
	copy(result, e.value)
	return result, nil
}

// Remove deletes the entry stored under key and records a tombstone so a
// stale peer insert cannot resurrect it. The returned bool reports whether
// the key was present.
func (c *Cache) Remove(key string) (Mutation, bool) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.version++
	stamp := now.UnixNano()

	_, existed := c.entries[key]
	delete(c.entries, key)
	c.tombstones[key] = tombstone{
		stamp:   stamp,
		expires: now.Add(c.tombstoneRetention()),
	}

	if existed {
		atomic.AddUint64(&c.stats.Removes, 1)
		metrics.CacheOps.WithLabelValues(c.name, "remove").Inc()
		metrics.CacheEntries.WithLabelValues(c.name).Set(float64(len(c.entries)))
	}

	return Mutation{Version: c.version, Stamp: stamp}, existed
}

// Clear drops all entries. Used after data migrations so no pre-migration
// state survives into a new deployment, and on receipt of a peer's ClearAll
// notification.
func (c *Cache) Clear() Mutation {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.version++
	stamp := now.UnixNano()

	c.entries = make(map[string]*entry)
	c.tombstones = make(map[string]tombstone)
	c.clearStamp = stamp
	c.clearExpires = now.Add(c.tombstoneRetention())

	metrics.CacheEntries.WithLabelValues(c.name).Set(0)

	return Mutation{Version: c.version, Stamp: stamp}
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// GetStats returns a snapshot of the cache's operation counters.
func (c *Cache) GetStats() Stats {
	return Stats{
		Hits:        atomic.LoadUint64(&c.stats.Hits),
		Misses:      atomic.LoadUint64(&c.stats.Misses),
		Inserts:     atomic.LoadUint64(&c.stats.Inserts),
		Removes:     atomic.LoadUint64(&c.stats.Removes),
		Evictions:   atomic.LoadUint64(&c.stats.Evictions),
		Expirations: atomic.LoadUint64(&c.stats.Expirations),
	}
}

// expiryLocked computes the expiry timestamp for an entry inserted at now.
// A positive override wins; otherwise TTL policies apply their lifespan and
// capacity policies leave entries non-expiring.
func (c *Cache) expiryLocked(now time.Time, ttlOverride time.Duration) time.Time {
	if ttlOverride > 0 {
		return now.Add(ttlOverride)
	}
	if d := c.policy.TTLDuration(); d > 0 {
		return now.Add(d)
	}
	return time.Time{}
}

// entryLimit returns the effective entry bound: the policy's capacity bound
// when tighter than the hard cap, the hard cap otherwise.
func (c *Cache) entryLimit() int {
	if max := c.policy.MaxEntries(); max > 0 && max < c.hardCap {
		return max
	}
	return c.hardCap
}

// makeRoomLocked evicts entries until inserting key would not exceed the
// entry limit. Expired entries are reclaimed first; otherwise the victim is
// the entry with the nearest expiry, falling back to the earliest-inserted
// entry when no candidate carries a TTL. Callers must hold c.mu.
func (c *Cache) makeRoomLocked(key string, now time.Time) {
	if _, exists := c.entries[key]; exists {
		return // overwrite, no growth
	}

	limit := c.entryLimit()
	for len(c.entries) >= limit {
		victim, ok := c.victimLocked(now)
		if !ok {
			return
		}
		delete(c.entries, victim)
		atomic.AddUint64(&c.stats.Evictions, 1)
		metrics.CacheOps.WithLabelValues(c.name, "evict").Inc()
	}
}

// victimLocked selects the eviction victim: any expired entry, else the
// entry with the nearest expiry, else the earliest-inserted entry among
// those without a TTL. The bool is false only when the cache is empty.
// Any key, including the empty string, is a valid victim. Callers must
// hold c.mu.
func (c *Cache) victimLocked(now time.Time) (string, bool) {
	var (
		victim       string
		hasVictim    bool
		victimExpiry time.Time
		oldest       string
		hasOldest    bool
		oldestAt     time.Time
	)

	for k, e := range c.entries {
		if e.expired(now) {
			return k, true
		}
		if !e.expiresAt.IsZero() {
			if !hasVictim || e.expiresAt.Before(victimExpiry) {
				victim, victimExpiry, hasVictim = k, e.expiresAt, true
			}
			continue
		}
		if !hasOldest || e.insertedAt.Before(oldestAt) {
			oldest, oldestAt, hasOldest = k, e.insertedAt, true
		}
	}

	if hasVictim {
		return victim, true
	}
	return oldest, hasOldest
}

// tombstoneRetention returns how long deletion markers are kept: the cache
// TTL for TTL policies, a fixed window for capacity-bounded caches.
func (c *Cache) tombstoneRetention() time.Duration {
	if d := c.policy.TTLDuration(); d > 0 {
		return d
	}
	return defaultTombstoneRetention
}

// Sweep performs one reclamation pass, dropping expired entries, stale
// tombstones and an elapsed clear marker. Returns the number of entries
// reclaimed. Sweep is invoked periodically by RunSweeper and directly by
// tests.
func (c *Cache) Sweep() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	reclaimed := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			reclaimed++
			atomic.AddUint64(&c.stats.Expirations, 1)
			metrics.CacheOps.WithLabelValues(c.name, "expire").Inc()
		}
	}
	for k, ts := range c.tombstones {
		if now.After(ts.expires) {
			delete(c.tombstones, k)
		}
	}
	if c.clearStamp != 0 && now.After(c.clearExpires) {
		c.clearStamp = 0
	}

	if reclaimed > 0 {
		metrics.CacheEntries.WithLabelValues(c.name).Set(float64(len(c.entries)))
	}
	return reclaimed
}

// SweepInterval returns the cache's background sweep period: one tenth of
// the TTL with a one second floor, or one tenth of the tombstone retention
// window for capacity-bounded caches.
func (c *Cache) SweepInterval() time.Duration {
	d := c.tombstoneRetention() / 10
	if d < minSweepInterval {
		d = minSweepInterval
	}
	return d
}

// RunSweeper runs the periodic sweep loop until ctx is canceled. It is
// started once per cache by the lifecycle manager.
func (c *Cache) RunSweeper(ctx context.Context) {
	log := logger.WithComponent("sweeper").With("cache", c.name)
	interval := c.SweepInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Debug("sweeper started", "interval", interval)

	for {
		select {
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				log.Debug("sweep reclaimed expired entries", "count", n)
			}
		case <-ctx.Done():
			log.Debug("sweeper stopped")
			return
		}
	}
}
