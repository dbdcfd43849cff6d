package cache

import (
	"sync/atomic"
	"time"

	"github.com/ironlake/hivecache/internal/metrics"
)

// This file implements the receive side of cluster propagation: applying a
// peer's mutations to the local store with last-writer-wins conflict
// resolution. Ordering is defined only per origin node; concurrent writes
// from different origins are resolved by (stamp, origin) so every node
// converges on the same winner regardless of arrival order.

// ApplyInsert applies a peer's insert notification. It returns true when the
// incoming write won and was stored, false when it lost to a newer local
// entry, a pending tombstone or a clear marker. Applying the same
// notification twice leaves the cache state unchanged.
func (c *Cache) ApplyInsert(key string, value []byte, origin string, version uint64, stamp int64) bool {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	// A clear that happened after this write was emitted invalidates it.
	if c.clearStamp != 0 && now.Before(c.clearExpires) && stamp <= c.clearStamp {
		return false
	}

	// A deletion newer than this write keeps the key dead until the
	// tombstone's retention window elapses.
	if ts, ok := c.tombstones[key]; ok && now.Before(ts.expires) && stamp <= ts.stamp {
		return false
	}

	if e, ok := c.entries[key]; ok && !e.expired(now) {
		if !wins(origin, version, stamp, e) {
			return false
		}
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	c.makeRoomLocked(key, now)
	c.entries[key] = &entry{
		value:      stored,
		insertedAt: now,
		expiresAt:  c.expiryLocked(now, 0),
		version:    version,
		origin:     origin,
		stamp:      stamp,
	}
	delete(c.tombstones, key)

	atomic.AddUint64(&c.stats.Inserts, 1)
	metrics.CacheEntries.WithLabelValues(c.name).Set(float64(len(c.entries)))
	return true
}

// ApplyRemove applies a peer's remove notification. Removal is applied
// unconditionally; the recorded tombstone keeps the greatest stamp seen so
// out-of-order duplicates cannot weaken it.
func (c *Cache) ApplyRemove(key string, stamp int64) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, existed := c.entries[key]; existed {
		delete(c.entries, key)
		atomic.AddUint64(&c.stats.Removes, 1)
		metrics.CacheEntries.WithLabelValues(c.name).Set(float64(len(c.entries)))
	}

	if prev, ok := c.tombstones[key]; ok && prev.stamp > stamp {
		return
	}
	c.tombstones[key] = tombstone{
		stamp:   stamp,
		expires: now.Add(c.tombstoneRetention()),
	}
}

// ApplyClear applies a peer's clear-all notification, dropping every entry
// and recording a clear marker that rejects stale inserts emitted before
// the clear.
func (c *Cache) ApplyClear(stamp int64) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.tombstones = make(map[string]tombstone)
	if stamp > c.clearStamp {
		c.clearStamp = stamp
		c.clearExpires = now.Add(c.tombstoneRetention())
	}

	metrics.CacheEntries.WithLabelValues(c.name).Set(0)
}

// wins reports whether an incoming write (origin, version, stamp) beats the
// existing entry. Writes from the same origin are ordered by their version
// counter; writes from different origins are last-writer-wins by wall-clock
// stamp, ties broken by the lexicographically greater origin ID.
func wins(origin string, version uint64, stamp int64, e *entry) bool {
	if origin == e.origin {
		return version > e.version
	}
	if stamp != e.stamp {
		return stamp > e.stamp
	}
	return origin > e.origin
}
