// Package cache implements the named in-memory caches at the core of
// hivecache: TTL-expiring, capacity-bounded key-value stores with the
// conflict-resolution hooks the cluster propagation layer applies remote
// mutations through.
//
// # Overview
//
// Every cache is created once at startup with a fixed name, an eviction
// policy, and a hard entry cap, then lives for the whole process. Reads and
// writes are purely local and never touch the network; replication happens
// above this package, in propagate, which calls back into ApplyInsert,
// ApplyRemove, and ApplyClear for mutations received from peers.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│        Registry / Handles           │
//	│     (local reads and writes)        │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐            ┌──────────────┐
//	│              Cache                  │ ◄────────── │  Propagator  │
//	│  entries · tombstones · counters    │  Apply*     │ (peer feed)  │
//	└─────────────────────────────────────┘            └──────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│             Sweeper                  │
//	│  (background TTL/tombstone reclaim) │
//	└─────────────────────────────────────┘
//
// # Eviction Policies
//
// A Policy is one of two variants:
//
// TTL(d): every entry expires d after insertion
//   - Per-entry overrides via InsertTTL
//   - Expired entries are invisible to Get immediately
//   - Memory is reclaimed lazily and by the background sweeper
//
// CapacityBounded(max): bounded entry count, no default TTL
//   - Inserting at the bound evicts one victim first
//   - Used for the single-slot login-delay cache
//
// Both variants additionally honor the hard cap passed to New; the
// effective entry limit is the smaller of the policy bound and the cap.
//
// # Victim Selection
//
// When an insert of a new key would exceed the entry limit, one resident
// entry is evicted, chosen deterministically:
//
//  1. Any already-expired entry (reclaim before sacrifice)
//  2. The entry with the nearest expiry
//  3. Among entries without a TTL, the earliest inserted
//
// Overwriting an existing key never evicts.
//
// # Conflict Resolution
//
// Remote mutations carry the origin node's ID, a per-origin monotonic
// version, and the origin's wall-clock stamp. ApplyInsert keeps whichever
// write is later:
//
//   - Same origin: higher version wins (immune to clock steps)
//   - Different origins: higher stamp wins, ties broken by origin ID
//
// Removals and clears are stronger than concurrent inserts with older
// stamps: a removed key leaves a tombstone and a Clear records a cutoff
// stamp, and inserts at or below those stamps are rejected until the
// marker ages out. Marker retention equals the cache TTL, so a rejected
// insert would have expired by the time its marker is dropped anyway.
//
// # Concurrency
//
// A single mutex guards each cache's maps. Operation counters are updated
// atomically and readable without the lock via GetStats. Values are copied
// on insert and on return, so callers can never alias cache-owned memory.
//
// # Usage
//
//	c, err := cache.New("sessions", cache.TTL(4*time.Hour), 64, nodeID)
//	if err != nil {
//	    return err
//	}
//
//	mut := c.Insert("sid-123", token, 0)
//	// mut.Version and mut.Stamp identify this write cluster-wide.
//
//	v, err := c.Get("sid-123")
//	if errors.Is(err, cache.ErrNotFound) {
//	    // absent or expired
//	}
//
//	go c.RunSweeper(ctx) // reclaim expired entries and tombstones
//
// # See Also
//
// Related packages:
//   - internal/registry: constructs and owns the named caches
//   - internal/propagate: feeds remote mutations into Apply*
package cache
