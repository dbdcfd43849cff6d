package cache

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func mustNew(t *testing.T, name string, policy Policy, hardCap int) *Cache {
	t.Helper()
	c, err := New(name, policy, hardCap, "node-test")
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	return c
}

// TestNew validates cache construction and configuration errors.
func TestNew(t *testing.T) {
	t.Run("valid ttl cache", func(t *testing.T) {
		c := mustNew(t, "sessions", TTL(time.Minute), 64)
		if c.Name() != "sessions" {
			t.Errorf("Expected name 'sessions', got %q", c.Name())
		}
		if c.HardCap() != 64 {
			t.Errorf("Expected hard cap 64, got %d", c.HardCap())
		}
	})

	t.Run("zero hard cap is a configuration error", func(t *testing.T) {
		if _, err := New("bad", TTL(time.Minute), 0, "node-test"); err == nil {
			t.Error("Expected error for zero hard cap")
		}
	})

	t.Run("empty name rejected", func(t *testing.T) {
		if _, err := New("", TTL(time.Minute), 8, "node-test"); err == nil {
			t.Error("Expected error for empty name")
		}
	})

	t.Run("degenerate policies rejected", func(t *testing.T) {
		if _, err := New("bad", TTL(0), 8, "node-test"); err == nil {
			t.Error("Expected error for zero TTL")
		}
		if _, err := New("bad", CapacityBounded(0), 8, "node-test"); err == nil {
			t.Error("Expected error for zero capacity bound")
		}
	})
}

// TestRoundTrip tests the round-trip law: get after insert returns the
// value until TTL elapse, removal or clear.
func TestRoundTrip(t *testing.T) {
	t.Run("insert then get", func(t *testing.T) {
		c := mustNew(t, "rt", TTL(time.Minute), 8)

		c.Insert("key1", []byte("value1"), 0)
		got, err := c.Get("key1")
		if err != nil {
			t.Fatalf("Failed to get value: %v", err)
		}
		if !bytes.Equal(got, []byte("value1")) {
			t.Errorf("Expected 'value1', got %s", string(got))
		}
	})

	t.Run("missing key returns ErrNotFound", func(t *testing.T) {
		c := mustNew(t, "rt", TTL(time.Minute), 8)
		if _, err := c.Get("nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("overwrite replaces value", func(t *testing.T) {
		c := mustNew(t, "rt", TTL(time.Minute), 8)

		c.Insert("key1", []byte("value1"), 0)
		c.Insert("key1", []byte("value2"), 0)

		got, err := c.Get("key1")
		if err != nil {
			t.Fatalf("Failed to get value: %v", err)
		}
		if !bytes.Equal(got, []byte("value2")) {
			t.Errorf("Expected 'value2', got %s", string(got))
		}
		if c.Len() != 1 {
			t.Errorf("Expected 1 entry after overwrite, got %d", c.Len())
		}
	})

	t.Run("remove deletes entry", func(t *testing.T) {
		c := mustNew(t, "rt", TTL(time.Minute), 8)

		c.Insert("key1", []byte("value1"), 0)
		if _, existed := c.Remove("key1"); !existed {
			t.Error("Expected remove to report existing key")
		}
		if _, err := c.Get("key1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound after remove, got %v", err)
		}
		if _, existed := c.Remove("key1"); existed {
			t.Error("Expected second remove to report absent key")
		}
	})

	t.Run("clear drops all entries", func(t *testing.T) {
		c := mustNew(t, "rt", TTL(time.Minute), 8)

		c.Insert("key1", []byte("value1"), 0)
		c.Insert("key2", []byte("value2"), 0)
		c.Clear()

		if c.Len() != 0 {
			t.Errorf("Expected empty cache after clear, got %d entries", c.Len())
		}
		if _, err := c.Get("key1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound after clear, got %v", err)
		}
	})

	t.Run("survives eviction pressure on other keys", func(t *testing.T) {
		c := mustNew(t, "rt", TTL(time.Minute), 4)

		// The stable key expires last, so nearest-expiry eviction always
		// picks a churn key.
		c.Insert("stable", []byte("fixed"), 24*time.Hour)
		// Churn other keys well past the hard cap.
		for i := 0; i < 20; i++ {
			c.Insert(fmt.Sprintf("churn-%d", i), []byte("x"), time.Duration(i+1)*time.Minute)
		}

		got, err := c.Get("stable")
		if err != nil {
			t.Fatalf("Stable key lost under eviction pressure: %v", err)
		}
		if !bytes.Equal(got, []byte("fixed")) {
			t.Errorf("Expected 'fixed', got %s", string(got))
		}
	})
}

// TestTTLExpiry tests lazy expiry on read and the background sweep
// (scenario: insert, readable before TTL elapses, gone after).
func TestTTLExpiry(t *testing.T) {
	t.Run("entry readable before and gone after TTL", func(t *testing.T) {
		c := mustNew(t, "ttl", TTL(150*time.Millisecond), 8)

		c.Insert("x", []byte("1"), 0)

		got, err := c.Get("x")
		if err != nil {
			t.Fatalf("Expected hit before TTL elapsed: %v", err)
		}
		if !bytes.Equal(got, []byte("1")) {
			t.Errorf("Expected '1', got %s", string(got))
		}

		time.Sleep(200 * time.Millisecond)
		if _, err := c.Get("x"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound after TTL elapsed, got %v", err)
		}
	})

	t.Run("ttl override wins over policy", func(t *testing.T) {
		c := mustNew(t, "ttl", TTL(time.Hour), 8)

		c.Insert("short", []byte("v"), 50*time.Millisecond)
		time.Sleep(80 * time.Millisecond)
		if _, err := c.Get("short"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected override expiry, got %v", err)
		}
	})

	t.Run("sweep reclaims expired entries", func(t *testing.T) {
		c := mustNew(t, "ttl", TTL(30*time.Millisecond), 8)

		c.Insert("a", []byte("1"), 0)
		c.Insert("b", []byte("2"), 0)
		time.Sleep(60 * time.Millisecond)

		if n := c.Sweep(); n != 2 {
			t.Errorf("Expected sweep to reclaim 2 entries, got %d", n)
		}
		if c.Len() != 0 {
			t.Errorf("Expected empty cache after sweep, got %d", c.Len())
		}
	})

	t.Run("sweep interval floor", func(t *testing.T) {
		c := mustNew(t, "ttl", TTL(2*time.Second), 8)
		if got := c.SweepInterval(); got != time.Second {
			t.Errorf("Expected 1s sweep interval floor, got %v", got)
		}
		c2 := mustNew(t, "ttl2", TTL(time.Hour), 8)
		if got := c2.SweepInterval(); got != 6*time.Minute {
			t.Errorf("Expected ttl/10 sweep interval, got %v", got)
		}
	})
}

// TestHardCap tests that a cache never exceeds its configured limits.
func TestHardCap(t *testing.T) {
	t.Run("capacity cache evicts earliest-inserted", func(t *testing.T) {
		// Scenario: cap 2, insert a, b, c in order; the earliest
		// survivor set is {b, c}.
		c := mustNew(t, "cap", CapacityBounded(2), 8)

		c.Insert("a", []byte("1"), 0)
		time.Sleep(time.Millisecond)
		c.Insert("b", []byte("2"), 0)
		time.Sleep(time.Millisecond)
		c.Insert("c", []byte("3"), 0)

		if c.Len() != 2 {
			t.Fatalf("Expected 2 entries, got %d", c.Len())
		}
		if _, err := c.Get("a"); !errors.Is(err, ErrNotFound) {
			t.Error("Expected earliest-inserted 'a' to be evicted")
		}
		if _, err := c.Get("b"); err != nil {
			t.Errorf("Expected 'b' to survive: %v", err)
		}
		if _, err := c.Get("c"); err != nil {
			t.Errorf("Expected 'c' to survive: %v", err)
		}
	})

	t.Run("ttl cache evicts nearest expiry", func(t *testing.T) {
		c := mustNew(t, "cap", TTL(time.Hour), 2)

		c.Insert("long", []byte("1"), 2*time.Hour)
		c.Insert("short", []byte("2"), time.Minute)
		c.Insert("new", []byte("3"), time.Hour)

		if _, err := c.Get("short"); !errors.Is(err, ErrNotFound) {
			t.Error("Expected nearest-expiry 'short' to be evicted")
		}
		if _, err := c.Get("long"); err != nil {
			t.Errorf("Expected 'long' to survive: %v", err)
		}
	})

	t.Run("single slot login delay cache", func(t *testing.T) {
		c := mustNew(t, "login-dly", CapacityBounded(1), 16)

		c.Insert("delay", []byte("50"), 0)
		time.Sleep(time.Millisecond)
		c.Insert("delay", []byte("75"), 0)

		if c.Len() != 1 {
			t.Errorf("Expected single slot, got %d entries", c.Len())
		}
		got, _ := c.Get("delay")
		if !bytes.Equal(got, []byte("75")) {
			t.Errorf("Expected latest value '75', got %s", string(got))
		}
	})

	t.Run("empty string key is a valid eviction victim", func(t *testing.T) {
		c := mustNew(t, "login-dly", CapacityBounded(1), 16)

		c.Insert("", []byte("1"), 0)
		c.Insert("other", []byte("2"), 0)

		if c.Len() != 1 {
			t.Fatalf("Expected 1 entry after evicting the empty key, got %d", c.Len())
		}
		if _, err := c.Get(""); !errors.Is(err, ErrNotFound) {
			t.Error("Expected empty key to be evicted")
		}
		if _, err := c.Get("other"); err != nil {
			t.Errorf("Expected 'other' to survive: %v", err)
		}
	})

	t.Run("empty string key respects nearest-expiry ordering", func(t *testing.T) {
		c := mustNew(t, "cap", TTL(time.Hour), 2)

		c.Insert("", []byte("1"), time.Minute)
		c.Insert("far", []byte("2"), 2*time.Hour)
		c.Insert("new", []byte("3"), time.Hour)

		if c.Len() != 2 {
			t.Fatalf("Expected 2 entries, got %d", c.Len())
		}
		if _, err := c.Get(""); !errors.Is(err, ErrNotFound) {
			t.Error("Expected nearest-expiry empty key to be evicted")
		}
	})

	t.Run("remote applies evict the empty key too", func(t *testing.T) {
		stamp := time.Now().UnixNano()
		c := mustNew(t, "capd", TTL(time.Minute), 1)

		c.ApplyInsert("", []byte("1"), "node-b", 1, stamp)
		c.ApplyInsert("other", []byte("2"), "node-b", 2, stamp+1)

		if c.Len() != 1 {
			t.Errorf("Expected 1 entry after remote apply, got %d", c.Len())
		}
	})

	t.Run("never exceeds cap under concurrent inserts", func(t *testing.T) {
		const hardCap = 8
		c := mustNew(t, "conc", TTL(time.Minute), hardCap)

		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					c.Insert(fmt.Sprintf("k-%d-%d", g, i), []byte("v"), 0)
					if n := c.Len(); n > hardCap {
						t.Errorf("Cache exceeded hard cap: %d > %d", n, hardCap)
						return
					}
				}
			}(g)
		}
		wg.Wait()

		if n := c.Len(); n > hardCap {
			t.Errorf("Cache exceeded hard cap after settle: %d > %d", n, hardCap)
		}
	})
}

// TestStats verifies the operation counters.
func TestStats(t *testing.T) {
	c := mustNew(t, "stats", TTL(time.Minute), 8)

	c.Insert("k", []byte("v"), 0)
	c.Get("k")
	c.Get("missing")
	c.Remove("k")

	s := c.GetStats()
	if s.Inserts != 1 {
		t.Errorf("Expected 1 insert, got %d", s.Inserts)
	}
	if s.Hits != 1 {
		t.Errorf("Expected 1 hit, got %d", s.Hits)
	}
	if s.Misses != 1 {
		t.Errorf("Expected 1 miss, got %d", s.Misses)
	}
	if s.Removes != 1 {
		t.Errorf("Expected 1 remove, got %d", s.Removes)
	}
}

// TestValueIsolation verifies stored values are isolated from caller
// mutation in both directions.
func TestValueIsolation(t *testing.T) {
	c := mustNew(t, "iso", TTL(time.Minute), 8)

	in := []byte("original")
	c.Insert("k", in, 0)
	in[0] = 'X'

	out, err := c.Get("k")
	if err != nil {
		t.Fatalf("Failed to get value: %v", err)
	}
	if !bytes.Equal(out, []byte("original")) {
		t.Errorf("Stored value aliased caller slice: %s", string(out))
	}

	out[0] = 'Y'
	again, _ := c.Get("k")
	if !bytes.Equal(again, []byte("original")) {
		t.Errorf("Returned value aliased stored slice: %s", string(again))
	}
}
