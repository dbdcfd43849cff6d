package cache

import (
	"fmt"
	"time"
)

// policyKind discriminates the eviction policy variants.
type policyKind int

const (
	policyTTL policyKind = iota
	policyCapacity
)

// Policy describes how a named cache evicts entries. It is a tagged variant
// selected once at registration and immutable thereafter: either TTL-based
// expiry or a bounded entry count. Both variants are additionally subject to
// the cache's hard cap.
type Policy struct {
	kind policyKind
	ttl  time.Duration
	max  int
}

// TTL returns a policy expiring every entry d after insertion.
func TTL(d time.Duration) Policy {
	return Policy{kind: policyTTL, ttl: d}
}

// CapacityBounded returns a policy holding at most max entries, evicting the
// least-recently-inserted entry when full. Entries do not expire unless an
// insert carries an explicit TTL override.
func CapacityBounded(max int) Policy {
	return Policy{kind: policyCapacity, max: max}
}

// TTLDuration returns the policy's default entry lifetime, zero for
// capacity-bounded policies.
func (p Policy) TTLDuration() time.Duration {
	if p.kind == policyTTL {
		return p.ttl
	}
	return 0
}

// MaxEntries returns the policy's entry bound, zero for TTL policies.
func (p Policy) MaxEntries() int {
	if p.kind == policyCapacity {
		return p.max
	}
	return 0
}

// validate reports whether the policy parameters are usable.
func (p Policy) validate() error {
	switch p.kind {
	case policyTTL:
		if p.ttl <= 0 {
			return fmt.Errorf("ttl policy requires a positive duration, got %v", p.ttl)
		}
	case policyCapacity:
		if p.max <= 0 {
			return fmt.Errorf("capacity policy requires a positive entry bound, got %d", p.max)
		}
	}
	return nil
}

// String renders the policy for logs.
func (p Policy) String() string {
	switch p.kind {
	case policyTTL:
		return fmt.Sprintf("ttl(%v)", p.ttl)
	case policyCapacity:
		return fmt.Sprintf("capacity(%d)", p.max)
	}
	return "unknown"
}
