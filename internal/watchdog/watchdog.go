// Package watchdog aggregates per-peer health from the node directory into
// a single cluster verdict that drives the readiness and liveness probes.
// It is the sole consumer of the directory's event stream and emits exactly
// one notification per verdict transition to an external event sink.
package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ironlake/hivecache/internal/directory"
	"github.com/ironlake/hivecache/internal/logger"
	"github.com/ironlake/hivecache/internal/metrics"
)

// Verdict is the cluster-wide health state.
type Verdict int

const (
	// VerdictUnknown is the initial state before the first heartbeat
	// round completes. Reported as not ready: health is never assumed.
	VerdictUnknown Verdict = iota
	// VerdictAllHealthy means every configured peer is Healthy.
	VerdictAllHealthy
	// VerdictDegraded means at least one peer is Degraded but none is
	// Unreachable.
	VerdictDegraded
	// VerdictCritical means at least one peer is Unreachable, or the
	// local node has lost quorum.
	VerdictCritical
)

// String renders the verdict for logs and probe responses.
func (v Verdict) String() string {
	switch v {
	case VerdictAllHealthy:
		return "all-healthy"
	case VerdictDegraded:
		return "degraded"
	case VerdictCritical:
		return "critical"
	}
	return "unknown"
}

// Snapshot is a point-in-time verdict over all cluster nodes.
type Snapshot struct {
	Verdict Verdict
	Reason  string
	At      time.Time
}

// Ready reports whether the verdict permits routing traffic to this node.
// Degraded still serves; Critical and Unknown do not.
func (s Snapshot) Ready() bool {
	return s.Verdict == VerdictAllHealthy || s.Verdict == VerdictDegraded
}

// Sink receives one notification per verdict transition. Delivery is
// fire-and-forget from the watchdog's perspective; a slow or failing sink
// must not block cache operations.
type Sink interface {
	HealthChanged(prev, next Snapshot)
}

// recheckInterval bounds how stale the verdict can get when no directory
// events arrive (covers the single-node case, where no peer events exist).
const recheckInterval = time.Second

// Watchdog computes the cluster health verdict. Reevaluate is idempotent:
// recomputing with unchanged peer states emits no duplicate transitions.
type Watchdog struct {
	dir  *directory.Directory
	sink Sink

	mu      sync.RWMutex
	current Snapshot
}

// New creates a watchdog over the given directory. The initial snapshot is
// VerdictUnknown until the first evaluation completes.
func New(dir *directory.Directory, sink Sink) *Watchdog {
	w := &Watchdog{
		dir:     dir,
		sink:    sink,
		current: Snapshot{Verdict: VerdictUnknown, Reason: "no heartbeat round completed", At: time.Now()},
	}
	metrics.ClusterReady.Set(0)
	return w
}

// Current returns the last computed snapshot. Always answers, even before
// any heartbeat has been observed.
func (w *Watchdog) Current() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run consumes the directory's event stream until ctx is canceled,
// re-evaluating the verdict on every peer transition and on a slow ticker
// so the initial Unknown state resolves once the first heartbeat round has
// had time to complete.
func (w *Watchdog) Run(ctx context.Context) {
	log := logger.WithComponent("watchdog")
	ticker := time.NewTicker(recheckInterval)
	defer ticker.Stop()

	events := w.dir.Events()
	for {
		select {
		case ev := <-events:
			log.Debug("peer transition observed", "peer", ev.Node, "from", ev.From.String(), "to", ev.To.String())
			w.Reevaluate()
		case <-ticker.C:
			w.Reevaluate()
		case <-ctx.Done():
			log.Info("watchdog stopped")
			return
		}
	}
}

// Reevaluate recomputes the verdict from the directory's current states and
// publishes a transition if it changed. Safe to call at any time.
func (w *Watchdog) Reevaluate() {
	next := compute(w.dir.States())

	w.mu.Lock()
	prev := w.current
	if next.Verdict == prev.Verdict {
		w.mu.Unlock()
		return
	}
	next.At = time.Now()
	w.current = next
	w.mu.Unlock()

	w.publish(prev, next)
}

// publish records the transition and notifies the sink.
func (w *Watchdog) publish(prev, next Snapshot) {
	log := logger.WithComponent("watchdog")
	if next.Verdict == VerdictCritical {
		log.Error("cluster verdict changed", "from", prev.Verdict.String(), "to", next.Verdict.String(), "reason", next.Reason)
	} else {
		log.Info("cluster verdict changed", "from", prev.Verdict.String(), "to", next.Verdict.String(), "reason", next.Reason)
	}

	if next.Ready() {
		metrics.ClusterReady.Set(1)
	} else {
		metrics.ClusterReady.Set(0)
	}
	metrics.VerdictTransitions.WithLabelValues(next.Verdict.String()).Inc()

	if w.sink != nil {
		w.sink.HealthChanged(prev, next)
	}
}

// compute derives the verdict from a peer status snapshot: AllHealthy iff
// every peer is Healthy, Degraded when at least one peer is Degraded but
// none Unreachable, Critical when any peer is Unreachable or more than half
// of the peers are Unreachable (quorum loss). A node with no configured
// peers is trivially AllHealthy.
func compute(states map[string]directory.Status) Snapshot {
	var degraded, unreachable int
	for _, st := range states {
		switch st {
		case directory.StatusDegraded:
			degraded++
		case directory.StatusUnreachable:
			unreachable++
		}
	}

	switch {
	case unreachable > 0:
		reason := fmt.Sprintf("%d peer(s) unreachable", unreachable)
		if unreachable*2 > len(states) {
			reason = fmt.Sprintf("quorum lost: %d of %d peers unreachable", unreachable, len(states))
		}
		return Snapshot{Verdict: VerdictCritical, Reason: reason}
	case degraded > 0:
		return Snapshot{Verdict: VerdictDegraded, Reason: fmt.Sprintf("%d peer(s) degraded", degraded)}
	default:
		return Snapshot{Verdict: VerdictAllHealthy, Reason: "all peers healthy"}
	}
}
