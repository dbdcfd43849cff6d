// Package directory tracks cluster membership and per-node health through
// periodic heartbeat exchange. Each node sends a heartbeat to every peer at
// a fixed interval and records when peers were last heard from; a run of
// missed heartbeats degrades a peer's status, and a single received
// heartbeat restores it. Status changes are published on an ordered,
// single-consumer event stream consumed by the health watchdog.
package directory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/ironlake/hivecache/internal/cluster"
	"github.com/ironlake/hivecache/internal/logger"
	"github.com/ironlake/hivecache/internal/metrics"
)

// Status is a peer's health as observed by the local node.
type Status int

const (
	// StatusHealthy means heartbeats are arriving on schedule.
	StatusHealthy Status = iota
	// StatusDegraded means the peer missed the configured run of
	// consecutive heartbeats. Peers start Degraded until their first
	// heartbeat arrives.
	StatusDegraded
	// StatusUnreachable means the peer has been silent for the longer
	// unreachability window.
	StatusUnreachable
)

// String renders the status for logs and events.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnreachable:
		return "unreachable"
	}
	return "unknown"
}

// Event records one peer status transition. Node is the peer's configured
// address, the stable identifier for cluster participants.
type Event struct {
	Node string
	From Status
	To   Status
	At   time.Time
}

// PeerHealth is a point-in-time copy of one peer's tracked state.
type PeerHealth struct {
	Node     cluster.NodeInfo
	Status   Status
	LastSeen time.Time // zero until the first heartbeat arrives
}

// eventBuffer sizes the subscription channel. The watchdog consumes
// promptly; transitions that overflow a stalled consumer are dropped with a
// warning rather than blocking the checker loop.
const eventBuffer = 64

// peerState is the mutable tracking record for one peer.
// Protected by Directory.mu.
type peerState struct {
	info     cluster.NodeInfo
	status   Status
	lastSeen time.Time
}

// Directory owns the cluster's node records. It runs two background loops:
// a sender broadcasting heartbeats to all peers, and a checker demoting
// peers whose heartbeats stopped arriving. Observe is called by the
// heartbeat receive endpoint and restores a peer to Healthy immediately.
//
// Thread-safe: all methods may be called concurrently.
type Directory struct {
	self      cluster.NodeInfo
	transport cluster.Transport

	interval          time.Duration // heartbeat period
	missedThreshold   int           // consecutive misses before Degraded
	unreachableFactor int           // multiplies the threshold for Unreachable

	mu       sync.RWMutex
	peers    map[string]*peerState
	started  time.Time
	lastSent time.Time

	events chan Event
}

// Options configures a Directory.
type Options struct {
	Self              cluster.NodeInfo
	Peers             []cluster.NodeInfo
	Transport         cluster.Transport
	Interval          time.Duration
	MissedThreshold   int
	UnreachableFactor int
}

// New creates a directory tracking the given peers. Peers start Degraded;
// they are promoted to Healthy by their first observed heartbeat, so the
// initial cluster verdict is conservative rather than optimistic.
func New(opts Options) *Directory {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.MissedThreshold < 1 {
		opts.MissedThreshold = 3
	}
	if opts.UnreachableFactor < 1 {
		opts.UnreachableFactor = 3
	}

	d := &Directory{
		self:              opts.Self,
		transport:         opts.Transport,
		interval:          opts.Interval,
		missedThreshold:   opts.MissedThreshold,
		unreachableFactor: opts.UnreachableFactor,
		peers:             make(map[string]*peerState),
		events:            make(chan Event, eventBuffer),
	}
	for _, p := range opts.Peers {
		d.peers[p.Addr] = &peerState{info: p, status: StatusDegraded}
		metrics.PeerStatus.WithLabelValues(p.Addr).Set(float64(StatusDegraded))
	}
	return d
}

// Events returns the ordered stream of peer status transitions. The stream
// has exactly one consumer: the health watchdog.
func (d *Directory) Events() <-chan Event {
	return d.events
}

// PeerCount returns the number of configured peers.
func (d *Directory) PeerCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}

// States returns a snapshot of every peer's current status.
func (d *Directory) States() map[string]Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	states := make(map[string]Status, len(d.peers))
	for id, ps := range d.peers {
		states[id] = ps.status
	}
	return states
}

// Snapshot returns a copy of all peer records, ordered by address for
// stable presentation.
func (d *Directory) Snapshot() []PeerHealth {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]PeerHealth, 0, len(d.peers))
	for _, ps := range d.peers {
		out = append(out, PeerHealth{
			Node:     ps.info,
			Status:   ps.status,
			LastSeen: ps.lastSeen,
		})
	}
	slices.SortFunc(out, func(a, b PeerHealth) int {
		switch {
		case a.Node.Addr < b.Node.Addr:
			return -1
		case a.Node.Addr > b.Node.Addr:
			return 1
		}
		return 0
	})
	return out
}

// HealthyPeers returns the peers currently marked Healthy; the propagator
// broadcasts only to these.
func (d *Directory) HealthyPeers() []cluster.NodeInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []cluster.NodeInfo
	for _, ps := range d.peers {
		if ps.status == StatusHealthy {
			out = append(out, ps.info)
		}
	}
	return out
}

// Observe records a received heartbeat. Recovery is immediate: a single
// heartbeat from a Degraded or Unreachable peer restores it to Healthy.
// Heartbeats from unknown nodes are ignored; cluster topology is fixed at
// startup.
func (d *Directory) Observe(from cluster.NodeInfo) {
	now := time.Now()

	d.mu.Lock()
	ps, ok := d.peers[from.Addr]
	if !ok {
		d.mu.Unlock()
		logger.WithComponent("heartbeat").Warn("heartbeat from unknown node ignored",
			"node", from.ID, "addr", from.Addr)
		return
	}
	ps.lastSeen = now
	// Peers are configured by address; the heartbeat carries the node's
	// self-assigned ID, learned here.
	ps.info.ID = from.ID
	prev := ps.status
	ps.status = StatusHealthy
	d.mu.Unlock()

	if prev != StatusHealthy {
		d.transition(from.Addr, prev, StatusHealthy, now)
	}
}

// RunSender broadcasts heartbeats to every configured peer at the
// configured interval until ctx is canceled. A failed send is transient:
// it is counted and logged at debug level, never surfaced. Only the
// receiving side's silence window changes a peer's status.
func (d *Directory) RunSender(ctx context.Context) {
	log := logger.WithComponent("heartbeat")
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	log.Info("heartbeat sender started", "interval", d.interval, "peers", d.PeerCount())

	d.sendAll(ctx, log)
	for {
		select {
		case <-ticker.C:
			d.sendAll(ctx, log)
		case <-ctx.Done():
			log.Info("heartbeat sender stopped")
			return
		}
	}
}

// sendAll sends one heartbeat to each peer and records the send marker.
func (d *Directory) sendAll(ctx context.Context, log *slog.Logger) {
	hb := cluster.Heartbeat{Node: d.self, Sent: time.Now().UnixNano()}

	d.mu.RLock()
	targets := make([]cluster.NodeInfo, 0, len(d.peers))
	for _, ps := range d.peers {
		targets = append(targets, ps.info)
	}
	d.mu.RUnlock()

	for _, peer := range targets {
		sendCtx, cancel := context.WithTimeout(ctx, d.interval)
		err := d.transport.SendHeartbeat(sendCtx, peer, hb)
		cancel()
		if err != nil {
			metrics.HeartbeatSendFailures.WithLabelValues(peer.Addr).Inc()
			log.Debug("heartbeat send failed", "peer", peer.Addr, "error", err)
		}
	}

	d.mu.Lock()
	d.lastSent = time.Now()
	d.mu.Unlock()
}

// RunChecker periodically demotes peers whose heartbeats stopped arriving:
// Degraded after missedThreshold consecutive missed intervals, Unreachable
// after missedThreshold*unreachableFactor. Runs until ctx is canceled.
func (d *Directory) RunChecker(ctx context.Context) {
	log := logger.WithComponent("heartbeat")
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.mu.Lock()
	d.started = time.Now()
	d.mu.Unlock()

	for {
		select {
		case <-ticker.C:
			d.CheckOnce(time.Now())
		case <-ctx.Done():
			log.Info("heartbeat checker stopped")
			return
		}
	}
}

// CheckOnce evaluates every peer's silence window against now and applies
// any due status demotions. Exposed for the checker loop and for tests;
// re-evaluating with unchanged input emits no duplicate transitions.
func (d *Directory) CheckOnce(now time.Time) {
	type change struct {
		id       string
		from, to Status
	}
	var changes []change

	degradedAfter := time.Duration(d.missedThreshold) * d.interval
	unreachableAfter := time.Duration(d.missedThreshold*d.unreachableFactor) * d.interval

	d.mu.Lock()
	for id, ps := range d.peers {
		last := ps.lastSeen
		if last.IsZero() {
			// Never heard from: measure silence from checker start.
			last = d.started
		}
		silence := now.Sub(last)

		var want Status
		switch {
		case silence >= unreachableAfter:
			want = StatusUnreachable
		case silence >= degradedAfter:
			want = StatusDegraded
		default:
			continue // silence window not elapsed, no demotion due
		}

		// Demotions only; promotion happens solely through Observe.
		if want > ps.status {
			changes = append(changes, change{id: id, from: ps.status, to: want})
			ps.status = want
		}
	}
	d.mu.Unlock()

	for _, ch := range changes {
		d.transition(ch.id, ch.from, ch.to, now)
	}
}

// transition publishes one status change on the event stream and updates
// the peer status gauge. Must be called without holding d.mu.
func (d *Directory) transition(id string, from, to Status, at time.Time) {
	log := logger.WithComponent("heartbeat")
	if to == StatusHealthy {
		log.Info("peer recovered", "peer", id, "from", from.String())
	} else {
		log.Warn("peer demoted", "peer", id, "from", from.String(), "to", to.String())
	}
	metrics.PeerStatus.WithLabelValues(id).Set(float64(to))

	ev := Event{Node: id, From: from, To: to, At: at}
	select {
	case d.events <- ev:
	default:
		log.Warn("health event dropped, consumer stalled", "peer", id, "to", to.String())
	}
}
