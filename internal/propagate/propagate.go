// Package propagate implements best-effort replication of cache mutations
// across the cluster. Local mutations are serialized into notifications and
// queued on a bounded outbound channel drained by a broadcasting goroutine;
// received peer notifications are applied to the local caches with
// last-writer-wins conflict resolution (implemented in the cache package).
//
// Propagation is an explicit consistency trade-off: sends to non-Healthy
// peers are dropped and there is no replay log, so the divergence window is
// bounded by each cache's TTL. Cached artifacts are short-lived security
// tokens, which makes that window acceptable.
package propagate

import (
	"context"
	"sync"
	"time"

	"github.com/ironlake/hivecache/internal/cache"
	"github.com/ironlake/hivecache/internal/cluster"
	"github.com/ironlake/hivecache/internal/directory"
	"github.com/ironlake/hivecache/internal/logger"
	"github.com/ironlake/hivecache/internal/metrics"
)

// outboundBuffer is the capacity of the outbound notification channel.
// When full, the mutating caller suspends (backpressure) rather than the
// notification being dropped silently.
const outboundBuffer = 64

// sendTimeout bounds one peer send so a stalled peer cannot block the
// broadcast of later notifications indefinitely.
const sendTimeout = 5 * time.Second

// defaultEnqueueCeiling bounds the backpressure wait before a notification
// is dropped with a warning. The local mutation always stands.
const defaultEnqueueCeiling = 5 * time.Second

// Propagator owns the outbound queue and the inbound application path. It
// holds non-owning references to the registered caches; the registry
// attaches them before the cluster starts.
type Propagator struct {
	dir       *directory.Directory
	transport cluster.Transport
	ceiling   time.Duration

	mu     sync.RWMutex
	caches map[string]*cache.Cache

	outbound chan cluster.Notification
}

// New creates a propagator broadcasting through the given transport to the
// directory's Healthy peers. A non-positive enqueueCeiling selects the
// default.
func New(dir *directory.Directory, transport cluster.Transport, enqueueCeiling time.Duration) *Propagator {
	if enqueueCeiling <= 0 {
		enqueueCeiling = defaultEnqueueCeiling
	}
	return &Propagator{
		dir:       dir,
		transport: transport,
		ceiling:   enqueueCeiling,
		caches:    make(map[string]*cache.Cache),
		outbound:  make(chan cluster.Notification, outboundBuffer),
	}
}

// Attach registers a cache as an application target for received peer
// notifications. Called once per cache by the registry before cluster start.
func (p *Propagator) Attach(c *cache.Cache) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.caches[c.Name()] = c
}

// Enqueue places a local mutation's notification onto the outbound channel.
// If the channel is full the caller suspends until space frees, bounded by
// the enqueue ceiling; past the ceiling the notification is dropped with a
// warning and the local write stands. A cache write never fails because the
// cluster is unavailable.
func (p *Propagator) Enqueue(n cluster.Notification) {
	select {
	case p.outbound <- n:
		return
	default:
	}

	timer := time.NewTimer(p.ceiling)
	defer timer.Stop()
	select {
	case p.outbound <- n:
	case <-timer.C:
		metrics.NotificationsDropped.WithLabelValues("backpressure").Inc()
		logger.WithComponent("propagator").Warn("outbound channel full past ceiling, notification dropped",
			"cache", n.Cache, "op", string(n.Op), "ceiling", p.ceiling)
	}
}

// Pending returns the number of queued outbound notifications.
func (p *Propagator) Pending() int {
	return len(p.outbound)
}

// RunBroadcaster drains the outbound channel, sending each notification to
// every currently Healthy peer, until ctx is canceled. A notification in
// flight completes before cancellation is honored.
func (p *Propagator) RunBroadcaster(ctx context.Context) {
	log := logger.WithComponent("propagator")
	log.Info("broadcaster started", "buffer", outboundBuffer)

	for {
		select {
		case n := <-p.outbound:
			p.broadcast(n)
		case <-ctx.Done():
			log.Info("broadcaster stopped", "pending", len(p.outbound))
			return
		}
	}
}

// broadcast sends one notification to all Healthy peers. Sends to peers
// that are Degraded or Unreachable are dropped; the peer reconciles only
// through entry TTLs after it reconnects.
func (p *Propagator) broadcast(n cluster.Notification) {
	log := logger.WithComponent("propagator")

	healthy := p.dir.HealthyPeers()
	skipped := p.dir.PeerCount() - len(healthy)
	if skipped > 0 {
		metrics.NotificationsDropped.WithLabelValues("peer_unreachable").Add(float64(skipped))
	}

	for _, peer := range healthy {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := p.transport.SendNotification(ctx, peer, n)
		cancel()
		if err != nil {
			metrics.NotificationsDropped.WithLabelValues("send_error").Inc()
			log.Debug("notification send failed", "peer", peer.ID, "cache", n.Cache, "error", err)
			continue
		}
		metrics.NotificationsSent.Inc()
	}
}

// Drain waits for the outbound channel to empty, up to timeout. Returns
// true when fully drained. Called during graceful shutdown before the
// broadcaster is canceled; a timeout is logged by the caller, not fatal.
func (p *Propagator) Drain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for len(p.outbound) > 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
	return true
}

// Apply applies one received peer notification to the local cache it names.
// Notifications for unregistered caches are dropped with a warning: cache
// topology is fixed at startup and identical across nodes, so a mismatch
// indicates a version skew between deployments.
func (p *Propagator) Apply(n cluster.Notification) {
	metrics.NotificationsReceived.Inc()

	p.mu.RLock()
	c, ok := p.caches[n.Cache]
	p.mu.RUnlock()
	if !ok {
		logger.WithComponent("propagator").Warn("notification for unknown cache dropped",
			"cache", n.Cache, "origin", n.Origin)
		return
	}

	switch n.Op {
	case cluster.OpInsert:
		if !c.ApplyInsert(n.Key, n.Value, n.Origin, n.Version, n.Stamp) {
			metrics.NotificationsRejected.Inc()
		}
	case cluster.OpRemove:
		c.ApplyRemove(n.Key, n.Stamp)
	case cluster.OpClear:
		c.ApplyClear(n.Stamp)
	default:
		logger.WithComponent("propagator").Warn("notification with unknown op dropped",
			"cache", n.Cache, "op", string(n.Op))
	}
}
