package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ironlake/hivecache/internal/cache"
	"github.com/ironlake/hivecache/internal/cluster"
	"github.com/ironlake/hivecache/internal/directory"
	"github.com/ironlake/hivecache/internal/logger"
	"github.com/ironlake/hivecache/internal/propagate"
	"github.com/ironlake/hivecache/internal/watchdog"
)

// ClusterConfig is the process-wide cache-cluster state: the registry of
// named caches, the node directory, and the propagation and health
// components. It is constructed once at startup, injected into every
// component that needs it, and torn down only on process shutdown. There is
// no hidden singleton.
type ClusterConfig struct {
	Self       cluster.NodeInfo
	Registry   *Registry
	Directory  *directory.Directory
	Propagator *propagate.Propagator
	Watchdog   *watchdog.Watchdog
	Transport  cluster.Transport
}

// Lifecycle sequences startup and shutdown of the cache cluster.
//
// Startup order is strict: the registry is constructed and every named
// cache registered first, then Start seals the topology and launches
// cluster membership (heartbeats, watchdog, propagation) and the cache
// sweepers. Only then may the caller begin serving external traffic.
//
// Shutdown drains in-flight propagator sends up to a bounded timeout, then
// cancels all background loops and waits for them to finish. Failure to
// drain in time is logged, not fatal.
type Lifecycle struct {
	cfg          *ClusterConfig
	drainTimeout time.Duration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewLifecycle creates a lifecycle manager for the given cluster config.
func NewLifecycle(cfg *ClusterConfig, drainTimeout time.Duration) *Lifecycle {
	return &Lifecycle{cfg: cfg, drainTimeout: drainTimeout}
}

// Start seals the registry and launches all background loops. Returns an
// error if no caches were registered or Start was already called.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return errors.New("lifecycle already started")
	}
	if len(l.cfg.Registry.Names()) == 0 {
		return errors.New("no caches registered before cluster start")
	}

	log := logger.WithComponent("lifecycle")
	ctx, l.cancel = context.WithCancel(ctx)

	l.cfg.Registry.Seal()
	log.Info("cache registry sealed", "caches", l.cfg.Registry.Names())

	l.cfg.Registry.each(func(c *cache.Cache) {
		l.spawn(func() { c.RunSweeper(ctx) })
	})
	l.spawn(func() { l.cfg.Directory.RunSender(ctx) })
	l.spawn(func() { l.cfg.Directory.RunChecker(ctx) })
	l.spawn(func() { l.cfg.Watchdog.Run(ctx) })
	l.spawn(func() { l.cfg.Propagator.RunBroadcaster(ctx) })

	l.started = true
	log.Info("cluster membership started",
		"node", l.cfg.Self.ID, "peers", l.cfg.Directory.PeerCount())
	return nil
}

// Shutdown drains and stops all background loops. Safe to call once after
// a successful Start; the caller stops accepting external requests first.
func (l *Lifecycle) Shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.started {
		return
	}
	log := logger.WithComponent("lifecycle")

	if l.cfg.Propagator.Drain(l.drainTimeout) {
		log.Info("propagator drained")
	} else {
		log.Warn("propagator drain timed out, pending notifications dropped",
			"timeout", l.drainTimeout, "pending", l.cfg.Propagator.Pending())
	}

	l.cancel()
	l.wg.Wait()

	if l.cfg.Transport != nil {
		if err := l.cfg.Transport.Close(); err != nil {
			log.Warn("transport close failed", "error", err)
		}
	}

	l.started = false
	log.Info("cluster shutdown complete")
}

// spawn runs f on a tracked goroutine.
func (l *Lifecycle) spawn(f func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		f()
	}()
}
