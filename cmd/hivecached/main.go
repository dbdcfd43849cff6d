// Package main implements the hivecached daemon: the cluster-aware cache
// coordination node of a self-hosted identity provider. It serves the named
// caches holding short-lived authentication artifacts (sessions, auth
// codes, WebAuthn challenges, proof-of-work challenges, login-delay
// counters) and keeps them loosely synchronized across cluster nodes.
//
// Architecture:
//
//	┌──────────────────────────────────────────┐
//	│               hivecached                 │
//	├──────────────────────────────────────────┤
//	│  HTTP API:                               │
//	│    /cluster/heartbeat - peer liveness    │
//	│    /cluster/notify    - mutation stream  │
//	│    /health            - liveness probe   │
//	│    /ready             - readiness probe  │
//	│    /metrics           - Prometheus       │
//	│    /caches, /caches/{name} - inspection  │
//	├──────────────────────────────────────────┤
//	│  Components:                             │
//	│    Registry     - named cache facade     │
//	│    Directory    - peer heartbeats        │
//	│    Watchdog     - health verdict         │
//	│    Propagator   - mutation broadcast     │
//	│    Lifecycle    - start/drain sequencing │
//	└──────────────────────────────────────────┘
//
// Configuration (environment, optionally via hivecache.env):
//   - HIVECACHE_NODE_ID: node identifier (default: generated UUID)
//   - HIVECACHE_LISTEN: listen address (default ":8442")
//   - HIVECACHE_ADVERTISE: address peers reach this node on
//   - HIVECACHE_PEERS: comma-separated peer advertise addresses
//   - HEARTBEAT_INTERVAL_MS, HEARTBEAT_MISSED_THRESHOLD
//   - SESSION_LIFETIME, POW_EXP, WEBAUTHN_REQ_EXP, WEBAUTHN_DATA_EXP
//   - CACHE_CAP_<NAME>: per-cache hard cap overrides
//   - LOG_LEVEL, SENTRY_DSN
//
// Example:
//
//	HIVECACHE_NODE_ID=node-1 \
//	HIVECACHE_LISTEN=:8442 \
//	HIVECACHE_ADVERTISE=http://10.0.0.1:8442 \
//	HIVECACHE_PEERS=http://10.0.0.2:8442,http://10.0.0.3:8442 \
//	./hivecached
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ironlake/hivecache/internal/cluster"
	"github.com/ironlake/hivecache/internal/config"
	"github.com/ironlake/hivecache/internal/directory"
	"github.com/ironlake/hivecache/internal/errorreporting"
	"github.com/ironlake/hivecache/internal/logger"
	"github.com/ironlake/hivecache/internal/propagate"
	"github.com/ironlake/hivecache/internal/registry"
	"github.com/ironlake/hivecache/internal/watchdog"
)

// Version is the daemon version, overridable at link time.
var Version = "dev"

func main() {
	// Optional env file; real environment variables take precedence and
	// a missing file is not an error.
	_ = godotenv.Load("hivecache.env")

	cfg, err := config.Load()
	if err != nil {
		logger.Get().Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel)
	log := logger.WithComponent("main")
	log.Info("starting hivecached", "version", Version, "node", cfg.NodeID)

	if err := errorreporting.Init(cfg.SentryDSN, os.Getenv("ENV")); err != nil {
		log.Warn("error reporting disabled", "error", err)
	}

	// Build the cluster configuration: one explicit context object,
	// constructed before any cache traffic and injected everywhere.
	self := cluster.NodeInfo{ID: cfg.NodeID, Addr: cfg.AdvertiseAddr}
	peers := make([]cluster.NodeInfo, 0, len(cfg.Peers))
	for _, addr := range cfg.Peers {
		peers = append(peers, cluster.NodeInfo{ID: addr, Addr: addr})
	}

	transport := cluster.NewHTTPTransport()
	dir := directory.New(directory.Options{
		Self:              self,
		Peers:             peers,
		Transport:         transport,
		Interval:          cfg.HeartbeatInterval,
		MissedThreshold:   cfg.MissedThreshold,
		UnreachableFactor: cfg.UnreachableFactor,
	})
	prop := propagate.New(dir, transport, cfg.EnqueueCeiling)
	reg := registry.New(cfg.NodeID, prop)
	wd := watchdog.New(dir, watchdog.NewEventSink())

	cc := &registry.ClusterConfig{
		Self:       self,
		Registry:   reg,
		Directory:  dir,
		Propagator: prop,
		Watchdog:   wd,
		Transport:  transport,
	}

	// Startup order is strict: register every cache, then join the
	// cluster, then serve traffic.
	if err := registry.RegisterDefaultCaches(reg, cfg); err != nil {
		log.Error("cache registration failed", "error", err)
		os.Exit(1)
	}

	srv := newServer(cc)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// The listener comes up before cluster join so peers can reach the
	// heartbeat and notify endpoints; external traffic is gated by the
	// readiness probe until the first heartbeat round completes.
	go func() {
		log.Info("listening", "addr", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	lc := registry.NewLifecycle(cc, cfg.DrainTimeout)
	if err := lc.Start(context.Background()); err != nil {
		log.Error("cluster start failed", "error", err)
		os.Exit(1)
	}

	// Flush every cache before serving so no pre-migration residue from
	// an earlier deployment survives into this version.
	reg.ClearAll()
	log.Info("caches flushed after startup")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	lc.Shutdown()
	errorreporting.Flush(2 * time.Second)
	log.Info("hivecached stopped")
}
