package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ironlake/hivecache/internal/cache"
	"github.com/ironlake/hivecache/internal/cluster"
	"github.com/ironlake/hivecache/internal/directory"
	"github.com/ironlake/hivecache/internal/propagate"
	"github.com/ironlake/hivecache/internal/watchdog"
)

// nullTransport satisfies cluster.Transport for lifecycle tests that never
// reach a real peer.
type nullTransport struct {
	mu     sync.Mutex
	closed bool
}

func (n *nullTransport) SendHeartbeat(ctx context.Context, peer cluster.NodeInfo, hb cluster.Heartbeat) error {
	return nil
}

func (n *nullTransport) SendNotification(ctx context.Context, peer cluster.NodeInfo, notif cluster.Notification) error {
	return nil
}

func (n *nullTransport) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

func testClusterConfig(t *testing.T) (*ClusterConfig, *nullTransport) {
	t.Helper()
	self := cluster.NodeInfo{ID: "node-a", Addr: "http://127.0.0.1:8442"}
	transport := &nullTransport{}
	dir := directory.New(directory.Options{
		Self:      self,
		Transport: transport,
		Interval:  5 * time.Millisecond,
	})
	prop := propagate.New(dir, transport, 0)
	reg := New(self.ID, prop)
	return &ClusterConfig{
		Self:       self,
		Registry:   reg,
		Directory:  dir,
		Propagator: prop,
		Watchdog:   watchdog.New(dir, nil),
		Transport:  transport,
	}, transport
}

func TestLifecycleStartRequiresCaches(t *testing.T) {
	cc, _ := testClusterConfig(t)
	lc := NewLifecycle(cc, time.Second)

	if err := lc.Start(context.Background()); err == nil {
		lc.Shutdown()
		t.Fatal("Start succeeded with an empty registry")
	}
}

func TestLifecycleStartSealsAndRuns(t *testing.T) {
	cc, transport := testClusterConfig(t)
	if _, err := cc.Registry.Register("sessions", cache.TTL(time.Minute), 64); err != nil {
		t.Fatal(err)
	}
	lc := NewLifecycle(cc, time.Second)

	if err := lc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !cc.Registry.Sealed() {
		t.Error("registry not sealed after Start")
	}
	if err := lc.Start(context.Background()); err == nil {
		t.Error("second Start succeeded")
	}

	// Mutations still flow while running; the broadcaster drains them.
	h, err := cc.Registry.Cache("sessions")
	if err != nil {
		t.Fatal(err)
	}
	h.Insert("sid", []byte("tok"))

	lc.Shutdown()
	if !transport.closed {
		t.Error("transport not closed on shutdown")
	}
	if got := cc.Propagator.Pending(); got != 0 {
		t.Errorf("pending notifications after shutdown = %d", got)
	}

	// Repeated shutdown is a no-op.
	lc.Shutdown()
}
