package watchdog

import (
	"sync"
	"testing"
	"time"

	"github.com/ironlake/hivecache/internal/cluster"
	"github.com/ironlake/hivecache/internal/directory"
)

// fakeSink records every verdict transition it receives.
type fakeSink struct {
	mu          sync.Mutex
	transitions []Snapshot
}

func (f *fakeSink) HealthChanged(prev, next Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, next)
}

func (f *fakeSink) verdicts() []Verdict {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Verdict, len(f.transitions))
	for i, s := range f.transitions {
		out[i] = s.Verdict
	}
	return out
}

func newTestDirectory(peers ...string) *directory.Directory {
	infos := make([]cluster.NodeInfo, len(peers))
	for i, addr := range peers {
		infos[i] = cluster.NodeInfo{ID: addr, Addr: addr}
	}
	return directory.New(directory.Options{
		Self:  cluster.NodeInfo{ID: "self", Addr: "http://self:1"},
		Peers: infos,
	})
}

func TestInitialVerdictUnknown(t *testing.T) {
	w := New(newTestDirectory("http://p1:1"), nil)

	snap := w.Current()
	if snap.Verdict != VerdictUnknown {
		t.Fatalf("initial verdict = %v, want unknown", snap.Verdict)
	}
	if snap.Ready() {
		t.Error("unknown verdict must not report ready")
	}
}

func TestReevaluateTransitions(t *testing.T) {
	dir := newTestDirectory("http://p1:1", "http://p2:1")
	sink := &fakeSink{}
	w := New(dir, sink)

	// Both peers still Degraded (no heartbeat yet): Unknown -> Degraded.
	w.Reevaluate()
	if got := w.Current().Verdict; got != VerdictDegraded {
		t.Fatalf("verdict = %v, want degraded", got)
	}
	if w.Current().Ready() != true {
		t.Error("degraded cluster should still serve traffic")
	}

	// Both peers heartbeat: Degraded -> AllHealthy.
	dir.Observe(cluster.NodeInfo{ID: "p1", Addr: "http://p1:1"})
	dir.Observe(cluster.NodeInfo{ID: "p2", Addr: "http://p2:1"})
	w.Reevaluate()
	if got := w.Current().Verdict; got != VerdictAllHealthy {
		t.Fatalf("verdict = %v, want all-healthy", got)
	}

	want := []Verdict{VerdictDegraded, VerdictAllHealthy}
	got := sink.verdicts()
	if len(got) != len(want) {
		t.Fatalf("sink received %d transitions, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestReevaluateIdempotent(t *testing.T) {
	dir := newTestDirectory("http://p1:1")
	sink := &fakeSink{}
	w := New(dir, sink)

	dir.Observe(cluster.NodeInfo{ID: "p1", Addr: "http://p1:1"})
	for i := 0; i < 5; i++ {
		w.Reevaluate()
	}

	if got := len(sink.verdicts()); got != 1 {
		t.Fatalf("sink received %d transitions for one verdict change, want 1", got)
	}
	if got := w.Current().Verdict; got != VerdictAllHealthy {
		t.Fatalf("verdict = %v, want all-healthy", got)
	}
}

func TestPeerLossProgression(t *testing.T) {
	const interval = 10 * time.Millisecond
	dir := directory.New(directory.Options{
		Self: cluster.NodeInfo{ID: "self", Addr: "http://self:1"},
		Peers: []cluster.NodeInfo{
			{ID: "p1", Addr: "http://p1:1"},
			{ID: "p2", Addr: "http://p2:1"},
		},
		Interval:          interval,
		MissedThreshold:   3,
		UnreachableFactor: 3,
	})
	sink := &fakeSink{}
	w := New(dir, sink)

	start := time.Now()
	dir.Observe(cluster.NodeInfo{ID: "p1", Addr: "http://p1:1"})
	dir.Observe(cluster.NodeInfo{ID: "p2", Addr: "http://p2:1"})
	w.Reevaluate() // -> all-healthy

	// p1 and p2 go silent past the degraded window.
	dir.CheckOnce(start.Add(4 * interval))
	w.Reevaluate() // -> degraded, exactly once
	w.Reevaluate()

	// Past the unreachable window: verdict escalates to critical with a
	// quorum-loss reason (2 of 2 peers unreachable).
	dir.CheckOnce(start.Add(10 * interval))
	w.Reevaluate()

	want := []Verdict{VerdictAllHealthy, VerdictDegraded, VerdictCritical}
	got := sink.verdicts()
	if len(got) != len(want) {
		t.Fatalf("sink received %d transitions %v, want %v", len(got), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, got[i], want[i])
		}
	}

	snap := w.Current()
	if snap.Ready() {
		t.Error("critical verdict must not report ready")
	}
	if snap.Reason != "quorum lost: 2 of 2 peers unreachable" {
		t.Errorf("reason = %q", snap.Reason)
	}

	// A single heartbeat recovers one peer; the other remains unreachable.
	dir.Observe(cluster.NodeInfo{ID: "p1", Addr: "http://p1:1"})
	w.Reevaluate()
	if got := w.Current().Verdict; got != VerdictCritical {
		t.Fatalf("verdict = %v, want critical while one peer is unreachable", got)
	}
}

func TestNoPeersTriviallyHealthy(t *testing.T) {
	w := New(newTestDirectory(), &fakeSink{})
	w.Reevaluate()
	if got := w.Current().Verdict; got != VerdictAllHealthy {
		t.Fatalf("verdict = %v, want all-healthy for a single-node cluster", got)
	}
}
