package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ironlake/hivecache/internal/cache"
	"github.com/ironlake/hivecache/internal/cluster"
	"github.com/ironlake/hivecache/internal/logger"
	"github.com/ironlake/hivecache/internal/registry"
)

// server holds the HTTP handler state: the shared cluster configuration
// plus the WebSocket upgrader for peer notification streams.
type server struct {
	cc       *registry.ClusterConfig
	upgrader websocket.Upgrader
}

func newServer(cc *registry.ClusterConfig) *server {
	return &server{
		cc: cc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// routes builds the HTTP router: cluster endpoints consumed by peers,
// probe endpoints consumed by the load balancer, and inspection endpoints
// for operators.
func (s *server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/cluster/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	r.HandleFunc("/cluster/notify", s.handleNotify).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/caches", s.handleCaches).Methods(http.MethodGet)
	r.HandleFunc("/caches/{name}", s.handleCacheInfo).Methods(http.MethodGet)
	return r
}

// handleHeartbeat records a peer's liveness signal.
func (s *server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var hb cluster.Heartbeat
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	s.cc.Directory.Observe(hb.Node)
	w.WriteHeader(http.StatusOK)
}

// handleNotify upgrades to a WebSocket and applies the peer's change
// notifications in its emission order. One logical stream per peer; the
// read loop ends when the peer disconnects.
func (s *server) handleNotify(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("propagator")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("notify stream upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	log.Debug("notify stream opened", "remote", r.RemoteAddr)
	for {
		var n cluster.Notification
		if err := conn.ReadJSON(&n); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("notify stream closed", "remote", r.RemoteAddr, "error", err)
			}
			return
		}
		s.cc.Propagator.Apply(n)
	}
}

// healthResponse is the payload of the /health liveness probe.
type healthResponse struct {
	Node    string            `json:"node"`
	Verdict string            `json:"verdict"`
	Reason  string            `json:"reason"`
	Since   time.Time         `json:"since"`
	Peers   map[string]string `json:"peers"`
}

// handleHealth reports the last computed cluster verdict. Liveness: always
// 200 while the process runs; the verdict is informational.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.cc.Watchdog.Current()

	peers := make(map[string]string)
	for addr, st := range s.cc.Directory.States() {
		peers[addr] = st.String()
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Node:    s.cc.Self.ID,
		Verdict: snap.Verdict.String(),
		Reason:  snap.Reason,
		Since:   snap.At,
		Peers:   peers,
	})
}

// handleReady answers the readiness probe: 200 while the verdict permits
// routing traffic here, 503 otherwise. Returns the last computed value
// even before any heartbeat has been observed (initial verdict: unknown,
// not ready).
func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	snap := s.cc.Watchdog.Current()
	status := http.StatusOK
	if !snap.Ready() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{
		"verdict": snap.Verdict.String(),
		"reason":  snap.Reason,
	})
}

// cacheInfo is one cache's inspection record.
type cacheInfo struct {
	Name    string      `json:"name"`
	Entries int         `json:"entries"`
	Stats   cache.Stats `json:"stats"`
}

// handleCaches lists all registered caches with entry counts and counters.
func (s *server) handleCaches(w http.ResponseWriter, r *http.Request) {
	var infos []cacheInfo
	for _, name := range s.cc.Registry.Names() {
		h, err := s.cc.Registry.Cache(name)
		if err != nil {
			continue
		}
		infos = append(infos, cacheInfo{Name: name, Entries: h.Len(), Stats: h.Stats()})
	}
	writeJSON(w, http.StatusOK, infos)
}

// handleCacheInfo reports one cache by name.
func (s *server) handleCacheInfo(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	h, err := s.cc.Registry.Cache(name)
	if err != nil {
		http.Error(w, "unknown cache", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, cacheInfo{Name: name, Entries: h.Len(), Stats: h.Stats()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
