package cluster

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Transport abstracts how heartbeats and change notifications reach a peer,
// so the directory and propagator can be exercised in tests without real
// network I/O.
type Transport interface {
	// SendHeartbeat delivers one heartbeat to the peer.
	SendHeartbeat(ctx context.Context, peer NodeInfo, hb Heartbeat) error

	// SendNotification delivers one change notification to the peer.
	// Successive calls for the same peer preserve emission order.
	SendNotification(ctx context.Context, peer NodeInfo, n Notification) error

	// Close releases any per-peer connections.
	Close() error
}

// HTTPTransport is the production transport: heartbeats are posted as JSON
// to the peer's /cluster/heartbeat endpoint, notifications are streamed over
// a persistent WebSocket to /cluster/notify. One socket is held per peer and
// redialed on demand, so a single broadcasting goroutine preserves per-peer
// emission order.
type HTTPTransport struct {
	mu    sync.Mutex
	conns map[string]*websocket.Conn // peer addr -> notification stream
}

// NewHTTPTransport creates a transport with no connections established.
// Sockets are dialed lazily on the first notification to each peer.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{
		conns: make(map[string]*websocket.Conn),
	}
}

// SendHeartbeat posts the heartbeat to the peer's heartbeat endpoint.
func (t *HTTPTransport) SendHeartbeat(ctx context.Context, peer NodeInfo, hb Heartbeat) error {
	return PostJSON(ctx, strings.TrimRight(peer.Addr, "/")+"/cluster/heartbeat", hb, nil)
}

// SendNotification writes the notification onto the peer's stream, dialing
// it first if necessary. A write failure tears the stream down so the next
// send redials.
func (t *HTTPTransport) SendNotification(ctx context.Context, peer NodeInfo, n Notification) error {
	conn, err := t.conn(ctx, peer)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if err := conn.WriteJSON(n); err != nil {
		t.drop(peer.Addr)
		return fmt.Errorf("notify %s: %w", peer.Addr, err)
	}
	return nil
}

// Close tears down all peer streams.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for addr, conn := range t.conns {
		conn.Close()
		delete(t.conns, addr)
	}
	return nil
}

// conn returns the peer's notification stream, dialing it when absent.
func (t *HTTPTransport) conn(ctx context.Context, peer NodeInfo) (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if conn, ok := t.conns[peer.Addr]; ok {
		return conn, nil
	}

	wsURL, err := notifyURL(peer.Addr)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	t.conns[peer.Addr] = conn
	return conn, nil
}

// drop discards the peer's cached stream.
func (t *HTTPTransport) drop(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.conns[addr]; ok {
		conn.Close()
		delete(t.conns, addr)
	}
}

// notifyURL converts a peer's HTTP address into its WebSocket notification
// endpoint.
func notifyURL(addr string) (string, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("peer addr %q: %w", addr, err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/cluster/notify"
	return u.String(), nil
}
