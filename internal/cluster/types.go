package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// NodeInfo identifies a cluster participant.
type NodeInfo struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// Op enumerates the cache mutations that cross the wire.
type Op string

const (
	OpInsert Op = "insert"
	OpRemove Op = "remove"
	OpClear  Op = "clear"
)

// Heartbeat is the periodic liveness signal exchanged between nodes.
type Heartbeat struct {
	Node NodeInfo `json:"node"`
	Sent int64    `json:"sent"` // sender wall clock, unix nanos
}

// Notification is one serialized cache mutation propagated to peers.
// Immutable once created; ordering is defined only per origin node,
// monotonic by Version.
type Notification struct {
	Cache   string `json:"cache"`
	Key     string `json:"key,omitempty"`
	Op      Op     `json:"op"`
	Value   []byte `json:"value,omitempty"`
	Origin  string `json:"origin"`
	Version uint64 `json:"version"`
	Stamp   int64  `json:"stamp"` // origin wall clock, unix nanos
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

// PostJSON sends body as JSON to url and decodes the response into out when
// out is non-nil.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
