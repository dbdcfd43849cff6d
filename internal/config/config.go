// Package config loads the process-wide hivecache configuration from
// environment variables. Load reads the environment exactly once; every
// component receives the resulting Config by injection rather than reading
// the environment itself.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds all environment-derived settings consumed by the cache
// coordination core. Surrounding functionality (TLS, persistent store,
// protocol handlers) owns its own configuration.
type Config struct {
	// NodeID uniquely identifies this node in the cluster.
	// Defaults to a generated UUID when HIVECACHE_NODE_ID is unset.
	NodeID string

	// ListenAddr is the address the cluster/probe HTTP server binds to.
	ListenAddr string

	// AdvertiseAddr is the address peers use to reach this node.
	AdvertiseAddr string

	// Peers lists the advertise addresses of all other cluster nodes.
	// Empty means single-node operation.
	Peers []string

	// HeartbeatInterval is the period between outgoing heartbeats.
	HeartbeatInterval time.Duration

	// MissedThreshold is the number of consecutive missed heartbeats
	// after which a peer is marked Degraded.
	MissedThreshold int

	// UnreachableFactor multiplies MissedThreshold to derive the longer
	// silence window after which a Degraded peer becomes Unreachable.
	UnreachableFactor int

	// SessionLifetime is the TTL of the sessions cache.
	SessionLifetime time.Duration

	// PowExp is the TTL of the proof-of-work challenge cache.
	PowExp time.Duration

	// WebauthnReqExp is the TTL of the WebAuthn request cache; it also
	// extends the auth-code cache TTL.
	WebauthnReqExp time.Duration

	// WebauthnDataExp is the TTL of the WebAuthn ceremony-data cache.
	WebauthnDataExp time.Duration

	// DrainTimeout bounds how long shutdown waits for in-flight
	// propagation sends.
	DrainTimeout time.Duration

	// EnqueueCeiling bounds how long a local mutation may block on a
	// full outbound propagation channel before the notification is
	// dropped with a warning.
	EnqueueCeiling time.Duration

	// CacheCaps holds per-cache hard-cap overrides, keyed by cache name.
	CacheCaps map[string]int

	// LogLevel is the minimum log level: debug, info, warn, error.
	LogLevel string

	// SentryDSN enables Sentry reporting of critical cluster health
	// transitions when non-empty.
	SentryDSN string
}

// cacheNames are the caches that accept a CACHE_CAP_* override.
var cacheNames = []string{"12hr", "auth-codes", "sessions", "pow", "webauthn", "webauthn-data", "login-dly"}

// Load reads all configuration from the environment with defaults applied.
// It returns an error only for values that parse but are semantically
// invalid (e.g. a zero heartbeat interval); a missing variable is never
// an error.
func Load() (*Config, error) {
	cfg := &Config{
		NodeID:            strings.TrimSpace(os.Getenv("HIVECACHE_NODE_ID")),
		ListenAddr:        getEnv("HIVECACHE_LISTEN", ":8442"),
		AdvertiseAddr:     strings.TrimSpace(os.Getenv("HIVECACHE_ADVERTISE")),
		Peers:             GetEnvAsSlice("HIVECACHE_PEERS", nil, ","),
		HeartbeatInterval: GetEnvAsDuration("HEARTBEAT_INTERVAL_MS", time.Millisecond, 1000),
		MissedThreshold:   GetEnvAsInt("HEARTBEAT_MISSED_THRESHOLD", 3),
		UnreachableFactor: GetEnvAsInt("HEARTBEAT_UNREACHABLE_FACTOR", 3),
		SessionLifetime:   GetEnvAsDuration("SESSION_LIFETIME", time.Second, 14400),
		PowExp:            GetEnvAsDuration("POW_EXP", time.Second, 30),
		WebauthnReqExp:    GetEnvAsDuration("WEBAUTHN_REQ_EXP", time.Second, 60),
		WebauthnDataExp:   GetEnvAsDuration("WEBAUTHN_DATA_EXP", time.Second, 90),
		DrainTimeout:      GetEnvAsDuration("SHUTDOWN_DRAIN_TIMEOUT_MS", time.Millisecond, 10000),
		EnqueueCeiling:    GetEnvAsDuration("PROPAGATE_ENQUEUE_CEILING_MS", time.Millisecond, 5000),
		CacheCaps:         make(map[string]int),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		SentryDSN:         strings.TrimSpace(os.Getenv("SENTRY_DSN")),
	}

	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}
	if cfg.AdvertiseAddr == "" {
		cfg.AdvertiseAddr = "http://127.0.0.1" + cfg.ListenAddr
	}

	for _, name := range cacheNames {
		envKey := "CACHE_CAP_" + strings.ToUpper(strings.NewReplacer("-", "_").Replace(name))
		if cap := GetEnvAsInt(envKey, 0); cap != 0 {
			if cap < 0 {
				return nil, fmt.Errorf("%s: hard cap must be positive, got %d", envKey, cap)
			}
			cfg.CacheCaps[name] = cap
		}
	}

	if cfg.HeartbeatInterval <= 0 {
		return nil, fmt.Errorf("HEARTBEAT_INTERVAL_MS must be positive")
	}
	if cfg.MissedThreshold < 1 {
		return nil, fmt.Errorf("HEARTBEAT_MISSED_THRESHOLD must be at least 1")
	}
	if cfg.UnreachableFactor < 1 {
		return nil, fmt.Errorf("HEARTBEAT_UNREACHABLE_FACTOR must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}
