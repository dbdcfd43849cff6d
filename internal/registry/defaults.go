package registry

import (
	"time"

	"github.com/ironlake/hivecache/internal/cache"
	"github.com/ironlake/hivecache/internal/config"
)

// Cache names used by the identity provider. Fixed across all cluster
// nodes; a name mismatch between nodes indicates a deployment skew.
const (
	CacheName12Hr         = "12hr"          // general half-day cache
	CacheNameAuthCodes    = "auth-codes"    // OIDC authorization codes
	CacheNameSessions     = "sessions"      // login sessions
	CacheNamePow          = "pow"           // proof-of-work challenges
	CacheNameWebauthn     = "webauthn"      // WebAuthn requests
	CacheNameWebauthnData = "webauthn-data" // WebAuthn ceremony data
	CacheNameLoginDelay   = "login-dly"     // rolling login delay scalar
)

// RegisterDefaultCaches registers the full cache topology the identity
// provider needs, applying TTL and capacity overrides from cfg. Auth codes
// live for their fixed window plus the WebAuthn request expiry so a code
// issued before a passkey ceremony survives it; the login-delay cache is
// capacity-bounded to a single slot because it tracks one rolling scalar,
// not per-key data.
func RegisterDefaultCaches(r *Registry, cfg *config.Config) error {
	authCodeTTL := 300*time.Second + cfg.WebauthnReqExp

	defaults := []struct {
		name    string
		policy  cache.Policy
		hardCap int
	}{
		{CacheName12Hr, cache.TTL(12 * time.Hour), 32},
		{CacheNameAuthCodes, cache.TTL(authCodeTTL), 64},
		{CacheNameSessions, cache.TTL(cfg.SessionLifetime), 64},
		{CacheNamePow, cache.TTL(cfg.PowExp), 16},
		{CacheNameWebauthn, cache.TTL(cfg.WebauthnReqExp), 32},
		{CacheNameWebauthnData, cache.TTL(cfg.WebauthnDataExp), 32},
		{CacheNameLoginDelay, cache.CapacityBounded(1), 16},
	}

	for _, d := range defaults {
		hardCap := d.hardCap
		if override, ok := cfg.CacheCaps[d.name]; ok {
			hardCap = override
		}
		if _, err := r.Register(d.name, d.policy, hardCap); err != nil {
			return err
		}
	}
	return nil
}
