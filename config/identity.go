package config

import (
	"strings"
	"time"
)

// IdentityConfig contains identity service configuration.
type IdentityConfig struct {
	// BaseURL is the identity service root, e.g. https://id.portal.example.
	BaseURL string `env:"BASE_URL"`
	// APIKey is the per-deployment key sent on every identity request.
	APIKey string `env:"API_KEY"`
	// ClientID identifies this agent to the token endpoint.
	ClientID string `env:"CLIENT_ID" envDefault:"portal-agent"`
	// RefreshMargin is how long before access-token expiry the proactive
	// refresh fires.
	RefreshMargin time.Duration `env:"REFRESH_MARGIN" envDefault:"30s"`
	// SessionCacheTTL bounds how long an untouched cached session survives
	// in Redis.
	SessionCacheTTL time.Duration `env:"SESSION_CACHE_TTL" envDefault:"720h"`
	// SessionCacheKey names this agent's session slot. Empty means a random
	// per-process key, i.e. no session survives a restart.
	SessionCacheKey string `env:"SESSION_CACHE_KEY"`
	// FetchQueueSize bounds the derived-data fetch handoff queue.
	FetchQueueSize int `env:"FETCH_QUEUE_SIZE" envDefault:"8"`
}

// Sanitize normalises values loaded from env.
func (c *IdentityConfig) Sanitize() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.SessionCacheKey = strings.TrimSpace(c.SessionCacheKey)
	if c.RefreshMargin <= 0 {
		c.RefreshMargin = 30 * time.Second
	}
	if c.FetchQueueSize <= 0 {
		c.FetchQueueSize = 8
	}
}
