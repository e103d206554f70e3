// Package redistoken persists the identity session in Redis so an agent
// restart resumes the session instead of forcing a fresh sign-in.
package redistoken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domainid "github.com/target/portal-identity/internal/domain/identity"
	"github.com/target/portal-identity/internal/ports"
)

const keyPrefix = "portal:session:"

// Cache stores one serialized session per agent instance key.
type Cache struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

var _ ports.TokenCache = (*Cache)(nil)

// NewCache constructs a Cache. instanceKey distinguishes agents sharing a
// Redis; ttl bounds how long an untouched session survives.
func NewCache(client redis.UniversalClient, instanceKey string, ttl time.Duration) (*Cache, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if instanceKey == "" {
		return nil, errors.New("instance key is required")
	}
	return &Cache{client: client, key: keyPrefix + instanceKey, ttl: ttl}, nil
}

// Load returns the cached session, or nil when none is stored.
func (c *Cache) Load(ctx context.Context) (*domainid.Session, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var sess domainid.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

// Save stores the session, refreshing the TTL.
func (c *Cache) Save(ctx context.Context, sess domainid.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := c.client.Set(ctx, c.key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Clear removes the stored session. Clearing an absent key is not an
// error.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
