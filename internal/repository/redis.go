package repository

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// CredentialCache keeps the short-lived gateway access token in Redis so that
// invocations within the token lifetime can skip the OAuth exchange. Dispatch
// correctness never depends on it; every miss just mints a fresh token.
type CredentialCache struct {
	client *redis.Client
	key    string
}

func NewCredentialCache(client *redis.Client, appName string) *CredentialCache {
	if appName == "" {
		appName = "push_dispatch"
	}
	return &CredentialCache{
		client: client,
		key:    "push:oauth:access_token:" + appName,
	}
}

func (c *CredentialCache) Close() error {
	return c.client.Close()
}

// GetAccessToken returns the cached token, or "" on a miss.
func (c *CredentialCache) GetAccessToken(ctx context.Context) (string, error) {
	token, err := c.client.Get(ctx, c.key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

// SetAccessToken stores the token for the given TTL. The TTL must already
// account for expiry leeway; non-positive TTLs are dropped rather than cached
// forever.
func (c *CredentialCache) SetAccessToken(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.client.SetEX(ctx, c.key, token, ttl).Err()
}
