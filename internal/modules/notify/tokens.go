// README: Redis-backed FCM device-token cache in front of system_users.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	tokenKeyPrefix = "notify:token:%s"
	// Tokens rotate on app reinstall; a day keeps the cache honest without
	// hammering the users table on every fan-out.
	tokenTTL = 24 * time.Hour
)

type TokenCache struct {
	redis *redis.Client
}

func NewTokenCache(rdb *redis.Client) *TokenCache {
	return &TokenCache{redis: rdb}
}

func tokenKey(username string) string {
	return fmt.Sprintf(tokenKeyPrefix, username)
}

// Get returns the cached token for a user; ok is false on a miss.
func (c *TokenCache) Get(ctx context.Context, username string) (string, bool, error) {
	val, err := c.redis.Get(ctx, tokenKey(username)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *TokenCache) Set(ctx context.Context, username, token string) error {
	return c.redis.Set(ctx, tokenKey(username), token, tokenTTL).Err()
}

// Invalidate drops a user's cached token, e.g. after re-registration.
func (c *TokenCache) Invalidate(ctx context.Context, username string) error {
	return c.redis.Del(ctx, tokenKey(username)).Err()
}
