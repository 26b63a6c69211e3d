// Package lock provides a per-donation lock shared by every instance of the service
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Only the holder may release; a lease that expired and was taken over is left alone
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

const defaultRetryInterval = 25 * time.Millisecond

// RedisLocker is a KeyLocker backed by SET NX PX leases. The TTL bounds how
// long a crashed holder can block a donation.
type RedisLocker struct {
	client        redis.UniversalClient
	prefix        string
	ttl           time.Duration
	retryInterval time.Duration
}

// NewRedisLocker creates a locker; keys are stored as <prefix>:<key>
func NewRedisLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisLocker {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "zakat:lock"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{
		client:        client,
		prefix:        trimmedPrefix,
		ttl:           ttl,
		retryInterval: defaultRetryInterval,
	}
}

// Lock polls until the lease is acquired or ctx is done
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return l.releaser(redisKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) releaser(redisKey, token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		// release even when the caller's context is already cancelled
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err()
	}
}
