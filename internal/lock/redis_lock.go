package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chinchon/internal/ports"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "chinchon:lock:"

// RedisLock implements a distributed lock per match id on Redis.
type RedisLock struct {
	client  redis.UniversalClient
	ttl     time.Duration
	retries int
	backoff time.Duration
}

// NewRedisLock creates a lock whose lease expires after ttl.
func NewRedisLock(client redis.UniversalClient, ttl time.Duration, retries int, backoff time.Duration) *RedisLock {
	// A short TTL keeps a crashed holder from owning the match forever.
	return &RedisLock{
		client:  client,
		ttl:     ttl,
		retries: retries,
		backoff: backoff,
	}
}

// TryAcquire attempts to take key, retrying with backoff. ok is false when the key stayed held.
func (l *RedisLock) TryAcquire(ctx context.Context, key string) (token string, ok bool, err error) {
	token = uuid.NewString()
	for attempt := 0; attempt <= l.retries; attempt++ {
		ok, err := l.client.SetNX(ctx, keyPrefix+key, token, l.ttl).Result()
		if err != nil {
			return "", false, err
		}
		if ok {
			return token, true, nil
		}
		if attempt < l.retries {
			select {
			case <-time.After(l.backoff):
			case <-ctx.Done():
				return "", false, ctx.Err()
			}
		}
	}
	return "", false, nil
}

// Release frees key if token still owns it.
func (l *RedisLock) Release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return errors.New("key and token are required")
	}
	return releaseLua.Run(ctx, l.client, []string{keyPrefix + key}, token).Err()
}

// Acquire implements ports.Locker.
func (l *RedisLock) Acquire(ctx context.Context, key string) (func(), error) {
	token, ok, err := l.TryAcquire(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrLockTimeout, key)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.Release(ctx, key, token)
	}, nil
}

var releaseLua = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var _ ports.Locker = (*RedisLock)(nil)
