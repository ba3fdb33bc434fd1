package locking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker backed by SET NX PX
type RedisLocker struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger *slog.Logger
}

// NewRedisLocker creates a RedisLocker. ttl bounds how long a crashed
// holder can block others.
func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{
		redis:  client,
		prefix: prefix,
		ttl:    ttl,
		retry:  25 * time.Millisecond,
		logger: logger.With("component", "redis_locker"),
	}
}

// Lock polls until the key is set by us or ctx is done
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.redis.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, errors.Join(ErrNotAcquired, ctxErr)
			}
			return nil, fmt.Errorf("failed to set lock in Redis: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// release on a fresh context so a cancelled caller still frees the key
			relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(relCtx, l.redis, []string{redisKey}, token).Err(); err != nil {
				l.logger.Warn("failed to release lock", "key", redisKey, "error", err)
			}
		})
	}, nil
}
