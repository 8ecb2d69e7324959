package deletion

import (
	"context"
	"fmt"
	"time"

	"compliance-core/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock is a held lock
type Lock interface {
	Release(ctx context.Context) error
}

// Locker serializes processing of the same request across instances
type Locker interface {
	// Acquire returns a conflict error when the key is already held
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX and a compare-and-delete release
type RedisLocker struct {
	redis  *redis.Client
	prefix string
}

// NewRedisLocker creates a locker. Keys are namespaced under prefix.
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "compliance:lock:"
	}
	return &RedisLocker{redis: client, prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	token := uuid.New().String()
	fullKey := l.prefix + key

	ok, err := l.redis.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, models.NewConflictError(models.CodeRequestLocked, fmt.Sprintf("%s is being processed by another worker", key))
	}
	return &redisLock{redis: l.redis, key: fullKey, token: token}, nil
}

type redisLock struct {
	redis *redis.Client
	key   string
	token string
}

func (l *redisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.redis, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
