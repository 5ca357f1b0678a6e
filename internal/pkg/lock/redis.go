package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock implements Locker with SET NX PX and an owner token.
type RedisLock struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func NewRedisLock(client *redis.Client, prefix string, logger *zap.Logger) *RedisLock {
	return &RedisLock{client: client, prefix: prefix, logger: logger}
}

func (l *RedisLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := ulid.Make().String()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("try acquire lock for %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return l.buildRelease(key, token), true, nil
}

// buildRelease returns the release func. A failed release leaves the key to its TTL.
func (l *RedisLock) buildRelease(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{l.prefix + key}, token).Err(); err != nil {
				l.logger.Warn("failed to release lock", zap.String("key", l.prefix+key), zap.Error(err))
			}
		})
	}
}
