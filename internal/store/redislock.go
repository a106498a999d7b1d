package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/imanuelcio/be-moodswing-sub000/internal/domain"
)

// unlockScript deletes the lock only if the caller still owns it, so an
// expired-and-reacquired lock is never released by the old holder.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLockManager implements domain.LockManager on top of Redis SETNX
// with a per-acquisition token and a TTL as a crash backstop.
type RedisLockManager struct {
	rdb *redis.Client
}

func NewRedisLockManager(rdb *redis.Client) *RedisLockManager {
	return &RedisLockManager{rdb: rdb}
}

func (m *RedisLockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lockKey := fmt.Sprintf("lock:%s", key)
	token := uuid.New().String()

	ok, err := m.rdb.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		unlockScript.Run(ctx, m.rdb, []string{lockKey}, token)
	}
	return release, nil
}
