package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache is the caching and coordination interface. All Redis operations go
// through here. Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error

	// SetTaskSnapshot caches the serialized task status for cheap polling.
	// Snapshots are keyed per owner.
	SetTaskSnapshot(ctx context.Context, userID, taskID uuid.UUID, snapshot []byte, ttl time.Duration) error
	GetTaskSnapshot(ctx context.Context, userID, taskID uuid.UUID) ([]byte, bool, error)
	InvalidateTaskSnapshot(ctx context.Context, userID, taskID uuid.UUID) error

	// AcquireTaskLock takes the per-task processing lock (single-writer
	// discipline). On success it returns a holder token that must be passed
	// back to ReleaseTaskLock; ok is false if another process holds it.
	AcquireTaskLock(ctx context.Context, taskID uuid.UUID, ttl time.Duration) (token string, ok bool, err error)
	// ReleaseTaskLock deletes the lock only if token still owns it, so a
	// holder that outlived the lock TTL cannot release a successor's lock.
	ReleaseTaskLock(ctx context.Context, taskID uuid.UUID, token string) error

	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) SetTaskSnapshot(ctx context.Context, userID, taskID uuid.UUID, snapshot []byte, ttl time.Duration) error {
	return c.client.Set(ctx, TaskSnapshotKey(userID, taskID), snapshot, ttl).Err()
}

func (c *RedisCache) GetTaskSnapshot(ctx context.Context, userID, taskID uuid.UUID) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, TaskSnapshotKey(userID, taskID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) InvalidateTaskSnapshot(ctx context.Context, userID, taskID uuid.UUID) error {
	return c.client.Del(ctx, TaskSnapshotKey(userID, taskID)).Err()
}

// releaseLockScript deletes the lock key only if the caller's token is still
// its value. A plain DEL would let a holder that outlived the lock TTL
// delete the lock a successor has since taken.
var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (c *RedisCache) AcquireTaskLock(ctx context.Context, taskID uuid.UUID, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, TaskLockKey(taskID), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

func (c *RedisCache) ReleaseTaskLock(ctx context.Context, taskID uuid.UUID, token string) error {
	return releaseLockScript.Run(ctx, c.client, []string{TaskLockKey(taskID)}, token).Err()
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
