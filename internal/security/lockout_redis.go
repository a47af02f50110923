package security

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLockoutStore is a LockoutStore backed by a shared Redis instance, for
// deployments running more than one process. Failure counters and lock keys
// carry TTLs, so Redis expires stale state on its own and PurgeStale is a
// no-op.
type RedisLockoutStore struct {
	client       *redis.Client
	maxAttempts  int
	lockDuration time.Duration
}

func NewRedisLockoutStore(client *redis.Client, maxAttempts int, lockDuration time.Duration) *RedisLockoutStore {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxLoginAttempts
	}
	if lockDuration <= 0 {
		lockDuration = DefaultLockDuration
	}

	return &RedisLockoutStore{
		client:       client,
		maxAttempts:  maxAttempts,
		lockDuration: lockDuration,
	}
}

func (s *RedisLockoutStore) RecordAttempt(ctx context.Context, username string, success bool) error {
	if success {
		if err := s.client.Del(ctx, failKey(username), lockKey(username)).Err(); err != nil {
			return fmt.Errorf("reset login attempts: %w", err)
		}
		return nil
	}

	locked, err := s.client.Exists(ctx, lockKey(username)).Result()
	if err != nil {
		return fmt.Errorf("check lock key: %w", err)
	}
	if locked > 0 {
		return nil
	}

	count, err := s.client.Incr(ctx, failKey(username)).Result()
	if err != nil {
		return fmt.Errorf("increment failed attempts: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, failKey(username), s.lockDuration).Err(); err != nil {
			return fmt.Errorf("expire failed attempts: %w", err)
		}
	}

	if count >= int64(s.maxAttempts) {
		pipe := s.client.TxPipeline()
		pipe.Set(ctx, lockKey(username), "1", s.lockDuration)
		pipe.Del(ctx, failKey(username))
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("set lockout: %w", err)
		}
	}

	return nil
}

func (s *RedisLockoutStore) IsLocked(ctx context.Context, username string) (bool, time.Time, error) {
	ttl, err := s.client.PTTL(ctx, lockKey(username)).Result()
	if err != nil {
		return false, time.Time{}, fmt.Errorf("read lockout ttl: %w", err)
	}
	if ttl <= 0 {
		return false, time.Time{}, nil
	}

	return true, time.Now().UTC().Add(ttl), nil
}

func (s *RedisLockoutStore) PurgeStale(ctx context.Context, olderThan time.Duration) (int, error) {
	return 0, nil
}

func failKey(username string) string {
	return "lockout:fails:" + username
}

func lockKey(username string) string {
	return "lockout:lock:" + username
}
