package nonce

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the replay window with a shared Redis instance so
// multiple API replicas observe the same set of consumed nonces. The
// SET NX write gives the same test-and-set guarantee as MemoryStore.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "nonce"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) redisKey(scope, nonce string) string {
	return s.prefix + ":" + scope + ":" + nonce
}

func (s *RedisStore) Seen(ctx context.Context, scope, nonce string) (bool, error) {
	n, err := s.client.Exists(ctx, s.redisKey(scope, nonce)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) CheckAndRecord(ctx context.Context, scope, nonce string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.redisKey(scope, nonce), 1, ttl).Result()
}
