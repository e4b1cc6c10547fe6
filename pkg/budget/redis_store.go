package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store with INCRBYFLOAT, which is atomic per key.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore wraps a client. Keys expire after ttl (zero keeps them).
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(tenantID, period string) string {
	return fmt.Sprintf("civos:budget:%s:%s", tenantID, period)
}

func (s *RedisStore) Load(ctx context.Context, tenantID, period string) (float64, error) {
	v, err := s.client.Get(ctx, redisKey(tenantID, period)).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis load spend: %w", err)
	}
	return v, nil
}

// AddSpend increments and refreshes the expiry in one MULTI/EXEC transaction.
func (s *RedisStore) AddSpend(ctx context.Context, tenantID, period string, amount float64) (float64, error) {
	key := redisKey(tenantID, period)
	var incr *redis.FloatCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.IncrByFloat(ctx, key, amount)
		if s.ttl > 0 {
			p.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis add spend: %w", err)
	}
	return incr.Val(), nil
}
