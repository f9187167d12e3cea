package oracle

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisSource reads prices published by an external feeder into Redis keys.
// Each feed lives at "oracle:{feedRef}" as a decimal string. The value is
// taken as-is; staleness filtering, if any, is the feeder's job.
type RedisSource struct {
	rdb *redis.Client
}

// NewRedisSource creates a price source backed by the given Redis client.
func NewRedisSource(rdb *redis.Client) *RedisSource {
	return &RedisSource{rdb: rdb}
}

func feedKey(feedRef string) string { return fmt.Sprintf("oracle:%s", feedRef) }

func (s *RedisSource) Price(ctx context.Context, feedRef string) (decimal.Decimal, error) {
	val, err := s.rdb.Get(ctx, feedKey(feedRef)).Result()
	if err == redis.Nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownFeed, feedRef)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: read feed %s: %w", feedRef, err)
	}

	p, err := decimal.NewFromString(val)
	if err != nil || !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s=%q", ErrBadPrice, feedRef, val)
	}
	return p, nil
}
