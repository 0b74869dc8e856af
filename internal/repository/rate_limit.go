//go:generate go run go.uber.org/mock/mockgen -source=rate_limit.go -destination=../mocks/mock_rate_limit_repository.go -package=mocks
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"support_chat/pkg/logger"
)

const rateLimitKeyPrefix = "chat:ratelimit:%s"

type RateLimitRepository interface {
	// Hit counts one request for key in the current window and returns the count.
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
}

type rateLimitRepository struct {
	redis *redis.Client
	log   logger.Logger
}

func NewRateLimitRepository(redis *redis.Client, log logger.Logger) RateLimitRepository {
	return &rateLimitRepository{redis: redis, log: log}
}

func (r *rateLimitRepository) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	redisKey := fmt.Sprintf(rateLimitKeyPrefix, key)

	var incr *redis.IntCmd
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.ExpireNX(ctx, redisKey, window)
		return nil
	})
	if err != nil {
		r.log.Error("Failed to count rate limit hit", "error", err, "key", key)
		return 0, fmt.Errorf("rate limit hit: %w", err)
	}

	return incr.Val(), nil
}
