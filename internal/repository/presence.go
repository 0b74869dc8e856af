//go:generate go run go.uber.org/mock/mockgen -source=presence.go -destination=../mocks/mock_presence_repository.go -package=mocks
package repository

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"support_chat/pkg/logger"
)

const OnlineUsersKey = "chat:online"

// PresenceRepository tracks which users hold at least one live connection.
// It is informational only: delivery never consults it.
type PresenceRepository interface {
	MarkOnline(ctx context.Context, userID int64) error
	MarkOffline(ctx context.Context, userID int64) error
	Online(ctx context.Context) ([]int64, error)
	Reset(ctx context.Context) error
}

type presenceRepository struct {
	rdb *redis.Client
	log logger.Logger
}

func NewPresenceRepository(rdb *redis.Client, log logger.Logger) PresenceRepository {
	return &presenceRepository{rdb: rdb, log: log}
}

func (r *presenceRepository) MarkOnline(ctx context.Context, userID int64) error {
	if err := r.rdb.SAdd(ctx, OnlineUsersKey, userID).Err(); err != nil {
		return fmt.Errorf("mark online: %w", err)
	}
	return nil
}

func (r *presenceRepository) MarkOffline(ctx context.Context, userID int64) error {
	if err := r.rdb.SRem(ctx, OnlineUsersKey, userID).Err(); err != nil {
		return fmt.Errorf("mark offline: %w", err)
	}
	return nil
}

func (r *presenceRepository) Online(ctx context.Context) ([]int64, error) {
	members, err := r.rdb.SMembers(ctx, OnlineUsersKey).Result()
	if err != nil {
		if err == redis.Nil {
			return []int64{}, nil
		}
		r.log.Error("Failed to list online users", "error", err)
		return nil, fmt.Errorf("list online: %w", err)
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			r.log.Warn("Skipping malformed presence member", "member", m)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Reset clears presence left over from a previous process: the registry starts
// empty, so must the presence set.
func (r *presenceRepository) Reset(ctx context.Context) error {
	if err := r.rdb.Del(ctx, OnlineUsersKey).Err(); err != nil {
		return fmt.Errorf("reset presence: %w", err)
	}
	return nil
}
