package repository

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"support_chat/pkg/logger"
)

//go:embed schema.sql
var schema string

type Repositories struct {
	User      UserRepository
	Message   MessageRepository
	Presence  PresenceRepository
	RateLimit RateLimitRepository
}

func NewRepositories(db *pgxpool.Pool, redis *redis.Client, log logger.Logger) *Repositories {
	return &Repositories{
		User:      NewUserRepository(db, log),
		Message:   NewMessageRepository(db, log),
		Presence:  NewPresenceRepository(redis, log),
		RateLimit: NewRateLimitRepository(redis, log),
	}
}

// Migrate creates the tables the relay needs when they are missing.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
