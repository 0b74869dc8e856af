//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"support_chat/internal/domain"
	"support_chat/pkg/logger"
)

type MessageRepository interface {
	Create(ctx context.Context, message *domain.Message) error
	ListConversation(ctx context.Context, userA, userB int64, limit int) ([]*domain.Message, error)
	ListThreads(ctx context.Context) ([]*domain.Thread, error)
}

type messageRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewMessageRepository(db *pgxpool.Pool, log logger.Logger) MessageRepository {
	return &messageRepository{db: db, log: log}
}

func (r *messageRepository) Create(ctx context.Context, message *domain.Message) error {
	query := `
		INSERT INTO messages (sender_id, receiver_id, sender_type, content, type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		message.SenderID, message.ReceiverID, message.SenderType,
		message.Content, message.Type,
	).Scan(&message.ID, &message.CreatedAt)
	if err != nil {
		r.log.Error("Failed to create message", "error", err, "sender_id", message.SenderID)
		return fmt.Errorf("insert message: %w", err)
	}

	return nil
}

// ListConversation returns the latest limit messages of {userA, userB}, oldest
// first. The pair is matched as (LEAST, GREATEST) so messages_pair_created_idx applies.
func (r *messageRepository) ListConversation(ctx context.Context, userA, userB int64, limit int) ([]*domain.Message, error) {
	query := `
		SELECT id, sender_id, receiver_id, sender_type, content, type, created_at
		FROM (
			SELECT id, sender_id, receiver_id, sender_type, content, type, created_at
			FROM messages
			WHERE LEAST(sender_id, receiver_id) = LEAST($1::bigint, $2::bigint)
			  AND GREATEST(sender_id, receiver_id) = GREATEST($1::bigint, $2::bigint)
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		) latest
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, userA, userB, limit)
	if err != nil {
		r.log.Error("Failed to list conversation", "error", err, "user_a", userA, "user_b", userB)
		return nil, fmt.Errorf("list conversation: %w", err)
	}

	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Message, error) {
		m := &domain.Message{}
		err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.SenderType, &m.Content, &m.Type, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		r.log.Error("Failed to scan conversation", "error", err)
		return nil, fmt.Errorf("scan conversation: %w", err)
	}

	return messages, nil
}

// ListThreads lists every ordinary user with the time of their latest message,
// most recent first. Users who never wrote are listed last.
func (r *messageRepository) ListThreads(ctx context.Context) ([]*domain.Thread, error) {
	query := `
		SELECT u.id, u.name, u.email, MAX(m.created_at) AS last_message_at
		FROM users u
		LEFT JOIN messages m ON m.sender_id = u.id OR m.receiver_id = u.id
		WHERE u.role = 'USER'
		GROUP BY u.id, u.name, u.email
		ORDER BY last_message_at DESC NULLS LAST, u.id ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		r.log.Error("Failed to list threads", "error", err)
		return nil, fmt.Errorf("list threads: %w", err)
	}

	threads, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Thread, error) {
		t := &domain.Thread{}
		err := row.Scan(&t.UserID, &t.Name, &t.Email, &t.LastMessageAt)
		return t, err
	})
	if err != nil {
		r.log.Error("Failed to scan threads", "error", err)
		return nil, fmt.Errorf("scan threads: %w", err)
	}

	return threads, nil
}
