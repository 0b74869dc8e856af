package service

import (
	"context"
	"fmt"

	"support_chat/internal/domain"
	"support_chat/internal/repository"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/logger"
)

const (
	DefaultHistoryLimit = 200
	MaxHistoryLimit     = 500
)

// MessageService serves the polling side of the chat: history, the operator
// inbox and presence.
type MessageService interface {
	History(ctx context.Context, identity *domain.Identity, userID int64, limit int) ([]*domain.Message, error)
	Threads(ctx context.Context, identity *domain.Identity) ([]*domain.Thread, error)
	Online(ctx context.Context, identity *domain.Identity) ([]int64, error)
}

type messageService struct {
	messageRepo  repository.MessageRepository
	presenceRepo repository.PresenceRepository
	operatorID   int64
	log          logger.Logger
}

func NewMessageService(messageRepo repository.MessageRepository, presenceRepo repository.PresenceRepository, operatorID int64, log logger.Logger) MessageService {
	return &messageService{
		messageRepo:  messageRepo,
		presenceRepo: presenceRepo,
		operatorID:   operatorID,
		log:          log,
	}
}

// History returns a conversation oldest first. Ordinary users always get their
// own conversation; the operator picks one with userID.
func (s *messageService) History(ctx context.Context, identity *domain.Identity, userID int64, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	other := s.operatorID
	self := identity.UserID
	if identity.IsOperator {
		if userID <= 0 || userID == s.operatorID {
			return nil, fmt.Errorf("%w: userId is required", apperrors.ErrBadRequest)
		}
		self, other = s.operatorID, userID
	}

	messages, err := s.messageRepo.ListConversation(ctx, self, other, limit)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []*domain.Message{}
	}
	return messages, nil
}

func (s *messageService) Threads(ctx context.Context, identity *domain.Identity) ([]*domain.Thread, error) {
	if !identity.IsOperator {
		return nil, apperrors.ErrForbidden
	}
	return s.messageRepo.ListThreads(ctx)
}

func (s *messageService) Online(ctx context.Context, identity *domain.Identity) ([]int64, error) {
	if !identity.IsOperator {
		return nil, apperrors.ErrForbidden
	}
	return s.presenceRepo.Online(ctx)
}
