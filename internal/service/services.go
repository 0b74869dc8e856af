package service

import (
	"support_chat/internal/config"
	"support_chat/internal/repository"
	"support_chat/pkg/logger"
)

type Services struct {
	Identity  IdentityService
	Message   MessageService
	RateLimit RateLimitService
}

func NewServices(repos *repository.Repositories, cfg *config.Config, log logger.Logger) *Services {
	return &Services{
		Identity:  NewIdentityService(repos.User, cfg.JWT, cfg.Relay.OperatorID, log),
		Message:   NewMessageService(repos.Message, repos.Presence, cfg.Relay.OperatorID, log),
		RateLimit: NewRateLimitService(repos.RateLimit, log),
	}
}
