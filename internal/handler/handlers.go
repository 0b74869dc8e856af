package handler

import (
	"support_chat/internal/config"
	"support_chat/internal/relay"
	"support_chat/internal/service"
	"support_chat/pkg/logger"
)

type Handlers struct {
	Health    *HealthHandler
	Message   *MessageHandler
	WebSocket *WebSocketHandler
}

func NewHandlers(services *service.Services, r *relay.Relay, cfg *config.Config, log logger.Logger) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(r.Registry()),
		Message:   NewMessageHandler(services.Message, r, log),
		WebSocket: NewWebSocketHandler(r, cfg.Relay, cfg.Server.CORSOrigin, log),
	}
}
