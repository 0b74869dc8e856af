package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"support_chat/internal/domain"
	"support_chat/internal/middleware"
	"support_chat/internal/relay"
	"support_chat/internal/service"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/logger"
)

// MessageHandler is the request/response fallback for clients without a live
// connection.
type MessageHandler struct {
	messageService service.MessageService
	relay          *relay.Relay
	log            logger.Logger
}

func NewMessageHandler(messageService service.MessageService, r *relay.Relay, log logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: messageService,
		relay:          r,
		log:            log,
	}
}

func (h *MessageHandler) History(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		_ = c.Error(apperrors.ErrUnauthorized)
		return
	}

	var userID int64
	if raw := c.Query("userId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			_ = c.Error(apperrors.NewAPIError("invalid userId", http.StatusBadRequest))
			return
		}
		userID = id
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	messages, err := h.messageService.History(c.Request.Context(), identity, userID, limit)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, messages)
}

func (h *MessageHandler) Send(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		_ = c.Error(apperrors.ErrUnauthorized)
		return
	}

	var req domain.SendPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewAPIError("Invalid request: "+err.Error(), http.StatusBadRequest))
		return
	}

	message, err := h.relay.Submit(c.Request.Context(), identity, req, nil)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, message)
}

func (h *MessageHandler) Threads(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		_ = c.Error(apperrors.ErrUnauthorized)
		return
	}

	threads, err := h.messageService.Threads(c.Request.Context(), identity)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, threads)
}

func (h *MessageHandler) Online(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		_ = c.Error(apperrors.ErrUnauthorized)
		return
	}

	online, err := h.messageService.Online(c.Request.Context(), identity)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"userIds": online})
}
