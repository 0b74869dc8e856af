package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"support_chat/internal/relay"
)

type HealthHandler struct {
	registry *relay.Registry
}

func NewHealthHandler(registry *relay.Registry) *HealthHandler {
	return &HealthHandler{registry: registry}
}

func (h *HealthHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"service":  "support-chat",
		"sessions": h.registry.Len(),
		"users":    len(h.registry.Online()),
	})
}
