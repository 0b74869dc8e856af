package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"support_chat/internal/service"
	"support_chat/pkg/logger"
)

type RateLimitMiddleware struct {
	rateLimitService service.RateLimitService
	perMinute        int
	log              logger.Logger
}

func NewRateLimitMiddleware(rateLimitService service.RateLimitService, perMinute int, log logger.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		rateLimitService: rateLimitService,
		perMinute:        perMinute,
		log:              log,
	}
}

func (m *RateLimitMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.perMinute <= 0 {
			c.Next()
			return
		}

		allowed, remaining, err := m.rateLimitService.Allow(c.Request.Context(), c.ClientIP(), m.perMinute, time.Minute)
		if err != nil {
			// Redis недоступен: не блокируем запросы
			m.log.Error("Rate limit check failed", "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(m.perMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}
