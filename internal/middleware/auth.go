package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"support_chat/internal/domain"
	"support_chat/internal/service"
	"support_chat/pkg/logger"
)

const IdentityKey = "identity"

type AuthMiddleware struct {
	identityService service.IdentityService
	log             logger.Logger
}

func NewAuthMiddleware(identityService service.IdentityService, log logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		identityService: identityService,
		log:             log,
	}
}

func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		identity, err := m.identityService.Authenticate(c.Request.Context(), token)
		if err != nil {
			m.log.Warn("Token validation failed", "error", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(IdentityKey, identity)
		c.Next()
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(header string) (string, bool) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// IdentityFrom returns the identity set by RequireAuth.
func IdentityFrom(c *gin.Context) (*domain.Identity, bool) {
	value, exists := c.Get(IdentityKey)
	if !exists {
		return nil, false
	}
	identity, ok := value.(*domain.Identity)
	return identity, ok && identity != nil
}
