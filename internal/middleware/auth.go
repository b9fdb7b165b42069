package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/streampulse/backend/internal/auth"
	"github.com/streampulse/backend/pkg/response"
	"github.com/streampulse/backend/pkg/utils"
)

// AdminAuth protects mutating and admin endpoints. A bearer credential may
// be either the shared admin key or a JWT issued by /auth/token. When
// requireKey is false the check is skipped entirely (dev mode).
func AdminAuth(requireKey bool, adminKeyHash string, jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireKey {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		credential := parts[1]

		if utils.CheckKey(credential, adminKeyHash) {
			c.Next()
			return
		}
		if _, err := jwtService.Validate(credential); err == nil {
			c.Next()
			return
		}
		response.Unauthorized(c, "invalid or expired credential")
		c.Abort()
	}
}
