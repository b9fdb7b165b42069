package auth

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/streampulse/backend/pkg/response"
	"github.com/streampulse/backend/pkg/utils"
)

// TokenRequest is the body for POST /auth/token.
type TokenRequest struct {
	APIKey string `json:"api_key" binding:"required"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in_hours"`
	TokenType string `json:"token_type"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	keyHash     string
	jwt         *JWTService
	expireHours int
	logger      *zap.Logger
}

// NewHandler creates an auth handler. adminKey is bcrypt-hashed once at
// startup so the plaintext never sits in the handler.
func NewHandler(adminKey string, jwt *JWTService, expireHours int, logger *zap.Logger) (*Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	keyHash, err := utils.HashKey(adminKey)
	if err != nil {
		return nil, err
	}
	return &Handler{keyHash: keyHash, jwt: jwt, expireHours: expireHours, logger: logger}, nil
}

// Token handles POST /auth/token: exchanges the admin API key for a JWT.
func (h *Handler) Token(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "api_key is required")
		return
	}
	if !utils.CheckKey(req.APIKey, h.keyHash) {
		h.logger.Warn("token exchange with invalid api key")
		response.Unauthorized(c, "invalid api key")
		return
	}
	token, err := h.jwt.Generate()
	if err != nil {
		h.logger.Error("token generation failed", zap.Error(err))
		response.Internal(c, "failed to issue token")
		return
	}
	response.OK(c, TokenResponse{Token: token, ExpiresIn: h.expireHours, TokenType: "Bearer"})
}
