package http

import (
	"net/http"
	"strings"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/pkg/errors"
	"voicemesh/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TokenHandler mints access tokens for self-hosted deployments where the
// chat server itself vouches for identities. Deployments fronted by an
// external identity provider leave these routes unmounted.
type TokenHandler struct {
	tokens ports.TokenService
	ttl    time.Duration
}

func NewTokenHandler(tokens ports.TokenService, ttl time.Duration) *TokenHandler {
	return &TokenHandler{tokens: tokens, ttl: ttl}
}

func (h *TokenHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/token", h.IssueToken)
	}
}

type tokenRequest struct {
	UserID      string `json:"user_id" binding:"max=64"`
	DisplayName string `json:"display_name" binding:"required,max=64"`
}

func (h *TokenHandler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.UserID == "" {
		req.UserID = uuid.New().String()
	}

	if err := validation.ValidateUserID(req.UserID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateDisplayName(req.DisplayName); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	token, err := h.tokens.Issue(domain.Identity{
		UserID:      domain.UserID(req.UserID),
		DisplayName: req.DisplayName,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":      req.UserID,
		"display_name": req.DisplayName,
		"access_token": token,
		"expires_in":   int(h.ttl / time.Second),
	})
}
