// README: Dev token endpoint; mints bearer tokens for local and test use.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridepool/internal/auth"
)

const tokenTTL = 24 * time.Hour

type AuthHandler struct {
	tokens *auth.Manager
}

func NewAuthHandler(tokens *auth.Manager) *AuthHandler {
	return &AuthHandler{tokens: tokens}
}

type tokenReq struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (h *AuthHandler) Token(c *gin.Context) {
	var req tokenReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == "" {
		writeError(c, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.Role != auth.RoleDriver && req.Role != auth.RolePassenger {
		writeError(c, http.StatusBadRequest, "role must be driver or passenger")
		return
	}
	tok, err := h.tokens.Generate(req.UserID, req.Role, tokenTTL)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{
		"token":      tok,
		"expires_in": int(tokenTTL.Seconds()),
	})
}
