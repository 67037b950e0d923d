package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	authService *service.AuthService
	log         zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *service.AuthService, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		log:         log.With().Str("component", "auth_handler").Logger(),
	}
}

// Guest godoc
// POST /api/v1/auth/guest
// Issues a token for a new anonymous exam taker.
func (h *AuthHandler) Guest(c *gin.Context) {
	issued, err := h.authService.IssueGuestToken()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to issue guest token")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	h.log.Info().Str("user_id", issued.UserID).Msg("Guest token issued")
	response.Success(c, http.StatusCreated, issued)
}

// Me godoc
// GET /api/v1/auth/me
// Returns the identity carried by the caller's token.
func (h *AuthHandler) Me(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"userId":    claims.UserID,
		"tokenType": claims.TokenType,
		"expiresAt": claims.ExpiresAt,
	})
}
