package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/cafecursor/cafecursor/internal/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey  = "cafecursor_user_id"
	isAdminContextKey = "cafecursor_is_admin"
)

// authorizeRequest rejects requests without a valid session.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	if !h.resolveViewer(c, true) {
		return
	}
	c.Next()
}

// identifyRequest attaches the viewer when a valid session is present and lets anonymous
// requests through. An invalid token is still rejected so clients notice expiry.
func (h *httpHandler) identifyRequest(c *gin.Context) {
	if !h.resolveViewer(c, false) {
		return
	}
	c.Next()
}

func (h *httpHandler) resolveViewer(c *gin.Context, required bool) bool {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrMissingSessionToken) && !required {
			return true
		}
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		abortWithError(c, http.StatusUnauthorized, codeUnauthorized, "valid session required")
		return false
	}
	userID, err := h.users.ResolveCanonicalUserID(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to resolve user", zap.Error(err))
		abortWithError(c, http.StatusUnauthorized, codeUnauthorized, "unknown user")
		return false
	}
	c.Set(userIDContextKey, userID)
	c.Set(isAdminContextKey, claims.IsAdmin())
	return true
}

type identityExchangeRequest struct {
	IDToken string `json:"id_token"`
}

type identityExchangeResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	UserID      string `json:"user_id"`
}

// handleIdentityExchange trades a verified ID token for a session token. The session is also
// set as a cookie when a cookie name is configured.
func (h *httpHandler) handleIdentityExchange(c *gin.Context) {
	var request identityExchangeRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		abortWithError(c, http.StatusBadRequest, codeInvalidRequest, "id_token is required")
		return
	}

	identity, err := h.identities.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("id token verification failed", zap.Error(err))
		abortWithError(c, http.StatusUnauthorized, codeUnauthorized, "id token rejected")
		return
	}

	claims := identity.SessionClaims()
	userID, err := h.users.ResolveCanonicalUserID(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to resolve user", zap.String("provider", identity.Provider), zap.Error(err))
		abortWithError(c, http.StatusUnauthorized, codeUnauthorized, "unknown user")
		return
	}

	token, expiresIn, err := h.tokens.IssueSessionToken(claims)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}

	if h.cookieName != "" {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(h.cookieName, token, int(expiresIn), "/", "", c.Request.TLS != nil, true)
	}
	respondData(c, http.StatusOK, identityExchangeResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
		UserID:      userID,
	})
}
