package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/tunerboard/internal/auth"
	"github.com/MarcoPoloResearchLab/tunerboard/internal/tuners"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	identityContextKey      = "tunerboard_identity"
	identityErrorContextKey = "tunerboard_identity_error"
)

// resolveIdentity attaches the requesting identity to every request. Requests
// without a usable session continue anonymously.
func (h *httpHandler) resolveIdentity(c *gin.Context) {
	token, err := c.Cookie(h.cookieName)
	if err != nil || token == "" {
		c.Set(identityContextKey, tuners.Anonymous())
		c.Next()
		return
	}

	identity, err := h.identities.Resolve(c.Request.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrExpiredSession):
			h.logger.Info("session validation failed", zap.Error(err))
		case errors.Is(err, tuners.ErrUpstreamIdentity):
			h.logger.Error("identity provider unavailable", zap.Error(err))
		default:
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.Set(identityErrorContextKey, err)
		identity = tuners.Anonymous()
	}
	c.Set(identityContextKey, identity)
	c.Next()
}

// requireIdentity rejects anonymous requests.
func (h *httpHandler) requireIdentity(c *gin.Context) {
	if identityFrom(c).Authenticated() {
		c.Next()
		return
	}
	if value, ok := c.Get(identityErrorContextKey); ok {
		if err, ok := value.(error); ok && errors.Is(err, tuners.ErrUpstreamIdentity) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity_provider_unavailable"})
			return
		}
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func identityFrom(c *gin.Context) tuners.Identity {
	if value, ok := c.Get(identityContextKey); ok {
		if identity, ok := value.(tuners.Identity); ok {
			return identity
		}
	}
	return tuners.Anonymous()
}

type meResponse struct {
	Identity tuners.Identity `json:"user"`
}

func (h *httpHandler) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, meResponse{Identity: identityFrom(c)})
}
