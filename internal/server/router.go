package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/tunerboard/internal/tuners"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultCookieName = "__session"

var (
	errMissingTunersService   = errors.New("tuners service dependency required")
	errMissingIdentityService = errors.New("identity resolver dependency required")
)

// IdentityResolver turns the session cookie value into the requesting identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (tuners.Identity, error)
}

// Dependencies wires the HTTP layer.
type Dependencies struct {
	Tuners         *tuners.Service
	Identities     IdentityResolver
	CookieName     string
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router serving the tuner API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tuners == nil {
		return nil, errMissingTunersService
	}
	if deps.Identities == nil {
		return nil, errMissingIdentityService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cookieName := strings.TrimSpace(deps.CookieName)
	if cookieName == "" {
		cookieName = defaultCookieName
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		tuners:     deps.Tuners,
		identities: deps.Identities,
		cookieName: cookieName,
		logger:     logger,
	}
	router.Use(handler.resolveIdentity)

	router.GET("/tuners", handler.handleListTuners)
	router.GET("/tuners/count", handler.handleCountTuners)
	router.GET("/tuners/:id", handler.handleGetTuner)
	router.GET("/tuners/:id/prompt", handler.handleGetPrompt)
	router.GET("/search", handler.handleSearch)
	router.GET("/pills", handler.handlePills)
	router.GET("/me", handler.handleMe)
	router.POST("/form/url", handler.handleValidateURL)

	protected := router.Group("/")
	protected.Use(handler.requireIdentity)
	protected.POST("/tuners", handler.handleSaveTuner)
	protected.DELETE("/tuners/:id", handler.handleDeleteTuner)
	protected.POST("/tuners/like/:id", handler.handleToggleLike)
	protected.GET("/comments/:id", handler.handleListComments)
	protected.POST("/comments", handler.handlePostComment)
	protected.DELETE("/comments/:id/:commentId", handler.handleDeleteComment)

	return router, nil
}

type httpHandler struct {
	tuners     *tuners.Service
	identities IdentityResolver
	cookieName string
	logger     *zap.Logger
}

func corsMiddleware(origins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Accept"},
		MaxAge:           12 * time.Hour,
	}
	explicit := make([]string, 0, len(origins))
	for _, origin := range origins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" && trimmed != "*" {
			explicit = append(explicit, trimmed)
		}
	}
	if len(explicit) == 0 {
		// session cookies are only sent cross-origin to listed origins
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = explicit
		config.AllowCredentials = true
	}
	return cors.New(config)
}
