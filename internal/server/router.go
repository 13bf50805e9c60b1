package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/mideita/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/ideas"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/quota"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	authorContextKey = "mideita_author"

	DefaultMaxSavedIdeas = 50
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingAuthorResolver   = errors.New("author resolver dependency required")
	errMissingIdeaStore        = errors.New("idea store dependency required")
)

// SessionValidator authenticates a request from its session cookie or bearer header.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// AuthorResolver records the caller and resolves the author attached to new ideas.
type AuthorResolver interface {
	ResolveAuthor(ctx context.Context, claims auth.SessionClaims) (users.Author, error)
}

type Dependencies struct {
	Store          ideas.Store
	Sessions       SessionValidator
	Authors        AuthorResolver
	Quota          quota.Policy
	MaxSavedIdeas  int
	AllowedOrigins []string
	// Registry receives the HTTP collectors and backs /metrics. Defaults to a private registry.
	Registry *prometheus.Registry
	Clock    func() time.Time
	Logger   *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Authors == nil {
		return nil, errMissingAuthorResolver
	}
	if deps.Store == nil {
		return nil, errMissingIdeaStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	maxSaved := deps.MaxSavedIdeas
	if maxSaved <= 0 {
		maxSaved = DefaultMaxSavedIdeas
	}
	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	metrics, err := newRequestMetrics(registry)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))
	router.Use(metrics.middleware())

	handler := &httpHandler{
		store:    deps.Store,
		sessions: deps.Sessions,
		authors:  deps.Authors,
		policy:   deps.Quota,
		maxSaved: maxSaved,
		clock:    clock,
		logger:   logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	router.GET("/ideas/recent", handler.handleListRecent)
	router.GET("/ideas/:id", handler.handleGetIdea)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/ideas", handler.handleCreateIdea)
	protected.GET("/ideas", handler.handleListOwn)
	protected.DELETE("/ideas/:id", handler.handleDeleteIdea)
	protected.PUT("/ideas/:id/image", handler.handleAttachImage)

	return router, nil
}

type httpHandler struct {
	store    ideas.Store
	sessions SessionValidator
	authors  AuthorResolver
	policy   quota.Policy
	maxSaved int
	clock    func() time.Time
	logger   *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
