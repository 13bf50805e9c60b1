package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/mideita/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func corsMiddleware(origins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	author, err := h.authors.ResolveAuthor(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to resolve author", zap.String("user_id", claims.UserID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "author_resolution_failed"})
		return
	}
	c.Set(authorContextKey, author)
	c.Next()
}

func authorFromContext(c *gin.Context) (users.Author, bool) {
	value, ok := c.Get(authorContextKey)
	if !ok {
		return users.Author{}, false
	}
	author, ok := value.(users.Author)
	return author, ok && author.UserID != ""
}

type requestMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newRequestMetrics(registerer prometheus.Registerer) (*requestMetrics, error) {
	metrics := &requestMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mideita_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mideita_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if err := registerer.Register(metrics.requests); err != nil {
		return nil, err
	}
	if err := registerer.Register(metrics.duration); err != nil {
		return nil, err
	}
	return metrics, nil
}

// middleware labels by route template so idea ids do not explode the series count.
func (m *requestMetrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(c.Request.Method, route).Observe(time.Since(started).Seconds())
	}
}
