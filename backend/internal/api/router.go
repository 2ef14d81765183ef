package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"graph-memory/backend/internal/memory"
	"graph-memory/backend/internal/metrics"
)

// RouterOptions configures NewRouter
type RouterOptions struct {
	Service *memory.Service
	Jobs    JobRunner
	Metrics *metrics.Collector
	Logger  *zap.Logger
}

// NewRouter builds the gin engine: middleware, /metrics, /health and the
// /api group.
func NewRouter(o RouterOptions) *gin.Engine {
	h := NewHandler(o.Service, o.Jobs, o.Logger)

	router := gin.New()
	router.Use(GinLogger(h.logger))
	router.Use(gin.Recovery())
	router.Use(CORS())
	if o.Metrics != nil {
		router.Use(Metrics(o.Metrics))
		router.GET("/metrics", gin.WrapH(o.Metrics.Handler()))
	}

	router.GET("/health", h.health)
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "route not found",
			"code":    "not_found",
		})
	})

	h.Register(router.Group("/api"))
	return router
}
