package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tuannvm/ado-ai/internal/logging"
	"github.com/tuannvm/ado-ai/internal/metrics"
)

// RouterConfig wires the engine's middleware.
type RouterConfig struct {
	// ServiceName enables otelgin spans when non-empty.
	ServiceName string
	Metrics     *metrics.Metrics
	// Limiter throttles analyze requests per client; nil disables it.
	Limiter Limiter
}

// NewRouter builds the gin engine with middleware and routes.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	router := gin.New()

	// OTel creates the span, Recovery catches panics, Logger logs with trace context
	if cfg.ServiceName != "" {
		router.Use(otelgin.Middleware(cfg.ServiceName))
	}
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(RequestMetrics(cfg.Metrics))

	SetupRoutes(router, h, cfg)
	return router
}

// SetupRoutes registers the API routes on router.
func SetupRoutes(router *gin.Engine, h *Handler, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := router.Group("/api")
	{
		setup := api.Group("/setup")
		setup.GET("/status", h.SetupStatus)
		setup.POST("", h.Setup)

		api.GET("/config", h.GetConfig)
		api.PUT("/config", h.UpdateConfig)

		items := api.Group("/work-items")
		items.GET("", h.ListHistory)
		items.GET("/:id", h.GetWorkItem)
		items.POST("/:id/analyze", RateLimit(cfg.Limiter, cfg.Metrics), h.Analyze)
		items.GET("/history/:historyId", h.GetHistory)
		items.POST("/history/:historyId/apply-files", h.ApplyFiles)

		files := api.Group("/files")
		files.GET("/browse", h.BrowseFiles)
		files.GET("/validate-path", h.ValidatePath)

		api.POST("/hooks/azure-devops", h.ServiceHook)
	}
}

// RequestLogger logs one line per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		log := logging.Logger.With(
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("request failed")
		case status >= http.StatusBadRequest:
			log.Warn("request rejected")
		default:
			log.Info("request")
		}
	}
}

// RequestMetrics counts requests by route template and status.
func RequestMetrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// RateLimit rejects requests over the limiter's budget with 429. Limiter
// errors let the request through.
func RateLimit(l Limiter, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil {
			c.Next()
			return
		}
		ok, retryAfter, err := l.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			logging.Warnf("Rate limiter unavailable: %v", err)
			c.Next()
			return
		}
		if !ok {
			if m != nil {
				m.RateLimited.Inc()
			}
			secs := int(retryAfter.Seconds() + 0.999)
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": secs,
			})
			return
		}
		c.Next()
	}
}
