// Package api is the REST Surface (C12), a thin gin-gonic wrapper over
// the Engine Facade (C9) and Mempool Monitor (C8), grounded in the
// teacher's internal/api/routes.go. Every endpoint below matches
// spec §6's illustrative REST surface exactly.
package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/rawblock/coinjoin-tracer/internal/cache"
	"github.com/rawblock/coinjoin-tracer/internal/engine"
	"github.com/rawblock/coinjoin-tracer/internal/graph"
	"github.com/rawblock/coinjoin-tracer/internal/monitor"
	"github.com/rawblock/coinjoin-tracer/pkg/models"
)

type Handler struct {
	facade  *engine.Facade
	monitor *monitor.Monitor
	writer  *graph.Writer
	cache   *cache.Cache
	hub     *Hub
	log     zerolog.Logger
}

func NewHandler(f *engine.Facade, m *monitor.Monitor, w *graph.Writer, c *cache.Cache, hub *Hub, log zerolog.Logger) *Handler {
	return &Handler{facade: f, monitor: m, writer: w, cache: c, hub: hub, log: log}
}

// SetupRouter wires every route of spec §6, CORS, rate limiting and
// auth middleware (teacher's routes.go shape).
func SetupRouter(h *Handler, allowedOrigins []string, rateLimiter *RateLimiter, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(allowedOrigins))

	r.GET("/health", h.handleHealth)
	r.GET("/stream", h.hub.Subscribe)

	v1 := r.Group("/", AuthMiddleware(log))
	{
		v1.POST("/monitoring/start", h.handleMonitoringStart)
		v1.POST("/monitoring/stop", h.handleMonitoringStop)
		v1.GET("/monitoring/status", h.handleMonitoringStatus)

		investigate := v1.Group("/", rateLimiter.Middleware())
		investigate.POST("/investigate", h.handleInvestigate)
		investigate.POST("/search/address", h.handleSearchAddress)

		v1.GET("/statistics", h.handleStatistics)

		v1.GET("/cache/status", h.handleCacheStatus)
		v1.POST("/cache/clear", h.handleCacheClear)
		v1.POST("/cache/cleanup", h.handleCacheCleanup)
	}

	return r
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowAll {
			c.Header("Access-Control-Allow-Origin", "*")
		} else {
			for _, o := range allowedOrigins {
				if strings.EqualFold(o, origin) {
					c.Header("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (h *Handler) handleHealth(c *gin.Context) {
	status := h.writer.Health(c.Request.Context())
	monStatus := h.monitor.StatusSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"store":        status,
		"lastTick":     monStatus.LastTick,
		"monitorAlive": monStatus.Running,
	})
}

func (h *Handler) handleMonitoringStart(c *gin.Context) {
	h.monitor.Start(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (h *Handler) handleMonitoringStop(c *gin.Context) {
	h.monitor.Stop()
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (h *Handler) handleMonitoringStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.StatusSnapshot())
}

type investigateRequest struct {
	Txid     string `json:"txid" binding:"required"`
	MaxDepth int    `json:"max_depth"`
}

func (h *Handler) handleInvestigate(c *gin.Context) {
	var req investigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tree, meta, err := h.facade.InvestigateTx(c.Request.Context(), req.Txid, req.MaxDepth)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tree": tree, "metadata": meta})
}

type searchAddressRequest struct {
	Address  string `json:"address" binding:"required"`
	MaxDepth int    `json:"max_depth"`
}

func (h *Handler) handleSearchAddress(c *gin.Context) {
	var req searchAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	trees, meta, err := h.facade.InvestigateAddress(c.Request.Context(), req.Address, req.MaxDepth)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trees": trees, "metadata": meta})
}

func writeEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrBusy):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "busy"})
	case errors.Is(err, models.ErrDeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "deadline_exceeded"})
	case errors.Is(err, models.ErrUpstreamUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_unavailable"})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, models.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service_degraded"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *Handler) handleStatistics(c *gin.Context) {
	store := h.writer.Health(c.Request.Context())
	mon := h.monitor.StatusSnapshot()
	c.JSON(http.StatusOK, gin.H{"store": store, "monitor": mon})
}

func (h *Handler) handleCacheStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.cache.StatusSnapshot())
}

func (h *Handler) handleCacheClear(c *gin.Context) {
	h.cache.Clear()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (h *Handler) handleCacheCleanup(c *gin.Context) {
	c.JSON(http.StatusOK, h.cache.Cleanup())
}
