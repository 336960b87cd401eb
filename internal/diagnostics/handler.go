package diagnostics

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/meshmeet/pkg/response"
)

// Handler serves the diagnostics HTTP endpoints.
type Handler struct {
	collector *Collector
	exporter  Exporter
	logger    *zap.Logger
}

// NewHandler creates a diagnostics handler. exporter may be nil, in which
// case export requests get 503.
func NewHandler(collector *Collector, exporter Exporter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{collector: collector, exporter: exporter, logger: logger}
}

// Register mounts the routes on r.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/diagnostics")
	g.GET("", h.Snapshot)
	g.GET("/errors", h.Errors)
	g.DELETE("/errors", h.ClearErrors)
	g.POST("/export", h.Export)
}

// Snapshot handles GET /diagnostics.
func (h *Handler) Snapshot(c *gin.Context) {
	response.OK(c, h.collector.Snapshot())
}

// Errors handles GET /diagnostics/errors?limit=n.
func (h *Handler) Errors(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			response.BadRequest(c, "invalid limit")
			return
		}
		limit = n
	}
	response.OK(c, h.collector.Recent(limit))
}

// ClearErrors handles DELETE /diagnostics/errors.
func (h *Handler) ClearErrors(c *gin.Context) {
	h.collector.Clear()
	response.NoContent(c)
}

// Export handles POST /diagnostics/export.
func (h *Handler) Export(c *gin.Context) {
	if h.exporter == nil {
		response.ServiceUnavailable(c, "diagnostics export is not configured")
		return
	}
	location, err := h.collector.Export(c.Request.Context(), h.exporter)
	if err != nil {
		h.logger.Error("diagnostics export", zap.Error(err))
		response.Internal(c, "failed to export diagnostics")
		return
	}
	response.Created(c, gin.H{"location": location})
}
