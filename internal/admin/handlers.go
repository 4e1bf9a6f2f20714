package admin

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/guardian/internal/logging"
	"github.com/mbd888/guardian/internal/validation"
)

// Handler provides admin HTTP endpoints.
type Handler struct {
	windows  WindowStore
	circuits CircuitController
	stream   StreamStats
	logger   *slog.Logger
}

// NewHandler creates a new admin handler.
func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{logger: logger}
}

// WithWindows sets the window store for entity operations.
func (h *Handler) WithWindows(w WindowStore) *Handler {
	h.windows = w
	return h
}

// WithCircuits sets the breaker for circuit operations.
func (h *Handler) WithCircuits(c CircuitController) *Handler {
	h.circuits = c
	return h
}

// WithStream sets the alert hub whose counters /admin/stream reports.
func (h *Handler) WithStream(s StreamStats) *Handler {
	h.stream = s
	return h
}

// RegisterRoutes sets up admin routes. The caller applies the admin guard.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	entities := r.Group("/admin/entities/:entity")
	entities.Use(validation.EntityParamMiddleware())
	entities.GET("/window", h.getWindow)
	entities.DELETE("/window", h.resetWindow)

	r.GET("/admin/circuits", h.listCircuits)
	r.POST("/admin/circuits/:analyzer/reset", h.resetCircuit)
	r.GET("/admin/stream", h.streamStats)
}

// getWindow returns the entity's current transaction window.
func (h *Handler) getWindow(c *gin.Context) {
	if h.windows == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "window store not configured"})
		return
	}
	entityID := c.Param("entity")
	txs := h.windows.Window(entityID)
	if txs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "no transaction window for entity"})
		return
	}
	c.JSON(http.StatusOK, WindowView{EntityID: entityID, Transactions: txs, Count: len(txs)})
}

// resetWindow drops the entity's window so rapid and repeated-amount rules
// start over.
func (h *Handler) resetWindow(c *gin.Context) {
	if h.windows == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "window store not configured"})
		return
	}
	entityID := c.Param("entity")
	if !h.windows.ResetWindow(entityID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "no transaction window for entity"})
		return
	}
	logging.L(logging.Ensure(c.Request.Context(), h.logger)).Warn("transaction window reset by admin", "entity_id", entityID)
	c.JSON(http.StatusOK, gin.H{"reset": true, "entity_id": entityID})
}

// listCircuits returns the analyzers whose circuit is open or half-open.
func (h *Handler) listCircuits(c *gin.Context) {
	if h.circuits == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "circuit breaker not configured"})
		return
	}
	open := h.circuits.OpenKeys()
	if open == nil {
		open = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"open": open, "count": len(open)})
}

// resetCircuit closes an analyzer's circuit ahead of its cool-down.
func (h *Handler) resetCircuit(c *gin.Context) {
	if h.circuits == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "circuit breaker not configured"})
		return
	}
	name := c.Param("analyzer")
	if !h.circuits.Reset(name) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_state",
			"message": "Only open or half-open circuits can be reset",
		})
		return
	}
	logging.L(logging.Ensure(c.Request.Context(), h.logger)).Warn("circuit reset by admin", "analyzer", name)
	c.JSON(http.StatusOK, gin.H{"reset": true, "analyzer": name})
}

func (h *Handler) streamStats(c *gin.Context) {
	if h.stream == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alert stream not configured"})
		return
	}
	c.JSON(http.StatusOK, h.stream.Stats())
}
