package guardian

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/guardian/internal/orchestrator"
	"github.com/mbd888/guardian/internal/pagination"
	"github.com/mbd888/guardian/internal/risk"
	"github.com/mbd888/guardian/internal/validation"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Handler provides HTTP endpoints for risk analysis.
type Handler struct {
	service *Service
}

// NewHandler creates a new guardian handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterPublicRoutes sets up the unversioned route the web frontend calls.
// It stays open even when API keys are configured; only the rate limit
// applies. Use /v1/analyze for keyed access.
func (h *Handler) RegisterPublicRoutes(r gin.IRoutes) {
	r.POST("/analyze", h.Analyze)
}

// RegisterRoutes sets up the /v1 routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/analyze", h.Analyze)
	r.POST("/transactions/analyze", h.AnalyzeTransaction)
	r.POST("/messages/analyze", h.AnalyzeMessage)
	r.POST("/batch", h.AnalyzeBatch)
	r.GET("/registry", h.ListRegistry)

	entities := r.Group("/entities/:entity")
	entities.Use(validation.EntityParamMiddleware())
	entities.GET("/assessments", h.ListAssessments)
}

// Analyze handles POST /analyze and POST /v1/analyze.
// The body is returned as the bare aggregate so existing clients keep working.
func (h *Handler) Analyze(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if errs := validation.Validate(
		validation.Required("query", req.Query),
		validation.MaxLength("query", req.Query, validation.MaxQueryLength),
		validation.ValidEntity("entity_id", req.EntityID),
	); len(errs) > 0 {
		validationFailed(c, errs)
		return
	}

	query := validation.SanitizeString(req.Query, validation.MaxQueryLength)
	resp, err := h.service.Query(c.Request.Context(), req.EntityID, query, req.Context)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// AnalyzeTransaction handles POST /v1/transactions/analyze
func (h *Handler) AnalyzeTransaction(c *gin.Context) {
	var req TransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if errs := validation.Validate(
		validation.ValidEntity("entity_id", req.EntityID),
		validation.MaxLength("transaction.notes", req.Transaction.Notes, validation.MaxNotesLength),
	); len(errs) > 0 {
		validationFailed(c, errs)
		return
	}

	res, err := h.service.AnalyzeTransaction(c.Request.Context(), req.EntityID, req.Transaction)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// AnalyzeMessage handles POST /v1/messages/analyze?mode=deep
func (h *Handler) AnalyzeMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	deep := false
	switch mode := c.Query("mode"); mode {
	case "", "quick":
	case "deep":
		deep = true
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_mode",
			"message": "mode must be 'quick' or 'deep'",
		})
		return
	}

	if errs := validation.Validate(
		validation.MaxLength("text", req.Text, validation.MaxQueryLength),
		validation.ValidEntity("entity_id", req.EntityID),
		validation.MaxLength("message_id", req.MessageID, validation.MaxEntityLength),
	); len(errs) > 0 {
		validationFailed(c, errs)
		return
	}

	text := validation.SanitizeString(req.Text, validation.MaxQueryLength)
	res, err := h.service.AnalyzeMessage(c.Request.Context(), req.EntityID, req.MessageID, text, deep)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// AnalyzeBatch handles POST /v1/batch
func (h *Handler) AnalyzeBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	rules := []func() *validation.ValidationError{
		validation.ValidEntity("entity_id", req.EntityID),
		validation.MaxItems("transactions", len(req.Transactions), validation.MaxBatchItems),
		validation.MaxItems("messages", len(req.Messages), validation.MaxBatchItems),
	}
	for _, m := range req.Messages {
		rules = append(rules, validation.MaxLength("messages", m, validation.MaxQueryLength))
	}
	if errs := validation.Validate(rules...); len(errs) > 0 {
		validationFailed(c, errs)
		return
	}

	res, err := h.service.AnalyzeBatch(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// ListAssessments handles GET /v1/entities/:entity/assessments
func (h *Handler) ListAssessments(c *gin.Context) {
	entityID := c.Param("entity")

	limit := defaultHistoryLimit
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = min(parsed, maxHistoryLimit)
		}
	}

	cursor := c.Query("cursor")
	if _, err := pagination.Decode(cursor); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor is malformed",
		})
		return
	}

	page, err := h.service.History(c.Request.Context(), entityID, limit, cursor)
	if err != nil {
		respondError(c, err)
		return
	}
	items := page.Items
	if items == nil {
		items = []*risk.RiskAssessment{}
	}

	resp := gin.H{
		"entity_id":   entityID,
		"assessments": items,
		"count":       len(items),
		"has_more":    page.HasMore,
	}
	if page.HasMore {
		resp["next_cursor"] = page.NextCursor
	}
	c.JSON(http.StatusOK, resp)
}

// ListRegistry handles GET /v1/registry
func (h *Handler) ListRegistry(c *gin.Context) {
	banks := h.service.Registry()
	c.JSON(http.StatusOK, gin.H{
		"banks": banks,
		"count": len(banks),
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": err.Error(),
	})
}

func validationFailed(c *gin.Context, errs validation.ValidationErrors) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation_failed",
		"message": errs.Error(),
		"details": errs,
	})
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, risk.ErrInvalidAmount):
		status = http.StatusUnprocessableEntity
		code = "invalid_amount"
	case errors.Is(err, orchestrator.ErrNoAnalyzers), errors.Is(err, ErrDeepUnavailable):
		status = http.StatusServiceUnavailable
		code = "analysis_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
		code = "request_cancelled"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
