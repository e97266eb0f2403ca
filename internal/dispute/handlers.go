package dispute

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/paisahub/dealdesk/internal/deal"
	"github.com/paisahub/dealdesk/internal/validation"
)

// Handler provides HTTP endpoints for disputes.
type Handler struct {
	service *Service
}

// NewHandler creates a new dispute handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up dispute endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/deals/:id/dispute", h.OpenDispute)
	r.GET("/disputes/:id", h.GetDispute)
	r.GET("/disputes", h.ListOpenDisputes)
	r.POST("/disputes/:id/resolve", h.ResolveDispute)
}

type openRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// OpenDispute handles POST /v1/deals/:id/dispute
func (h *Handler) OpenDispute(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reason is required",
		})
		return
	}
	if errs := validation.Validate(
		validation.MaxLength("reason", req.Reason, validation.MaxFeedbackLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	dp, err := h.service.Open(c.Request.Context(), c.Param("id"), c.GetString("authUserID"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"dispute": dp})
}

// GetDispute handles GET /v1/disputes/:id
func (h *Handler) GetDispute(c *gin.Context) {
	dp, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": dp})
}

// ListOpenDisputes handles GET /v1/disputes — the arbitration queue.
func (h *Handler) ListOpenDisputes(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	disputes, err := h.service.ListOpen(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"disputes": disputes, "count": len(disputes)})
}

type resolveRequest struct {
	Winner string `json:"winner" binding:"required"`
	Notes  string `json:"notes"`
}

// ResolveDispute handles POST /v1/disputes/:id/resolve
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "winner is required",
		})
		return
	}

	dp, err := h.service.Resolve(c.Request.Context(), c.Param("id"),
		c.GetString("authUserID"), Winner(req.Winner), req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": dp})
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, deal.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
	case errors.Is(err, ErrNotArbitrator), errors.Is(err, deal.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": err.Error(),
		})
	case errors.Is(err, deal.ErrChainAuthorityOverride):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "chain_authority_override",
			"message": err.Error(),
		})
	case errors.Is(err, deal.ErrInvalidTransition), errors.Is(err, ErrAlreadyOpen),
		errors.Is(err, ErrNotOpen):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": err.Error(),
		})
	case errors.Is(err, ErrBadWinner), errors.Is(err, deal.ErrNotLinked):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "unprocessable",
			"message": err.Error(),
		})
	case errors.Is(err, ErrSubmitRejected):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "submit_rejected",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Unexpected error",
		})
	}
}
