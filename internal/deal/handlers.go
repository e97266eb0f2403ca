package deal

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/paisahub/dealdesk/internal/ads"
	"github.com/paisahub/dealdesk/internal/users"
	"github.com/paisahub/dealdesk/internal/validation"
)

// Handler provides HTTP endpoints for deal operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new deal handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up deal endpoints. Callers must be authenticated;
// the auth middleware stores the caller id under "authUserID".
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/deals", h.CreateDeal)
	r.GET("/deals/:id", h.GetDeal)
	r.GET("/users/:id/deals", h.ListDeals)
	r.POST("/deals/:id/fund", h.FundDeal)
	r.POST("/deals/:id/payment-sent", h.MarkPaymentSent)
	r.POST("/deals/:id/confirm", h.ConfirmPayment)
	r.POST("/deals/:id/cancel", h.CancelDeal)
	r.POST("/deals/:id/emergency-refund", h.EmergencyRefund)
	r.POST("/deals/:id/rating", h.SubmitRating)
}

// CreateDeal handles POST /v1/deals
func (h *Handler) CreateDeal(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	req.ActorID = c.GetString("authUserID")

	checks := []func() *validation.ValidationError{
		validation.Required("adId", req.AdID),
		validation.ValidAmount("amount", req.Amount),
	}
	if req.UPIID != "" {
		checks = append(checks, validation.ValidUPI("upiId", req.UPIID))
	}
	if errs := validation.Validate(checks...); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	d, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"deal": d})
}

// GetDeal handles GET /v1/deals/:id
func (h *Handler) GetDeal(c *gin.Context) {
	d, err := h.service.Get(c.Request.Context(), c.Param("id"), c.GetString("authUserID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deal": d})
}

// ListDeals handles GET /v1/users/:id/deals
func (h *Handler) ListDeals(c *gin.Context) {
	userID := c.Param("id")
	if userID != c.GetString("authUserID") {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "You may only list your own deals",
		})
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	deals, err := h.service.List(c.Request.Context(), userID, Status(c.Query("status")), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deals": deals, "count": len(deals)})
}

type fundRequest struct {
	OnChainDealID *uint64 `json:"onChainDealId" binding:"required"`
	TxHash        string  `json:"txHash"`
}

// FundDeal handles POST /v1/deals/:id/fund. The buyer reports the
// escrow deposit; the engine checks the claim against the contract.
func (h *Handler) FundDeal(c *gin.Context) {
	var req fundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "onChainDealId is required",
		})
		return
	}
	h.transition(c, EventFund, req.OnChainDealID, req.TxHash)
}

type txRequest struct {
	TxHash string `json:"txHash"`
}

// MarkPaymentSent handles POST /v1/deals/:id/payment-sent
func (h *Handler) MarkPaymentSent(c *gin.Context) {
	h.transition(c, EventPaymentSent, nil, "")
}

// ConfirmPayment handles POST /v1/deals/:id/confirm
func (h *Handler) ConfirmPayment(c *gin.Context) {
	var req txRequest
	_ = c.ShouldBindJSON(&req)
	h.transition(c, EventPaymentConfirmed, nil, req.TxHash)
}

// CancelDeal handles POST /v1/deals/:id/cancel
func (h *Handler) CancelDeal(c *gin.Context) {
	h.transition(c, EventCancel, nil, "")
}

// EmergencyRefund handles POST /v1/deals/:id/emergency-refund
func (h *Handler) EmergencyRefund(c *gin.Context) {
	var req txRequest
	_ = c.ShouldBindJSON(&req)
	h.transition(c, EventEmergencyRefund, nil, req.TxHash)
}

func (h *Handler) transition(c *gin.Context, event Event, onChainID *uint64, txHash string) {
	d, err := h.service.RequestTransition(c.Request.Context(),
		c.Param("id"), event, c.GetString("authUserID"), onChainID, txHash)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deal": d})
}

// SubmitRating handles POST /v1/deals/:id/rating
func (h *Handler) SubmitRating(c *gin.Context) {
	var req RatingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "rating is required",
		})
		return
	}
	req.ActorID = c.GetString("authUserID")

	if errs := validation.Validate(
		validation.ValidRating("rating", req.Rating),
		validation.MaxLength("feedback", req.Feedback, validation.MaxFeedbackLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	d, err := h.service.SubmitRating(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deal": d})
}

// respondError maps domain errors to HTTP responses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ads.ErrAdNotFound),
		errors.Is(err, users.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": err.Error(),
		})
	case errors.Is(err, ErrChainAuthorityOverride):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "chain_authority_override",
			"message": err.Error(),
		})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_transition",
			"message": err.Error(),
		})
	case errors.Is(err, ErrStateConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "state_conflict",
			"message": "Deal changed concurrently, retry the request",
		})
	case errors.Is(err, ErrRatingAlreadySet):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "rating_already_set",
			"message": err.Error(),
		})
	case errors.Is(err, ErrNotLinked), errors.Is(err, ErrBadAmount),
		errors.Is(err, ErrBadRating), errors.Is(err, ErrSelfTrade),
		errors.Is(err, ErrAmountOutOfRange), errors.Is(err, ads.ErrAdInactive),
		errors.Is(err, ads.ErrInsufficient):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "unprocessable",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Unexpected error",
		})
	}
}
