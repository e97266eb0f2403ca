package reputation

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for reputation.
type Handler struct {
	service *Service
}

// NewHandler creates a new reputation handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up reputation endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users/:id/reputation", h.GetReputation)
}

// GetReputation returns the current reputation score for a trader.
func (h *Handler) GetReputation(c *gin.Context) {
	userID := c.Param("id")

	score, err := h.service.Get(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "reputation_unavailable",
			"message": "Failed to compute reputation score",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reputation": score})
}
