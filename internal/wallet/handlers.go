package wallet

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kindkart/kindkart/internal/auth"
	"github.com/kindkart/kindkart/internal/logging"
	"github.com/kindkart/kindkart/internal/validation"
)

// Handler serves the wallet endpoint.
type Handler struct {
	service *Service
}

// NewHandler creates a new wallet handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up wallet routes on an authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/payments/wallet/:userId", validation.IDParamMiddleware("userId"), h.GetWallet)
}

// GetWallet handles GET /v1/payments/wallet/:userId
func (h *Handler) GetWallet(c *gin.Context) {
	w, err := h.service.GetWallet(c.Request.Context(), c.Param("userId"), auth.UserID(c))
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "You can only view your own wallet",
			})
			return
		}
		logging.L(c.Request.Context()).Error("wallet computation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to compute wallet",
		})
		return
	}
	c.JSON(http.StatusOK, w)
}
