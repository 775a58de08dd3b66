package escrow

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/kindkart/kindkart/internal/auth"
	"github.com/kindkart/kindkart/internal/gateway"
	"github.com/kindkart/kindkart/internal/logging"
	"github.com/kindkart/kindkart/internal/validation"
)

// Handler provides the payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up payment routes. The group must already require
// authentication.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	p := r.Group("/payments")
	p.POST("/create-order", h.CreateOrder)
	p.POST("/verify", h.Verify)
	p.GET("/transactions", h.ListTransactions)
	p.POST("/release/:transactionId", validation.IDParamMiddleware("transactionId"), h.Release)
	p.POST("/dispute/:transactionId", validation.IDParamMiddleware("transactionId"), h.Dispute)
	p.POST("/complete/:requestId", validation.IDParamMiddleware("requestId"), h.Complete)
}

type createOrderBody struct {
	RequestID string          `json:"requestId"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	HelperID  string          `json:"helperId"`
}

type verifyBody struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Signature string `json:"signature"`
}

type disputeBody struct {
	Reason string `json:"reason"`
}

type completeBody struct {
	Proof string `json:"proof"`
}

// CreateOrder handles POST /v1/payments/create-order
func (h *Handler) CreateOrder(c *gin.Context) {
	var body createOrderBody
	if err := c.ShouldBindJSON(&body); err != nil {
		invalidBody(c)
		return
	}
	if errs := validation.Validate(
		validation.Required("requestId", body.RequestID),
		validation.Required("helperId", body.HelperID),
		validation.Required("currency", body.Currency),
		validation.ValidID("requestId", body.RequestID),
		validation.ValidID("helperId", body.HelperID),
		validation.ValidAmount("amount", body.Amount, body.Currency),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	result, err := h.service.OpenOrder(c.Request.Context(), OpenOrderRequest{
		RequestID: body.RequestID,
		Amount:    body.Amount,
		Currency:  body.Currency,
		PayerID:   auth.UserID(c),
		PayeeID:   body.HelperID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// Verify handles POST /v1/payments/verify
func (h *Handler) Verify(c *gin.Context) {
	var body verifyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		invalidBody(c)
		return
	}
	if errs := validation.Validate(
		validation.Required("orderId", body.OrderID),
		validation.Required("paymentId", body.PaymentID),
		validation.Required("signature", body.Signature),
		validation.ValidHex("signature", body.Signature),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	result, err := h.service.VerifyAndCapture(c.Request.Context(), VerifyRequest{
		OrderID:   body.OrderID,
		PaymentID: body.PaymentID,
		Signature: body.Signature,
		CallerID:  auth.UserID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":     "Payment verified and held in escrow",
		"transaction": result.Transaction,
		"escrowHold":  result.EscrowHold,
	})
}

// ListTransactions handles GET /v1/payments/transactions
func (h *Handler) ListTransactions(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": "limit must be between 1 and 500",
			})
			return
		}
		limit = n
	}

	txs, next, err := h.service.ListTransactionsPage(c.Request.Context(), auth.UserID(c), limit, c.Query("cursor"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": txs,
		"count":        len(txs),
		"nextCursor":   next,
		"hasMore":      next != "",
	})
}

// Release handles POST /v1/payments/release/:transactionId
func (h *Handler) Release(c *gin.Context) {
	hold, err := h.service.Release(c.Request.Context(), c.Param("transactionId"), auth.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "Payment released to helper",
		"escrowHold": hold,
	})
}

// Dispute handles POST /v1/payments/dispute/:transactionId
func (h *Handler) Dispute(c *gin.Context) {
	var body disputeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		invalidBody(c)
		return
	}
	if errs := validation.Validate(
		validation.MaxLength("reason", body.Reason, validation.MaxReasonLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
		})
		return
	}

	hold, err := h.service.Dispute(c.Request.Context(), c.Param("transactionId"), auth.UserID(c),
		validation.SanitizeString(body.Reason, validation.MaxReasonLength))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "Payment disputed. Funds are frozen pending review.",
		"escrowHold": hold,
	})
}

// Complete handles POST /v1/payments/complete/:requestId
func (h *Handler) Complete(c *gin.Context) {
	var body completeBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			invalidBody(c)
			return
		}
	}

	hr, err := h.service.MarkCompleted(c.Request.Context(), c.Param("requestId"), auth.UserID(c),
		validation.SanitizeString(body.Proof, validation.MaxReasonLength))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Request marked as completed",
		"request": hr,
	})
}

func invalidBody(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation_error",
		"message": "Invalid request body",
	})
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	msg := "Internal server error"

	switch {
	case errors.Is(err, ErrValidation):
		status, code, msg = http.StatusBadRequest, "validation_error", err.Error()
	case errors.Is(err, ErrForbidden):
		status, code, msg = http.StatusForbidden, "forbidden", err.Error()
	case errors.Is(err, ErrRequestNotFound), errors.Is(err, ErrTransactionNotFound):
		status, code, msg = http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, ErrDuplicatePayment):
		status, code, msg = http.StatusBadRequest, "duplicate_payment", err.Error()
	case errors.Is(err, ErrInvalidAssignment):
		status, code, msg = http.StatusBadRequest, "invalid_assignment", err.Error()
	case errors.Is(err, ErrInvalidSignature):
		status, code, msg = http.StatusBadRequest, "invalid_signature", "Invalid payment signature"
	case errors.Is(err, ErrNoActiveEscrow):
		status, code, msg = http.StatusBadRequest, "no_active_escrow", err.Error()
	case errors.Is(err, ErrMissingReason):
		status, code, msg = http.StatusBadRequest, "missing_reason", err.Error()
	case errors.Is(err, gateway.ErrOrderRejected):
		status, code, msg = http.StatusBadRequest, "validation_error", err.Error()
	case errors.Is(err, gateway.ErrGatewayUnavailable):
		status, code, msg = http.StatusBadGateway, "gateway_unavailable", "Payment gateway is unavailable, try again shortly"
	default:
		logging.L(c.Request.Context()).Error("payment request failed", "path", c.FullPath(), "error", err)
	}

	c.JSON(status, gin.H{"error": code, "message": msg})
}
