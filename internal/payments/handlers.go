package payments

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stubcollector/stubmarket/internal/listing"
	"github.com/stubcollector/stubmarket/internal/order"
	"github.com/stubcollector/stubmarket/internal/seller"
	"github.com/stubcollector/stubmarket/internal/validation"
)

// Handler provides HTTP endpoints for purchases, orders, and refunds.
type Handler struct {
	service *Service
}

// NewHandler creates a new payments handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up buyer-facing purchase and order routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/purchases", h.CreatePurchase)
	r.GET("/orders", h.ListOrders)
	r.GET("/orders/:id", h.GetOrder)
	r.POST("/orders/:id/complete", h.CompleteOrder)
	r.POST("/orders/:id/cancel", h.CancelOrder)
}

// RegisterAdminRoutes sets up admin-only routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/orders/:id/refund", h.RefundOrder)
}

// CreatePurchase handles POST /v1/purchases
func (h *Handler) CreatePurchase(c *gin.Context) {
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidResourceID("listing_id", req.ListingID),
		validation.ValidResourceID("buyer_id", req.BuyerID),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	session, err := h.service.CreatePurchaseIntent(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, listing.ErrListingNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Listing not found",
			})
		case errors.Is(err, listing.ErrNotAvailable), errors.Is(err, order.ErrDuplicateOrder):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "listing_unavailable",
				"message": "Listing is not available for purchase",
			})
		case errors.Is(err, listing.ErrSelfPurchase):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "self_purchase",
				"message": "Sellers cannot buy their own listings",
			})
		case errors.Is(err, seller.ErrNotEligible):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "seller_not_ready",
				"message": "Seller cannot accept payments yet",
			})
		case errors.Is(err, ErrPaymentNotRequired):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "payment_not_required",
				"message": "Listing is settled off-platform",
			})
		case errors.Is(err, ErrCurrencyMismatch):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "unsupported_currency",
				"message": "Listing currency is not supported",
			})
		case errors.Is(err, ErrGatewayUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "gateway_unavailable",
				"message": "Payment gateway is temporarily unavailable",
			})
		default:
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "payment_failed",
				"message": "Failed to start payment",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order":         session.Order,
		"payment":       session.Payment,
		"client_secret": session.ClientSecret,
	})
}

// GetOrder handles GET /v1/orders/:id
func (h *Handler) GetOrder(c *gin.Context) {
	o, p, err := h.service.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) || errors.Is(err, order.ErrPaymentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Order not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": o, "payment": p})
}

// ListOrders handles GET /v1/orders?user_id=...&role=buyer|seller
func (h *Handler) ListOrders(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		userID = c.GetHeader("X-User-ID")
	}
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_user",
			"message": "user_id query parameter or X-User-ID header required",
		})
		return
	}

	orders, err := h.service.ListOrders(c.Request.Context(), userID, c.Query("role"), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

// CompleteOrder handles POST /v1/orders/:id/complete
// The buyer confirms the stub arrived.
func (h *Handler) CompleteOrder(c *gin.Context) {
	buyerID := c.GetHeader("X-User-ID")
	if buyerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_user",
			"message": "X-User-ID header required",
		})
		return
	}

	o, err := h.service.CompleteOrder(c.Request.Context(), c.Param("id"), buyerID)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Order not found",
			})
		case errors.Is(err, ErrNotYourOrder):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "not_your_order",
				"message": "Only the buyer can confirm receipt",
			})
		case errors.Is(err, ErrNotCompletable):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "not_completable",
				"message": "Only paid orders can be completed",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": o})
}

// CancelOrder handles POST /v1/orders/:id/cancel
func (h *Handler) CancelOrder(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)

	o, err := h.service.Cancel(c.Request.Context(), c.Param("id"), body.Reason)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Order not found",
			})
		case errors.Is(err, ErrNotCancellable):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "not_cancellable",
				"message": "Only pending orders can be cancelled",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": o})
}

// RefundOrder handles POST /v1/admin/orders/:id/refund
func (h *Handler) RefundOrder(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)

	o, err := h.service.Refund(c.Request.Context(), c.Param("id"), body.Reason)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Order not found",
			})
		case errors.Is(err, ErrNotRefundable):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "not_refundable",
				"message": "Only completed orders can be refunded",
			})
		default:
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "refund_failed",
				"message": "Failed to refund order",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": o})
}
