package seller

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stubcollector/stubmarket/internal/validation"
)

// Handler provides HTTP endpoints for seller operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new seller handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up seller routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/sellers", h.Register)
	r.GET("/sellers/:id", h.GetSeller)
	r.GET("/sellers/:id/status", h.GetStatus)
	r.POST("/sellers/:id/onboarding", h.StartOnboarding)
	r.GET("/sellers/:id/dashboard", h.GetDashboard)
	r.GET("/sellers/:id/balance", h.GetBalance)
}

// Register handles POST /v1/sellers
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	req.Email = validation.SanitizeString(req.Email, 254)
	if errs := validation.Validate(
		validation.Required("email", req.Email),
		validation.MaxLength("country", req.Country, 2),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	sl, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "registration_failed",
			"message": "Failed to create connected account",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"seller": sl})
}

// GetSeller handles GET /v1/sellers/:id
func (h *Handler) GetSeller(c *gin.Context) {
	sl, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"seller": sl})
}

// GetStatus handles GET /v1/sellers/:id/status
// Refreshes the cached account flags from the gateway before answering.
func (h *Handler) GetStatus(c *gin.Context) {
	sl, err := h.service.RefreshStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"seller_id":       sl.ID,
		"payment_capable": sl.PaymentCapable(),
		"reasons":         sl.EligibilityReasons(),
		"charges_enabled": sl.ChargesEnabled,
		"payouts_enabled": sl.PayoutsEnabled,
		"onboarded_at":    sl.OnboardedAt,
	})
}

// StartOnboarding handles POST /v1/sellers/:id/onboarding
func (h *Handler) StartOnboarding(c *gin.Context) {
	url, err := h.service.OnboardingLink(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"onboarding_url": url})
}

// GetDashboard handles GET /v1/sellers/:id/dashboard
func (h *Handler) GetDashboard(c *gin.Context) {
	url, err := h.service.DashboardLink(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dashboard_url": url})
}

// GetBalance handles GET /v1/sellers/:id/balance
func (h *Handler) GetBalance(c *gin.Context) {
	balance, err := h.service.GetBalance(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

func (h *Handler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrSellerNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Seller not found",
		})
	case errors.Is(err, ErrNoAccount):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "no_connected_account",
			"message": "Seller has no connected account",
		})
	default:
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "gateway_error",
			"message": err.Error(),
		})
	}
}
