package listing

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/stubcollector/stubmarket/internal/validation"
)

// Handler provides HTTP endpoints for listing operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new listing handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) listing routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/listings", h.ListListings)
	r.GET("/listings/:id", h.GetListing)
}

// RegisterProtectedRoutes sets up seller-facing listing routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/listings", h.CreateListing)
	r.DELETE("/listings/:id", h.RemoveListing)
}

// CreateListing handles POST /v1/listings
func (h *Handler) CreateListing(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	req.Title = validation.SanitizeString(req.Title, 200)
	req.Description = validation.SanitizeString(req.Description, 2000)
	req.EventName = validation.SanitizeString(req.EventName, 200)

	if errs := validation.Validate(
		validation.Required("seller_id", req.SellerID),
		validation.ValidResourceID("seller_id", req.SellerID),
		validation.Required("title", req.Title),
		validation.Required("event_name", req.EventName),
		validation.ValidAmountCents("price_cents", req.PriceCents),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	l, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "create_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"listing": l})
}

// GetListing handles GET /v1/listings/:id
func (h *Handler) GetListing(c *gin.Context) {
	l, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrListingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Listing not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"listing": l})
}

// ListListings handles GET /v1/listings
func (h *Handler) ListListings(c *gin.Context) {
	filter := Filter{
		SellerID: c.Query("seller_id"),
		Event:    c.Query("event"),
	}
	if status := c.Query("status"); status != "" {
		filter.Status = Status(status)
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed > 0 {
			offset = parsed
		}
	}

	listings, err := h.service.List(c.Request.Context(), filter, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"listings": listings,
		"count":    len(listings),
	})
}

// RemoveListing handles DELETE /v1/listings/:id
func (h *Handler) RemoveListing(c *gin.Context) {
	sellerID := c.GetHeader("X-User-ID")
	if sellerID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "X-User-ID header required",
		})
		return
	}

	err := h.service.Remove(c.Request.Context(), c.Param("id"), sellerID)
	if err != nil {
		switch {
		case errors.Is(err, ErrListingNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Listing not found",
			})
		case errors.Is(err, ErrNotAvailable):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "listing_busy",
				"message": "Listing is reserved or sold and cannot be removed",
			})
		default:
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "remove_failed",
				"message": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"removed": true})
}
