package webhook

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stubcollector/stubmarket/internal/logging"
	"github.com/stubcollector/stubmarket/internal/metrics"
	"github.com/stubcollector/stubmarket/internal/security"
)

// maxPayloadBytes bounds webhook bodies; Stripe events are well under this.
const maxPayloadBytes = 256 * 1024

// Handler exposes the webhook ingestion endpoint.
type Handler struct {
	processor *Processor
	allowlist *security.IPAllowlist
}

// NewHandler creates a webhook handler. A nil or empty allowlist admits
// any source address.
func NewHandler(processor *Processor, allowlist *security.IPAllowlist) *Handler {
	return &Handler{processor: processor, allowlist: allowlist}
}

// RegisterRoutes sets up the gateway callback route.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/stripe", h.Receive)
}

// Receive handles POST /v1/webhooks/stripe
func (h *Handler) Receive(c *gin.Context) {
	log := logging.L(c.Request.Context())

	if h.allowlist != nil && !h.allowlist.Empty() && !h.allowlist.Contains(c.Request.RemoteAddr) {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "rejected_ip").Inc()
		log.Warn("webhook from disallowed source", "remote_addr", c.Request.RemoteAddr)
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Source address not allowed",
		})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Failed to read request body",
		})
		return
	}

	err = h.processor.Process(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, ErrBadSignature):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_signature",
			"message": "Webhook signature verification failed",
		})
	case errors.Is(err, ErrStaleEvent):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "stale_event",
			"message": "Event timestamp outside tolerance",
		})
	default:
		// Non-2xx so the gateway redelivers.
		log.Error("webhook processing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "processing_failed",
			"message": "Event could not be applied",
		})
	}
}
