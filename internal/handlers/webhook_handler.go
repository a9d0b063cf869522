package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	ierr "billing-service/internal/errors"
	"billing-service/internal/gateway"
	"billing-service/internal/services"
)

// WebhookHandler handles gateway callback HTTP requests
type WebhookHandler struct {
	service *services.WebhookService
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(service *services.WebhookService) *WebhookHandler {
	return &WebhookHandler{service: service}
}

// HandleGatewayWebhook handles POST /webhooks/:gateway. A 200 tells the
// gateway to stop redelivering; any other status invites a redelivery, so
// processing failures deliberately surface as server errors.
func (h *WebhookHandler) HandleGatewayWebhook(c *gin.Context) {
	gatewayID := c.Param("gateway")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, ierr.NewError("unreadable webhook body").
			WithHint("Failed to read request body").
			Mark(ierr.ErrValidation))
		return
	}
	if len(body) == 0 {
		respondError(c, ierr.NewError("empty webhook body").
			WithHint("Webhook body is required").
			Mark(ierr.ErrValidation))
		return
	}

	signature := gateway.ExtractSignature(gatewayID, c.Request.Header)

	outcome, err := h.service.Process(c.Request.Context(), gatewayID, body, signature)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"outcome":               outcome.Outcome,
		"gatewayTransactionRef": outcome.GatewayTransactionRef,
	})
}
