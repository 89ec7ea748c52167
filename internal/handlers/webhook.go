// internal/handlers/webhook.go
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/serialkey-backend/internal/i18n"
	"github.com/javajoker/serialkey-backend/internal/services"
	"github.com/javajoker/serialkey-backend/internal/utils"
)

// Stripe caps event payloads well below this.
const maxWebhookBody = 1 << 16

type WebhookHandler struct {
	webhookService *services.WebhookService
}

func NewWebhookHandler(webhookService *services.WebhookService) *WebhookHandler {
	return &WebhookHandler{
		webhookService: webhookService,
	}
}

// POST /webhooks/stripe
func (h *WebhookHandler) Stripe(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "payload"), nil)
		return
	}

	result, err := h.webhookService.HandleStripeWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidSignature):
			logrus.WithError(err).Warn("Rejected webhook with invalid signature")
			utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyWebhookInvalidSignature), nil)
		case errors.Is(err, services.ErrInvalidRequest):
			utils.BadRequestResponse(c, "", nil)
		case errors.Is(err, services.ErrProductNotFound):
			utils.UnprocessableResponse(c, i18n.T(lang, i18n.KeyProductNotFound))
		case errors.Is(err, services.ErrOutOfStock):
			utils.UnprocessableResponse(c, i18n.T(lang, i18n.KeyProductOutOfStock))
		default:
			logrus.WithError(err).Error("Webhook processing failed")
			utils.InternalErrorResponse(c, "")
		}
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyWebhookProcessed),
		"result":  result,
	})
}
