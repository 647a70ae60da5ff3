package v1

import (
	"io"
	"net/http"

	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/logger"
	"github.com/agentmesh/billing/internal/service"
	"github.com/gin-gonic/gin"
)

// maxWebhookBody bounds the callback payload read into memory
const maxWebhookBody = 1 << 20

// WebhookHandler receives payment gateway callbacks
type WebhookHandler struct {
	reconciliation service.PaymentReconciliationService
	logger         *logger.Logger
}

func NewWebhookHandler(reconciliation service.PaymentReconciliationService, logger *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciliation: reconciliation,
		logger:         logger,
	}
}

// @Summary Paymob transaction callback
// @Description Processed callback. The hmac query parameter signs the transaction fields.
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param hmac query string true "HMAC-SHA512 signature"
// @Success 200 {object} dto.WebhookResult
// @Failure 400 {object} ierr.ErrorResponse "Invalid signature or payload"
// @Failure 404 {object} ierr.ErrorResponse "Unknown invoice"
// @Router /webhooks/paymob [post]
func (h *WebhookHandler) HandlePaymobWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.Errorw("failed to read webhook body", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Failed to read request body").
			Mark(ierr.ErrValidation))
		return
	}

	// an empty signature fails verification like a wrong one
	resp, err := h.reconciliation.HandleWebhook(c.Request.Context(), body, c.Query("hmac"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
