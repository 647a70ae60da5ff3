package cron

import (
	"net/http"

	"github.com/agentmesh/billing/internal/logger"
	"github.com/agentmesh/billing/internal/service"
	"github.com/gin-gonic/gin"
)

// BillingHandler triggers scheduler jobs on demand
type BillingHandler struct {
	billingService     service.BillingService
	paymentLinkService service.PaymentLinkService
	logger             *logger.Logger
}

func NewBillingHandler(
	billingService service.BillingService,
	paymentLinkService service.PaymentLinkService,
	logger *logger.Logger,
) *BillingHandler {
	return &BillingHandler{
		billingService:     billingService,
		paymentLinkService: paymentLinkService,
		logger:             logger,
	}
}

// @Summary Run billing cycle
// @Description Process due trials, renewals and deferred cancellations. Safe to call repeatedly.
// @Tags Cron
// @Produce json
// @Success 200 {object} dto.BillingCycleResponse
// @Router /cron/billing/run [post]
func (h *BillingHandler) RunBillingCycle(c *gin.Context) {
	h.logger.Infow("billing cycle triggered over http")

	resp, err := h.billingService.RunBillingCycle(c.Request.Context())
	if err != nil {
		h.logger.Errorw("billing cycle failed", "error", err)
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// @Summary Retry payment links
// @Description Requeue link generation for payable invoices whose link failed
// @Tags Cron
// @Produce json
// @Success 200 {object} dto.PaymentLinkRetryResponse
// @Router /cron/payment-links/retry [post]
func (h *BillingHandler) RetryPaymentLinks(c *gin.Context) {
	resp, err := h.paymentLinkService.RetryFailedLinks(c.Request.Context())
	if err != nil {
		h.logger.Errorw("payment link retry failed", "error", err)
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
