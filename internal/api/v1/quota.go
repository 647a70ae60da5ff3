package v1

import (
	"net/http"

	"github.com/agentmesh/billing/internal/logger"
	"github.com/agentmesh/billing/internal/service"
	"github.com/agentmesh/billing/internal/types"
	"github.com/gin-gonic/gin"
)

type QuotaHandler struct {
	service service.QuotaService
	log     *logger.Logger
}

func NewQuotaHandler(service service.QuotaService, log *logger.Logger) *QuotaHandler {
	return &QuotaHandler{
		service: service,
		log:     log,
	}
}

// @Summary Check quota
// @Description Whether the tenant may run one more execution
// @Tags Quota
// @Produce json
// @Success 200 {object} dto.QuotaCheckResponse
// @Failure 404 {object} ierr.ErrorResponse "No live subscription"
// @Router /quota/check [get]
func (h *QuotaHandler) CheckQuota(c *gin.Context) {
	ctx := c.Request.Context()
	resp, err := h.service.CheckQuota(ctx, types.GetTenantID(ctx))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// @Summary Enforce quota
// @Description Fails with 402 when the tenant may not run another execution
// @Tags Quota
// @Success 204
// @Failure 402 {object} ierr.ErrorResponse "Quota exhausted and overage not allowed"
// @Failure 404 {object} ierr.ErrorResponse "No live subscription"
// @Router /quota/enforce [post]
func (h *QuotaHandler) EnforceQuota(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.service.EnforceQuota(ctx, types.GetTenantID(ctx)); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
