package v1

import (
	"net/http"
	"strconv"

	"github.com/agentmesh/billing/internal/api/dto"
	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/logger"
	"github.com/agentmesh/billing/internal/service"
	"github.com/agentmesh/billing/internal/types"
	"github.com/gin-gonic/gin"
)

const defaultTrendDays = 30

type UsageHandler struct {
	service service.UsageService
	log     *logger.Logger
}

func NewUsageHandler(service service.UsageService, log *logger.Logger) *UsageHandler {
	return &UsageHandler{
		service: service,
		log:     log,
	}
}

// @Summary Record usage
// @Description Record one agent execution. Replaying an execution id is a no-op.
// @Tags Usage
// @Accept json
// @Produce json
// @Param request body dto.RecordUsageRequest true "Execution"
// @Success 201 {object} dto.UsageEventResponse
// @Success 200 {object} dto.UsageEventResponse "Execution already recorded"
// @Failure 400 {object} ierr.ErrorResponse
// @Router /usage [post]
func (h *UsageHandler) RecordUsage(c *gin.Context) {
	var req dto.RecordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.RecordUsage(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

// @Summary Usage summary
// @Description Aggregate usage of the tenant over [start, end)
// @Tags Usage
// @Produce json
// @Param start query string true "RFC3339 start"
// @Param end query string true "RFC3339 end"
// @Success 200 {object} dto.UsageSummaryResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /usage/summary [get]
func (h *UsageHandler) GetSummary(c *gin.Context) {
	var req dto.UsageSummaryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("start and end must be RFC3339 timestamps").
			Mark(ierr.ErrValidation))
		return
	}
	if err := req.Validate(); err != nil {
		c.Error(err)
		return
	}

	ctx := c.Request.Context()
	resp, err := h.service.Summary(ctx, types.GetTenantID(ctx), req.Start, req.End)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// @Summary Daily usage trend
// @Tags Usage
// @Produce json
// @Param days query int false "Number of days, default 30"
// @Success 200 {object} dto.UsageTrendResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /usage/trend [get]
func (h *UsageHandler) GetTrend(c *gin.Context) {
	days := defaultTrendDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.Error(ierr.WithError(err).
				WithHint("days must be a number").
				Mark(ierr.ErrValidation))
			return
		}
		days = n
	}

	ctx := c.Request.Context()
	resp, err := h.service.DailyTrend(ctx, types.GetTenantID(ctx), days)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
