package api

import (
	"github.com/agentmesh/billing/internal/api/cron"
	v1 "github.com/agentmesh/billing/internal/api/v1"
	"github.com/agentmesh/billing/internal/config"
	"github.com/agentmesh/billing/internal/logger"
	"github.com/agentmesh/billing/internal/metrics"
	"github.com/agentmesh/billing/internal/pyroscope"
	"github.com/agentmesh/billing/internal/rest/middleware"
	"github.com/agentmesh/billing/internal/types"
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Health       *v1.HealthHandler
	Usage        *v1.UsageHandler
	Quota        *v1.QuotaHandler
	Plan         *v1.PlanHandler
	Subscription *v1.SubscriptionHandler
	Invoice      *v1.InvoiceHandler
	Webhook      *v1.WebhookHandler
	CronBilling  *cron.BillingHandler
}

func NewRouter(
	handlers Handlers,
	cfg *config.Configuration,
	logger *logger.Logger,
	m *metrics.Metrics,
	profiler *pyroscope.Service,
) *gin.Engine {
	if cfg.Deployment.Mode != types.ModeLocal {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware,
		middleware.SentryMiddleware(cfg),
		middleware.PyroscopeMiddleware(profiler),
		middleware.ErrorHandler(logger),
	)

	router.GET("/health", handlers.Health.Health)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	public := router.Group("/v1")
	{
		// gateway callbacks carry no tenant; the invoice names it
		webhooks := public.Group("/webhooks")
		webhooks.POST("/paymob", handlers.Webhook.HandlePaymobWebhook)

		plans := public.Group("/plans")
		plans.GET("", handlers.Plan.ListPlans)
		plans.GET("/:id", handlers.Plan.GetPlan)
	}

	tenant := router.Group("/v1")
	tenant.Use(middleware.TenantMiddleware, middleware.SentryScopeMiddleware)
	{
		usage := tenant.Group("/usage")
		{
			usage.POST("", handlers.Usage.RecordUsage)
			usage.GET("/summary", handlers.Usage.GetSummary)
			usage.GET("/trend", handlers.Usage.GetTrend)
		}

		quota := tenant.Group("/quota")
		{
			quota.GET("/check", handlers.Quota.CheckQuota)
			quota.POST("/enforce", handlers.Quota.EnforceQuota)
		}

		subscriptions := tenant.Group("/subscriptions")
		{
			subscriptions.POST("", handlers.Subscription.CreateSubscription)
			subscriptions.GET("/active", handlers.Subscription.GetActiveSubscription)
			subscriptions.GET("/:id", handlers.Subscription.GetSubscription)
			subscriptions.POST("/:id/cancel", handlers.Subscription.CancelSubscription)
			subscriptions.POST("/:id/reactivate", handlers.Subscription.ReactivateSubscription)
		}

		invoices := tenant.Group("/invoices")
		{
			invoices.GET("", handlers.Invoice.ListInvoices)
			invoices.GET("/:id", handlers.Invoice.GetInvoice)
			invoices.POST("/:id/line-items", handlers.Invoice.AddLineItem)
			invoices.POST("/:id/recalculate", handlers.Invoice.RecalculateInvoice)
			invoices.POST("/:id/payment-link", handlers.Invoice.RequestPaymentLink)
		}
	}

	cronGroup := router.Group("/v1/cron")
	cronGroup.Use(middleware.SystemMiddleware)
	{
		cronGroup.POST("/billing/run", handlers.CronBilling.RunBillingCycle)
		cronGroup.POST("/payment-links/retry", handlers.CronBilling.RetryPaymentLinks)
	}

	return router
}
