package main

import (
	"context"
	"net/http"
	"time"

	"github.com/agentmesh/billing/internal/api"
	"github.com/agentmesh/billing/internal/api/cron"
	v1 "github.com/agentmesh/billing/internal/api/v1"
	"github.com/agentmesh/billing/internal/cache"
	"github.com/agentmesh/billing/internal/config"
	"github.com/agentmesh/billing/internal/integration/paymob"
	"github.com/agentmesh/billing/internal/logger"
	"github.com/agentmesh/billing/internal/metrics"
	"github.com/agentmesh/billing/internal/postgres"
	"github.com/agentmesh/billing/internal/pubsub"
	"github.com/agentmesh/billing/internal/pubsub/kafka"
	"github.com/agentmesh/billing/internal/pubsub/memory"
	pubsubRouter "github.com/agentmesh/billing/internal/pubsub/router"
	"github.com/agentmesh/billing/internal/pyroscope"
	"github.com/agentmesh/billing/internal/repository"
	"github.com/agentmesh/billing/internal/scheduler"
	"github.com/agentmesh/billing/internal/sentry"
	"github.com/agentmesh/billing/internal/service"
	"github.com/agentmesh/billing/internal/types"
	"github.com/agentmesh/billing/internal/validator"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"go.uber.org/fx"
)

// @title Billing API
// @version 1.0
// @description Usage metering, subscriptions and invoicing
// @BasePath /v1
// @schemes http https

func init() {
	// Set UTC timezone for the entire application
	time.Local = time.UTC
}

func main() {
	var opts []fx.Option

	// Core dependencies
	opts = append(opts,
		fx.Provide(
			// Validator
			validator.NewValidator,

			// Config
			config.NewConfig,

			// Logger
			logger.NewLogger,

			// Clock
			clockwork.NewRealClock,

			// Cache
			cache.NewInMemoryCache,

			// Gateway
			paymob.NewClient,

			// Repositories
			repository.NewUsageRepository,
			repository.NewPlanRepository,
			repository.NewSubscriptionRepository,
			repository.NewAgentSubscriptionRepository,
			repository.NewInvoiceRepository,
			repository.NewPaymentRepository,

			// PubSub
			providePubSub,
			pubsubRouter.NewRouter,
		),
		metrics.Module(),
		sentry.Module(),
		pyroscope.Module(),
		postgres.Module(),
	)

	// Service layer
	opts = append(opts,
		fx.Provide(
			service.NewServiceParams,

			service.NewUsageService,
			service.NewQuotaService,
			service.NewPlanService,
			service.NewSubscriptionService,
			service.NewInvoiceService,
			service.NewBillingService,
			service.NewPaymentLinkService,
			service.NewPaymentReconciliationService,

			scheduler.NewScheduler,
		),
	)

	// API
	opts = append(opts,
		fx.Provide(
			provideHandlers,
			api.NewRouter,
		),
		fx.Invoke(
			startServer,
		),
	)

	app := fx.New(opts...)
	app.Run()
}

func providePubSub(cfg *config.Configuration, log *logger.Logger) (pubsub.PubSub, error) {
	switch cfg.PubSub.Backend {
	case types.PubSubBackendKafka:
		return kafka.NewPubSub(cfg, log)
	default:
		return memory.NewPubSub(log), nil
	}
}

func provideHandlers(
	db *postgres.DB,
	logger *logger.Logger,
	usageService service.UsageService,
	quotaService service.QuotaService,
	planService service.PlanService,
	subscriptionService service.SubscriptionService,
	invoiceService service.InvoiceService,
	billingService service.BillingService,
	paymentLinkService service.PaymentLinkService,
	reconciliationService service.PaymentReconciliationService,
) api.Handlers {
	return api.Handlers{
		Health:       v1.NewHealthHandler(db, logger),
		Usage:        v1.NewUsageHandler(usageService, logger),
		Quota:        v1.NewQuotaHandler(quotaService, logger),
		Plan:         v1.NewPlanHandler(planService, logger),
		Subscription: v1.NewSubscriptionHandler(subscriptionService, logger),
		Invoice:      v1.NewInvoiceHandler(invoiceService, paymentLinkService, logger),
		Webhook:      v1.NewWebhookHandler(reconciliationService, logger),
		CronBilling:  cron.NewBillingHandler(billingService, paymentLinkService, logger),
	}
}

func startServer(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	r *gin.Engine,
	router *pubsubRouter.Router,
	sched *scheduler.Scheduler,
	paymentLinkService service.PaymentLinkService,
	m *metrics.Metrics,
	log *logger.Logger,
) {
	mode := cfg.Deployment.Mode
	if mode == "" {
		mode = types.ModeLocal
	}

	m.ServerStartTime.SetToCurrentTime()

	switch mode {
	case types.ModeLocal:
		startAPIServer(lc, r, cfg, log)
		startMessageRouter(lc, router, paymentLinkService, log)
		scheduler.RegisterHooks(lc, sched)
	case types.ModeAPI:
		startAPIServer(lc, r, cfg, log)
		startMessageRouter(lc, router, paymentLinkService, log)
	case types.ModeScheduler:
		startMessageRouter(lc, router, paymentLinkService, log)
		scheduler.RegisterHooks(lc, sched)
	default:
		log.Fatalf("Unknown deployment mode: %s", mode)
	}
}

func startAPIServer(
	lc fx.Lifecycle,
	r *gin.Engine,
	cfg *config.Configuration,
	log *logger.Logger,
) {
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting API server", "address", cfg.Server.Address)
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("Failed to start server: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down API server")
			return srv.Shutdown(ctx)
		},
	})
}

func startMessageRouter(
	lc fx.Lifecycle,
	router *pubsubRouter.Router,
	paymentLinkService service.PaymentLinkService,
	logger *logger.Logger,
) {
	// Register handlers before starting the router
	paymentLinkService.RegisterHandler(router)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting message router")
			go func() {
				if err := router.Run(); err != nil {
					logger.Errorw("message router failed", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping message router")
			return router.Close()
		},
	})
}
