package service

import (
	"time"

	"github.com/agentmesh/billing/internal/cache"
	"github.com/agentmesh/billing/internal/config"
	"github.com/agentmesh/billing/internal/domain/invoice"
	"github.com/agentmesh/billing/internal/domain/payment"
	"github.com/agentmesh/billing/internal/domain/plan"
	"github.com/agentmesh/billing/internal/domain/subscription"
	"github.com/agentmesh/billing/internal/domain/usage"
	"github.com/agentmesh/billing/internal/idempotency"
	"github.com/agentmesh/billing/internal/integration/paymob"
	"github.com/agentmesh/billing/internal/logger"
	"github.com/agentmesh/billing/internal/metrics"
	"github.com/agentmesh/billing/internal/postgres"
	"github.com/agentmesh/billing/internal/pubsub"
	"github.com/agentmesh/billing/internal/sentry"
	"github.com/jonboulle/clockwork"
)

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration
	DB     postgres.IClient
	Clock  clockwork.Clock

	// Repositories
	UsageRepo    usage.Repository
	PlanRepo     plan.Repository
	SubRepo      subscription.Repository
	AgentSubRepo subscription.AgentSubscriptionRepository
	InvoiceRepo  invoice.Repository
	PaymentRepo  payment.Repository

	Sentry      *sentry.Service
	Metrics     *metrics.Metrics
	PubSub      pubsub.PubSub
	Paymob      paymob.Client
	Cache       cache.Cache
	Idempotency *idempotency.Generator
}

// NewServiceParams creates a new ServiceParams instance
func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	db postgres.IClient,
	clock clockwork.Clock,
	usageRepo usage.Repository,
	planRepo plan.Repository,
	subRepo subscription.Repository,
	agentSubRepo subscription.AgentSubscriptionRepository,
	invoiceRepo invoice.Repository,
	paymentRepo payment.Repository,
	sentry *sentry.Service,
	metrics *metrics.Metrics,
	pubSub pubsub.PubSub,
	paymobClient paymob.Client,
	cache cache.Cache,
) ServiceParams {
	return ServiceParams{
		Logger:       logger,
		Config:       config,
		DB:           db,
		Clock:        clock,
		UsageRepo:    usageRepo,
		PlanRepo:     planRepo,
		SubRepo:      subRepo,
		AgentSubRepo: agentSubRepo,
		InvoiceRepo:  invoiceRepo,
		PaymentRepo:  paymentRepo,
		Sentry:       sentry,
		Metrics:      metrics,
		PubSub:       pubSub,
		Paymob:       paymobClient,
		Cache:        cache,
		Idempotency:  idempotency.NewGenerator(),
	}
}

// now is the service clock in UTC
func (p ServiceParams) now() time.Time {
	return p.Clock.Now().UTC()
}
