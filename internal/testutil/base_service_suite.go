package testutil

import (
	"context"
	"time"

	"github.com/agentmesh/billing/internal/cache"
	"github.com/agentmesh/billing/internal/config"
	"github.com/agentmesh/billing/internal/domain/invoice"
	"github.com/agentmesh/billing/internal/domain/payment"
	"github.com/agentmesh/billing/internal/domain/plan"
	"github.com/agentmesh/billing/internal/domain/subscription"
	"github.com/agentmesh/billing/internal/domain/usage"
	"github.com/agentmesh/billing/internal/logger"
	"github.com/agentmesh/billing/internal/metrics"
	"github.com/agentmesh/billing/internal/sentry"
	"github.com/agentmesh/billing/internal/types"
	"github.com/agentmesh/billing/internal/validator"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

// TestHMACSecret signs gateway callbacks in tests
const TestHMACSecret = "test-hmac-secret"

// Stores holds all the repository interfaces for testing
type Stores struct {
	UsageRepo             usage.Repository
	PlanRepo              plan.Repository
	SubscriptionRepo      subscription.Repository
	AgentSubscriptionRepo subscription.AgentSubscriptionRepository
	InvoiceRepo           invoice.Repository
	PaymentRepo           payment.Repository
}

// BaseServiceTestSuite provides common functionality for all service test suites
type BaseServiceTestSuite struct {
	suite.Suite
	ctx     context.Context
	stores  Stores
	db      *MockPostgresClient
	logger  *logger.Logger
	config  *config.Configuration
	clock   *clockwork.FakeClock
	metrics *metrics.Metrics
	pubsub  *InMemoryPubSub
	paymob  *MockPaymobClient
	cache   cache.Cache
	sentry  *sentry.Service
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	validator.NewValidator()

	cfg := config.GetDefaultConfig()
	cfg.Logging.Level = types.LogLevelInfo
	cfg.Paymob.HMACSecret = TestHMACSecret
	cfg.Paymob.Timeout = time.Second

	var err error
	s.config = cfg
	s.logger, err = logger.NewLogger(cfg)
	if err != nil {
		s.T().Fatalf("failed to create logger: %v", err)
	}
	s.sentry = sentry.NewSentryService(cfg, s.logger)
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.ctx = SetupContext()
	s.clock = clockwork.NewFakeClockAt(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	s.setupStores()
}

// TearDownTest is called after each test
func (s *BaseServiceTestSuite) TearDownTest() {
	s.clearStores()
	if s.pubsub != nil {
		_ = s.pubsub.Close()
	}
}

func (s *BaseServiceTestSuite) setupStores() {
	s.stores = Stores{
		UsageRepo:             NewInMemoryUsageStore(),
		PlanRepo:              NewInMemoryPlanStore(),
		SubscriptionRepo:      NewInMemorySubscriptionStore(),
		AgentSubscriptionRepo: NewInMemoryAgentSubscriptionStore(),
		InvoiceRepo:           NewInMemoryInvoiceStore(),
		PaymentRepo:           NewInMemoryPaymentStore(),
	}

	s.db = NewMockPostgresClient(s.logger)
	s.metrics = metrics.New()
	s.pubsub = NewInMemoryPubSub()
	s.paymob = NewMockPaymobClient(TestHMACSecret)
	s.cache = cache.NewInMemoryCache(s.config, s.logger)
}

func (s *BaseServiceTestSuite) clearStores() {
	s.stores.UsageRepo.(*InMemoryUsageStore).Clear()
	s.stores.PlanRepo.(*InMemoryPlanStore).Clear()
	s.stores.SubscriptionRepo.(*InMemorySubscriptionStore).Clear()
	s.stores.AgentSubscriptionRepo.(*InMemoryAgentSubscriptionStore).Clear()
	s.stores.InvoiceRepo.(*InMemoryInvoiceStore).Clear()
	s.stores.PaymentRepo.(*InMemoryPaymentStore).Clear()
}

func (s *BaseServiceTestSuite) ClearStores() {
	s.clearStores()
}

// GetContext returns the test context
func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

// GetConfig returns the test configuration
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

// GetStores returns all test repositories
func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

// GetDB returns the test database client
func (s *BaseServiceTestSuite) GetDB() *MockPostgresClient {
	return s.db
}

// GetLogger returns the test logger
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

// GetClock returns the fake clock driving the services
func (s *BaseServiceTestSuite) GetClock() *clockwork.FakeClock {
	return s.clock
}

// GetNow returns the current test time
func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.clock.Now().UTC()
}

func (s *BaseServiceTestSuite) GetMetrics() *metrics.Metrics {
	return s.metrics
}

func (s *BaseServiceTestSuite) GetPubSub() *InMemoryPubSub {
	return s.pubsub
}

func (s *BaseServiceTestSuite) GetPaymob() *MockPaymobClient {
	return s.paymob
}

func (s *BaseServiceTestSuite) GetCache() cache.Cache {
	return s.cache
}

func (s *BaseServiceTestSuite) GetSentry() *sentry.Service {
	return s.sentry
}

// GetUUID returns a new UUID string
func (s *BaseServiceTestSuite) GetUUID() string {
	return types.GenerateUUID()
}

// PlanFixture describes a catalog plan for CreatePlan
type PlanFixture struct {
	Name               string
	BillingCycle       types.BillingCycle
	FinalPrice         string
	IncludedExecutions int64
	OveragePrice       string
	TrialDays          int
}

// CreatePlan stores a published plan. An empty OveragePrice forbids overage.
func (s *BaseServiceTestSuite) CreatePlan(f PlanFixture) *plan.Plan {
	if f.BillingCycle == "" {
		f.BillingCycle = types.BillingCycleMonthly
	}
	if f.Name == "" {
		f.Name = "plan " + string(f.BillingCycle)
	}
	price := decimal.RequireFromString(f.FinalPrice)

	p := &plan.Plan{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN),
		Name:               f.Name,
		BillingCycle:       f.BillingCycle,
		BasePrice:          price,
		FinalPrice:         price,
		Currency:           s.config.Paymob.Currency,
		IncludedExecutions: f.IncludedExecutions,
		MaxAgentSlots:      5,
		AgentLimits:        plan.AgentLimits{"standard": 5},
		TrialDays:          f.TrialDays,
		BaseModel:          types.GetDefaultBaseModel(s.ctx, s.GetNow()),
	}
	if f.OveragePrice != "" {
		p.OveragePricePerExecution = decimal.NewNullDecimal(decimal.RequireFromString(f.OveragePrice))
	}
	s.Require().NoError(s.stores.PlanRepo.Create(s.ctx, p))
	return p
}
