package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

// Label values shared by callers
const (
	ResultRecorded  = "recorded"
	ResultDuplicate = "duplicate"
	ResultSuccess   = "success"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"

	PhaseTrials        = "trials"
	PhaseRenewals      = "renewals"
	PhaseCancellations = "cancellations"

	OutcomePaid             = "paid"
	OutcomeFailed           = "failed"
	OutcomeRefunded         = "refunded"
	OutcomeAlreadyProcessed = "already_processed"
	OutcomeInvalidSignature = "invalid_signature"
	OutcomeRejected         = "rejected"
	OutcomePending          = "pending"
	OutcomeAmountMismatch   = "amount_mismatch"
)

// Metrics holds all Prometheus collectors for the billing core.
type Metrics struct {
	registry *prometheus.Registry

	UsageEventsTotal *prometheus.CounterVec

	BillingCycleSubscriptionsTotal *prometheus.CounterVec
	BillingCycleDuration           prometheus.Histogram

	WebhooksTotal     *prometheus.CounterVec
	PaymentLinksTotal *prometheus.CounterVec

	// 0 closed, 1 half-open, 2 open
	GatewayBreakerState prometheus.Gauge

	ServerStartTime prometheus.Gauge
}

// Module provides the metrics registry to fx
func Module() fx.Option {
	return fx.Module("metrics", fx.Provide(New))
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		UsageEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_usage_events_total",
			Help: "Usage events received, by result.",
		}, []string{"result"}),

		BillingCycleSubscriptionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_cycle_subscriptions_total",
			Help: "Subscriptions handled by the billing cycle, by phase and result.",
		}, []string{"phase", "result"}),

		BillingCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "billing_cycle_duration_seconds",
			Help:    "Duration of a full billing cycle run.",
			Buckets: prometheus.ExponentialBuckets(0.05, 4, 8),
		}),

		WebhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_webhooks_total",
			Help: "Gateway webhooks processed, by outcome.",
		}, []string{"outcome"}),

		PaymentLinksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_payment_links_total",
			Help: "Payment link generation attempts, by result.",
		}, []string{"result"}),

		GatewayBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "billing_gateway_breaker_state",
			Help: "Payment gateway circuit breaker state (0 closed, 1 half-open, 2 open).",
		}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "billing_server_start_time_seconds",
			Help: "Unix timestamp when the process started.",
		}),
	}

	reg.MustRegister(
		m.UsageEventsTotal,
		m.BillingCycleSubscriptionsTotal,
		m.BillingCycleDuration,
		m.WebhooksTotal,
		m.PaymentLinksTotal,
		m.GatewayBreakerState,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) IncUsageEvent(result string) {
	m.UsageEventsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncBillingCycle(phase, result string) {
	m.BillingCycleSubscriptionsTotal.WithLabelValues(phase, result).Inc()
}

func (m *Metrics) ObserveBillingCycle(d time.Duration) {
	m.BillingCycleDuration.Observe(d.Seconds())
}

func (m *Metrics) IncWebhook(outcome string) {
	m.WebhooksTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncPaymentLink(result string) {
	m.PaymentLinksTotal.WithLabelValues(result).Inc()
}

// SetBreakerState records the gateway breaker state as reported by gobreaker
func (m *Metrics) SetBreakerState(state int) {
	m.GatewayBreakerState.Set(float64(state))
}
