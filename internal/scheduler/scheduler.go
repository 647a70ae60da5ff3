package scheduler

import (
	"context"
	"time"

	"github.com/agentmesh/billing/internal/config"
	"github.com/agentmesh/billing/internal/logger"
	"github.com/agentmesh/billing/internal/sentry"
	"github.com/agentmesh/billing/internal/service"
	"github.com/agentmesh/billing/internal/types"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
)

// jobTimeout bounds a single scheduled run
const jobTimeout = 30 * time.Minute

// Scheduler runs the billing cycle and the payment link retry sweep on their
// configured cron schedules. Runs of the same job never overlap in one process;
// overlapping processes are safe because every transition is idempotent.
type Scheduler struct {
	cron               *cron.Cron
	cfg                *config.Configuration
	logger             *logger.Logger
	sentry             *sentry.Service
	billingService     service.BillingService
	paymentLinkService service.PaymentLinkService
}

func NewScheduler(
	cfg *config.Configuration,
	logger *logger.Logger,
	sentry *sentry.Service,
	billingService service.BillingService,
	paymentLinkService service.PaymentLinkService,
) (*Scheduler, error) {
	cl := &cronLogger{logger: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		cfg:                cfg,
		logger:             logger,
		sentry:             sentry,
		billingService:     billingService,
		paymentLinkService: paymentLinkService,
	}

	if _, err := s.cron.AddFunc(cfg.Billing.Schedule, s.runBillingCycle); err != nil {
		return nil, err
	}
	if cfg.Billing.PaymentLinkSchedule != "" {
		if _, err := s.cron.AddFunc(cfg.Billing.PaymentLinkSchedule, s.retryPaymentLinks); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// RegisterHooks starts the scheduler with the app and waits for running jobs on stop
func RegisterHooks(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.logger.Infow("starting billing scheduler",
				"billing_schedule", s.cfg.Billing.Schedule,
				"payment_link_schedule", s.cfg.Billing.PaymentLinkSchedule,
			)
			s.cron.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.logger.Info("stopping billing scheduler")
			done := s.cron.Stop()
			select {
			case <-done.Done():
			case <-ctx.Done():
				s.logger.Warn("billing scheduler stopped before running jobs finished")
			}
			return nil
		},
	})
}

// jobContext is the context of one scheduled run: no tenant, system user
func (s *Scheduler) jobContext() (context.Context, context.CancelFunc) {
	ctx := types.SetUserID(context.Background(), types.SystemUserID)
	return context.WithTimeout(ctx, jobTimeout)
}

func (s *Scheduler) runBillingCycle() {
	ctx, cancel := s.jobContext()
	defer cancel()

	resp, err := s.billingService.RunBillingCycle(ctx)
	if err != nil {
		s.logger.Errorw("scheduled billing cycle failed", "error", err)
		s.sentry.CaptureException(err)
		return
	}
	s.logger.Infow("scheduled billing cycle finished",
		"trials", resp.Trials,
		"renewals", resp.Renewals,
		"cancellations", resp.Cancellations,
	)
}

func (s *Scheduler) retryPaymentLinks() {
	ctx, cancel := s.jobContext()
	defer cancel()

	resp, err := s.paymentLinkService.RetryFailedLinks(ctx)
	if err != nil {
		s.logger.Errorw("scheduled payment link retry failed", "error", err)
		s.sentry.CaptureException(err)
		return
	}
	if resp.Requeued > 0 {
		s.logger.Infow("requeued failed payment links", "count", resp.Requeued)
	}
}

// Entries reports the registered jobs
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

type cronLogger struct {
	logger *logger.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw("cron: "+msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
