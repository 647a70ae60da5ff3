package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/agentmesh/billing/internal/domain/invoice"
	"github.com/agentmesh/billing/internal/domain/payment"
	"github.com/agentmesh/billing/internal/domain/subscription"
	"github.com/agentmesh/billing/internal/domain/usage"
	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/logger"
	"github.com/agentmesh/billing/internal/postgres"
	"github.com/agentmesh/billing/internal/types"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type RepositorySuite struct {
	suite.Suite
	ctx  context.Context
	mock sqlmock.Sqlmock
	db   *postgres.DB
	now  time.Time
}

func TestRepositorySuite(t *testing.T) {
	suite.Run(t, new(RepositorySuite))
}

func (s *RepositorySuite) SetupTest() {
	raw, mock, err := sqlmock.New()
	s.Require().NoError(err)

	s.mock = mock
	s.db = postgres.NewFromSQLX(sqlx.NewDb(raw, "postgres"), logger.NewNopLogger())
	s.ctx = types.SetTenantID(context.Background(), "tenant_a")
	s.now = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
}

func (s *RepositorySuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
	s.db.Close()
}

func (s *RepositorySuite) TestUsageInsertIfAbsent() {
	repo := NewUsageRepository(s.db, logger.NewNopLogger())
	event := &usage.UsageEvent{
		ID:                "usage_1",
		AgentID:           "agent_1",
		ExecutionID:       "exec_1",
		Cost:              decimal.RequireFromString("0.01"),
		ChargedAmount:     decimal.RequireFromString("0.02"),
		OccurredAt:        s.now,
		BillingCycleMonth: types.FirstOfMonth(s.now),
		BaseModel:         types.GetDefaultBaseModel(s.ctx, s.now),
	}

	insert := regexp.QuoteMeta("ON CONFLICT ON CONSTRAINT usage_events_tenant_execution_key DO NOTHING")

	s.mock.ExpectQuery(insert).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("usage_1"))
	inserted, err := repo.InsertIfAbsent(s.ctx, event)
	s.NoError(err)
	s.True(inserted)

	s.mock.ExpectQuery(insert).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	inserted, err = repo.InsertIfAbsent(s.ctx, event)
	s.NoError(err)
	s.False(inserted)
}

func (s *RepositorySuite) TestSubscriptionCreateMapsLiveIndexToConflict() {
	repo := NewSubscriptionRepository(s.db, logger.NewNopLogger())

	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO subscriptions")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "subscriptions_tenant_live_idx"})

	err := repo.Create(s.ctx, &subscription.Subscription{ID: "subs_1", BaseModel: types.BaseModel{TenantID: "tenant_a"}})
	s.True(ierr.IsAlreadyExists(err))
}

func (s *RepositorySuite) TestSubscriptionUpdateChecksVersion() {
	repo := NewSubscriptionRepository(s.db, logger.NewNopLogger())
	sub := &subscription.Subscription{ID: "subs_1", Version: 3, BaseModel: types.BaseModel{TenantID: "tenant_a"}}

	update := regexp.QuoteMeta("WHERE id = $12 AND tenant_id = $13 AND version = $14")

	s.mock.ExpectExec(update).WillReturnResult(sqlmock.NewResult(0, 1))
	s.NoError(repo.Update(s.ctx, sub))
	s.Equal(4, sub.Version)

	s.mock.ExpectExec(update).WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Update(s.ctx, sub)
	s.True(ierr.IsVersionConflict(err))
	s.Equal(4, sub.Version)
}

func (s *RepositorySuite) TestIncrementExecutionsUsedTouchesOneRow() {
	repo := NewSubscriptionRepository(s.db, logger.NewNopLogger())

	s.mock.ExpectExec(regexp.QuoteMeta("ORDER BY subscription_status = ANY($3) DESC, current_period_start DESC, id DESC")).
		WithArgs("tenant_a", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := repo.IncrementExecutionsUsed(s.ctx, "tenant_a")
	s.NoError(err)
	s.Equal(int64(1), n)
}

func (s *RepositorySuite) TestSubscriptionListBuildsDueFilter() {
	repo := NewSubscriptionRepository(s.db, logger.NewNopLogger())

	filter := types.NewSubscriptionFilter()
	filter.Limit = lo.ToPtr(100)
	filter.Sort = lo.ToPtr("id")
	filter.Order = lo.ToPtr(types.OrderAsc)
	filter.SubscriptionStatus = []types.SubscriptionStatus{types.SubscriptionStatusTrialing}
	filter.TrialEndedBy = lo.ToPtr(s.now)
	filter.AfterID = "subs_0"

	s.mock.ExpectQuery(regexp.QuoteMeta("trial_ends_at <= $3 AND id > $4 ORDER BY id ASC, id ASC LIMIT $5")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "subscription_status"}).
			AddRow("subs_1", "tenant_a", "trialing"))

	subs, err := repo.List(s.ctx, filter)
	s.NoError(err)
	s.Len(subs, 1)
	s.Equal(types.SubscriptionStatusTrialing, subs[0].SubscriptionStatus)
}

func (s *RepositorySuite) TestGetMissingSubscriptionIsNotFound() {
	repo := NewSubscriptionRepository(s.db, logger.NewNopLogger())

	s.mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetForUpdate(s.ctx, "subs_missing")
	s.True(ierr.IsNotFound(err))
}

func (s *RepositorySuite) TestGetNextInvoiceNumber() {
	repo := NewInvoiceRepository(s.db, logger.NewNopLogger())

	s.mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO invoice_sequences")).
		WithArgs("20240115").
		WillReturnRows(sqlmock.NewRows([]string{"last_value"}).AddRow(7))

	number, err := repo.GetNextInvoiceNumber(s.ctx, s.now)
	s.NoError(err)
	s.Equal("INV-20240115-00007", number)
}

func (s *RepositorySuite) TestInvoiceCreateWritesLinesInOneTransaction() {
	repo := NewInvoiceRepository(s.db, logger.NewNopLogger())
	inv := &invoice.Invoice{
		ID:             "inv_1",
		SubscriptionID: "subs_1",
		InvoiceNumber:  "INV-20240115-00001",
		InvoiceStatus:  types.InvoiceStatusPending,
		LineItems: []*invoice.LineItem{
			{ID: "inv_line_1", InvoiceID: "inv_1", ItemType: types.InvoiceLineItemTypeBasePlan},
			{ID: "inv_line_2", InvoiceID: "inv_1", ItemType: types.InvoiceLineItemTypeUsageOverage},
		},
	}

	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO invoices")).WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO invoice_line_items")).WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO invoice_line_items")).WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()

	s.NoError(repo.Create(s.ctx, inv))
}

func (s *RepositorySuite) TestInvoiceCreateRollsBackOnNumberCollision() {
	repo := NewInvoiceRepository(s.db, logger.NewNopLogger())

	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO invoices")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "invoices_invoice_number_key"})
	s.mock.ExpectRollback()

	err := repo.Create(s.ctx, &invoice.Invoice{ID: "inv_1"})
	s.True(ierr.IsAlreadyExists(err))
	s.True(postgres.IsUniqueViolation(err, "invoices_invoice_number_key"))
}

func (s *RepositorySuite) TestPaymentCreateIfAbsent() {
	repo := NewPaymentRepository(s.db, logger.NewNopLogger())
	txn := &payment.PaymentTransaction{
		ID:                   "pay_1",
		InvoiceID:            "inv_1",
		GatewayTransactionID: "192837",
		TransactionStatus:    types.TransactionStatusCompleted,
		Amount:               decimal.NewFromInt(49),
	}

	insert := regexp.QuoteMeta("ON CONFLICT ON CONSTRAINT payment_transactions_gateway_txn_key DO NOTHING")

	s.mock.ExpectQuery(insert).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("pay_1"))
	created, err := repo.CreateIfAbsent(s.ctx, txn)
	s.NoError(err)
	s.True(created)

	s.mock.ExpectQuery(insert).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	created, err = repo.CreateIfAbsent(s.ctx, txn)
	s.NoError(err)
	s.False(created)
}
