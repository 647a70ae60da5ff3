package service

import (
	"context"
	"fmt"
	"time"

	"github.com/agentmesh/billing/internal/api/dto"
	"github.com/agentmesh/billing/internal/domain/invoice"
	"github.com/agentmesh/billing/internal/domain/plan"
	"github.com/agentmesh/billing/internal/domain/subscription"
	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/idempotency"
	"github.com/agentmesh/billing/internal/postgres"
	"github.com/agentmesh/billing/internal/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
)

const invoiceNumberConstraint = "invoices_invoice_number_key"

// ComposeParams selects the subscription period to invoice
type ComposeParams struct {
	Subscription *subscription.Subscription
	PeriodStart  time.Time
	PeriodEnd    time.Time

	// UsagePeriodStart and UsagePeriodEnd name the period whose overage is
	// billed. They default to the invoice period.
	UsagePeriodStart time.Time
	UsagePeriodEnd   time.Time

	// InvoiceStatus defaults to pending
	InvoiceStatus types.InvoiceStatus

	// DueDate defaults to now plus the configured due days
	DueDate time.Time
}

type InvoiceService interface {
	// Compose builds and stores the invoice of one subscription period. It must
	// run inside a transaction. An invoice that already exists for the period
	// yields ErrAlreadyExists.
	Compose(ctx context.Context, params ComposeParams) (*invoice.Invoice, error)

	GetInvoice(ctx context.Context, id string) (*dto.InvoiceResponse, error)
	GetByNumber(ctx context.Context, invoiceNumber string) (*invoice.Invoice, error)
	ListInvoices(ctx context.Context, filter *types.InvoiceFilter) (*dto.ListInvoicesResponse, error)

	// AddLineItem appends a manual discount or tax to an editable invoice
	AddLineItem(ctx context.Context, invoiceID string, req dto.AddLineItemRequest) (*dto.InvoiceResponse, error)
	RecalculateInvoice(ctx context.Context, id string) (*dto.InvoiceResponse, error)
}

type invoiceService struct {
	ServiceParams
}

func NewInvoiceService(params ServiceParams) InvoiceService {
	return &invoiceService{
		ServiceParams: params,
	}
}

func (s *invoiceService) Compose(ctx context.Context, params ComposeParams) (*invoice.Invoice, error) {
	sub := params.Subscription
	if sub == nil {
		return nil, ierr.NewError("subscription is required").
			WithHint("Invoice must be composed for a subscription").
			Mark(ierr.ErrValidation)
	}
	if !params.PeriodEnd.After(params.PeriodStart) {
		return nil, ierr.NewError("billing period end must be after start").
			WithHint("Invalid billing period").
			WithReportableDetails(map[string]any{
				"subscription_id": sub.ID,
				"period_start":    params.PeriodStart,
				"period_end":      params.PeriodEnd,
			}).
			Mark(ierr.ErrValidation)
	}

	exists, err := s.InvoiceRepo.ExistsForPeriod(ctx, sub.ID, params.PeriodStart, params.PeriodEnd)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ierr.NewError("invoice already exists for period").
			WithHint("This billing period has already been invoiced").
			WithReportableDetails(map[string]any{
				"subscription_id": sub.ID,
				"period_start":    params.PeriodStart,
				"period_end":      params.PeriodEnd,
			}).
			Mark(ierr.ErrAlreadyExists)
	}

	p, err := NewPlanService(s.ServiceParams).GetPlan(ctx, sub.PlanID)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, ierr.WithError(err).
				WithHintf("Subscription references unknown plan %s", sub.PlanID).
				Mark(ierr.ErrValidation)
		}
		return nil, err
	}

	now := s.now()
	status := params.InvoiceStatus
	if status == "" {
		status = types.InvoiceStatusPending
	}
	dueDate := params.DueDate
	if dueDate.IsZero() {
		dueDate = now.AddDate(0, 0, s.Config.Billing.InvoiceDueDays)
	}
	currency := sub.Currency
	if currency == "" {
		currency = p.Currency
	}

	baseModel := types.GetDefaultBaseModel(ctx, now)
	baseModel.TenantID = sub.TenantID

	inv := &invoice.Invoice{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE),
		SubscriptionID:     sub.ID,
		InvoiceStatus:      status,
		Currency:           currency,
		BillingPeriodStart: params.PeriodStart,
		BillingPeriodEnd:   params.PeriodEnd,
		DueDate:            dueDate,
		IdempotencyKey: s.Idempotency.GenerateKey(idempotency.ScopeSubscriptionInvoice, map[string]interface{}{
			"tenant_id":       sub.TenantID,
			"subscription_id": sub.ID,
			"period_start":    params.PeriodStart.UTC().Format(time.RFC3339),
			"period_end":      params.PeriodEnd.UTC().Format(time.RFC3339),
		}),
		Metadata: types.Metadata{
			"plan_id":       p.ID,
			"billing_cycle": string(sub.BillingCycle),
		},
		Version:   1,
		BaseModel: baseModel,
	}

	usageStart, usageEnd := params.UsagePeriodStart, params.UsagePeriodEnd
	if usageStart.IsZero() || usageEnd.IsZero() {
		usageStart, usageEnd = params.PeriodStart, params.PeriodEnd
	}

	lineItems, err := s.buildLineItems(ctx, inv, sub, p, usageStart, usageEnd)
	if err != nil {
		return nil, err
	}
	inv.LineItems = lineItems

	if err := inv.RecalculateTotal(); err != nil {
		return nil, err
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}

	inv.PaymentLinkStatus = types.PaymentLinkStatusNotRequested
	if inv.IsPayable() {
		inv.PaymentLinkStatus = types.PaymentLinkStatusPending
	}

	if err := s.create(ctx, inv); err != nil {
		return nil, err
	}

	s.Logger.Infow("composed invoice",
		"tenant_id", inv.TenantID,
		"subscription_id", sub.ID,
		"invoice_id", inv.ID,
		"invoice_number", inv.InvoiceNumber,
		"total_amount", inv.TotalAmount.String(),
		"period_start", inv.BillingPeriodStart,
		"period_end", inv.BillingPeriodEnd,
	)

	if inv.PaymentLinkStatus == types.PaymentLinkStatusPending {
		requestLinkAfterCommit(ctx, s.ServiceParams, inv.TenantID, inv.ID)
	}

	return inv, nil
}

func (s *invoiceService) buildLineItems(
	ctx context.Context,
	inv *invoice.Invoice,
	sub *subscription.Subscription,
	p *plan.Plan,
	usageStart, usageEnd time.Time,
) ([]*invoice.LineItem, error) {
	items := make([]*invoice.LineItem, 0, 3)

	baseDetail, err := invoice.EncodeDetail(invoice.BasePlanDetail{
		PlanID:            p.ID,
		PlanName:          p.Name,
		BillingCycle:      sub.BillingCycle,
		MonthlyEquivalent: p.MonthlyEquivalentPrice(),
	})
	if err != nil {
		return nil, err
	}
	items = append(items, s.newLineItem(inv, types.InvoiceLineItemTypeBasePlan,
		fmt.Sprintf("%s (%s)", p.Name, sub.BillingCycle),
		decimal.NewFromInt(1), p.FinalPrice, baseDetail))

	addons, err := s.AgentSubRepo.ListActive(ctx, sub.TenantID, inv.BillingPeriodStart)
	if err != nil {
		return nil, err
	}
	for _, addon := range addons {
		detail, err := invoice.EncodeDetail(invoice.AgentAddonDetail{
			AgentSubscriptionID: addon.ID,
			AgentID:             addon.AgentID,
		})
		if err != nil {
			return nil, err
		}
		items = append(items, s.newLineItem(inv, types.InvoiceLineItemTypeAgentAddon,
			fmt.Sprintf("Agent add-on %s", addon.AgentID),
			decimal.NewFromInt(1), addon.MonthlyPrice, detail))
	}

	overage := NewQuotaService(s.ServiceParams).OverageExecutions(sub)
	if overage > 0 && p.OverageAllowed() {
		detail, err := invoice.EncodeDetail(invoice.UsageOverageDetail{
			ExecutionQuota: sub.ExecutionQuota,
			ExecutionsUsed: sub.ExecutionsUsed,
			PeriodStart:    usageStart,
			PeriodEnd:      usageEnd,
		})
		if err != nil {
			return nil, err
		}
		items = append(items, s.newLineItem(inv, types.InvoiceLineItemTypeUsageOverage,
			fmt.Sprintf("Usage overage: %d executions", overage),
			decimal.NewFromInt(overage), p.OveragePrice(), detail))
	}

	return items, nil
}

func (s *invoiceService) newLineItem(
	inv *invoice.Invoice,
	itemType types.InvoiceLineItemType,
	description string,
	quantity, unitPrice decimal.Decimal,
	metadata types.RawJSON,
) *invoice.LineItem {
	return &invoice.LineItem{
		ID:          types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE_LINE_ITEM),
		InvoiceID:   inv.ID,
		ItemType:    itemType,
		Description: description,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		TotalPrice:  quantity.Mul(unitPrice),
		Metadata:    metadata,
		BaseModel:   inv.BaseModel,
	}
}

// create numbers and inserts the invoice, drawing a fresh number when a
// concurrent writer took the same one. Each attempt runs in a savepoint so a
// collision does not abort the enclosing transaction.
func (s *invoiceService) create(ctx context.Context, inv *invoice.Invoice) error {
	retries := max(s.Config.Billing.InvoiceNumberRetries, 1)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	attempts := 0
	var lastErr error
	err := backoff.Retry(func() error {
		attempts++
		number, err := s.InvoiceRepo.GetNextInvoiceNumber(ctx, inv.CreatedAt)
		if err != nil {
			return backoff.Permanent(err)
		}
		inv.InvoiceNumber = number

		err = s.DB.WithTx(ctx, func(ctx context.Context) error {
			return s.InvoiceRepo.Create(ctx, inv)
		})
		if err == nil {
			return nil
		}
		if postgres.IsUniqueViolation(err, invoiceNumberConstraint) {
			lastErr = err
			s.Logger.Warnw("invoice number collision, retrying",
				"invoice_id", inv.ID,
				"invoice_number", number,
				"attempt", attempts,
			)
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries-1)), ctx))
	if err == nil {
		return nil
	}

	if lastErr != nil && err == lastErr {
		return ierr.NewError("failed to allocate a unique invoice number").
			WithHint("Could not number the invoice, try again").
			WithReportableDetails(map[string]any{
				"invoice_id": inv.ID,
				"attempts":   attempts,
			}).
			Mark(ierr.ErrSystem)
	}
	return err
}

func (s *invoiceService) GetInvoice(ctx context.Context, id string) (*dto.InvoiceResponse, error) {
	inv, err := s.InvoiceRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.NewInvoiceResponse(inv), nil
}

func (s *invoiceService) GetByNumber(ctx context.Context, invoiceNumber string) (*invoice.Invoice, error) {
	return s.InvoiceRepo.GetByNumber(ctx, invoiceNumber)
}

func (s *invoiceService) ListInvoices(ctx context.Context, filter *types.InvoiceFilter) (*dto.ListInvoicesResponse, error) {
	if filter == nil {
		filter = types.NewInvoiceFilter()
	}
	if filter.QueryFilter == nil {
		filter.QueryFilter = types.NewDefaultQueryFilter()
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	items, err := s.InvoiceRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.InvoiceRepo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	return dto.NewListInvoicesResponse(items, total, filter.GetLimit(), filter.GetOffset()), nil
}

func (s *invoiceService) AddLineItem(ctx context.Context, invoiceID string, req dto.AddLineItemRequest) (*dto.InvoiceResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var result *invoice.Invoice
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		inv, err := s.InvoiceRepo.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if !inv.InvoiceStatus.IsEditable() {
			return ierr.NewErrorf("invoice %s is %s", inv.ID, inv.InvoiceStatus).
				WithHint("Line items can only be added to draft or pending invoices").
				WithReportableDetails(map[string]any{
					"invoice_id":     inv.ID,
					"invoice_status": inv.InvoiceStatus,
				}).
				Mark(ierr.ErrInvalidOperation)
		}

		metadata, err := invoice.EncodeDetail(req.Detail())
		if err != nil {
			return err
		}
		item := &invoice.LineItem{
			ID:          types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE_LINE_ITEM),
			InvoiceID:   inv.ID,
			ItemType:    req.ItemType,
			Description: req.Description,
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   req.TotalPrice(),
			TotalPrice:  req.TotalPrice(),
			Metadata:    metadata,
			BaseModel:   types.GetDefaultBaseModel(ctx, s.now()),
		}
		if err := item.Validate(); err != nil {
			return err
		}

		previousTotal := inv.TotalAmount
		inv.LineItems = append(inv.LineItems, item)
		if err := inv.RecalculateTotal(); err != nil {
			return err
		}
		if inv.TotalAmount.IsNegative() {
			return ierr.NewError("discount exceeds invoice total").
				WithHint("Discounts cannot bring the invoice below zero").
				WithReportableDetails(map[string]any{
					"invoice_id":   inv.ID,
					"total_amount": inv.TotalAmount.String(),
				}).
				Mark(ierr.ErrValidation)
		}

		if err := s.InvoiceRepo.AddLineItems(ctx, inv.ID, []*invoice.LineItem{item}); err != nil {
			return err
		}
		if err := s.saveTotals(ctx, inv, previousTotal); err != nil {
			return err
		}
		result = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	return dto.NewInvoiceResponse(result), nil
}

func (s *invoiceService) RecalculateInvoice(ctx context.Context, id string) (*dto.InvoiceResponse, error) {
	var result *invoice.Invoice
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		inv, err := s.InvoiceRepo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		previousTotal := inv.TotalAmount
		if err := inv.RecalculateTotal(); err != nil {
			return err
		}
		if err := s.saveTotals(ctx, inv, previousTotal); err != nil {
			return err
		}
		result = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	return dto.NewInvoiceResponse(result), nil
}

// saveTotals persists recalculated amounts. When the total moved, a link
// issued for the old amount is discarded and a new one requested after commit.
func (s *invoiceService) saveTotals(ctx context.Context, inv *invoice.Invoice, previousTotal decimal.Decimal) error {
	requestLink := false
	if !inv.TotalAmount.Equal(previousTotal) {
		inv.PaymentLinkURL = nil
		inv.PaymentLinkStatus = types.PaymentLinkStatusNotRequested
		if inv.IsPayable() {
			inv.PaymentLinkStatus = types.PaymentLinkStatusPending
			requestLink = true
		}
	}

	inv.UpdatedAt = s.now()
	inv.UpdatedBy = types.GetUserID(ctx)
	if err := s.InvoiceRepo.Update(ctx, inv); err != nil {
		return err
	}

	if requestLink {
		requestLinkAfterCommit(ctx, s.ServiceParams, inv.TenantID, inv.ID)
	}
	return nil
}
