package service

import (
	"context"
	"strings"

	"github.com/agentmesh/billing/internal/api/dto"
	"github.com/agentmesh/billing/internal/domain/invoice"
	"github.com/agentmesh/billing/internal/domain/payment"
	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/integration/paymob"
	"github.com/agentmesh/billing/internal/metrics"
	"github.com/agentmesh/billing/internal/types"
	"github.com/samber/lo"
)

// PaymentReconciliationService applies gateway transaction callbacks to invoices
type PaymentReconciliationService interface {
	// HandleWebhook verifies and applies one callback. Redelivery of an
	// already applied callback reports AlreadyProcessed and changes nothing.
	HandleWebhook(ctx context.Context, raw []byte, queryHMAC string) (*dto.WebhookResult, error)
}

type paymentReconciliationService struct {
	ServiceParams
}

func NewPaymentReconciliationService(params ServiceParams) PaymentReconciliationService {
	return &paymentReconciliationService{
		ServiceParams: params,
	}
}

func (s *paymentReconciliationService) HandleWebhook(ctx context.Context, raw []byte, queryHMAC string) (*dto.WebhookResult, error) {
	cb, err := paymob.ParseCallback(raw)
	if err != nil {
		s.Metrics.IncWebhook(metrics.OutcomeRejected)
		return nil, err
	}

	if !s.Paymob.VerifySignature(cb, queryHMAC) {
		s.Metrics.IncWebhook(metrics.OutcomeInvalidSignature)
		s.Logger.Warnw("rejected payment callback with invalid signature",
			"gateway_transaction_id", cb.Obj.TransactionID(),
			"merchant_order_id", cb.Obj.Order.MerchantOrderID,
		)
		return nil, ierr.NewError("invalid callback signature").
			WithHint("Callback signature verification failed").
			Mark(ierr.ErrInvalidSignature)
	}

	status, ok := transactionStatusOf(&cb.Obj)
	if !ok {
		// pending callbacks are acknowledged, the terminal one follows
		s.Metrics.IncWebhook(metrics.OutcomePending)
		s.Logger.Infow("ignoring non terminal payment callback",
			"gateway_transaction_id", cb.Obj.TransactionID(),
		)
		return &dto.WebhookResult{Success: true, Outcome: metrics.OutcomePending}, nil
	}

	found, err := s.InvoiceRepo.GetByNumber(ctx, cb.Obj.Order.InvoiceNumber())
	if err != nil {
		s.Metrics.IncWebhook(metrics.OutcomeRejected)
		return nil, err
	}

	ctx = types.SetTenantID(ctx, found.TenantID)
	ctx = types.SetUserID(ctx, types.SystemUserID)

	gatewayID := cb.Obj.TransactionID()
	if existing, err := s.PaymentRepo.GetByGatewayTransactionID(ctx, gatewayID); err == nil {
		if alreadyApplied(existing.TransactionStatus, status) {
			return s.alreadyProcessed(found.ID, gatewayID), nil
		}
	} else if !ierr.IsNotFound(err) {
		return nil, err
	}

	result := &dto.WebhookResult{Success: true, InvoiceID: found.ID}
	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		inv, err := s.InvoiceRepo.GetForUpdate(ctx, found.ID)
		if err != nil {
			return err
		}

		// re-read under the invoice lock so a concurrent delivery sees the winner's row
		txn, err := s.recordTransaction(ctx, inv, cb, raw, status)
		if err != nil {
			return err
		}
		if txn == nil {
			result.AlreadyProcessed = true
			result.Outcome = metrics.OutcomeAlreadyProcessed
			return nil
		}

		outcome, err := s.applyToInvoice(ctx, inv, txn)
		if err != nil {
			return err
		}
		result.Outcome = outcome
		return nil
	})
	if err != nil {
		s.Logger.Errorw("failed to reconcile payment callback",
			"tenant_id", found.TenantID,
			"invoice_id", found.ID,
			"gateway_transaction_id", gatewayID,
			"error", err,
		)
		s.Sentry.CaptureBillingFailure(ctx, err, map[string]string{
			"invoice_id":             found.ID,
			"gateway_transaction_id": gatewayID,
		})
		return nil, err
	}

	s.Metrics.IncWebhook(result.Outcome)
	s.Logger.Infow("reconciled payment callback",
		"tenant_id", found.TenantID,
		"invoice_id", found.ID,
		"gateway_transaction_id", gatewayID,
		"outcome", result.Outcome,
	)
	return result, nil
}

// recordTransaction stores the callback's transaction. A nil transaction means
// the callback was already applied.
func (s *paymentReconciliationService) recordTransaction(
	ctx context.Context,
	inv *invoice.Invoice,
	cb *paymob.TransactionCallback,
	raw []byte,
	status types.TransactionStatus,
) (*payment.PaymentTransaction, error) {
	now := s.now()
	gatewayID := cb.Obj.TransactionID()

	existing, err := s.PaymentRepo.GetByGatewayTransactionID(ctx, gatewayID)
	if err != nil && !ierr.IsNotFound(err) {
		return nil, err
	}

	if existing != nil {
		if alreadyApplied(existing.TransactionStatus, status) {
			return nil, nil
		}
		if existing.InvoiceID != inv.ID {
			return nil, ierr.NewErrorf("transaction %s belongs to another invoice", gatewayID).
				WithHint("Callback does not match the recorded transaction").
				WithReportableDetails(map[string]any{
					"invoice_id":          inv.ID,
					"recorded_invoice_id": existing.InvoiceID,
				}).
				Mark(ierr.ErrInvalidOperation)
		}

		existing.ApplyStatus(status, now)
		existing.RawGatewayResponse = raw
		existing.UpdatedAt = now
		existing.UpdatedBy = types.GetUserID(ctx)
		if err := s.PaymentRepo.Update(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	txn := &payment.PaymentTransaction{
		ID:                   types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PAYMENT),
		InvoiceID:            inv.ID,
		GatewayTransactionID: gatewayID,
		Amount:               cb.Obj.Amount(),
		Currency:             lo.CoalesceOrEmpty(cb.Obj.Currency, inv.Currency),
		RawGatewayResponse:   raw,
		BaseModel:            types.GetDefaultBaseModel(ctx, now),
	}
	txn.ApplyStatus(status, now)
	if err := txn.Validate(); err != nil {
		return nil, err
	}

	created, err := s.PaymentRepo.CreateIfAbsent(ctx, txn)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, nil
	}
	return txn, nil
}

// applyToInvoice moves the invoice and its subscription to match the transaction
func (s *paymentReconciliationService) applyToInvoice(ctx context.Context, inv *invoice.Invoice, txn *payment.PaymentTransaction) (string, error) {
	subService := NewSubscriptionService(s.ServiceParams)
	now := s.now()

	var outcome string
	switch txn.TransactionStatus {
	case types.TransactionStatusCompleted:
		outcome = metrics.OutcomePaid
		if !inv.InvoiceStatus.IsPayable() {
			s.Logger.Warnw("payment received for invoice that is not payable",
				"invoice_id", inv.ID,
				"invoice_status", inv.InvoiceStatus,
				"gateway_transaction_id", txn.GatewayTransactionID,
			)
			return outcome, nil
		}
		if err := checkSettlement(inv, txn); err != nil {
			// the transaction stays recorded; the invoice waits for a matching payment
			s.Logger.Errorw("payment does not settle invoice",
				"invoice_id", inv.ID,
				"gateway_transaction_id", txn.GatewayTransactionID,
				"error", err,
			)
			s.Sentry.CaptureBillingFailure(ctx, err, map[string]string{
				"invoice_id":             inv.ID,
				"gateway_transaction_id": txn.GatewayTransactionID,
			})
			return metrics.OutcomeAmountMismatch, nil
		}
		inv.InvoiceStatus = types.InvoiceStatusPaid
		inv.PaidAt = lo.ToPtr(now)
		inv.PaymentTransactionID = lo.ToPtr(txn.GatewayTransactionID)

	case types.TransactionStatusFailed:
		outcome = metrics.OutcomeFailed
		if !inv.InvoiceStatus.IsPayable() {
			return outcome, nil
		}
		inv.InvoiceStatus = types.InvoiceStatusFailed

	case types.TransactionStatusRefunded:
		outcome = metrics.OutcomeRefunded
		if inv.InvoiceStatus != types.InvoiceStatusPaid ||
			lo.FromPtr(inv.PaymentTransactionID) != txn.GatewayTransactionID {
			s.Logger.Warnw("refund received for transaction that did not settle the invoice",
				"invoice_id", inv.ID,
				"invoice_status", inv.InvoiceStatus,
				"gateway_transaction_id", txn.GatewayTransactionID,
			)
			return outcome, nil
		}
		inv.InvoiceStatus = types.InvoiceStatusRefunded

	default:
		return "", ierr.NewErrorf("unexpected transaction status %q", txn.TransactionStatus).
			Mark(ierr.ErrInvariantViolation)
	}

	inv.UpdatedAt = now
	inv.UpdatedBy = types.GetUserID(ctx)
	if err := s.InvoiceRepo.Update(ctx, inv); err != nil {
		return "", err
	}

	switch inv.InvoiceStatus {
	case types.InvoiceStatusPaid:
		if err := subService.RestoreActive(ctx, inv); err != nil {
			return "", err
		}
	case types.InvoiceStatusFailed:
		if err := subService.MarkPastDue(ctx, inv); err != nil {
			return "", err
		}
	}
	return outcome, nil
}

func (s *paymentReconciliationService) alreadyProcessed(invoiceID, gatewayID string) *dto.WebhookResult {
	s.Metrics.IncWebhook(metrics.OutcomeAlreadyProcessed)
	s.Logger.Infow("payment callback already processed",
		"invoice_id", invoiceID,
		"gateway_transaction_id", gatewayID,
	)
	return &dto.WebhookResult{
		Success:          true,
		AlreadyProcessed: true,
		InvoiceID:        invoiceID,
		Outcome:          metrics.OutcomeAlreadyProcessed,
	}
}

// checkSettlement fails unless the transaction pays the invoice's total in its currency
func checkSettlement(inv *invoice.Invoice, txn *payment.PaymentTransaction) error {
	want, got := paymob.AmountToCents(inv.TotalAmount), paymob.AmountToCents(txn.Amount)
	if want == got && strings.EqualFold(inv.Currency, txn.Currency) {
		return nil
	}
	return ierr.NewErrorf("transaction %s pays %d %s, invoice %s is due %d %s",
		txn.GatewayTransactionID, got, txn.Currency, inv.InvoiceNumber, want, inv.Currency).
		WithHint("Payment amount does not match the invoice").
		WithReportableDetails(map[string]any{
			"invoice_id":     inv.ID,
			"expected_cents": want,
			"received_cents": got,
		}).
		Mark(ierr.ErrInvalidOperation)
}

// transactionStatusOf maps a callback to the transaction status it reports.
// ok is false while the gateway still reports the transaction as pending.
func transactionStatusOf(o *paymob.TransactionObject) (types.TransactionStatus, bool) {
	switch {
	case o.IsRefunded:
		return types.TransactionStatusRefunded, true
	case o.Pending:
		return types.TransactionStatusPending, false
	case o.Success:
		return types.TransactionStatusCompleted, true
	default:
		return types.TransactionStatusFailed, true
	}
}

// alreadyApplied reports whether moving a recorded transaction to next would be
// a replay. A refund of a completed transaction is the only transition out of
// a terminal status.
func alreadyApplied(recorded, next types.TransactionStatus) bool {
	if !recorded.IsTerminal() {
		return false
	}
	if recorded == types.TransactionStatusCompleted && next == types.TransactionStatusRefunded {
		return false
	}
	return true
}
