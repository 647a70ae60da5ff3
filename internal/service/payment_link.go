package service

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/agentmesh/billing/internal/api/dto"
	"github.com/agentmesh/billing/internal/domain/invoice"
	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/idempotency"
	"github.com/agentmesh/billing/internal/integration/paymob"
	"github.com/agentmesh/billing/internal/metrics"
	"github.com/agentmesh/billing/internal/postgres"
	pubsubRouter "github.com/agentmesh/billing/internal/pubsub/router"
	"github.com/agentmesh/billing/internal/types"
	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TopicPaymentLink carries invoices waiting for a gateway payment link
const TopicPaymentLink = "invoice.payment_link"

// Invoice metadata keys written by the link step
const (
	MetadataPaymentLinkError = "payment_link_error"
	MetadataPaymentLinkRef   = "payment_link_ref"
)

// MetadataIdempotencyKey is the message metadata key shared by every request
// for the same invoice
const MetadataIdempotencyKey = "idempotency_key"

// PaymentLinkMessage is the payload published on TopicPaymentLink
type PaymentLinkMessage struct {
	TenantID  string `json:"tenant_id"`
	InvoiceID string `json:"invoice_id"`
}

// PaymentLinkService obtains hosted payment links once the invoice is committed.
// Link failures never fail billing; the invoice stays payable manually.
type PaymentLinkService interface {
	// RequestLink queues link generation for a committed invoice
	RequestLink(ctx context.Context, tenantID, invoiceID string) error
	RegisterHandler(router *pubsubRouter.Router)

	// GenerateLink calls the gateway and stores the outcome on the invoice.
	// Only gateway failures are returned as errors.
	GenerateLink(ctx context.Context, invoiceID string) (*dto.PaymentLinkResponse, error)

	// RequestPaymentLink generates a link synchronously for the tenant in ctx
	RequestPaymentLink(ctx context.Context, invoiceID string) (*dto.PaymentLinkResponse, error)

	// RetryFailedLinks requeues payable invoices whose link generation failed
	RetryFailedLinks(ctx context.Context) (*dto.PaymentLinkRetryResponse, error)
}

type paymentLinkService struct {
	ServiceParams
}

func NewPaymentLinkService(params ServiceParams) PaymentLinkService {
	return &paymentLinkService{
		ServiceParams: params,
	}
}

// requestLinkAfterCommit queues link generation once the transaction in ctx
// commits. A failed publish leaves the link pending for RetryFailedLinks.
func requestLinkAfterCommit(ctx context.Context, params ServiceParams, tenantID, invoiceID string) {
	svc := NewPaymentLinkService(params)
	postgres.AfterCommit(ctx, func() {
		if err := svc.RequestLink(context.WithoutCancel(ctx), tenantID, invoiceID); err != nil {
			params.Logger.Errorw("failed to queue payment link",
				"tenant_id", tenantID,
				"invoice_id", invoiceID,
				"error", err,
			)
			params.Sentry.CaptureException(err)
		}
	})
}

func (s *paymentLinkService) RequestLink(ctx context.Context, tenantID, invoiceID string) error {
	if s.PubSub == nil {
		return ierr.NewError("pubsub not initialized").
			WithHint("Please check the config").
			Mark(ierr.ErrSystem)
	}

	payload, err := json.Marshal(PaymentLinkMessage{
		TenantID:  tenantID,
		InvoiceID: invoiceID,
	})
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to marshal payment link request").
			Mark(ierr.ErrValidation)
	}

	msg := message.NewMessage(types.GenerateUUIDWithPrefix(types.UUID_PREFIX_MESSAGE), payload)
	msg.Metadata.Set("tenant_id", tenantID)
	msg.Metadata.Set(MetadataIdempotencyKey, s.Idempotency.GenerateKey(idempotency.ScopePaymentLink, map[string]interface{}{
		"tenant_id":  tenantID,
		"invoice_id": invoiceID,
	}))
	if requestID := types.GetRequestID(ctx); requestID != "" {
		middleware.SetCorrelationID(requestID, msg)
	}

	s.Logger.Debugw("publishing payment link request",
		"tenant_id", tenantID,
		"invoice_id", invoiceID,
		"message_uuid", msg.UUID,
		"topic", TopicPaymentLink,
	)

	if err := s.PubSub.Publish(ctx, TopicPaymentLink, msg); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to publish payment link request").
			Mark(ierr.ErrSystem)
	}
	return nil
}

func (s *paymentLinkService) RegisterHandler(router *pubsubRouter.Router) {
	router.AddNoPublishHandler(
		"payment_link_handler",
		TopicPaymentLink,
		s.PubSub,
		s.processMessage,
	)

	s.Logger.Infow("registered payment link handler",
		"topic", TopicPaymentLink,
	)
}

func (s *paymentLinkService) processMessage(msg *message.Message) error {
	tenantID := msg.Metadata.Get("tenant_id")

	var req PaymentLinkMessage
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		s.Logger.Errorw("failed to unmarshal payment link request",
			"error", err,
			"message_uuid", msg.UUID,
		)
		return nil // malformed messages are not retried
	}
	if req.TenantID != tenantID {
		s.Logger.Errorw("invalid tenant id",
			"expected", tenantID,
			"actual", req.TenantID,
			"message_uuid", msg.UUID,
		)
		return nil
	}

	s.Logger.Debugw("processing payment link request",
		"tenant_id", tenantID,
		"invoice_id", req.InvoiceID,
		"message_uuid", msg.UUID,
		"idempotency_key", msg.Metadata.Get(MetadataIdempotencyKey),
	)

	ctx := types.SetTenantID(msg.Context(), tenantID)
	ctx = types.SetUserID(ctx, types.SystemUserID)

	_, err := s.GenerateLink(ctx, req.InvoiceID)
	return err
}

func (s *paymentLinkService) GenerateLink(ctx context.Context, invoiceID string) (*dto.PaymentLinkResponse, error) {
	inv, err := s.InvoiceRepo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	if !needsPaymentLink(inv) {
		s.Logger.Debugw("skipping payment link",
			"invoice_id", inv.ID,
			"invoice_status", inv.InvoiceStatus,
			"payment_link_status", inv.PaymentLinkStatus,
		)
		return paymentLinkResponse(inv), nil
	}

	reference := types.GenerateShortIDWithPrefix(types.SHORT_ID_PREFIX_PAYMENT_LINK)
	link, gatewayErr := s.createLink(ctx, inv, reference)

	var result *invoice.Invoice
	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.InvoiceRepo.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		// paid or regenerated while the gateway call was in flight
		if !needsPaymentLink(current) || !current.TotalAmount.Equal(inv.TotalAmount) {
			result = current
			return nil
		}

		if current.Metadata == nil {
			current.Metadata = types.Metadata{}
		}
		if gatewayErr != nil {
			current.PaymentLinkStatus = types.PaymentLinkStatusFailed
			current.Metadata[MetadataPaymentLinkError] = gatewayErr.Error()
		} else {
			current.PaymentLinkStatus = types.PaymentLinkStatusGenerated
			current.PaymentLinkURL = lo.ToPtr(link.URL)
			current.Metadata[MetadataPaymentLinkRef] = reference
			delete(current.Metadata, MetadataPaymentLinkError)
		}
		current.UpdatedAt = s.now()
		current.UpdatedBy = types.GetUserID(ctx)

		if err := s.InvoiceRepo.Update(ctx, current); err != nil {
			return err
		}
		result = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	if gatewayErr != nil {
		s.Metrics.IncPaymentLink(metrics.ResultFailed)
		s.Logger.Warnw("payment link generation failed",
			"tenant_id", inv.TenantID,
			"invoice_id", inv.ID,
			"invoice_number", inv.InvoiceNumber,
			"error", gatewayErr,
		)
		return nil, gatewayErr
	}

	s.Metrics.IncPaymentLink(metrics.ResultSuccess)
	s.Logger.Infow("payment link generated",
		"tenant_id", inv.TenantID,
		"invoice_id", inv.ID,
		"invoice_number", inv.InvoiceNumber,
	)
	return paymentLinkResponse(result), nil
}

// createLink calls the gateway under the configured timeout. Every failure,
// a timeout included, is marked as a gateway error.
func (s *paymentLinkService) createLink(ctx context.Context, inv *invoice.Invoice, reference string) (*paymob.PaymentLink, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.Config.Paymob.Timeout)
	defer cancel()

	span, callCtx := s.Sentry.StartGatewaySpan(callCtx, "create_payment_link", map[string]interface{}{
		"invoice_id": inv.ID,
	})
	if span != nil {
		defer span.Finish()
	}

	items := lo.Map(inv.LineItems, func(li *invoice.LineItem, _ int) paymob.OrderItem {
		return paymob.OrderItem{
			Name:        string(li.ItemType),
			AmountCents: paymob.AmountToCents(li.TotalPrice),
			Description: li.Description,
			Quantity:    1,
		}
	})

	link, err := s.Paymob.CreatePaymentLink(callCtx, paymob.PaymentLinkRequest{
		InvoiceNumber: inv.InvoiceNumber,
		Reference:     reference,
		Amount:        inv.TotalAmount,
		Currency:      inv.Currency,
		Items:         items,
	})
	if err != nil {
		if ierr.IsGateway(err) {
			return nil, err
		}
		return nil, ierr.WithError(err).
			WithHint("Payment gateway did not respond in time").
			WithReportableDetails(map[string]any{
				"invoice_id": inv.ID,
			}).
			Mark(ierr.ErrGateway)
	}
	return link, nil
}

func (s *paymentLinkService) RequestPaymentLink(ctx context.Context, invoiceID string) (*dto.PaymentLinkResponse, error) {
	var inv *invoice.Invoice
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.InvoiceRepo.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if !inv.IsPayable() {
			return ierr.NewErrorf("invoice %s is not payable", inv.ID).
				WithHint("Payment links are only issued for unpaid invoices with a positive total").
				WithReportableDetails(map[string]any{
					"invoice_id":     inv.ID,
					"invoice_status": inv.InvoiceStatus,
				}).
				Mark(ierr.ErrInvalidOperation)
		}
		if inv.PaymentLinkStatus != types.PaymentLinkStatusNotRequested {
			return nil
		}

		inv.PaymentLinkStatus = types.PaymentLinkStatusPending
		inv.UpdatedAt = s.now()
		inv.UpdatedBy = types.GetUserID(ctx)
		return s.InvoiceRepo.Update(ctx, inv)
	})
	if err != nil {
		return nil, err
	}

	if inv.PaymentLinkStatus == types.PaymentLinkStatusGenerated {
		return paymentLinkResponse(inv), nil
	}
	return s.GenerateLink(ctx, invoiceID)
}

func (s *paymentLinkService) RetryFailedLinks(ctx context.Context) (*dto.PaymentLinkRetryResponse, error) {
	invoices, err := s.InvoiceRepo.ListPaymentLinkRetries(ctx, s.Config.Billing.BatchSize)
	if err != nil {
		return nil, err
	}

	resp := &dto.PaymentLinkRetryResponse{}
	for _, inv := range invoices {
		if err := s.RequestLink(ctx, inv.TenantID, inv.ID); err != nil {
			s.Logger.Errorw("failed to requeue payment link",
				"tenant_id", inv.TenantID,
				"invoice_id", inv.ID,
				"error", err,
			)
			continue
		}
		resp.Requeued++
	}

	s.Logger.Infow("requeued failed payment links",
		"candidates", len(invoices),
		"requeued", resp.Requeued,
	)
	return resp, nil
}

func needsPaymentLink(inv *invoice.Invoice) bool {
	return inv.IsPayable() &&
		(inv.PaymentLinkStatus == types.PaymentLinkStatusPending ||
			inv.PaymentLinkStatus == types.PaymentLinkStatusFailed)
}

func paymentLinkResponse(inv *invoice.Invoice) *dto.PaymentLinkResponse {
	return &dto.PaymentLinkResponse{
		InvoiceID:         inv.ID,
		PaymentLinkStatus: string(inv.PaymentLinkStatus),
		PaymentLinkURL:    inv.PaymentLinkURL,
	}
}
