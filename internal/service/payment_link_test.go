package service

import (
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/agentmesh/billing/internal/api/dto"
	"github.com/agentmesh/billing/internal/domain/invoice"
	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/testutil"
	"github.com/agentmesh/billing/internal/types"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

type PaymentLinkServiceSuite struct {
	testutil.BaseServiceTestSuite
	service PaymentLinkService
	params  ServiceParams
	inv     *invoice.Invoice
}

func TestPaymentLinkService(t *testing.T) {
	suite.Run(t, new(PaymentLinkServiceSuite))
}

func (s *PaymentLinkServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.params = newTestServiceParams(&s.BaseServiceTestSuite)
	s.service = NewPaymentLinkService(s.params)

	p := s.CreatePlan(testutil.PlanFixture{
		FinalPrice:         "25.50",
		IncludedExecutions: 500,
	})
	resp, err := NewSubscriptionService(s.params).CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{PlanID: p.ID})
	s.Require().NoError(err)
	s.Require().NotNil(resp.Invoice)
	s.inv = resp.Invoice
}

func (s *PaymentLinkServiceSuite) storedInvoice() *invoice.Invoice {
	inv, err := s.GetStores().InvoiceRepo.Get(s.GetContext(), s.inv.ID)
	s.Require().NoError(err)
	return inv
}

func (s *PaymentLinkServiceSuite) TestInvoiceCreationQueuesLink() {
	msgs := s.GetPubSub().GetMessages(TopicPaymentLink)
	s.Require().Len(msgs, 1)
	s.Equal(testutil.TestTenantID, msgs[0].Metadata.Get("tenant_id"))
	s.NotEmpty(msgs[0].Metadata.Get(MetadataIdempotencyKey))

	var payload PaymentLinkMessage
	s.Require().NoError(json.Unmarshal(msgs[0].Payload, &payload))
	s.Equal(s.inv.ID, payload.InvoiceID)
	s.Equal(types.PaymentLinkStatusPending, s.inv.PaymentLinkStatus)
}

func (s *PaymentLinkServiceSuite) TestGenerateLinkSuccess() {
	resp, err := s.service.GenerateLink(s.GetContext(), s.inv.ID)
	s.Require().NoError(err)
	s.Equal(string(types.PaymentLinkStatusGenerated), resp.PaymentLinkStatus)
	s.Require().NotNil(resp.PaymentLinkURL)

	stored := s.storedInvoice()
	s.Equal(types.PaymentLinkStatusGenerated, stored.PaymentLinkStatus)
	s.Equal(*resp.PaymentLinkURL, lo.FromPtr(stored.PaymentLinkURL))
	s.NotEmpty(stored.Metadata[MetadataPaymentLinkRef])
	s.Equal(types.InvoiceStatusPending, stored.InvoiceStatus)

	requests := s.GetPaymob().LinkRequests()
	s.Require().Len(requests, 1)
	s.Equal(s.inv.InvoiceNumber, requests[0].InvoiceNumber)
	s.True(requests[0].Amount.Equal(s.inv.TotalAmount))

	// already generated: the gateway is not called again
	_, err = s.service.GenerateLink(s.GetContext(), s.inv.ID)
	s.NoError(err)
	s.Len(s.GetPaymob().LinkRequests(), 1)
}

func (s *PaymentLinkServiceSuite) TestGenerateLinkGatewayFailure() {
	s.GetPaymob().FailWith(ierr.NewError("gateway unavailable").Mark(ierr.ErrGateway))

	_, err := s.service.GenerateLink(s.GetContext(), s.inv.ID)
	s.Error(err)
	s.True(ierr.IsGateway(err))

	stored := s.storedInvoice()
	s.Equal(types.PaymentLinkStatusFailed, stored.PaymentLinkStatus)
	s.Contains(stored.Metadata[MetadataPaymentLinkError], "gateway unavailable")
	s.Nil(stored.PaymentLinkURL)

	// billing is unaffected
	s.Equal(types.InvoiceStatusPending, stored.InvoiceStatus)
	s.True(stored.TotalAmount.Equal(s.inv.TotalAmount))
}

func (s *PaymentLinkServiceSuite) TestGenerateLinkTimeout() {
	cfg := s.GetConfig()
	timeout := cfg.Paymob.Timeout
	cfg.Paymob.Timeout = 20 * time.Millisecond
	defer func() { cfg.Paymob.Timeout = timeout }()

	s.GetPaymob().Delay(time.Second)

	_, err := s.service.GenerateLink(s.GetContext(), s.inv.ID)
	s.Error(err)
	s.True(ierr.IsGateway(err))
	s.Equal(types.PaymentLinkStatusFailed, s.storedInvoice().PaymentLinkStatus)
}

func (s *PaymentLinkServiceSuite) TestRetryFailedLinks() {
	s.GetPaymob().FailWith(ierr.NewError("gateway unavailable").Mark(ierr.ErrGateway))
	_, err := s.service.GenerateLink(s.GetContext(), s.inv.ID)
	s.Require().Error(err)

	before := len(s.GetPubSub().GetMessages(TopicPaymentLink))
	resp, err := s.service.RetryFailedLinks(s.GetContext())
	s.Require().NoError(err)
	s.Equal(1, resp.Requeued)

	msgs := s.GetPubSub().GetMessages(TopicPaymentLink)
	s.Require().Len(msgs, before+1)
	// a requeue is the same request as the original
	s.Equal(msgs[0].Metadata.Get(MetadataIdempotencyKey), msgs[before].Metadata.Get(MetadataIdempotencyKey))
	s.NotEqual(msgs[0].UUID, msgs[before].UUID)

	// the gateway recovers and the failed link is regenerated
	s.GetPaymob().Reset()
	_, err = s.service.GenerateLink(s.GetContext(), s.inv.ID)
	s.Require().NoError(err)

	stored := s.storedInvoice()
	s.Equal(types.PaymentLinkStatusGenerated, stored.PaymentLinkStatus)
	s.Empty(stored.Metadata[MetadataPaymentLinkError])
}

func (s *PaymentLinkServiceSuite) TestRequestPaymentLink() {
	resp, err := s.service.RequestPaymentLink(s.GetContext(), s.inv.ID)
	s.Require().NoError(err)
	s.Equal(string(types.PaymentLinkStatusGenerated), resp.PaymentLinkStatus)

	again, err := s.service.RequestPaymentLink(s.GetContext(), s.inv.ID)
	s.Require().NoError(err)
	s.Equal(resp.PaymentLinkURL, again.PaymentLinkURL)
	s.Len(s.GetPaymob().LinkRequests(), 1)
}

func (s *PaymentLinkServiceSuite) TestRequestPaymentLinkForPaidInvoice() {
	inv := s.storedInvoice()
	inv.InvoiceStatus = types.InvoiceStatusPaid
	s.Require().NoError(s.GetStores().InvoiceRepo.Update(s.GetContext(), inv))

	_, err := s.service.RequestPaymentLink(s.GetContext(), s.inv.ID)
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
	s.Empty(s.GetPaymob().LinkRequests())
}

func (s *PaymentLinkServiceSuite) TestProcessMessage() {
	handler := s.service.(*paymentLinkService)

	s.Run("tenant_mismatch_is_dropped", func() {
		payload, err := json.Marshal(PaymentLinkMessage{TenantID: "tenant_other", InvoiceID: s.inv.ID})
		s.Require().NoError(err)
		msg := message.NewMessage("msg_1", payload)
		msg.Metadata.Set("tenant_id", testutil.TestTenantID)

		s.NoError(handler.processMessage(msg))
		s.Empty(s.GetPaymob().LinkRequests())
	})

	s.Run("malformed_payload_is_dropped", func() {
		msg := message.NewMessage("msg_2", []byte("{not json"))
		msg.Metadata.Set("tenant_id", testutil.TestTenantID)

		s.NoError(handler.processMessage(msg))
		s.Empty(s.GetPaymob().LinkRequests())
	})

	s.Run("generates_link_in_message_tenant", func() {
		payload, err := json.Marshal(PaymentLinkMessage{TenantID: testutil.TestTenantID, InvoiceID: s.inv.ID})
		s.Require().NoError(err)
		msg := message.NewMessage("msg_3", payload)
		msg.Metadata.Set("tenant_id", testutil.TestTenantID)

		s.NoError(handler.processMessage(msg))
		s.Len(s.GetPaymob().LinkRequests(), 1)
		s.Equal(types.PaymentLinkStatusGenerated, s.storedInvoice().PaymentLinkStatus)
	})
}
