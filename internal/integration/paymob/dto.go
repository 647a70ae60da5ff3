package paymob

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// CallbackTypeTransaction is the only callback type reconciled
	CallbackTypeTransaction = "TRANSACTION"

	// DefaultBillingValue fills billing fields the gateway requires but we do not collect
	DefaultBillingValue = "NA"

	pathAuthTokens  = "/api/auth/tokens"
	pathOrders      = "/api/ecommerce/orders"
	pathPaymentKeys = "/api/acceptance/payment_keys"
	pathIframe      = "/api/acceptance/iframes/%d?payment_token=%s"

	merchantOrderSeparator = "_"
)

type authRequest struct {
	APIKey string `json:"api_key"`
}

type authResponse struct {
	Token string `json:"token"`
}

// OrderItem is one item of a gateway order
type OrderItem struct {
	Name        string `json:"name"`
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
}

// OrderRequest registers an order whose merchant_order_id is our invoice number
type OrderRequest struct {
	AmountCents     int64       `json:"amount_cents"`
	Currency        string      `json:"currency"`
	MerchantOrderID string      `json:"merchant_order_id"`
	Items           []OrderItem `json:"items"`
}

type orderPayload struct {
	AuthToken      string `json:"auth_token"`
	DeliveryNeeded bool   `json:"delivery_needed"`
	OrderRequest
}

type orderResponse struct {
	ID int64 `json:"id"`
}

// BillingData is required by the payment key endpoint
type BillingData struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
	Apartment   string `json:"apartment"`
	Floor       string `json:"floor"`
	Street      string `json:"street"`
	Building    string `json:"building"`
	City        string `json:"city"`
	Country     string `json:"country"`
	State       string `json:"state"`
	PostalCode  string `json:"postal_code"`
}

// DefaultBillingData returns billing data with every field set to the placeholder
func DefaultBillingData() BillingData {
	return BillingData{
		FirstName:   DefaultBillingValue,
		LastName:    DefaultBillingValue,
		Email:       DefaultBillingValue,
		PhoneNumber: DefaultBillingValue,
		Apartment:   DefaultBillingValue,
		Floor:       DefaultBillingValue,
		Street:      DefaultBillingValue,
		Building:    DefaultBillingValue,
		City:        DefaultBillingValue,
		Country:     DefaultBillingValue,
		State:       DefaultBillingValue,
		PostalCode:  DefaultBillingValue,
	}
}

// PaymentKeyRequest asks for a payment token bound to an order
type PaymentKeyRequest struct {
	OrderID     int64
	AmountCents int64
	Currency    string
	Billing     BillingData
}

type paymentKeyPayload struct {
	AuthToken     string      `json:"auth_token"`
	AmountCents   int64       `json:"amount_cents"`
	Expiration    int         `json:"expiration"`
	OrderID       int64       `json:"order_id"`
	BillingData   BillingData `json:"billing_data"`
	Currency      string      `json:"currency"`
	IntegrationID int         `json:"integration_id"`
}

type paymentKeyResponse struct {
	Token string `json:"token"`
}

// PaymentLinkRequest is everything needed to produce a hosted payment URL.
// Reference distinguishes attempts for the same invoice since the gateway
// rejects a reused merchant_order_id.
type PaymentLinkRequest struct {
	InvoiceNumber string
	Reference     string
	Amount        decimal.Decimal
	Currency      string
	Items         []OrderItem
	Billing       *BillingData
}

// PaymentLink is the outcome of the auth, order and key sequence
type PaymentLink struct {
	OrderID      int64
	PaymentToken string
	URL          string
}

// TransactionCallback is the processed transaction callback body
type TransactionCallback struct {
	Type string            `json:"type"`
	Obj  TransactionObject `json:"obj"`
}

// TransactionObject carries the fields signed by the gateway plus the order reference
type TransactionObject struct {
	ID                   int64      `json:"id"`
	Pending              bool       `json:"pending"`
	AmountCents          int64      `json:"amount_cents"`
	Success              bool       `json:"success"`
	IsAuth               bool       `json:"is_auth"`
	IsCapture            bool       `json:"is_capture"`
	IsStandalonePayment  bool       `json:"is_standalone_payment"`
	IsVoided             bool       `json:"is_voided"`
	IsRefunded           bool       `json:"is_refunded"`
	Is3DSecure           bool       `json:"is_3d_secure"`
	IntegrationID        int64      `json:"integration_id"`
	HasParentTransaction bool       `json:"has_parent_transaction"`
	Order                Order      `json:"order"`
	CreatedAt            string     `json:"created_at"`
	Currency             string     `json:"currency"`
	ErrorOccured         bool       `json:"error_occured"`
	Owner                int64      `json:"owner"`
	SourceData           SourceData `json:"source_data"`
}

type Order struct {
	ID              int64  `json:"id"`
	MerchantOrderID string `json:"merchant_order_id"`
}

// InvoiceNumber strips the attempt reference from merchant_order_id
func (o Order) InvoiceNumber() string {
	number, _, _ := strings.Cut(o.MerchantOrderID, merchantOrderSeparator)
	return number
}

// MerchantOrderID joins an invoice number and an attempt reference
func MerchantOrderID(invoiceNumber, reference string) string {
	if reference == "" {
		return invoiceNumber
	}
	return invoiceNumber + merchantOrderSeparator + reference
}

type SourceData struct {
	Pan     string `json:"pan"`
	Type    string `json:"type"`
	SubType string `json:"sub_type"`
}

// TransactionID renders the gateway transaction id as stored in our ledger
func (o *TransactionObject) TransactionID() string {
	return strconv.FormatInt(o.ID, 10)
}

// Amount converts amount_cents back to major units
func (o *TransactionObject) Amount() decimal.Decimal {
	return CentsToAmount(o.AmountCents)
}

// AmountToCents converts a major unit amount to integer cents, rounding half away from zero
func AmountToCents(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// CentsToAmount converts integer cents to a major unit amount
func CentsToAmount(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
