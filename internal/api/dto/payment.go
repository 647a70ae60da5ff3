package dto

// WebhookResult is returned to the gateway after a callback is processed
type WebhookResult struct {
	Success          bool   `json:"success"`
	AlreadyProcessed bool   `json:"already_processed"`
	InvoiceID        string `json:"invoice_id,omitempty"`
	Outcome          string `json:"outcome,omitempty"`
}

// PaymentLinkResponse reports the state of an invoice's hosted payment link
type PaymentLinkResponse struct {
	InvoiceID         string  `json:"invoice_id"`
	PaymentLinkStatus string  `json:"payment_link_status"`
	PaymentLinkURL    *string `json:"payment_link_url,omitempty"`
}

// PaymentLinkRetryResponse summarizes one retry sweep
type PaymentLinkRetryResponse struct {
	Requeued int `json:"requeued"`
}
