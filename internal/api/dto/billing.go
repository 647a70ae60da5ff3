package dto

import "time"

// BillingPhaseResult counts one scheduler phase
type BillingPhaseResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// BillingCycleResponse summarizes one scheduler run
type BillingCycleResponse struct {
	StartedAt     time.Time          `json:"started_at"`
	CompletedAt   time.Time          `json:"completed_at"`
	Trials        BillingPhaseResult `json:"trials"`
	Renewals      BillingPhaseResult `json:"renewals"`
	Cancellations BillingPhaseResult `json:"cancellations"`
}
