package dto

// Quota check reasons
const (
	QuotaReasonOverage  = "overage"
	QuotaReasonExceeded = "quota_exceeded"
)

// QuotaCheckResponse tells an agent runtime whether one more execution may run
type QuotaCheckResponse struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
	Remaining int64  `json:"remaining"`
	Used      int64  `json:"used"`
	Quota     int64  `json:"quota"`
}
