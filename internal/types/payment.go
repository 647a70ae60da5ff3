package types

import (
	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/samber/lo"
)

// TransactionStatus is the status of a gateway payment transaction
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusRefunded  TransactionStatus = "refunded"
)

func (s TransactionStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the status is a final gateway outcome
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted ||
		s == TransactionStatusFailed ||
		s == TransactionStatusRefunded
}

func (s TransactionStatus) Validate() error {
	allowed := []TransactionStatus{
		TransactionStatusPending,
		TransactionStatusCompleted,
		TransactionStatusFailed,
		TransactionStatusRefunded,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid transaction status").
			WithHint("Invalid transaction status").
			WithReportableDetails(map[string]any{
				"status":  s,
				"allowed": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
