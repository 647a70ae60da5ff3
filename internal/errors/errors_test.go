package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusFromErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NewError("invoice missing").Mark(ErrNotFound), http.StatusNotFound},
		{"conflict", NewError("duplicate").Mark(ErrAlreadyExists), http.StatusConflict},
		{"validation", NewError("bad").Mark(ErrValidation), http.StatusBadRequest},
		{"quota", NewError("over").Mark(ErrQuotaExceeded), http.StatusPaymentRequired},
		{"gateway", NewError("down").Mark(ErrGateway), http.StatusBadGateway},
		{"signature", NewError("hmac").Mark(ErrInvalidSignature), http.StatusBadRequest},
		{"invariant", NewError("total").Mark(ErrInvariantViolation), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("ctx: %w", NewError("x").Mark(ErrNotFound)), http.StatusNotFound},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusFromErr(tt.err))
		})
	}
}

func TestBuilderKeepsHintAndMark(t *testing.T) {
	err := WithError(errors.New("pq: duplicate key")).
		WithHint("Invoice already exists").
		WithReportableDetails(map[string]any{"invoice_number": "INV-20240101-00001"}).
		Mark(ErrAlreadyExists)

	assert.True(t, IsAlreadyExists(err))
	assert.False(t, IsNotFound(err))
	assert.Contains(t, errors.GetAllHints(err), "Invoice already exists")
}
