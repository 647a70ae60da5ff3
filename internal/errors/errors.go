package errors

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Sentinel errors. Wrap with the builder and Mark one of these so that
// callers and the HTTP layer can classify the failure.
var (
	ErrNotFound           = New(ErrCodeNotFound, "resource not found")
	ErrAlreadyExists      = New(ErrCodeAlreadyExists, "resource already exists")
	ErrVersionConflict    = New(ErrCodeVersionConflict, "version conflict")
	ErrValidation         = New(ErrCodeValidation, "validation error")
	ErrInvalidOperation   = New(ErrCodeInvalidOperation, "invalid operation")
	ErrPermissionDenied   = New(ErrCodePermissionDenied, "permission denied")
	ErrHTTPClient         = New(ErrCodeHTTPClient, "http client error")
	ErrDatabase           = New(ErrCodeDatabase, "database error")
	ErrSystem             = New(ErrCodeSystemError, "system error")
	ErrQuotaExceeded      = New(ErrCodeQuotaExceeded, "quota exceeded")
	ErrGateway            = New(ErrCodeGateway, "payment gateway error")
	ErrInvariantViolation = New(ErrCodeInvariantViolation, "invariant violation")
	ErrInvalidSignature   = New(ErrCodeInvalidSignature, "invalid signature")

	// maps errors to http status codes
	statusCodeMap = []struct {
		err    error
		status int
	}{
		// signature and quota first: they are the most specific classification
		{ErrInvalidSignature, http.StatusBadRequest},
		{ErrQuotaExceeded, http.StatusPaymentRequired},
		{ErrNotFound, http.StatusNotFound},
		{ErrAlreadyExists, http.StatusConflict},
		{ErrVersionConflict, http.StatusConflict},
		{ErrValidation, http.StatusBadRequest},
		{ErrInvalidOperation, http.StatusBadRequest},
		{ErrPermissionDenied, http.StatusForbidden},
		{ErrGateway, http.StatusBadGateway},
		{ErrHTTPClient, http.StatusInternalServerError},
		{ErrDatabase, http.StatusInternalServerError},
		{ErrInvariantViolation, http.StatusInternalServerError},
		{ErrSystem, http.StatusInternalServerError},
	}
)

const (
	ErrCodeHTTPClient         = "http_client_error"
	ErrCodeSystemError        = "system_error"
	ErrCodeNotFound           = "not_found"
	ErrCodeAlreadyExists      = "already_exists"
	ErrCodeVersionConflict    = "version_conflict"
	ErrCodeValidation         = "validation_error"
	ErrCodeInvalidOperation   = "invalid_operation"
	ErrCodePermissionDenied   = "permission_denied"
	ErrCodeDatabase           = "database_error"
	ErrCodeQuotaExceeded      = "quota_exceeded"
	ErrCodeGateway            = "gateway_error"
	ErrCodeInvariantViolation = "invariant_violation"
	ErrCodeInvalidSignature   = "invalid_signature"
)

// InternalError represents a domain error
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Op      string // Logical operation name
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.DisplayError()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) DisplayError() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

// New creates a new InternalError
func New(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func Is(err, reference error) bool {
	return errors.Is(err, reference)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsVersionConflict checks if an error is a version conflict error
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInvalidOperation checks if an error is an invalid operation error
func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

// IsPermissionDenied checks if an error is a permission denied error
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// IsHTTPClient checks if an error is an http client error
func IsHTTPClient(err error) bool {
	return errors.Is(err, ErrHTTPClient)
}

// IsDatabase checks if an error is a database error
func IsDatabase(err error) bool {
	return errors.Is(err, ErrDatabase)
}

// IsQuotaExceeded checks if an error is a quota exceeded error
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// IsGateway checks if an error came from the payment gateway
func IsGateway(err error) bool {
	return errors.Is(err, ErrGateway)
}

// IsInvariantViolation checks if an error is an invariant violation
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrInvariantViolation)
}

// IsInvalidSignature checks if an error is a webhook signature mismatch
func IsInvalidSignature(err error) bool {
	return errors.Is(err, ErrInvalidSignature)
}

func HTTPStatusFromErr(err error) int {
	for _, m := range statusCodeMap {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}
