package payment

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can branch without reading text.
type ErrorKind string

const (
	KindConfiguration        ErrorKind = "configuration_error"
	KindAuthentication       ErrorKind = "authentication_error"
	KindInvalidRequest       ErrorKind = "invalid_request"
	KindValidation           ErrorKind = "validation_error"
	KindNetwork              ErrorKind = "network_error"
	KindAPI                  ErrorKind = "api_error"
	KindRateLimit            ErrorKind = "rate_limit"
	KindPayment              ErrorKind = "payment_error"
	KindRefund               ErrorKind = "refund_error"
	KindCancellation         ErrorKind = "cancellation_error"
	KindCustomer             ErrorKind = "customer_error"
	KindCurrency             ErrorKind = "currency_error"
	KindBalance              ErrorKind = "balance_error"
	KindWebhook              ErrorKind = "webhook_error"
	KindWebhookValidation    ErrorKind = "webhook_validation_error"
	KindInvalidProvider      ErrorKind = "invalid_provider"
	KindUnsupportedOperation ErrorKind = "unsupported_operation"
	KindTransactionNotFound  ErrorKind = "transaction_not_found"
	KindDuplicateSubmission  ErrorKind = "duplicate_submission"
)

// isAPIKind reports whether k is returned by a remote service.
func (k ErrorKind) isAPIKind() bool {
	switch k {
	case KindAPI, KindRateLimit, KindPayment, KindRefund, KindCancellation,
		KindCustomer, KindCurrency, KindBalance, KindWebhook:
		return true
	}
	return false
}

// Error is the single error type surfaced by adapters, the registry and the
// transport.
type Error struct {
	Kind        ErrorKind
	Message     string
	Code        string
	Field       string
	Provider    Provider
	StatusCode  int
	RawResponse map[string]any
	Details     map[string]any
	Err         error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Provider != "" {
		msg = fmt.Sprintf("%s: %s", e.Provider, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind. Any API sub-kind also matches ErrAPI.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindAPI && e.Kind.isAPIKind()
}

var (
	ErrConfiguration        = &Error{Kind: KindConfiguration}
	ErrAuthentication       = &Error{Kind: KindAuthentication}
	ErrInvalidRequest       = &Error{Kind: KindInvalidRequest}
	ErrValidation           = &Error{Kind: KindValidation}
	ErrNetwork              = &Error{Kind: KindNetwork}
	ErrAPI                  = &Error{Kind: KindAPI}
	ErrRateLimit            = &Error{Kind: KindRateLimit}
	ErrPayment              = &Error{Kind: KindPayment}
	ErrRefund               = &Error{Kind: KindRefund}
	ErrCancellation         = &Error{Kind: KindCancellation}
	ErrCustomer             = &Error{Kind: KindCustomer}
	ErrCurrency             = &Error{Kind: KindCurrency}
	ErrBalance              = &Error{Kind: KindBalance}
	ErrWebhook              = &Error{Kind: KindWebhook}
	ErrWebhookValidation    = &Error{Kind: KindWebhookValidation}
	ErrInvalidProvider      = &Error{Kind: KindInvalidProvider}
	ErrUnsupportedOperation = &Error{Kind: KindUnsupportedOperation}
	ErrTransactionNotFound  = &Error{Kind: KindTransactionNotFound}
	ErrDuplicateSubmission  = &Error{Kind: KindDuplicateSubmission}
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StatusCodeOf returns the HTTP status carried by err, or 0.
func StatusCodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// IsRetryable reports whether retrying the same call may change the outcome.
// Only network failures and rate limiting qualify.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindRateLimit:
		return true
	}
	return false
}

func NewConfigurationError(msg string) *Error {
	return &Error{Kind: KindConfiguration, Message: msg, Code: string(KindConfiguration)}
}

func NewAuthenticationError(provider Provider, msg string) *Error {
	return &Error{Kind: KindAuthentication, Message: msg, Code: string(KindAuthentication), Provider: provider}
}

func NewValidationError(field, msg string) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: msg,
		Code:    string(KindValidation),
		Field:   field,
		Details: map[string]any{"field": field},
	}
}

func NewNetworkError(provider Provider, err error) *Error {
	return &Error{
		Kind:     KindNetwork,
		Message:  "network communication failed",
		Code:     string(KindNetwork),
		Provider: provider,
		Err:      err,
	}
}

// NewAPIError builds an error for a structured failure returned by the
// provider. kind must be KindAPI or one of its sub-kinds.
func NewAPIError(kind ErrorKind, provider Provider, statusCode int, raw map[string]any, msg string) *Error {
	if !kind.isAPIKind() {
		kind = KindAPI
	}
	return &Error{
		Kind:        kind,
		Message:     msg,
		Code:        string(kind),
		Provider:    provider,
		StatusCode:  statusCode,
		RawResponse: raw,
		Details: map[string]any{
			"status_code":  statusCode,
			"provider":     string(provider),
			"raw_response": raw,
		},
	}
}

// AsKind re-labels an API error under a more specific sub-kind, keeping its
// status code and raw response. Non-API errors are returned unchanged.
func AsKind(err error, kind ErrorKind, msg string) error {
	var e *Error
	if !errors.As(err, &e) || !e.Kind.isAPIKind() || e.Kind == KindRateLimit {
		return err
	}
	out := NewAPIError(kind, e.Provider, e.StatusCode, e.RawResponse, msg)
	out.Err = e
	return out
}

func NewInvalidProviderError(key string) *Error {
	return &Error{
		Kind:    KindInvalidProvider,
		Message: fmt.Sprintf("provider %q is not supported", key),
		Code:    string(KindInvalidProvider),
		Details: map[string]any{"provider": key},
	}
}

func NewUnsupportedOperationError(provider Provider, operation string) *Error {
	return &Error{
		Kind:     KindUnsupportedOperation,
		Message:  fmt.Sprintf("%s is not supported", operation),
		Code:     string(KindUnsupportedOperation),
		Provider: provider,
		Details:  map[string]any{"operation": operation},
	}
}

func NewTransactionNotFoundError(provider Provider, transactionID string) *Error {
	return &Error{
		Kind:     KindTransactionNotFound,
		Message:  fmt.Sprintf("transaction %q not found", transactionID),
		Code:     string(KindTransactionNotFound),
		Provider: provider,
		Details:  map[string]any{"transaction_id": transactionID},
	}
}

func NewWebhookValidationError(provider Provider, msg string) *Error {
	return &Error{Kind: KindWebhookValidation, Message: msg, Code: string(KindWebhookValidation), Provider: provider}
}

// NewDuplicateSubmissionError reports a send that is already in flight or
// done. Callers should reconcile with CheckStatus instead of re-sending.
func NewDuplicateSubmissionError(provider Provider, transactionID string) *Error {
	return &Error{
		Kind:     KindDuplicateSubmission,
		Message:  fmt.Sprintf("transaction %q was already submitted", transactionID),
		Code:     string(KindDuplicateSubmission),
		Provider: provider,
		Details:  map[string]any{"transaction_id": transactionID},
	}
}
