package payment

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := NewValidationError("amount", "too small")

	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(err, ErrNetwork))
	assert.Equal(t, "amount", err.Field)
	assert.Equal(t, "amount", err.Details["field"])
	assert.Equal(t, "validation_error", err.Code)
}

func TestError_APISubKinds(t *testing.T) {
	raw := map[string]any{"message": "insufficient funds"}
	err := NewAPIError(KindBalance, ProviderAirtel, 402, raw, "insufficient funds")

	assert.True(t, errors.Is(err, ErrBalance))
	assert.True(t, errors.Is(err, ErrAPI))
	assert.False(t, errors.Is(err, ErrPayment))
	assert.Equal(t, 402, err.Details["status_code"])
	assert.Equal(t, "AIRTEL: insufficient funds", err.Error())

	notAPI := NewAPIError(KindValidation, ProviderAirtel, 400, nil, "x")
	assert.Equal(t, KindAPI, notAPI.Kind)
}

func TestError_Wrapped(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := fmt.Errorf("send payment: %w", NewNetworkError(ProviderPaystack, cause))

	assert.True(t, errors.Is(err, ErrNetwork))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.Contains(t, err.Error(), "PAYSTACK: network communication failed: dial tcp: timeout")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", NewNetworkError(ProviderSemoa, errors.New("reset")), true},
		{"rate limit", NewAPIError(KindRateLimit, ProviderSemoa, 429, nil, "slow"), true},
		{"validation", NewValidationError("amount", "x"), false},
		{"authentication", NewAuthenticationError(ProviderSemoa, "bad key"), false},
		{"unsupported", NewUnsupportedOperationError(ProviderSemoa, "refund"), false},
		{"payment", NewAPIError(KindPayment, ProviderSemoa, 400, nil, "declined"), false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestAsKind(t *testing.T) {
	api := NewAPIError(KindAPI, ProviderPaystack, 400, map[string]any{"message": "no"}, "API error 400")

	relabeled := AsKind(api, KindRefund, "refund failed")
	assert.True(t, errors.Is(relabeled, ErrRefund))
	assert.True(t, errors.Is(relabeled, ErrAPI))

	var e *Error
	assert.True(t, errors.As(relabeled, &e))
	assert.Equal(t, 400, e.StatusCode)
	assert.Equal(t, "no", e.RawResponse["message"])

	network := NewNetworkError(ProviderPaystack, errors.New("x"))
	assert.Same(t, network, AsKind(network, KindRefund, "refund failed"))

	limited := NewAPIError(KindRateLimit, ProviderPaystack, 429, nil, "slow")
	assert.True(t, errors.Is(AsKind(limited, KindRefund, "refund failed"), ErrRateLimit))
}

func TestParseProviderAndCurrency(t *testing.T) {
	p, err := ParseProvider(" paystack ")
	assert.NoError(t, err)
	assert.Equal(t, ProviderPaystack, p)

	_, err = ParseProvider("stripe")
	assert.True(t, errors.Is(err, ErrInvalidProvider))

	c, err := ParseCurrency("xof")
	assert.NoError(t, err)
	assert.Equal(t, CurrencyXOF, c)

	_, err = ParseCurrency("JPY")
	assert.True(t, errors.Is(err, ErrValidation))
}
