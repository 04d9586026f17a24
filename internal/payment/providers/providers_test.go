package providers

import (
	"errors"
	"testing"

	"easyswitch/internal/payment"
	"easyswitch/internal/payment/providers/paystack"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAll(t *testing.T) {
	reg := payment.NewRegistry()
	require.NoError(t, RegisterAll(reg))

	assert.Equal(t, []string{"airtel", "paystack", "semoa"}, reg.List())

	f, err := reg.Get("PAYSTACK")
	require.NoError(t, err)
	assert.Same(t, paystack.Factory, f)
}

func TestRegisterAll_Twice(t *testing.T) {
	reg := payment.NewRegistry()
	require.NoError(t, RegisterAll(reg))

	err := RegisterAll(reg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, payment.ErrDuplicateProvider))
}

func TestFactoriesMatchProviders(t *testing.T) {
	for _, f := range Factories() {
		assert.True(t, f.Provider().Valid(), f.Provider())
	}
}
