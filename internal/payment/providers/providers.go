// Package providers wires the bundled adapters into a registry.
package providers

import (
	"easyswitch/internal/payment"
	"easyswitch/internal/payment/providers/airtel"
	"easyswitch/internal/payment/providers/paystack"
	"easyswitch/internal/payment/providers/semoa"
)

// Factories returns the factory of every bundled adapter.
func Factories() []payment.AdapterFactory {
	return []payment.AdapterFactory{
		semoa.Factory,
		paystack.Factory,
		airtel.Factory,
	}
}

// RegisterAll registers every bundled adapter in reg. It stops at the
// first registration error, typically a duplicate.
func RegisterAll(reg *payment.Registry) error {
	for _, f := range Factories() {
		if err := reg.Register(f); err != nil {
			return err
		}
	}
	return nil
}
