package payment

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Constraints are the limits an adapter declares for outgoing transactions.
type Constraints struct {
	Currencies []Currency
	MinAmount  map[Currency]decimal.Decimal
	MaxAmount  map[Currency]decimal.Decimal
	// RequiredCustomerFields lists json field names of CustomerInfo that must
	// be present, on top of the phone number.
	RequiredCustomerFields []string
}

func (c Constraints) Supports(currency Currency) bool {
	for _, cur := range c.Currencies {
		if cur == currency {
			return true
		}
	}
	return false
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateTransaction checks tx against c and returns the first violation
// as a ValidationError. Checks run in a fixed order: currency, amount,
// customer fields.
func ValidateTransaction(tx TransactionDetail, c Constraints) error {
	if !tx.Currency.Valid() || !c.Supports(tx.Currency) {
		return NewValidationError("currency", fmt.Sprintf("currency %q is not supported", tx.Currency))
	}

	if !tx.Amount.IsPositive() {
		return NewValidationError("amount", "amount must be greater than zero")
	}
	if lo, ok := c.MinAmount[tx.Currency]; ok && tx.Amount.LessThan(lo) {
		return NewValidationError("amount", fmt.Sprintf("amount %s is below the minimum %s %s", tx.Amount, lo, tx.Currency))
	}
	if hi, ok := c.MaxAmount[tx.Currency]; ok && tx.Amount.GreaterThan(hi) {
		return NewValidationError("amount", fmt.Sprintf("amount %s is above the maximum %s %s", tx.Amount, hi, tx.Currency))
	}

	if tx.TransactionType() == TransactionRefund {
		return nil
	}
	return validateCustomer(tx.Customer, c.RequiredCustomerFields)
}

func validateCustomer(customer *CustomerInfo, required []string) error {
	if customer == nil {
		return NewValidationError("customer", "customer information is required")
	}

	phone := NormalizePhone(customer.PhoneNumber)
	if phone == "" {
		return NewValidationError("phone_number", "customer phone number is required")
	}
	for _, field := range required {
		if customerField(customer, field) == "" {
			return NewValidationError(field, fmt.Sprintf("customer %s is required", field))
		}
	}

	if !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}
	if err := validate.Var(phone, "e164"); err != nil {
		return NewValidationError("phone_number", fmt.Sprintf("phone number %q is not in E.164 format", customer.PhoneNumber))
	}
	normalized := *customer
	normalized.Country = strings.ToUpper(strings.TrimSpace(customer.Country))
	if err := validate.Struct(&normalized); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return NewValidationError(verrs[0].Field(), fmt.Sprintf("customer %s failed %q", verrs[0].Field(), verrs[0].Tag()))
		}
		return NewValidationError("customer", err.Error())
	}
	return nil
}

func customerField(c *CustomerInfo, field string) string {
	switch field {
	case "phone_number":
		return c.PhoneNumber
	case "first_name":
		return c.FirstName
	case "last_name":
		return c.LastName
	case "email":
		return c.Email
	case "address":
		return c.Address
	case "city":
		return c.City
	case "country":
		return c.Country
	case "postal_code":
		return c.PostalCode
	case "state":
		return c.State
	case "id":
		return c.ID
	}
	return ""
}

// NormalizePhone strips formatting characters and turns a leading 00 into +.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(phone) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if strings.HasPrefix(out, "00") {
		out = "+" + out[2:]
	}
	return out
}
