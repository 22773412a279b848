package enums

import (
	"fmt"
	"strings"
)

// PaymentMethod is how the customer chose to pay.
type PaymentMethod string

const (
	PaymentMethodCashOnDelivery PaymentMethod = "CashOnDelivery"
	PaymentMethodManual         PaymentMethod = "Manual"
	PaymentMethodPesapal        PaymentMethod = "Pesapal"
	PaymentMethodMpesa          PaymentMethod = "Mpesa"
)

// PaymentMethodKind decides when stock is reserved for an order.
type PaymentMethodKind string

const (
	// PaymentKindImmediate reserves stock when the order is created.
	PaymentKindImmediate PaymentMethodKind = "Immediate"
	// PaymentKindDeferredGateway reserves stock when the gateway confirms payment.
	PaymentKindDeferredGateway PaymentMethodKind = "DeferredGateway"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodCashOnDelivery,
	PaymentMethodManual,
	PaymentMethodPesapal,
	PaymentMethodMpesa,
}

// String implements fmt.Stringer.
func (m PaymentMethod) String() string {
	return string(m)
}

// IsValid reports whether the value is a known PaymentMethod.
func (m PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// Kind maps the method to its reservation policy.
func (m PaymentMethod) Kind() PaymentMethodKind {
	switch m {
	case PaymentMethodPesapal, PaymentMethodMpesa:
		return PaymentKindDeferredGateway
	default:
		return PaymentKindImmediate
	}
}

// IsDeferred is shorthand for Kind() == PaymentKindDeferredGateway.
func (m PaymentMethod) IsDeferred() bool {
	return m.Kind() == PaymentKindDeferredGateway
}

// ParsePaymentMethod converts raw input into a PaymentMethod. Matching is case-insensitive
// so "mpesa" and "M-Pesa" style inputs from older clients still resolve.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(value), "-", "")
	for _, candidate := range validPaymentMethods {
		if strings.EqualFold(string(candidate), normalized) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}
