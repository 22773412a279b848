package enums

import "testing"

func TestOrderStatusTransitionTable(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		allowed  bool
	}{
		{OrderStatusPending, OrderStatusProcessing, true},
		{OrderStatusPending, OrderStatusFailed, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusPending, OrderStatusShipped, false},
		{OrderStatusProcessing, OrderStatusShipped, true},
		{OrderStatusProcessing, OrderStatusCancelled, true},
		{OrderStatusProcessing, OrderStatusFailed, false},
		{OrderStatusProcessing, OrderStatusPending, false},
		{OrderStatusShipped, OrderStatusDelivered, true},
		{OrderStatusShipped, OrderStatusCancelled, false},
		{OrderStatusFailed, OrderStatusProcessing, false},
		{OrderStatusCancelled, OrderStatusProcessing, false},
		{OrderStatusDelivered, OrderStatusShipped, false},
		{OrderStatus("Bogus"), OrderStatusProcessing, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.allowed {
			t.Fatalf("%s -> %s: expected %v got %v", tt.from, tt.to, tt.allowed, got)
		}
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	for _, status := range []OrderStatus{OrderStatusFailed, OrderStatusCancelled, OrderStatusDelivered} {
		if !status.IsTerminal() {
			t.Fatalf("expected %s to be terminal", status)
		}
	}
	for _, status := range []OrderStatus{OrderStatusPending, OrderStatusProcessing, OrderStatusShipped} {
		if status.IsTerminal() {
			t.Fatalf("expected %s to have outgoing transitions", status)
		}
	}
}

func TestEveryStatusHasTableEntry(t *testing.T) {
	for _, status := range validOrderStatuses {
		if _, ok := orderTransitions[status]; !ok {
			t.Fatalf("status %s missing from transition table", status)
		}
	}
}

func TestPaymentMethodKind(t *testing.T) {
	tests := map[string]PaymentMethodKind{
		"Pesapal":        PaymentKindDeferredGateway,
		"mpesa":          PaymentKindDeferredGateway,
		"M-Pesa":         PaymentKindDeferredGateway,
		"CashOnDelivery": PaymentKindImmediate,
		"manual":         PaymentKindImmediate,
	}
	for raw, want := range tests {
		method, err := ParsePaymentMethod(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if method.Kind() != want {
			t.Fatalf("%q: expected %s got %s", raw, want, method.Kind())
		}
	}
	if _, err := ParsePaymentMethod("bitcoin"); err == nil {
		t.Fatal("expected unknown payment method to fail")
	}
}
