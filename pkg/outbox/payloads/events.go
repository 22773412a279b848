// Package payloads holds the data bodies carried inside outbox envelopes.
package payloads

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/muzafey/storefront-backend/pkg/enums"
)

// OrderCreatedEvent is emitted when an order is placed.
type OrderCreatedEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	UserID        uuid.UUID           `json:"user_id"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	Status        enums.OrderStatus   `json:"status"`
	FinalAmount   decimal.Decimal     `json:"final_amount"`
	StockReserved bool                `json:"stock_reserved"`
	CouponCode    *string             `json:"coupon_code,omitempty"`
}

// OrderPaidEvent is emitted once per order when payment is confirmed, by the gateway or
// by an admin.
type OrderPaidEvent struct {
	OrderID       uuid.UUID               `json:"order_id"`
	UserID        uuid.UUID               `json:"user_id"`
	Amount        decimal.Decimal         `json:"amount"`
	Source        enums.TransactionStatus `json:"source"`
	TransactionID uuid.UUID               `json:"transaction_id"`
	TrackingID    *string                 `json:"tracking_id,omitempty"`
}

// OrderPaymentFailedEvent is emitted when the gateway reports a non-success status or the
// order could not be granted stock.
type OrderPaymentFailedEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	UserID        uuid.UUID `json:"user_id"`
	Reason        string    `json:"reason"`
	TransactionID uuid.UUID `json:"transaction_id"`
	TrackingID    *string   `json:"tracking_id,omitempty"`
}

// OrderStatusChangedEvent records any other lifecycle move.
type OrderStatusChangedEvent struct {
	OrderID  uuid.UUID         `json:"order_id"`
	UserID   uuid.UUID         `json:"user_id"`
	Previous enums.OrderStatus `json:"previous"`
	Current  enums.OrderStatus `json:"current"`
}

// OrderExpiredEvent is emitted when an abandoned gateway order is cancelled.
type OrderExpiredEvent struct {
	OrderID uuid.UUID `json:"order_id"`
	UserID  uuid.UUID `json:"user_id"`
}

// OrderDeletedEvent is emitted when an order is removed.
type OrderDeletedEvent struct {
	OrderID       uuid.UUID         `json:"order_id"`
	UserID        uuid.UUID         `json:"user_id"`
	Status        enums.OrderStatus `json:"status"`
	StockRestored bool              `json:"stock_restored"`
}
