package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/muzafey/storefront-backend/pkg/enums"
)

// ShippingAddress is stored as a JSON document on the order row.
type ShippingAddress struct {
	FullName   string `json:"fullName"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Order is the aggregate root for items and reminders.
type Order struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID            uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index" json:"userId"`
	CustomerEmail     string              `gorm:"column:customer_email" json:"customerEmail,omitempty"`
	CustomerName      string              `gorm:"column:customer_name" json:"customerName,omitempty"`
	ShippingAddress   ShippingAddress     `gorm:"column:shipping_address;type:jsonb;serializer:json;not null" json:"shippingAddress"`
	PaymentMethod     enums.PaymentMethod `gorm:"column:payment_method;type:text;not null" json:"paymentMethod"`
	Status            enums.OrderStatus   `gorm:"column:status;type:text;not null" json:"status"`
	PaymentStatus     enums.PaymentStatus `gorm:"column:payment_status;type:text;not null" json:"paymentStatus"`
	DiscountType      *enums.DiscountType `gorm:"column:discount_type;type:text" json:"discountType,omitempty"`
	DiscountValue     decimal.Decimal     `gorm:"column:discount_value;type:numeric(12,2);not null;default:0" json:"discountValue"`
	CouponCode        *string             `gorm:"column:coupon_code" json:"couponCode,omitempty"`
	TotalPrice        decimal.Decimal     `gorm:"column:total_price;type:numeric(12,2);not null" json:"totalPrice"`
	FinalAmount       decimal.Decimal     `gorm:"column:final_amount;type:numeric(12,2);not null" json:"finalAmount"`
	GatewayTrackingID *string             `gorm:"column:gateway_tracking_id;index" json:"gatewayTrackingId,omitempty"`
	StockReserved     bool                `gorm:"column:stock_reserved;not null;default:false" json:"-"`
	CouponConsumed    bool                `gorm:"column:coupon_consumed;not null;default:false" json:"-"`
	PaidAt            *time.Time          `gorm:"column:paid_at" json:"paidAt,omitempty"`
	Version           int                 `gorm:"column:version;not null;default:1" json:"-"`
	Items             []OrderItem         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items"`
	Reminders         []OrderReminder     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"reminders,omitempty"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// AmountDue is what the customer is asked to pay.
func (o Order) AmountDue() decimal.Decimal {
	if o.FinalAmount.IsPositive() {
		return o.FinalAmount
	}
	return o.TotalPrice
}

// IsPaid reports whether payment has been confirmed.
func (o Order) IsPaid() bool {
	return o.PaymentStatus == enums.PaymentStatusPaid
}

// OrderItem snapshots a product line at order time.
type OrderItem struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID      uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index" json:"-"`
	ProductID    uuid.UUID       `gorm:"column:product_id;type:uuid;not null" json:"productId"`
	ProductName  string          `gorm:"column:product_name;not null" json:"name"`
	Qty          int             `gorm:"column:qty;not null" json:"qty"`
	PriceAtOrder decimal.Decimal `gorm:"column:price_at_order;type:numeric(12,2);not null" json:"price"`
	Position     int             `gorm:"column:position;not null" json:"-"`
}

// OrderReminder is an append-only payment reminder; only Read ever changes.
type OrderReminder struct {
	ID      uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID uuid.UUID `gorm:"column:order_id;type:uuid;not null;index" json:"-"`
	Message string    `gorm:"column:message;not null" json:"message"`
	SentAt  time.Time `gorm:"column:sent_at;not null" json:"sentAt"`
	Read    bool      `gorm:"column:read;not null;default:false" json:"read"`
}
