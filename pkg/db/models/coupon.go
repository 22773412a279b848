package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/muzafey/storefront-backend/pkg/enums"
)

// Coupon codes are stored upper-case; lookups normalise input the same way.
type Coupon struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Code          string             `gorm:"column:code;not null;uniqueIndex:coupons_code_key" json:"code"`
	Active        bool               `gorm:"column:active;not null;default:true" json:"active"`
	ExpiresAt     *time.Time         `gorm:"column:expires_at" json:"expiresAt,omitempty"`
	MaxUses       int                `gorm:"column:max_uses;not null;default:0" json:"maxUses"`
	UsedCount     int                `gorm:"column:used_count;not null;default:0" json:"usedCount"`
	DiscountType  enums.DiscountType `gorm:"column:discount_type;type:text;not null" json:"discountType"`
	DiscountValue decimal.Decimal    `gorm:"column:discount_value;type:numeric(12,2);not null" json:"discountValue"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time          `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}
