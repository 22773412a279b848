// Package coupons validates discount codes and tracks their usage.
package coupons

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/muzafey/storefront-backend/pkg/db/models"
	"github.com/muzafey/storefront-backend/pkg/enums"
)

var (
	ErrInvalidCoupon   = errors.New("invalid coupon")
	ErrCouponExpired   = errors.New("coupon expired")
	ErrCouponExhausted = errors.New("coupon exhausted")
)

var hundred = decimal.NewFromInt(100)

// NormalizeCode returns the stored form of a customer-supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks that coupon may be applied at now. It does not consume a use.
func Validate(coupon *models.Coupon, now time.Time) error {
	if coupon == nil || !coupon.Active {
		return ErrInvalidCoupon
	}
	if coupon.ExpiresAt != nil && !now.Before(*coupon.ExpiresAt) {
		return ErrCouponExpired
	}
	if coupon.MaxUses > 0 && coupon.UsedCount >= coupon.MaxUses {
		return ErrCouponExhausted
	}
	return nil
}

// Discount returns the amount coupon takes off total, never more than total.
func Discount(coupon *models.Coupon, total decimal.Decimal) decimal.Decimal {
	if coupon == nil || !total.IsPositive() {
		return decimal.Zero
	}

	var off decimal.Decimal
	switch coupon.DiscountType {
	case enums.DiscountTypePercentage:
		pct := decimal.Min(coupon.DiscountValue, hundred)
		off = total.Mul(pct).Div(hundred).Round(2)
	case enums.DiscountTypeFixed:
		off = coupon.DiscountValue
	default:
		return decimal.Zero
	}

	if off.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(off, total)
}
