package coupons

import (
	"errors"

	pkgerrors "github.com/muzafey/storefront-backend/pkg/errors"
)

// AsCoded maps a validation sentinel onto the service error taxonomy. Other errors pass
// through unchanged.
func AsCoded(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidCoupon):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid coupon").
			WithDetails(map[string]any{"reason": "InvalidCoupon"})
	case errors.Is(err, ErrCouponExpired):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "coupon has expired").
			WithDetails(map[string]any{"reason": "CouponExpired"})
	case errors.Is(err, ErrCouponExhausted):
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "coupon usage limit reached").
			WithDetails(map[string]any{"reason": "CouponExhausted"})
	default:
		return err
	}
}
