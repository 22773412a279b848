package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muzafey/storefront-backend/internal/coupons"
	"github.com/muzafey/storefront-backend/internal/inventory"
	"github.com/muzafey/storefront-backend/pkg/db/models"
	"github.com/muzafey/storefront-backend/pkg/enums"
	pkgerrors "github.com/muzafey/storefront-backend/pkg/errors"
)

func TestNewEngineRequiresDependencies(t *testing.T) {
	_, err := NewEngine(Params{})
	assert.Error(t, err)
}

func TestCreateOrderImmediateReservesStock(t *testing.T) {
	f := newFixture(t)
	productID := f.product(t, 800, 10)

	order := f.place(t, customer(), enums.PaymentMethodCashOnDelivery, productID, 3)

	assert.Equal(t, enums.OrderStatusProcessing, order.Status)
	assert.Equal(t, enums.PaymentStatusUnpaid, order.PaymentStatus)
	assert.True(t, order.StockReserved)
	assert.True(t, order.TotalPrice.Equal(decimal.NewFromInt(2400)))
	assert.True(t, order.FinalAmount.Equal(decimal.NewFromInt(2400)))
	assert.Equal(t, 7, f.stock(t, productID))
	assert.Equal(t, 1, f.events(t, order.ID, enums.EventOrderCreated))
}

func TestCreateOrderDeferredLeavesStock(t *testing.T) {
	f := newFixture(t)
	productID := f.product(t, 800, 10)

	order := f.place(t, customer(), enums.PaymentMethodPesapal, productID, 3)

	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.False(t, order.StockReserved)
	assert.Equal(t, 10, f.stock(t, productID))
}

func TestCreateOrderMergesRepeatedProducts(t *testing.T) {
	f := newFixture(t)
	productID := f.product(t, 100, 4)

	_, err := f.engine.CreateOrder(context.Background(), customer(), CreateOrderInput{
		Items:         []ItemInput{{ProductID: productID, Qty: 3}, {ProductID: productID, Qty: 2}},
		PaymentMethod: enums.PaymentMethodCashOnDelivery,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, inventory.ErrInsufficientStock))
	assert.Equal(t, 4, f.stock(t, productID))
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)
	productID := f.product(t, 100, 1)

	tests := []struct {
		name   string
		input  CreateOrderInput
		code   pkgerrors.Code
		target error
	}{
		{
			name:   "empty",
			input:  CreateOrderInput{PaymentMethod: enums.PaymentMethodPesapal},
			code:   pkgerrors.CodeValidation,
			target: ErrEmptyOrder,
		},
		{
			name:  "zero quantity",
			input: CreateOrderInput{Items: []ItemInput{{ProductID: productID, Qty: 0}}, PaymentMethod: enums.PaymentMethodPesapal},
			code:  pkgerrors.CodeValidation,
		},
		{
			name:  "unknown method",
			input: CreateOrderInput{Items: []ItemInput{{ProductID: productID, Qty: 1}}, PaymentMethod: "Bitcoin"},
			code:  pkgerrors.CodeValidation,
		},
		{
			name:   "missing product",
			input:  CreateOrderInput{Items: []ItemInput{{ProductID: uuid.New(), Qty: 1}}, PaymentMethod: enums.PaymentMethodPesapal},
			code:   pkgerrors.CodeNotFound,
			target: inventory.ErrProductNotFound,
		},
		{
			name:   "insufficient stock",
			input:  CreateOrderInput{Items: []ItemInput{{ProductID: productID, Qty: 2}}, PaymentMethod: enums.PaymentMethodPesapal},
			code:   pkgerrors.CodeConflict,
			target: inventory.ErrInsufficientStock,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreateOrder(context.Background(), customer(), tt.input)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, tt.code), "got %v", err)
			if tt.target != nil {
				assert.True(t, errors.Is(err, tt.target))
			}
		})
	}

	var count int64
	require.NoError(t, f.conn.Model(&models.Order{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Equal(t, 1, f.stock(t, productID))
}

func TestCreateOrderFailureLeavesNoPartialDecrement(t *testing.T) {
	f := newFixture(t)
	plenty := f.product(t, 100, 10)
	scarce := f.product(t, 100, 1)

	_, err := f.engine.CreateOrder(context.Background(), customer(), CreateOrderInput{
		Items:         []ItemInput{{ProductID: plenty, Qty: 2}, {ProductID: scarce, Qty: 2}},
		PaymentMethod: enums.PaymentMethodCashOnDelivery,
	})
	require.Error(t, err)
	assert.Equal(t, 10, f.stock(t, plenty))
	assert.Equal(t, 1, f.stock(t, scarce))
}

func seedCoupon(t *testing.T, f fixture, code string, maxUses, used int, expires *time.Time) *models.Coupon {
	t.Helper()
	coupon := &models.Coupon{
		Code:          code,
		Active:        true,
		MaxUses:       maxUses,
		UsedCount:     used,
		ExpiresAt:     expires,
		DiscountType:  enums.DiscountTypePercentage,
		DiscountValue: decimal.NewFromInt(10),
	}
	require.NoError(t, coupons.NewRepository(f.conn).Create(context.Background(), coupon))
	return coupon
}

func couponUses(t *testing.T, f fixture, id uuid.UUID) int {
	t.Helper()
	var c models.Coupon
	require.NoError(t, f.conn.Where("id = ?", id).First(&c).Error)
	return c.UsedCount
}

func TestCreateOrderCouponBoundary(t *testing.T) {
	f := newFixture(t)
	productID := f.product(t, 800, 10)
	seedCoupon(t, f, "USEDUP", 1, 1, nil)
	fresh := seedCoupon(t, f, "ONCE", 1, 0, nil)

	_, err := f.engine.CreateOrder(context.Background(), customer(), CreateOrderInput{
		Items:         []ItemInput{{ProductID: productID, Qty: 2}},
		PaymentMethod: enums.PaymentMethodCashOnDelivery,
		CouponCode:    strPtr("usedup"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, coupons.ErrCouponExhausted))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.Equal(t, 10, f.stock(t, productID))

	order, err := f.engine.CreateOrder(context.Background(), customer(), CreateOrderInput{
		Items:         []ItemInput{{ProductID: productID, Qty: 2}},
		PaymentMethod: enums.PaymentMethodCashOnDelivery,
		CouponCode:    strPtr(" once "),
	})
	require.NoError(t, err)
	require.NotNil(t, order.CouponCode)
	assert.Equal(t, "ONCE", *order.CouponCode)
	assert.True(t, order.CouponConsumed)
	assert.True(t, order.DiscountValue.Equal(decimal.NewFromInt(160)))
	assert.True(t, order.FinalAmount.Equal(decimal.NewFromInt(1440)))
	assert.Equal(t, 1, couponUses(t, f, fresh.ID))
}

func TestCreateOrderRejectsExpiredAndUnknownCoupons(t *testing.T) {
	f := newFixture(t)
	productID := f.product(t, 800, 10)
	past := time.Now().Add(-time.Hour)
	seedCoupon(t, f, "OLD", 0, 0, &past)

	_, err := f.engine.CreateOrder(context.Background(), customer(), CreateOrderInput{
		Items:         []ItemInput{{ProductID: productID, Qty: 1}},
		PaymentMethod: enums.PaymentMethodPesapal,
		CouponCode:    strPtr("OLD"),
	})
	assert.True(t, errors.Is(err, coupons.ErrCouponExpired))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.engine.CreateOrder(context.Background(), customer(), CreateOrderInput{
		Items:         []ItemInput{{ProductID: productID, Qty: 1}},
		PaymentMethod: enums.PaymentMethodPesapal,
		CouponCode:    strPtr("NOPE"),
	})
	assert.True(t, errors.Is(err, coupons.ErrInvalidCoupon))
}

func TestDeferredOrderConsumesCouponOnPayment(t *testing.T) {
	f := newFixture(t)
	productID := f.product(t, 800, 10)
	coupon := seedCoupon(t, f, "LATER", 5, 0, nil)

	order, err := f.engine.CreateOrder(context.Background(), customer(), CreateOrderInput{
		Items:         []ItemInput{{ProductID: productID, Qty: 1}},
		PaymentMethod: enums.PaymentMethodMpesa,
		CouponCode:    strPtr("later"),
	})
	require.NoError(t, err)
	assert.False(t, order.CouponConsumed)
	assert.Equal(t, 0, couponUses(t, f, coupon.ID))

	f.gateway.setStatus("trk-later", 1)
	_, err = f.engine.HandleGatewayCallback(context.Background(), order.ID.String(), "trk-later")
	require.NoError(t, err)

	assert.Equal(t, 1, couponUses(t, f, coupon.ID))
	assert.True(t, f.order(t, order.ID).CouponConsumed)
}
