package reconciliation

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/muzafey/storefront-backend/internal/coupons"
	"github.com/muzafey/storefront-backend/internal/inventory"
	"github.com/muzafey/storefront-backend/internal/orders"
	"github.com/muzafey/storefront-backend/pkg/db/models"
	"github.com/muzafey/storefront-backend/pkg/enums"
	pkgerrors "github.com/muzafey/storefront-backend/pkg/errors"
	"github.com/muzafey/storefront-backend/pkg/outbox"
	"github.com/muzafey/storefront-backend/pkg/outbox/payloads"
)

// ItemInput is one requested line.
type ItemInput struct {
	ProductID uuid.UUID
	Qty       int
}

// CreateOrderInput is a checkout request. Prices and totals are always taken from the
// catalog, never from the client.
type CreateOrderInput struct {
	Items           []ItemInput
	PaymentMethod   enums.PaymentMethod
	CouponCode      *string
	ShippingAddress models.ShippingAddress
}

// CreateOrder persists a new order. Immediate methods reserve stock and take the coupon in
// the same transaction as the insert; gateway methods defer both to payment confirmation.
func (e *Engine) CreateOrder(ctx context.Context, actor orders.Actor, in CreateOrderInput) (*models.Order, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user required")
	}
	lines, err := mergeLines(in.Items)
	if err != nil {
		return nil, err
	}
	if !in.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment method").
			WithDetails(map[string]any{"paymentMethod": string(in.PaymentMethod)})
	}

	immediate := !in.PaymentMethod.IsDeferred()
	now := e.now().UTC()
	var order *models.Order

	err = e.db.WithTx(ctx, func(tx *gorm.DB) error {
		stock := e.inventory.WithTx(tx)

		items := make([]models.OrderItem, 0, len(lines))
		total := decimal.Zero
		for _, line := range lines {
			product, err := stock.Get(ctx, line.ProductID)
			if err != nil {
				return err
			}
			if line.Qty > product.Stock {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, inventory.ErrInsufficientStock, "not enough stock for "+product.Name).
					WithDetails(map[string]any{"reason": "InsufficientStock", "productId": product.ID.String(), "available": product.Stock, "requested": line.Qty})
			}
			items = append(items, models.OrderItem{
				ProductID:    product.ID,
				ProductName:  product.Name,
				Qty:          line.Qty,
				PriceAtOrder: product.Price,
			})
			total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(line.Qty))))
		}

		order = &models.Order{
			UserID:          actor.UserID,
			CustomerEmail:   actor.Email,
			CustomerName:    actor.Name,
			ShippingAddress: in.ShippingAddress,
			PaymentMethod:   in.PaymentMethod,
			Status:          enums.OrderStatusPending,
			PaymentStatus:   enums.PaymentStatusUnpaid,
			TotalPrice:      total,
			FinalAmount:     total,
			Items:           items,
		}
		if immediate {
			order.Status = enums.OrderStatusProcessing
		}

		if code := normalizedCode(in.CouponCode); code != "" {
			couponRepo := e.coupons.WithTx(tx)
			coupon, err := couponRepo.FindByCode(ctx, code)
			if err != nil {
				return coupons.AsCoded(err)
			}
			if err := coupons.Validate(coupon, now); err != nil {
				return coupons.AsCoded(err)
			}
			discount := coupons.Discount(coupon, total)
			discountType := coupon.DiscountType
			order.CouponCode = &coupon.Code
			order.DiscountType = &discountType
			order.DiscountValue = discount
			order.FinalAmount = total.Sub(discount)

			if immediate {
				ok, err := couponRepo.Consume(ctx, coupon.ID)
				if err != nil {
					return err
				}
				if !ok {
					return coupons.AsCoded(coupons.ErrCouponExhausted)
				}
				order.CouponConsumed = true
			}
		}

		if immediate {
			if err := stock.ReserveAll(ctx, linesOf(order)); err != nil {
				return err
			}
			order.StockReserved = true
		}

		if err := e.orders.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}

		return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actorRef(actor),
			OccurredAt:    now,
			Data: payloads.OrderCreatedEvent{
				OrderID:       order.ID,
				UserID:        order.UserID,
				PaymentMethod: order.PaymentMethod,
				Status:        order.Status,
				FinalAmount:   order.FinalAmount,
				StockReserved: order.StockReserved,
				CouponCode:    order.CouponCode,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	ctx = e.logg.WithOrderID(ctx, order.ID.String())
	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"payment_method": order.PaymentMethod,
		"status":         order.Status,
		"stock_reserved": order.StockReserved,
	}), "order created")
	return order, nil
}

// mergeLines validates quantities and folds repeated products into one line so the stock
// check sees the full requested amount.
func mergeLines(items []ItemInput) ([]inventory.Line, error) {
	if len(items) == 0 {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrEmptyOrder, "no order items provided").
			WithDetails(map[string]any{"reason": "EmptyOrder"})
	}
	index := make(map[uuid.UUID]int, len(items))
	lines := make([]inventory.Line, 0, len(items))
	for i, item := range items {
		if item.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required").
				WithDetails(map[string]any{"item": i})
		}
		if item.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
				WithDetails(map[string]any{"item": i, "qty": item.Qty})
		}
		if pos, ok := index[item.ProductID]; ok {
			lines[pos].Qty += item.Qty
			continue
		}
		index[item.ProductID] = len(lines)
		lines = append(lines, inventory.Line{ProductID: item.ProductID, Qty: item.Qty})
	}
	return lines, nil
}

func normalizedCode(code *string) string {
	if code == nil {
		return ""
	}
	return coupons.NormalizeCode(strings.TrimSpace(*code))
}
