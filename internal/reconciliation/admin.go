package reconciliation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/muzafey/storefront-backend/internal/notifications"
	"github.com/muzafey/storefront-backend/internal/orders"
	"github.com/muzafey/storefront-backend/pkg/db/models"
	"github.com/muzafey/storefront-backend/pkg/enums"
	pkgerrors "github.com/muzafey/storefront-backend/pkg/errors"
	"github.com/muzafey/storefront-backend/pkg/outbox"
	"github.com/muzafey/storefront-backend/pkg/outbox/payloads"
)

// SetPaymentStatus is the admin override. Marking an unpaid order Paid runs the same
// finalization as a gateway confirmation, except a stock shortfall is refused outright:
// no money moved through the gateway, so the admin can restock and retry instead of the
// order being failed. Marking it Unpaid only flips the flag.
func (e *Engine) SetPaymentStatus(ctx context.Context, actor orders.Actor, orderID uuid.UUID, status enums.PaymentStatus) (*models.Order, error) {
	if err := orders.RequireAdmin(actor); err != nil {
		return nil, err
	}
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment status").
			WithDetails(map[string]any{"paymentStatus": string(status)})
	}
	ctx = e.logg.WithOrderID(e.logg.WithUserID(ctx, actor.UserID.String()), orderID.String())

	var (
		order   *models.Order
		changed bool
	)
	err := e.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		return e.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			order, err = e.orders.WithTx(tx).FindByIDForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if order.PaymentStatus == status {
				return nil
			}

			if status == enums.PaymentStatusUnpaid {
				order.PaymentStatus = enums.PaymentStatusUnpaid
				order.PaidAt = nil
				changed = true
				return e.orders.WithTx(tx).Save(ctx, order)
			}

			if order.Status == enums.OrderStatusFailed || order.Status == enums.OrderStatusCancelled {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "cannot mark a "+string(order.Status)+" order as paid").
					WithDetails(map[string]any{"status": string(order.Status)})
			}
			changed = true
			return e.finalizePaid(ctx, tx, order, paymentSignal{
				source:    sourceAdmin,
				txnStatus: enums.TransactionStatusAdminOverride,
				actor:     actorRef(actor),
			})
		})
	})
	if err != nil {
		if errors.Is(err, ErrReservationConflict) {
			e.recordStockConflict()
			e.recordOutcome(sourceAdmin, string(OutcomeReservationConflict))
		}
		return nil, err
	}

	if !changed {
		return order, nil
	}
	if order.IsPaid() {
		e.recordOutcome(sourceAdmin, string(OutcomePaid))
		e.logg.Info(ctx, "order marked paid by admin")
		e.notifier.Send(ctx, notifications.OrderConfirmation(order))
	} else {
		e.recordOutcome(sourceAdmin, "unpaid")
		e.logg.Info(ctx, "order marked unpaid by admin; stock unchanged")
	}
	return order, nil
}

// UpdateOrderStatus moves an order along the fulfilment table. Failing or cancelling an
// order that still holds stock returns the stock. An order holding no stock cannot move
// into fulfilment; gateway orders get their stock through SetPaymentStatus(Paid).
func (e *Engine) UpdateOrderStatus(ctx context.Context, actor orders.Actor, orderID uuid.UUID, next enums.OrderStatus) (*models.Order, error) {
	if err := orders.RequireAdmin(actor); err != nil {
		return nil, err
	}
	if !next.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status").
			WithDetails(map[string]any{"status": string(next)})
	}
	ctx = e.logg.WithOrderID(e.logg.WithUserID(ctx, actor.UserID.String()), orderID.String())

	var order *models.Order
	err := e.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		return e.db.WithTx(ctx, func(tx *gorm.DB) error {
			repo := e.orders.WithTx(tx)
			var err error
			order, err = repo.FindByIDForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			previous := order.Status
			if !previous.CanTransition(next) {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "order cannot move from "+string(previous)+" to "+string(next)).
					WithDetails(map[string]any{"from": string(previous), "to": string(next)})
			}

			if isFulfilment(next) && !order.StockReserved {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "order holds no stock; mark it paid before fulfilment").
					WithDetails(map[string]any{"from": string(previous), "to": string(next), "stockReserved": false})
			}

			if (next == enums.OrderStatusCancelled || next == enums.OrderStatusFailed) && order.StockReserved {
				if err := e.inventory.WithTx(tx).ReleaseAll(ctx, linesOf(order)); err != nil {
					return err
				}
				order.StockReserved = false
			}
			order.Status = next
			if err := repo.Save(ctx, order); err != nil {
				return err
			}

			return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderStatusChanged,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Actor:         actorRef(actor),
				Data: payloads.OrderStatusChangedEvent{
					OrderID:  order.ID,
					UserID:   order.UserID,
					Previous: previous,
					Current:  next,
				},
			})
		})
	})
	if err != nil {
		return nil, err
	}

	e.logg.Info(e.logg.WithField(ctx, "status", string(next)), "order status updated")
	return order, nil
}

// DeleteOrder removes an order. Stock it still holds goes back to the shelf unless the
// goods already shipped. Transactions for the order are kept.
func (e *Engine) DeleteOrder(ctx context.Context, actor orders.Actor, orderID uuid.UUID) error {
	if err := orders.RequireAdmin(actor); err != nil {
		return err
	}
	ctx = e.logg.WithOrderID(e.logg.WithUserID(ctx, actor.UserID.String()), orderID.String())

	var restored bool
	err := e.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		return e.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			restored, err = e.deleteLocked(ctx, tx, orderID, actorRef(actor))
			return err
		})
	})
	if err != nil {
		return err
	}

	e.logg.Info(e.logg.WithField(ctx, "stock_restored", restored), "order deleted")
	return nil
}

// deleteLocked must run under the order lock inside tx.
func (e *Engine) deleteLocked(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actor *outbox.ActorRef) (bool, error) {
	repo := e.orders.WithTx(tx)
	order, err := repo.FindByIDForUpdate(ctx, orderID)
	if err != nil {
		return false, err
	}

	restore := order.StockReserved && !order.Status.HasLeftWarehouse()
	if restore {
		if err := e.inventory.WithTx(tx).ReleaseAll(ctx, linesOf(order)); err != nil {
			return false, err
		}
	}
	if err := repo.Delete(ctx, order.ID); err != nil {
		return false, err
	}

	err = e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderDeleted,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		Data: payloads.OrderDeletedEvent{
			OrderID:       order.ID,
			UserID:        order.UserID,
			Status:        order.Status,
			StockRestored: restore,
		},
	})
	return restore, err
}

func isFulfilment(status enums.OrderStatus) bool {
	switch status {
	case enums.OrderStatusProcessing, enums.OrderStatusShipped, enums.OrderStatusDelivered:
		return true
	}
	return false
}
