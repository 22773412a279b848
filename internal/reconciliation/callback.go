package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/muzafey/storefront-backend/internal/inventory"
	"github.com/muzafey/storefront-backend/internal/notifications"
	"github.com/muzafey/storefront-backend/internal/orders"
	"github.com/muzafey/storefront-backend/pkg/db/models"
	"github.com/muzafey/storefront-backend/pkg/enums"
	pkgerrors "github.com/muzafey/storefront-backend/pkg/errors"
	"github.com/muzafey/storefront-backend/pkg/outbox"
	"github.com/muzafey/storefront-backend/pkg/outbox/payloads"
	"github.com/muzafey/storefront-backend/pkg/pesapal"
)

// Outcome describes what a payment signal did to its order.
type Outcome string

const (
	OutcomePaid                Outcome = "paid"
	OutcomeFailed              Outcome = "failed"
	OutcomeReservationConflict Outcome = "reservation_conflict"
	OutcomeAlreadyFinalized    Outcome = "already_finalized"
	OutcomeOrderNotFound       Outcome = "order_not_found"
	OutcomeReferenceMismatch   Outcome = "reference_mismatch"
)

const (
	sourceCallback = "callback"
	sourceAdmin    = "admin"
	sourceCron     = "cron"
)

// CallbackResult reports the effect of one gateway callback. Order is nil when the
// reference did not resolve.
type CallbackResult struct {
	OrderID uuid.UUID
	Outcome Outcome
	Order   *models.Order
}

// Succeeded reports whether the order ended up paid, now or by an earlier signal.
func (r *CallbackResult) Succeeded() bool {
	if r == nil {
		return false
	}
	if r.Outcome == OutcomePaid {
		return true
	}
	return r.Outcome == OutcomeAlreadyFinalized && r.Order != nil && r.Order.IsPaid()
}

// paymentSignal is a confirmed or rejected payment from the gateway or an admin.
type paymentSignal struct {
	source     string
	txnStatus  enums.TransactionStatus
	trackingID string
	raw        json.RawMessage
	actor      *outbox.ActorRef
}

// HandleGatewayCallback asks the gateway for the authoritative status of trackingID and
// applies it to the referenced order. Whatever status the caller embedded is ignored.
// Repeated or late callbacks for a finalized order change nothing.
func (e *Engine) HandleGatewayCallback(ctx context.Context, orderRef, trackingID string) (*CallbackResult, error) {
	trackingID = strings.TrimSpace(trackingID)
	if trackingID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order tracking id required")
	}

	status, err := e.gateway.GetTransactionStatus(ctx, trackingID)
	if err != nil {
		e.recordOutcome(sourceCallback, "upstream_error")
		return nil, err
	}

	ctx = e.logg.WithFields(ctx, map[string]any{
		"order_ref":   orderRef,
		"tracking_id": trackingID,
		"status_code": status.StatusCode,
	})

	orderID, err := uuid.Parse(strings.TrimSpace(orderRef))
	if err != nil {
		e.logg.Warn(ctx, "gateway callback references an unknown order")
		e.recordOutcome(sourceCallback, string(OutcomeOrderNotFound))
		return &CallbackResult{Outcome: OutcomeOrderNotFound}, nil
	}
	ctx = e.logg.WithOrderID(ctx, orderID.String())

	if status.MerchantReference != "" && !strings.EqualFold(status.MerchantReference, orderID.String()) {
		e.logg.Warn(e.logg.WithField(ctx, "merchant_reference", status.MerchantReference), "gateway status belongs to another order")
		e.recordOutcome(sourceCallback, string(OutcomeReferenceMismatch))
		return &CallbackResult{OrderID: orderID, Outcome: OutcomeReferenceMismatch}, nil
	}

	signal := paymentSignal{
		source:     sourceCallback,
		txnStatus:  enums.TransactionStatusSuccess,
		trackingID: trackingID,
		raw:        status.Raw,
	}
	if !status.Succeeded() {
		signal.txnStatus = enums.TransactionStatusFailed
	}

	result := &CallbackResult{OrderID: orderID}
	err = e.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		return e.db.WithTx(ctx, func(tx *gorm.DB) error {
			order, err := e.orders.WithTx(tx).FindByIDForUpdate(ctx, orderID)
			if err != nil {
				if errors.Is(err, orders.ErrOrderNotFound) {
					result.Outcome = OutcomeOrderNotFound
					return nil
				}
				return err
			}
			result.Order = order

			if isFinalized(order) {
				result.Outcome = OutcomeAlreadyFinalized
				return nil
			}

			if status.Succeeded() {
				err := e.finalizePaid(ctx, tx, order, signal)
				if errors.Is(err, ErrReservationConflict) {
					result.Outcome = OutcomeReservationConflict
					return e.failOrder(ctx, tx, order, signal, "ReservationConflict")
				}
				if err != nil {
					return err
				}
				result.Outcome = OutcomePaid
				return nil
			}

			result.Outcome = OutcomeFailed
			return e.failOrder(ctx, tx, order, signal, failureReason(status))
		})
	})
	if err != nil {
		e.recordOutcome(sourceCallback, "error")
		return nil, err
	}

	e.recordOutcome(sourceCallback, string(result.Outcome))
	switch result.Outcome {
	case OutcomeOrderNotFound:
		e.logg.Warn(ctx, "gateway callback for missing order ignored")
	case OutcomeAlreadyFinalized:
		e.logg.Info(ctx, "gateway callback for finalized order ignored")
	case OutcomePaid:
		e.logg.Info(ctx, "order paid via gateway")
		e.notifier.Send(ctx, notifications.OrderConfirmation(result.Order))
	case OutcomeReservationConflict:
		e.recordStockConflict()
		e.logg.Warn(ctx, "payment confirmed but stock ran out; order failed and needs a refund")
		e.notifier.Send(ctx, notifications.PaymentFailed(result.Order, "An item in your order sold out before payment completed. Our team will contact you about a refund."))
	case OutcomeFailed:
		e.logg.Info(ctx, "gateway reported unsuccessful payment")
		if result.Order.Status == enums.OrderStatusFailed {
			e.notifier.Send(ctx, notifications.PaymentFailed(result.Order, "Your payment was not completed. You can place the order again at any time."))
		}
	}
	return result, nil
}

// isFinalized is the idempotence guard shared by every payment signal.
func isFinalized(order *models.Order) bool {
	return order.IsPaid() ||
		order.Status == enums.OrderStatusFailed ||
		order.Status == enums.OrderStatusCancelled
}

// finalizePaid reserves stock if the order has none yet, marks it paid, records the
// transaction and queues order.paid. A shortfall returns ErrReservationConflict with the
// reservation savepoint rolled back and the order untouched.
func (e *Engine) finalizePaid(ctx context.Context, tx *gorm.DB, order *models.Order, signal paymentSignal) error {
	if !order.StockReserved {
		if err := e.inventory.WithTx(tx).ReserveAll(ctx, linesOf(order)); err != nil {
			if errors.Is(err, inventory.ErrInsufficientStock) {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, ErrReservationConflict, "stock no longer available for order").
					WithDetails(map[string]any{"reason": "ReservationConflict", "orderId": order.ID.String(), "stock": detailsOf(err)})
			}
			return err
		}
		order.StockReserved = true
	}

	now := e.now().UTC()
	order.PaymentStatus = enums.PaymentStatusPaid
	order.PaidAt = &now
	if order.Status == enums.OrderStatusPending {
		order.Status = enums.OrderStatusProcessing
	}
	if signal.trackingID != "" && order.GatewayTrackingID == nil {
		trackingID := signal.trackingID
		order.GatewayTrackingID = &trackingID
	}

	if err := e.consumeCoupon(ctx, tx, order); err != nil {
		return err
	}

	txn, err := e.recordTransaction(ctx, tx, order, signal)
	if err != nil {
		return err
	}
	if err := e.orders.WithTx(tx).Save(ctx, order); err != nil {
		return err
	}

	var trackingRef *string
	if signal.trackingID != "" {
		trackingRef = &signal.trackingID
	}
	return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         signal.actor,
		OccurredAt:    now,
		Data: payloads.OrderPaidEvent{
			OrderID:       order.ID,
			UserID:        order.UserID,
			Amount:        order.AmountDue(),
			Source:        signal.txnStatus,
			TransactionID: txn.ID,
			TrackingID:    trackingRef,
		},
	})
}

// consumeCoupon takes the coupon use a gateway order deferred. The customer has already
// paid, so an exhausted coupon is logged rather than refused.
func (e *Engine) consumeCoupon(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if order.CouponConsumed || order.CouponCode == nil {
		return nil
	}
	repo := e.coupons.WithTx(tx)
	coupon, err := repo.FindByCode(ctx, *order.CouponCode)
	if err != nil {
		e.logg.Warn(e.logg.WithField(ctx, "coupon_code", *order.CouponCode), "coupon on paid order no longer exists")
		order.CouponConsumed = true
		return nil
	}
	ok, err := repo.Consume(ctx, coupon.ID)
	if err != nil {
		return err
	}
	if !ok {
		e.logg.Warn(e.logg.WithField(ctx, "coupon_code", coupon.Code), "coupon cap reached before payment confirmed; honouring discount")
	}
	order.CouponConsumed = true
	return nil
}

// failOrder records a rejected payment. Pending orders move to Failed; orders already past
// Pending keep their status and only gain the audit record.
func (e *Engine) failOrder(ctx context.Context, tx *gorm.DB, order *models.Order, signal paymentSignal, reason string) error {
	signal.txnStatus = enums.TransactionStatusFailed

	if order.Status != enums.OrderStatusPending {
		seen, err := e.hasFailedAttempt(ctx, tx, order.ID, signal.trackingID)
		if err != nil || seen {
			return err
		}
		_, err = e.recordTransaction(ctx, tx, order, signal)
		return err
	}

	if !order.Status.CanTransition(enums.OrderStatusFailed) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order cannot fail from "+string(order.Status))
	}
	order.Status = enums.OrderStatusFailed
	if signal.trackingID != "" && order.GatewayTrackingID == nil {
		trackingID := signal.trackingID
		order.GatewayTrackingID = &trackingID
	}

	txn, err := e.recordTransaction(ctx, tx, order, signal)
	if err != nil {
		return err
	}
	if err := e.orders.WithTx(tx).Save(ctx, order); err != nil {
		return err
	}

	var trackingRef *string
	if signal.trackingID != "" {
		trackingRef = &signal.trackingID
	}
	return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaymentFailed,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         signal.actor,
		Data: payloads.OrderPaymentFailedEvent{
			OrderID:       order.ID,
			UserID:        order.UserID,
			Reason:        reason,
			TransactionID: txn.ID,
			TrackingID:    trackingRef,
		},
	})
}

// hasFailedAttempt reports whether trackingID was already recorded as failed for the order,
// so repeated callbacks on a non-pending order leave a single audit row.
func (e *Engine) hasFailedAttempt(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, trackingID string) (bool, error) {
	existing, err := e.transactions.WithTx(tx).ListByOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	for _, txn := range existing {
		if txn.Status == enums.TransactionStatusFailed && txn.GatewayReference != nil && *txn.GatewayReference == trackingID {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) recordTransaction(ctx context.Context, tx *gorm.DB, order *models.Order, signal paymentSignal) (*models.Transaction, error) {
	txn := &models.Transaction{
		OrderID:     order.ID,
		UserID:      order.UserID,
		Amount:      order.AmountDue(),
		Status:      signal.txnStatus,
		RawResponse: signal.raw,
	}
	if signal.trackingID != "" {
		ref := signal.trackingID
		txn.GatewayReference = &ref
	}
	if err := e.transactions.WithTx(tx).Record(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

func failureReason(status *pesapal.TransactionStatus) string {
	if status.PaymentStatusDescription != "" {
		return status.PaymentStatusDescription
	}
	if status.Message != "" {
		return status.Message
	}
	return "payment not completed"
}

func detailsOf(err error) any {
	if coded := pkgerrors.As(err); coded != nil {
		return coded.Details()
	}
	return nil
}
