package reconciliation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/muzafey/storefront-backend/internal/orders"
	"github.com/muzafey/storefront-backend/pkg/db/models"
	"github.com/muzafey/storefront-backend/pkg/enums"
	pkgerrors "github.com/muzafey/storefront-backend/pkg/errors"
	"github.com/muzafey/storefront-backend/pkg/outbox"
	"github.com/muzafey/storefront-backend/pkg/outbox/payloads"
	"github.com/muzafey/storefront-backend/pkg/pesapal"
)

// InitiatePaymentInput carries the payer contact details Pesapal shows on its page.
type InitiatePaymentInput struct {
	Email string
	Phone string
}

// PaymentSession is where the customer goes to pay.
type PaymentSession struct {
	OrderID         uuid.UUID `json:"orderId"`
	RedirectURL     string    `json:"redirect_url"`
	OrderTrackingID string    `json:"order_tracking_id"`
}

// InitiatePayment opens a Pesapal session for the caller's pending gateway order. If the
// gateway refuses, an order that was never handed to the gateway is removed again.
func (e *Engine) InitiatePayment(ctx context.Context, actor orders.Actor, orderID uuid.UUID, in InitiatePaymentInput) (*PaymentSession, error) {
	order, err := e.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "not allowed to pay for this order")
	}
	if !order.PaymentMethod.IsDeferred() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not paid through the gateway").
			WithDetails(map[string]any{"paymentMethod": string(order.PaymentMethod)})
	}
	if order.IsPaid() || order.Status != enums.OrderStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting payment").
			WithDetails(map[string]any{"status": string(order.Status), "paymentStatus": string(order.PaymentStatus)})
	}
	ctx = e.logg.WithOrderID(e.logg.WithUserID(ctx, actor.UserID.String()), orderID.String())

	email := firstNonEmpty(in.Email, order.CustomerEmail, actor.Email)
	phone := firstNonEmpty(in.Phone, order.ShippingAddress.Phone)
	resp, err := e.gateway.SubmitOrder(ctx, pesapal.SubmitOrderInput{
		MerchantReference: order.ID.String(),
		Amount:            order.AmountDue(),
		Billing:           pesapal.BillingAddress{EmailAddress: email, PhoneNumber: phone},
	})
	if err != nil {
		if order.GatewayTrackingID == nil && pkgerrors.IsCode(err, pkgerrors.CodeUpstream) {
			e.discardUninitiated(ctx, orderID)
		}
		return nil, err
	}

	err = e.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		return e.db.WithTx(ctx, func(tx *gorm.DB) error {
			repo := e.orders.WithTx(tx)
			locked, err := repo.FindByIDForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if isFinalized(locked) {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "order was finalized while payment was being initiated")
			}
			trackingID := resp.OrderTrackingID
			locked.GatewayTrackingID = &trackingID
			return repo.Save(ctx, locked)
		})
	})
	if err != nil {
		return nil, err
	}

	e.logg.Info(e.logg.WithField(ctx, "tracking_id", resp.OrderTrackingID), "payment initiated")
	return &PaymentSession{
		OrderID:         orderID,
		RedirectURL:     resp.RedirectURL,
		OrderTrackingID: resp.OrderTrackingID,
	}, nil
}

// discardUninitiated deletes a pending order the gateway never saw. Failures are logged;
// the caller already has the upstream error to report.
func (e *Engine) discardUninitiated(ctx context.Context, orderID uuid.UUID) {
	err := e.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		return e.db.WithTx(ctx, func(tx *gorm.DB) error {
			order, err := e.orders.WithTx(tx).FindByIDForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if order.GatewayTrackingID != nil || order.Status != enums.OrderStatusPending || order.IsPaid() {
				return nil
			}
			_, err = e.deleteLocked(ctx, tx, orderID, nil)
			return err
		})
	})
	if err != nil && !errors.Is(err, orders.ErrOrderNotFound) {
		e.logg.Error(ctx, "failed to discard order after gateway error", err)
		return
	}
	e.logg.Warn(ctx, "gateway rejected payment initiation; order discarded")
}

// GetTransactionStatus passes a status query straight to the gateway.
func (e *Engine) GetTransactionStatus(ctx context.Context, trackingID string) (*pesapal.TransactionStatus, error) {
	if strings.TrimSpace(trackingID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order tracking id required")
	}
	return e.gateway.GetTransactionStatus(ctx, trackingID)
}

// ExpireStalePending cancels gateway orders that have waited for payment since before
// cutoff. None of them hold stock, so nothing is released. It returns how many orders
// were cancelled; per-order failures are combined into the error.
func (e *Engine) ExpireStalePending(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	stale, err := e.orders.FindStalePending(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	var (
		expired int
		errs    error
	)
	for _, candidate := range stale {
		ok, err := e.expireOne(ctx, candidate.ID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, errs
}

func (e *Engine) expireOne(ctx context.Context, orderID uuid.UUID) (bool, error) {
	ctx = e.logg.WithOrderID(ctx, orderID.String())
	var expired bool
	err := e.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		return e.db.WithTx(ctx, func(tx *gorm.DB) error {
			repo := e.orders.WithTx(tx)
			order, err := repo.FindByIDForUpdate(ctx, orderID)
			if err != nil {
				if errors.Is(err, orders.ErrOrderNotFound) {
					return nil
				}
				return err
			}
			if order.Status != enums.OrderStatusPending || order.IsPaid() {
				return nil
			}
			if err := e.cancelLocked(ctx, tx, order); err != nil {
				return err
			}
			expired = true
			return nil
		})
	})
	if err != nil {
		return false, err
	}
	if expired {
		e.recordOutcome(sourceCron, "expired")
		e.logg.Info(ctx, "abandoned gateway order cancelled")
	}
	return expired, nil
}

func (e *Engine) cancelLocked(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if order.StockReserved {
		if err := e.inventory.WithTx(tx).ReleaseAll(ctx, linesOf(order)); err != nil {
			return err
		}
		order.StockReserved = false
	}
	order.Status = enums.OrderStatusCancelled
	if err := e.orders.WithTx(tx).Save(ctx, order); err != nil {
		return err
	}
	return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderExpired,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.OrderExpiredEvent{
			OrderID: order.ID,
			UserID:  order.UserID,
		},
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
