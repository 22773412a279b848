package reconciliation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muzafey/storefront-backend/pkg/db/models"
	"github.com/muzafey/storefront-backend/pkg/enums"
	pkgerrors "github.com/muzafey/storefront-backend/pkg/errors"
	"github.com/muzafey/storefront-backend/pkg/outbox"
)

func TestSetPaymentStatusRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	productID := f.product(t, 500, 10)
	buyer := customer()
	order := f.place(t, buyer, enums.PaymentMethodPesapal, productID, 1)

	_, err := f.engine.SetPaymentStatus(context.Background(), buyer, order.ID, enums.PaymentStatusPaid)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
	assert.Equal(t, 10, f.stock(t, productID))
}

func TestSetPaymentStatusPaidFinalizesDeferredOrder(t *testing.T) {
	f := newFixture(t)
	productID := f.product(t, 500, 10)
	order := f.place(t, customer(), enums.PaymentMethodPesapal, productID, 4)

	updated, err := f.engine.SetPaymentStatus(context.Background(), admin(), order.ID, enums.PaymentStatusPaid)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, updated.PaymentStatus)
	assert.Equal(t, enums.OrderStatusProcessing, updated.Status)
	assert.Equal(t, 6, f.stock(t, productID))
	assert.Equal(t, 1, f.txnCount(t, order.ID, enums.TransactionStatusAdminOverride))

	again, err := f.engine.SetPaymentStatus(context.Background(), admin(), order.ID, enums.PaymentStatusPaid)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, again.PaymentStatus)
	assert.Equal(t, 6, f.stock(t, productID))
	assert.Equal(t, 1, f.txnCount(t, order.ID, enums.TransactionStatusAdminOverride))

	// A late gateway confirmation must not take stock a second time.
	f.gateway.setStatus("trk-late", 1)
	res, err := f.engine.HandleGatewayCallback(context.Background(), order.ID.String(), "trk-late")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyFinalized, res.Outcome)
	assert.Equal(t, 6, f.stock(t, productID))
}

func TestSetPaymentStatusPaidOnImmediateOrderKeepsStock(t *testing.T) {
	f := newFixture(t)
	productID := f.product(t, 500, 10)
	order := f.place(t, customer(), enums.PaymentMethodCashOnDelivery, productID, 2)

	updated, err := f.engine.SetPaymentStatus(context.Background(), admin(), order.ID, enums.PaymentStatusPaid)
	require.NoError(t, err)
	assert.True(t, updated.IsPaid())
	assert.Equal(t, enums.OrderStatusProcessing, updated.Status)
	assert.Equal(t, 8, f.stock(t, productID))
}

func TestSetPaymentStatusShortfallIsConflictAndChangesNothing(t *testing.T) {
	f := newFixture(t)
	productID := f.product(t, 500, 3)
	order := f.place(t, customer(), enums.PaymentMethodPesapal, productID, 3)
	require.NoError(t, f.conn.Exec("UPDATE products SET stock = 1 WHERE id = ?", productID).Error)

	_, err := f.engine.SetPaymentStatus(context.Background(), admin(), order.ID, enums.PaymentStatusPaid)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.True(t, errors.Is(err, ErrReservationConflict))

	stored := f.order(t, order.ID)
	assert.Equal(t, enums.OrderStatusPending, stored.Status)
	assert.Equal(t, enums.PaymentStatusUnpaid, stored.PaymentStatus)
	assert.Equal(t, order.Version, stored.Version)
	assert.Equal(t, 1, f.stock(t, productID))
	assert.Zero(t, f.txnCount(t, order.ID, enums.TransactionStatusAdminOverride))
	assert.Equal(t, 1, f.metrics.conflicts)
}

func TestSetPaymentStatusPaidOnFailedOrderIsStateConflict(t *testing.T) {
	f := newFixture(t)
	productID := f.product(t, 500, 10)
	order := f.place(t, customer(), enums.PaymentMethodPesapal, productID, 1)
	f.gateway.setStatus("trk", 2)
	_, err := f.engine.HandleGatewayCallback(context.Background(), order.ID.String(), "trk")
	require.NoError(t, err)

	_, err = f.engine.SetPaymentStatus(context.Background(), admin(), order.ID, enums.PaymentStatusPaid)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestSetPaymentStatusUnpaidKeepsStock(t *testing.T) {
	f := newFixture(t)
	productID := f.product(t, 500, 10)
	order := f.place(t, customer(), enums.PaymentMethodPesapal, productID, 2)
	_, err := f.engine.SetPaymentStatus(context.Background(), admin(), order.ID, enums.PaymentStatusPaid)
	require.NoError(t, err)

	updated, err := f.engine.SetPaymentStatus(context.Background(), admin(), order.ID, enums.PaymentStatusUnpaid)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusUnpaid, updated.PaymentStatus)
	assert.Nil(t, updated.PaidAt)
	assert.True(t, updated.StockReserved)
	assert.Equal(t, 8, f.stock(t, productID))

	// Paying again must not reserve a second time.
	_, err = f.engine.SetPaymentStatus(context.Background(), admin(), order.ID, enums.PaymentStatusPaid)
	require.NoError(t, err)
	assert.Equal(t, 8, f.stock(t, productID))
}

func TestSetPaymentStatusRejectsUnknownValue(t *testing.T) {
	f := newFixture(t)
	productID := f.product(t, 500, 10)
	order := f.place(t, customer(), enums.PaymentMethodPesapal, productID, 1)

	_, err := f.engine.SetPaymentStatus(context.Background(), admin(), order.ID, "Refunded")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestUpdateOrderStatusFollowsTransitionTable(t *testing.T) {
	f := newFixture(t)
	productID := f.product(t, 500, 10)
	order := f.place(t, customer(), enums.PaymentMethodCashOnDelivery, productID, 2)
	ctx := context.Background()

	_, err := f.engine.UpdateOrderStatus(ctx, admin(), order.ID, enums.OrderStatusDelivered)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	shipped, err := f.engine.UpdateOrderStatus(ctx, admin(), order.ID, enums.OrderStatusShipped)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, shipped.Status)

	delivered, err := f.engine.UpdateOrderStatus(ctx, admin(), order.ID, enums.OrderStatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, delivered.Status)
	assert.Equal(t, 2, f.events(t, order.ID, enums.EventOrderStatusChanged))

	_, err = f.engine.UpdateOrderStatus(ctx, admin(), order.ID, enums.OrderStatusCancelled)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, 8, f.stock(t, productID))
}

func TestCancellingProcessingOrderReturnsStockOnce(t *testing.T) {
	f := newFixture(t)
	productID := f.product(t, 500, 10)
	order := f.place(t, customer(), enums.PaymentMethodCashOnDelivery, productID, 3)
	ctx := context.Background()

	cancelled, err := f.engine.UpdateOrderStatus(ctx, admin(), order.ID, enums.OrderStatusCancelled)
	require.NoError(t, err)
	assert.False(t, cancelled.StockReserved)
	assert.Equal(t, 10, f.stock(t, productID))

	require.NoError(t, f.engine.DeleteOrder(ctx, admin(), order.ID))
	assert.Equal(t, 10, f.stock(t, productID))
}

func TestDeleteShippedOrderKeepsStock(t *testing.T) {
	f := newFixture(t)
	productID := f.product(t, 500, 10)
	order := f.place(t, customer(), enums.PaymentMethodCashOnDelivery, productID, 3)
	ctx := context.Background()
	_, err := f.engine.UpdateOrderStatus(ctx, admin(), order.ID, enums.OrderStatusShipped)
	require.NoError(t, err)

	require.NoError(t, f.engine.DeleteOrder(ctx, admin(), order.ID))
	assert.Equal(t, 7, f.stock(t, productID))
}

func TestDeleteDeferredOrderNeverTouchesStock(t *testing.T) {
	f := newFixture(t)
	productID := f.product(t, 500, 10)
	order := f.place(t, customer(), enums.PaymentMethodPesapal, productID, 3)

	require.NoError(t, f.engine.DeleteOrder(context.Background(), admin(), order.ID))
	assert.Equal(t, 10, f.stock(t, productID))
}

func TestDeleteKeepsTransactions(t *testing.T) {
	f := newFixture(t)
	productID := f.product(t, 500, 10)
	order := f.place(t, customer(), enums.PaymentMethodPesapal, productID, 3)
	f.gateway.setStatus("trk", 1)
	_, err := f.engine.HandleGatewayCallback(context.Background(), order.ID.String(), "trk")
	require.NoError(t, err)

	require.NoError(t, f.engine.DeleteOrder(context.Background(), admin(), order.ID))
	assert.Equal(t, 10, f.stock(t, productID))
	assert.Equal(t, 1, f.txnCount(t, order.ID, enums.TransactionStatusSuccess))

	err = f.engine.DeleteOrder(context.Background(), admin(), order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestDeleteRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	productID := f.product(t, 500, 10)
	buyer := customer()
	order := f.place(t, buyer, enums.PaymentMethodCashOnDelivery, productID, 1)

	err := f.engine.DeleteOrder(context.Background(), buyer, order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
	assert.Equal(t, 9, f.stock(t, productID))
}

func TestSetPaymentStatusShortfallRollsBackEarlierLines(t *testing.T) {
	f := newFixture(t)
	first, last := byLockOrder(f.product(t, 500, 8), f.product(t, 900, 1))
	require.NoError(t, f.conn.Exec("UPDATE products SET stock = 8 WHERE id = ?", first).Error)
	require.NoError(t, f.conn.Exec("UPDATE products SET stock = 1 WHERE id = ?", last).Error)
	order := f.placeMany(t, customer(), map[uuid.UUID]int{first: 3, last: 1})
	require.NoError(t, f.conn.Exec("UPDATE products SET stock = 0 WHERE id = ?", last).Error)

	_, err := f.engine.SetPaymentStatus(context.Background(), admin(), order.ID, enums.PaymentStatusPaid)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReservationConflict))
	assert.Equal(t, 8, f.stock(t, first))
	assert.Equal(t, 0, f.stock(t, last))

	stored := f.order(t, order.ID)
	assert.False(t, stored.StockReserved)
	assert.Equal(t, enums.PaymentStatusUnpaid, stored.PaymentStatus)
}

func TestUpdateOrderStatusRefusesFulfilmentWithoutStock(t *testing.T) {
	f := newFixture(t)
	productID := f.product(t, 500, 2)
	order := f.place(t, customer(), enums.PaymentMethodPesapal, productID, 2)
	ctx := context.Background()

	_, err := f.engine.UpdateOrderStatus(ctx, admin(), order.ID, enums.OrderStatusProcessing)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	stored := f.order(t, order.ID)
	assert.Equal(t, enums.OrderStatusPending, stored.Status)
	assert.Equal(t, 2, f.stock(t, productID))

	// The units stay available to other buyers because nothing shipped.
	other := f.place(t, customer(), enums.PaymentMethodCashOnDelivery, productID, 2)
	assert.True(t, other.StockReserved)
	assert.Equal(t, 0, f.stock(t, productID))

	// Once paid the gateway order competes for stock like any other.
	_, err = f.engine.SetPaymentStatus(ctx, admin(), order.ID, enums.PaymentStatusPaid)
	assert.True(t, errors.Is(err, ErrReservationConflict))
}

func TestUpdateOrderStatusShipsPaidGatewayOrder(t *testing.T) {
	f := newFixture(t)
	productID := f.product(t, 500, 5)
	order := f.place(t, customer(), enums.PaymentMethodPesapal, productID, 2)
	ctx := context.Background()

	_, err := f.engine.SetPaymentStatus(ctx, admin(), order.ID, enums.PaymentStatusPaid)
	require.NoError(t, err)
	shipped, err := f.engine.UpdateOrderStatus(ctx, admin(), order.ID, enums.OrderStatusShipped)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, shipped.Status)
	assert.Equal(t, 3, f.stock(t, productID))
}

func TestAdminEventsCarryActor(t *testing.T) {
	f := newFixture(t)
	productID := f.product(t, 500, 5)
	order := f.place(t, customer(), enums.PaymentMethodPesapal, productID, 1)
	operator := admin()

	_, err := f.engine.SetPaymentStatus(context.Background(), operator, order.ID, enums.PaymentStatusPaid)
	require.NoError(t, err)

	var row models.OutboxEvent
	require.NoError(t, f.conn.Where("aggregate_id = ? AND event_type = ?", order.ID, enums.EventOrderPaid).First(&row).Error)
	env, err := outbox.DecodeEnvelope(row.Payload)
	require.NoError(t, err)
	require.NotNil(t, env.Actor)
	assert.Equal(t, operator.UserID, env.Actor.UserID)
	assert.Equal(t, string(enums.RoleAdmin), env.Actor.Role)
}
