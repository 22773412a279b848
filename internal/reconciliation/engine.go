// Package reconciliation ties order lifecycles to payment signals so stock is reserved
// exactly once per order and released when an order goes away unshipped.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/muzafey/storefront-backend/internal/coupons"
	"github.com/muzafey/storefront-backend/internal/inventory"
	"github.com/muzafey/storefront-backend/internal/orders"
	"github.com/muzafey/storefront-backend/internal/transactions"
	"github.com/muzafey/storefront-backend/pkg/db/models"
	pkgerrors "github.com/muzafey/storefront-backend/pkg/errors"
	"github.com/muzafey/storefront-backend/pkg/logger"
	"github.com/muzafey/storefront-backend/pkg/mailer"
	"github.com/muzafey/storefront-backend/pkg/outbox"
	"github.com/muzafey/storefront-backend/pkg/pesapal"
	"github.com/muzafey/storefront-backend/pkg/redis"
)

var (
	ErrEmptyOrder = errors.New("order has no items")
	// ErrReservationConflict marks a paid order whose stock ran out after it was placed.
	ErrReservationConflict = errors.New("stock no longer available for order")
)

// PaymentGateway is the subset of the Pesapal client the engine drives.
type PaymentGateway interface {
	GetTransactionStatus(ctx context.Context, trackingID string) (*pesapal.TransactionStatus, error)
	SubmitOrder(ctx context.Context, in pesapal.SubmitOrderInput) (*pesapal.SubmitOrderResponse, error)
}

// Locker serialises work on one order across replicas.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type notifier interface {
	Send(ctx context.Context, msg mailer.Message)
}

type outcomeRecorder interface {
	IncOutcome(source, outcome string)
	IncStockConflict()
}

// Params wires an Engine. Metrics and Clock are optional.
type Params struct {
	DB           txRunner
	Orders       orders.Repository
	Inventory    inventory.Store
	Coupons      coupons.Repository
	Transactions transactions.Repository
	Outbox       eventEmitter
	Gateway      PaymentGateway
	Locker       Locker
	Notifier     notifier
	Metrics      outcomeRecorder
	Logger       *logger.Logger
	Clock        func() time.Time
}

// Engine owns every operation that moves stock or payment state.
type Engine struct {
	db           txRunner
	orders       orders.Repository
	inventory    inventory.Store
	coupons      coupons.Repository
	transactions transactions.Repository
	outbox       eventEmitter
	gateway      PaymentGateway
	locker       Locker
	notifier     notifier
	metrics      outcomeRecorder
	logg         *logger.Logger
	now          func() time.Time
}

func NewEngine(p Params) (*Engine, error) {
	switch {
	case p.DB == nil:
		return nil, fmt.Errorf("transaction runner required")
	case p.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case p.Inventory == nil:
		return nil, fmt.Errorf("inventory store required")
	case p.Coupons == nil:
		return nil, fmt.Errorf("coupons repository required")
	case p.Transactions == nil:
		return nil, fmt.Errorf("transactions repository required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case p.Gateway == nil:
		return nil, fmt.Errorf("payment gateway required")
	case p.Locker == nil:
		return nil, fmt.Errorf("order locker required")
	case p.Notifier == nil:
		return nil, fmt.Errorf("notifier required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}

	e := &Engine{
		db:           p.DB,
		orders:       p.Orders,
		inventory:    p.Inventory,
		coupons:      p.Coupons,
		transactions: p.Transactions,
		outbox:       p.Outbox,
		gateway:      p.Gateway,
		locker:       p.Locker,
		notifier:     p.Notifier,
		metrics:      p.Metrics,
		logg:         p.Logger,
		now:          p.Clock,
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// withOrderLock runs fn while holding the cross-process lock for orderID. The row lock and
// version check inside fn still guard against writers that bypass the engine.
func (e *Engine) withOrderLock(ctx context.Context, orderID uuid.UUID, fn func(ctx context.Context) error) error {
	release, err := e.locker.Acquire(ctx, orderID.String())
	if err != nil {
		if errors.Is(err, redis.ErrLockNotAcquired) {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "order is being processed, retry shortly").
				WithDetails(map[string]any{"orderId": orderID.String()})
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire order lock")
	}
	defer release()
	return fn(ctx)
}

func (e *Engine) recordOutcome(source, outcome string) {
	if e.metrics != nil {
		e.metrics.IncOutcome(source, outcome)
	}
}

func (e *Engine) recordStockConflict() {
	if e.metrics != nil {
		e.metrics.IncStockConflict()
	}
}

func linesOf(order *models.Order) []inventory.Line {
	lines := make([]inventory.Line, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, inventory.Line{ProductID: item.ProductID, Qty: item.Qty})
	}
	return lines
}

func actorRef(actor orders.Actor) *outbox.ActorRef {
	if actor.UserID == uuid.Nil {
		return nil
	}
	return &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)}
}
