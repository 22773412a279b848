package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/muzafey/storefront-backend/internal/notifications"
	"github.com/muzafey/storefront-backend/pkg/db/models"
	"github.com/muzafey/storefront-backend/pkg/enums"
	pkgerrors "github.com/muzafey/storefront-backend/pkg/errors"
	"github.com/muzafey/storefront-backend/pkg/logger"
	"github.com/muzafey/storefront-backend/pkg/mailer"
	"github.com/muzafey/storefront-backend/pkg/pagination"
)

type notifier interface {
	Send(ctx context.Context, msg mailer.Message)
}

// Service covers order reads and payment reminders. State-changing payment flows live in
// the reconciliation engine.
type Service interface {
	Get(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error)
	ListMine(ctx context.Context, actor Actor, params pagination.Params) (*OrderList, error)
	ListAll(ctx context.Context, actor Actor, params pagination.Params, filters ListFilters) (*OrderList, error)
	SendPaymentReminder(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.OrderReminder, error)
	ListReminders(ctx context.Context, actor Actor) ([]ReminderView, error)
	MarkReminderRead(ctx context.Context, actor Actor, orderID, reminderID uuid.UUID) error
}

// OrderList is one page of orders.
type OrderList struct {
	Orders     []models.Order `json:"orders"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

// ReminderView is a reminder flattened with the order it belongs to.
type ReminderView struct {
	ID            uuid.UUID           `json:"id"`
	OrderID       uuid.UUID           `json:"orderId"`
	Message       string              `json:"message"`
	SentAt        time.Time           `json:"sentAt"`
	Read          bool                `json:"read"`
	OrderStatus   enums.OrderStatus   `json:"orderStatus"`
	PaymentStatus enums.PaymentStatus `json:"paymentStatus"`
	AmountDue     decimal.Decimal     `json:"amountDue"`
}

type service struct {
	repo        Repository
	notifier    notifier
	frontendURL string
	logg        *logger.Logger
}

// NewService builds the order read/reminder service.
func NewService(repo Repository, notifier notifier, frontendURL string, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if frontendURL == "" {
		return nil, fmt.Errorf("frontend url required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, notifier: notifier, frontendURL: frontendURL, logg: logg}, nil
}

func (s *service) Get(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := RequireOwnerOrAdmin(actor, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) ListMine(ctx context.Context, actor Actor, params pagination.Params) (*OrderList, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user required")
	}
	rows, next, err := s.repo.List(ctx, params, ListFilters{UserID: &actor.UserID})
	if err != nil {
		return nil, err
	}
	return &OrderList{Orders: rows, NextCursor: next}, nil
}

func (s *service) ListAll(ctx context.Context, actor Actor, params pagination.Params, filters ListFilters) (*OrderList, error) {
	if err := RequireAdmin(actor); err != nil {
		return nil, err
	}
	rows, next, err := s.repo.List(ctx, params, filters)
	if err != nil {
		return nil, err
	}
	return &OrderList{Orders: rows, NextCursor: next}, nil
}

// SendPaymentReminder appends a reminder to an unpaid order and emails the pay link.
func (s *service) SendPaymentReminder(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.OrderReminder, error) {
	if err := RequireAdmin(actor); err != nil {
		return nil, err
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.IsPaid() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is already paid")
	}
	if order.Status == enums.OrderStatusFailed || order.Status == enums.OrderStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order is %s", order.Status))
	}

	reminder := &models.OrderReminder{
		OrderID: order.ID,
		Message: notifications.ReminderText(order),
		SentAt:  time.Now().UTC(),
	}
	if err := s.repo.AppendReminder(ctx, reminder); err != nil {
		return nil, err
	}

	s.notifier.Send(ctx, notifications.PaymentReminder(order, notifications.PayURL(s.frontendURL, order)))
	s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "payment reminder sent")
	return reminder, nil
}

func (s *service) ListReminders(ctx context.Context, actor Actor) ([]ReminderView, error) {
	rows, err := s.repo.ListWithReminders(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}

	views := make([]ReminderView, 0)
	for _, order := range rows {
		for _, r := range order.Reminders {
			views = append(views, ReminderView{
				ID:            r.ID,
				OrderID:       order.ID,
				Message:       r.Message,
				SentAt:        r.SentAt,
				Read:          r.Read,
				OrderStatus:   order.Status,
				PaymentStatus: order.PaymentStatus,
				AmountDue:     order.AmountDue(),
			})
		}
	}
	return views, nil
}

func (s *service) MarkReminderRead(ctx context.Context, actor Actor, orderID, reminderID uuid.UUID) error {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.UserID != actor.UserID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "not allowed to access this order")
	}
	return s.repo.MarkReminderRead(ctx, orderID, reminderID)
}
