package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/muzafey/storefront-backend/pkg/db/models"
	"github.com/muzafey/storefront-backend/pkg/enums"
	pkgerrors "github.com/muzafey/storefront-backend/pkg/errors"
	"github.com/muzafey/storefront-backend/pkg/pagination"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrReminderNotFound = errors.New("reminder not found")
	// ErrStaleOrder is returned by Save when another writer bumped the version first.
	ErrStaleOrder = errors.New("order was modified concurrently")
)

// ListFilters narrows the admin order list.
type ListFilters struct {
	Status        *enums.OrderStatus
	PaymentStatus *enums.PaymentStatus
	UserID        *uuid.UUID
}

// Repository persists Order aggregates.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	Save(ctx context.Context, order *models.Order) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, params pagination.Params, filters ListFilters) ([]models.Order, string, error)
	ListWithReminders(ctx context.Context, userID uuid.UUID) ([]models.Order, error)
	FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	AppendReminder(ctx context.Context, reminder *models.OrderReminder) error
	MarkReminderRead(ctx context.Context, orderID, reminderID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an order repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create inserts the order with its items. Version always starts at 1.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	order.Version = 1
	for i := range order.Items {
		order.Items[i].Position = i
	}
	if err := r.db.WithContext(ctx).Omit("Reminders").Create(order).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}
	return nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Reminders", func(db *gorm.DB) *gorm.DB { return db.Order("sent_at ASC") }).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, notFoundOr(err, id)
	}
	return &order, nil
}

// FindByIDForUpdate row-locks the order for the rest of the enclosing transaction. Items
// are read separately so the lock covers the order row only.
func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, notFoundOr(err, id)
	}
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", id).
		Order("position ASC").
		Find(&order.Items).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order items")
	}
	return &order, nil
}

// Save writes the mutable order columns if the stored version still matches, then bumps
// order.Version. Items and reminders are never touched.
func (r *repository) Save(ctx context.Context, order *models.Order) error {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND version = ?", order.ID, order.Version).
		Updates(map[string]any{
			"status":              order.Status,
			"payment_status":      order.PaymentStatus,
			"gateway_tracking_id": order.GatewayTrackingID,
			"stock_reserved":      order.StockReserved,
			"coupon_consumed":     order.CouponConsumed,
			"paid_at":             order.PaidAt,
			"version":             gorm.Expr("version + 1"),
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "save order")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, ErrStaleOrder, "order was modified concurrently").
			WithDetails(map[string]any{"orderId": order.ID.String()})
	}
	order.Version++
	return nil
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("order_id = ?", id).Delete(&models.OrderReminder{}).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete order reminders")
	}
	if err := db.Where("order_id = ?", id).Delete(&models.OrderItem{}).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete order items")
	}
	res := db.Where("id = ?", id).Delete(&models.Order{})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "delete order")
	}
	if res.RowsAffected == 0 {
		return notFoundOr(gorm.ErrRecordNotFound, id)
	}
	return nil
}

// List returns one page of orders, newest first, plus the next cursor.
func (r *repository) List(ctx context.Context, params pagination.Params, filters ListFilters) ([]models.Order, string, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") })

	if filters.UserID != nil {
		query = query.Where("user_id = ?", *filters.UserID)
	}
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.PaymentStatus != nil {
		query = query.Where("payment_status = ?", *filters.PaymentStatus)
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Order
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error; err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}

	page, next := pagination.Trim(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	return page, next, nil
}

// ListWithReminders loads every order of userID that has at least one reminder.
func (r *repository) ListWithReminders(ctx context.Context, userID uuid.UUID) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Preload("Reminders", func(db *gorm.DB) *gorm.DB { return db.Order("sent_at DESC") }).
		Where("user_id = ?", userID).
		Where("EXISTS (SELECT 1 FROM order_reminders r WHERE r.order_id = orders.id)").
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list reminders")
	}
	return rows, nil
}

// FindStalePending returns unpaid gateway orders created before cutoff.
func (r *repository) FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND payment_status = ?", enums.OrderStatusPending, enums.PaymentStatusUnpaid).
		Where("payment_method IN ?", []enums.PaymentMethod{enums.PaymentMethodPesapal, enums.PaymentMethodMpesa}).
		Where("created_at < ?", cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find stale pending orders")
	}
	return rows, nil
}

func (r *repository) AppendReminder(ctx context.Context, reminder *models.OrderReminder) error {
	if reminder.SentAt.IsZero() {
		reminder.SentAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(reminder).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append reminder")
	}
	return nil
}

func (r *repository) MarkReminderRead(ctx context.Context, orderID, reminderID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&models.OrderReminder{}).
		Where("id = ? AND order_id = ?", reminderID, orderID).
		Update("read", true)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "mark reminder read")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrReminderNotFound, "reminder not found")
	}
	return nil
}

func notFoundOr(err error, id uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrOrderNotFound, "order not found").
			WithDetails(map[string]any{"orderId": id.String()})
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}
