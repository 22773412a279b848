package transactions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/muzafey/storefront-backend/pkg/db/models"
	pkgerrors "github.com/muzafey/storefront-backend/pkg/errors"
	"github.com/muzafey/storefront-backend/pkg/pagination"
)

var ErrTransactionNotFound = errors.New("transaction not found")

// ListFilters narrows transaction listings.
type ListFilters struct {
	OrderID *uuid.UUID
	Deleted bool
}

// Repository stores the append-only payment audit trail.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Record(ctx context.Context, txn *models.Transaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	List(ctx context.Context, params pagination.Params, filters ListFilters) ([]models.Transaction, string, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Transaction, error)
	SetDeleted(ctx context.Context, id uuid.UUID, deleted bool) error
	HardDelete(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Record(ctx context.Context, txn *models.Transaction) error {
	txn.IsDeleted = false
	txn.DeletedAt = nil
	if err := r.db.WithContext(ctx).Create(txn).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record transaction")
	}
	return nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrTransactionNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	return &txn, nil
}

func (r *repository) List(ctx context.Context, params pagination.Params, filters ListFilters) ([]models.Transaction, string, error) {
	query := r.db.WithContext(ctx).Model(&models.Transaction{}).Where("is_deleted = ?", filters.Deleted)
	if filters.OrderID != nil {
		query = query.Where("order_id = ?", *filters.OrderID)
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Transaction
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error; err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}

	page, next := pagination.Trim(rows, params.Limit, func(t models.Transaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: t.CreatedAt, ID: t.ID}
	})
	return page, next, nil
}

// ListByOrder returns every non-deleted record for orderID, oldest first.
func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND is_deleted = ?", orderID, false).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order transactions")
	}
	return rows, nil
}

// SetDeleted flips the soft-delete flag pair. No other column is ever updated.
func (r *repository) SetDeleted(ctx context.Context, id uuid.UUID, deleted bool) error {
	var deletedAt *time.Time
	if deleted {
		now := time.Now().UTC()
		deletedAt = &now
	}
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_deleted": deleted, "deleted_at": deletedAt})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update transaction")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrTransactionNotFound, "transaction not found")
	}
	return nil
}

func (r *repository) HardDelete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Transaction{})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "delete transaction")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrTransactionNotFound, "transaction not found")
	}
	return nil
}
