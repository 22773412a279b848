package inventory

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/muzafey/storefront-backend/pkg/db/models"
	pkgerrors "github.com/muzafey/storefront-backend/pkg/errors"
)

var (
	// ErrInsufficientStock marks a reservation refused because stock < qty.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrProductNotFound marks a line that references an unknown product.
	ErrProductNotFound = errors.New("product not found")
)

// Line is one product/quantity pair to reserve or release.
type Line struct {
	ProductID uuid.UUID
	Qty       int
}

// Store is the only writer of products.stock.
type Store interface {
	WithTx(tx *gorm.DB) Store
	Get(ctx context.Context, id uuid.UUID) (*models.Product, error)
	ConditionalDecrement(ctx context.Context, productID uuid.UUID, qty int) (bool, error)
	Increment(ctx context.Context, productID uuid.UUID, qty int) error
	ReserveAll(ctx context.Context, lines []Line) error
	ReleaseAll(ctx context.Context, lines []Line) error
}

type store struct {
	db *gorm.DB
}

// NewStore builds a stock store bound to db.
func NewStore(db *gorm.DB) Store {
	return &store{db: db}
}

func (s *store) WithTx(tx *gorm.DB) Store {
	if tx == nil {
		return s
	}
	return &store{db: tx}
}

func (s *store) Get(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrProductNotFound, "product not found").
				WithDetails(map[string]any{"reason": "ProductNotFound", "productId": id.String()})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	return &product, nil
}

// ConditionalDecrement takes qty units only if that many are available. The check and the
// write are one statement, so concurrent callers can never drive stock negative.
func (s *store) ConditionalDecrement(ctx context.Context, productID uuid.UUID, qty int) (bool, error) {
	if qty <= 0 {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	res := s.db.WithContext(ctx).Exec(
		"UPDATE products SET stock = stock - ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND stock >= ?",
		qty, productID, qty,
	)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "decrement stock")
	}
	return res.RowsAffected == 1, nil
}

func (s *store) Increment(ctx context.Context, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	res := s.db.WithContext(ctx).Exec(
		"UPDATE products SET stock = stock + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		qty, productID,
	)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "restore stock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrProductNotFound, "product not found").
			WithDetails(map[string]any{"reason": "ProductNotFound", "productId": productID.String()})
	}
	return nil
}

// ReserveAll decrements every line or none of them. It runs in a savepoint when the store
// is bound to a transaction, so a shortfall on a later line undoes the earlier ones without
// aborting the caller's transaction.
func (s *store) ReserveAll(ctx context.Context, lines []Line) error {
	ordered := sortedLines(lines)
	return s.db.WithContext(ctx).Transaction(func(sp *gorm.DB) error {
		scoped := &store{db: sp}
		for _, line := range ordered {
			ok, err := scoped.ConditionalDecrement(ctx, line.ProductID, line.Qty)
			if err != nil {
				return err
			}
			if !ok {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, ErrInsufficientStock, "insufficient stock").
					WithDetails(map[string]any{"reason": "InsufficientStock", "productId": line.ProductID.String(), "requested": line.Qty})
			}
		}
		return nil
	})
}

// ReleaseAll returns every line to stock.
func (s *store) ReleaseAll(ctx context.Context, lines []Line) error {
	for _, line := range sortedLines(lines) {
		if err := s.Increment(ctx, line.ProductID, line.Qty); err != nil {
			return err
		}
	}
	return nil
}

// sortedLines orders lines by product id so concurrent multi-line reservations take row
// locks in the same order.
func sortedLines(lines []Line) []Line {
	out := make([]Line, len(lines))
	copy(out, lines)
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProductID.String() < out[j].ProductID.String()
	})
	return out
}
