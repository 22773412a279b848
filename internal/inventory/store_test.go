package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/muzafey/storefront-backend/pkg/db/dbtest"
	"github.com/muzafey/storefront-backend/pkg/db/models"
	pkgerrors "github.com/muzafey/storefront-backend/pkg/errors"
)

func seedProduct(t *testing.T, conn *gorm.DB, stock int) models.Product {
	t.Helper()
	product := models.Product{Name: "Maasai Shuka", Price: decimal.NewFromInt(1500), Stock: stock}
	require.NoError(t, conn.Create(&product).Error)
	return product
}

func stockOf(t *testing.T, conn *gorm.DB, id uuid.UUID) int {
	t.Helper()
	var product models.Product
	require.NoError(t, conn.First(&product, "id = ?", id).Error)
	return product.Stock
}

func TestConditionalDecrementRefusesShortfall(t *testing.T) {
	conn := dbtest.Open(t)
	store := NewStore(conn)
	product := seedProduct(t, conn, 2)
	ctx := context.Background()

	ok, err := store.ConditionalDecrement(ctx, product.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ConditionalDecrement(ctx, product.ID, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, stockOf(t, conn, product.ID))
}

func TestConditionalDecrementRejectsNonPositiveQty(t *testing.T) {
	conn := dbtest.Open(t)
	store := NewStore(conn)
	product := seedProduct(t, conn, 2)

	_, err := store.ConditionalDecrement(context.Background(), product.ID, 0)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestReserveAllIsAllOrNothing(t *testing.T) {
	conn := dbtest.Open(t)
	store := NewStore(conn)
	plenty := seedProduct(t, conn, 10)
	scarce := seedProduct(t, conn, 1)

	err := store.ReserveAll(context.Background(), []Line{
		{ProductID: plenty.ID, Qty: 3},
		{ProductID: scarce.ID, Qty: 2},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	assert.Equal(t, 10, stockOf(t, conn, plenty.ID))
	assert.Equal(t, 1, stockOf(t, conn, scarce.ID))
}

func TestReserveAllInsideOuterTransactionKeepsOuterWrites(t *testing.T) {
	conn := dbtest.Open(t)
	product := seedProduct(t, conn, 1)
	other := seedProduct(t, conn, 5)

	err := conn.Transaction(func(tx *gorm.DB) error {
		store := NewStore(conn).WithTx(tx)
		if err := store.Increment(context.Background(), other.ID, 1); err != nil {
			return err
		}
		reserveErr := store.ReserveAll(context.Background(), []Line{{ProductID: product.ID, Qty: 2}})
		require.ErrorIs(t, reserveErr, ErrInsufficientStock)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 6, stockOf(t, conn, other.ID))
	assert.Equal(t, 1, stockOf(t, conn, product.ID))
}

func TestReleaseAllRestoresStock(t *testing.T) {
	conn := dbtest.Open(t)
	store := NewStore(conn)
	product := seedProduct(t, conn, 0)

	require.NoError(t, store.ReleaseAll(context.Background(), []Line{{ProductID: product.ID, Qty: 4}}))
	assert.Equal(t, 4, stockOf(t, conn, product.ID))
}

func TestIncrementUnknownProduct(t *testing.T) {
	conn := dbtest.Open(t)
	err := NewStore(conn).Increment(context.Background(), uuid.New(), 1)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestConcurrentDecrementsNeverOversell(t *testing.T) {
	conn := dbtest.Open(t)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store := NewStore(conn)
	product := seedProduct(t, conn, 3)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.ConditionalDecrement(context.Background(), product.ID, 1)
			if err == nil && ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, granted)
	assert.Equal(t, 0, stockOf(t, conn, product.ID))
}
