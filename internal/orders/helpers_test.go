package orders

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/muzafey/storefront-backend/pkg/db/models"
	"github.com/muzafey/storefront-backend/pkg/enums"
	"github.com/muzafey/storefront-backend/pkg/mailer"
)

type stubNotifier struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (s *stubNotifier) Send(_ context.Context, msg mailer.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
}

func seedOrder(t *testing.T, conn *gorm.DB, userID uuid.UUID, method enums.PaymentMethod, status enums.OrderStatus) *models.Order {
	t.Helper()

	product := models.Product{Name: "Kikoi", Price: decimal.NewFromInt(800), Stock: 10}
	require.NoError(t, conn.Create(&product).Error)

	order := &models.Order{
		UserID:        userID,
		CustomerEmail: "amina@example.com",
		CustomerName:  "Amina",
		ShippingAddress: models.ShippingAddress{
			FullName: "Amina Odhiambo",
			Phone:    "+254700000000",
			Address:  "Moi Avenue 12",
			City:     "Nairobi",
		},
		PaymentMethod: method,
		Status:        status,
		PaymentStatus: enums.PaymentStatusUnpaid,
		TotalPrice:    decimal.NewFromInt(1600),
		FinalAmount:   decimal.NewFromInt(1600),
		Items: []models.OrderItem{
			{ProductID: product.ID, ProductName: product.Name, Qty: 2, PriceAtOrder: product.Price},
		},
	}
	require.NoError(t, NewRepository(conn).Create(context.Background(), order))
	return order
}
