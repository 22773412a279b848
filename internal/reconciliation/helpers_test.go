package reconciliation

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/muzafey/storefront-backend/internal/coupons"
	"github.com/muzafey/storefront-backend/internal/inventory"
	"github.com/muzafey/storefront-backend/internal/orders"
	"github.com/muzafey/storefront-backend/internal/transactions"
	"github.com/muzafey/storefront-backend/pkg/db"
	"github.com/muzafey/storefront-backend/pkg/db/dbtest"
	"github.com/muzafey/storefront-backend/pkg/db/models"
	"github.com/muzafey/storefront-backend/pkg/enums"
	"github.com/muzafey/storefront-backend/pkg/logger"
	"github.com/muzafey/storefront-backend/pkg/mailer"
	"github.com/muzafey/storefront-backend/pkg/outbox"
	"github.com/muzafey/storefront-backend/pkg/pesapal"
)

type fakeGateway struct {
	mu        sync.Mutex
	statuses  map[string]*pesapal.TransactionStatus
	statusErr error
	calls     int

	submitResp *pesapal.SubmitOrderResponse
	submitErr  error
	submitted  []pesapal.SubmitOrderInput
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: map[string]*pesapal.TransactionStatus{}}
}

func (g *fakeGateway) setStatus(trackingID string, code int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	desc := "Completed"
	if code != pesapal.StatusCompleted {
		desc = "Failed"
	}
	g.statuses[trackingID] = &pesapal.TransactionStatus{
		StatusCode:               code,
		PaymentStatusDescription: desc,
		Raw:                      []byte(`{"status_code":` + strconv.Itoa(code) + `}`),
	}
}

func (g *fakeGateway) GetTransactionStatus(_ context.Context, trackingID string) (*pesapal.TransactionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	status, ok := g.statuses[trackingID]
	if !ok {
		return &pesapal.TransactionStatus{StatusCode: pesapal.StatusInvalid, PaymentStatusDescription: "INVALID"}, nil
	}
	copied := *status
	return &copied, nil
}

func (g *fakeGateway) SubmitOrder(_ context.Context, in pesapal.SubmitOrderInput) (*pesapal.SubmitOrderResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitted = append(g.submitted, in)
	if g.submitErr != nil {
		return nil, g.submitErr
	}
	return g.submitResp, nil
}

// localLocker is an in-process stand-in for the redis keyed mutex.
type localLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *localLocker) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = map[string]*sync.Mutex{}
	}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock, nil
}

type stubNotifier struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (s *stubNotifier) Send(_ context.Context, msg mailer.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
}

func (s *stubNotifier) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type recordingMetrics struct {
	mu        sync.Mutex
	outcomes  map[string]int
	conflicts int
}

func (m *recordingMetrics) IncOutcome(source, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = map[string]int{}
	}
	m.outcomes[source+"/"+outcome]++
}

func (m *recordingMetrics) IncStockConflict() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
}

type fixture struct {
	engine   *Engine
	conn     *gorm.DB
	gateway  *fakeGateway
	notifier *stubNotifier
	metrics  *recordingMetrics
	orders   orders.Repository
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := dbtest.Open(t)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	// One connection serialises sqlite writers the way row locks do on postgres.
	sqlDB.SetMaxOpenConns(1)

	gateway := newFakeGateway()
	notifier := &stubNotifier{}
	metrics := &recordingMetrics{}
	orderRepo := orders.NewRepository(conn)

	engine, err := NewEngine(Params{
		DB:           db.FromConn(conn),
		Orders:       orderRepo,
		Inventory:    inventory.NewStore(conn),
		Coupons:      coupons.NewRepository(conn),
		Transactions: transactions.NewRepository(conn),
		Outbox:       outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		Gateway:      gateway,
		Locker:       &localLocker{},
		Notifier:     notifier,
		Metrics:      metrics,
		Logger:       logger.Nop(),
	})
	require.NoError(t, err)

	return fixture{
		engine:   engine,
		conn:     conn,
		gateway:  gateway,
		notifier: notifier,
		metrics:  metrics,
		orders:   orderRepo,
	}
}

func customer() orders.Actor {
	return orders.Actor{UserID: uuid.New(), Role: enums.RoleCustomer, Email: "wanjiku@example.com", Name: "Wanjiku"}
}

func admin() orders.Actor {
	return orders.Actor{UserID: uuid.New(), Role: enums.RoleAdmin, Email: "ops@example.com"}
}

func (f fixture) product(t *testing.T, price int64, stock int) uuid.UUID {
	t.Helper()
	p := models.Product{Name: "Maasai shuka", Price: decimal.NewFromInt(price), Stock: stock}
	require.NoError(t, f.conn.Create(&p).Error)
	return p.ID
}

func (f fixture) stock(t *testing.T, productID uuid.UUID) int {
	t.Helper()
	var p models.Product
	require.NoError(t, f.conn.Where("id = ?", productID).First(&p).Error)
	return p.Stock
}

func (f fixture) order(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	order, err := f.orders.FindByID(context.Background(), id)
	require.NoError(t, err)
	return order
}

func (f fixture) txnCount(t *testing.T, orderID uuid.UUID, status enums.TransactionStatus) int {
	t.Helper()
	var n int64
	require.NoError(t, f.conn.Model(&models.Transaction{}).
		Where("order_id = ? AND status = ?", orderID, status).
		Count(&n).Error)
	return int(n)
}

func (f fixture) events(t *testing.T, aggregateID uuid.UUID, eventType enums.OutboxEventType) int {
	t.Helper()
	var n int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).
		Where("aggregate_id = ? AND event_type = ?", aggregateID, eventType).
		Count(&n).Error)
	return int(n)
}

func (f fixture) place(t *testing.T, actor orders.Actor, method enums.PaymentMethod, productID uuid.UUID, qty int) *models.Order {
	t.Helper()
	order, err := f.engine.CreateOrder(context.Background(), actor, CreateOrderInput{
		Items:         []ItemInput{{ProductID: productID, Qty: qty}},
		PaymentMethod: method,
		ShippingAddress: models.ShippingAddress{
			FullName: "Wanjiku Kamau",
			Phone:    "+254711000000",
			Address:  "Kenyatta Avenue 4",
			City:     "Nairobi",
		},
	})
	require.NoError(t, err)
	return order
}

func strPtr(s string) *string { return &s }

// placeMany creates a gateway order with one line per product.
func (f fixture) placeMany(t *testing.T, actor orders.Actor, lines map[uuid.UUID]int) *models.Order {
	t.Helper()
	items := make([]ItemInput, 0, len(lines))
	for productID, qty := range lines {
		items = append(items, ItemInput{ProductID: productID, Qty: qty})
	}
	order, err := f.engine.CreateOrder(context.Background(), actor, CreateOrderInput{
		Items:         items,
		PaymentMethod: enums.PaymentMethodPesapal,
		ShippingAddress: models.ShippingAddress{
			FullName: "Wanjiku Kamau",
			Phone:    "+254711000000",
			Address:  "Kenyatta Avenue 4",
			City:     "Nairobi",
		},
	})
	require.NoError(t, err)
	return order
}

// byLockOrder returns a and b in the order stock reservation visits them.
func byLockOrder(a, b uuid.UUID) (first, last uuid.UUID) {
	if a.String() < b.String() {
		return a, b
	}
	return b, a
}
