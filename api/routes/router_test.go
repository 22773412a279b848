package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/muzafey/storefront-backend/internal/orders"
	"github.com/muzafey/storefront-backend/internal/reconciliation"
	"github.com/muzafey/storefront-backend/internal/transactions"
	pkgAuth "github.com/muzafey/storefront-backend/pkg/auth"
	"github.com/muzafey/storefront-backend/pkg/config"
	"github.com/muzafey/storefront-backend/pkg/db/models"
	"github.com/muzafey/storefront-backend/pkg/enums"
	"github.com/muzafey/storefront-backend/pkg/logger"
	"github.com/muzafey/storefront-backend/pkg/pagination"
	"github.com/muzafey/storefront-backend/pkg/pesapal"
	"github.com/muzafey/storefront-backend/pkg/redis"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubEngine struct{}

func (stubEngine) CreateOrder(ctx context.Context, actor orders.Actor, in reconciliation.CreateOrderInput) (*models.Order, error) {
	return &models.Order{ID: uuid.New(), UserID: actor.UserID}, nil
}

func (stubEngine) SetPaymentStatus(ctx context.Context, actor orders.Actor, orderID uuid.UUID, status enums.PaymentStatus) (*models.Order, error) {
	return &models.Order{ID: orderID, PaymentStatus: status}, nil
}

func (stubEngine) UpdateOrderStatus(ctx context.Context, actor orders.Actor, orderID uuid.UUID, next enums.OrderStatus) (*models.Order, error) {
	return &models.Order{ID: orderID, Status: next}, nil
}

func (stubEngine) DeleteOrder(ctx context.Context, actor orders.Actor, orderID uuid.UUID) error {
	return nil
}

func (stubEngine) InitiatePayment(ctx context.Context, actor orders.Actor, orderID uuid.UUID, in reconciliation.InitiatePaymentInput) (*reconciliation.PaymentSession, error) {
	return &reconciliation.PaymentSession{OrderID: orderID}, nil
}

func (stubEngine) GetTransactionStatus(ctx context.Context, trackingID string) (*pesapal.TransactionStatus, error) {
	return &pesapal.TransactionStatus{StatusCode: pesapal.StatusCompleted}, nil
}

func (stubEngine) HandleGatewayCallback(ctx context.Context, orderRef, trackingID string) (*reconciliation.CallbackResult, error) {
	return &reconciliation.CallbackResult{Outcome: reconciliation.OutcomePaid}, nil
}

type stubOrdersService struct{}

func (stubOrdersService) Get(ctx context.Context, actor orders.Actor, orderID uuid.UUID) (*models.Order, error) {
	return &models.Order{ID: orderID, UserID: actor.UserID}, nil
}

func (stubOrdersService) ListMine(ctx context.Context, actor orders.Actor, params pagination.Params) (*orders.OrderList, error) {
	return &orders.OrderList{}, nil
}

func (stubOrdersService) ListAll(ctx context.Context, actor orders.Actor, params pagination.Params, filters orders.ListFilters) (*orders.OrderList, error) {
	return &orders.OrderList{}, nil
}

func (stubOrdersService) SendPaymentReminder(ctx context.Context, actor orders.Actor, orderID uuid.UUID) (*models.OrderReminder, error) {
	return &models.OrderReminder{}, nil
}

func (stubOrdersService) ListReminders(ctx context.Context, actor orders.Actor) ([]orders.ReminderView, error) {
	return nil, nil
}

func (stubOrdersService) MarkReminderRead(ctx context.Context, actor orders.Actor, orderID, reminderID uuid.UUID) error {
	return nil
}

type stubTransactionsService struct{}

func (stubTransactionsService) List(ctx context.Context, role enums.Role, params pagination.Params, orderID *uuid.UUID) (*transactions.List, error) {
	return &transactions.List{}, nil
}

func (stubTransactionsService) ListTrashed(ctx context.Context, role enums.Role, params pagination.Params) (*transactions.List, error) {
	return &transactions.List{}, nil
}

func (stubTransactionsService) Get(ctx context.Context, role enums.Role, id uuid.UUID) (*models.Transaction, error) {
	return &models.Transaction{ID: id}, nil
}

func (stubTransactionsService) SoftDelete(ctx context.Context, role enums.Role, id uuid.UUID) error {
	return nil
}

func (stubTransactionsService) Restore(ctx context.Context, role enums.Role, id uuid.UUID) error {
	return nil
}

func (stubTransactionsService) HardDelete(ctx context.Context, role enums.Role, id uuid.UUID) error {
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "0", FrontendURL: "https://shop.example"},
		JWT: config.JWTConfig{
			Secret:            "secret",
			Issuer:            "issuer",
			ExpirationMinutes: 60,
		},
	}
}

func newTestRouter(cfg *config.Config) http.Handler {
	logg := logger.New(logger.Options{ServiceName: "test-routing", Level: logger.ParseLevel("debug"), Output: io.Discard})
	return NewRouter(
		cfg,
		logg,
		stubPinger{},
		(*redis.Client)(nil),
		stubEngine{},
		stubOrdersService{},
		stubTransactionsService{},
		nil,
	)
}

func buildToken(t *testing.T, cfg *config.Config, role enums.Role) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   role,
		Email:  "buyer@example.com",
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestHealthLiveIsPublic(t *testing.T) {
	resp := serve(newTestRouter(testConfig()), httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestMetricsIsExposed(t *testing.T) {
	resp := serve(newTestRouter(testConfig()), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestOrderRoutesRejectMissingJWT(t *testing.T) {
	router := newTestRouter(testConfig())
	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(`{}`)),
		httptest.NewRequest(http.MethodGet, "/api/orders/myorders", nil),
		httptest.NewRequest(http.MethodPost, "/api/pesapal/initiate-payment", strings.NewReader(`{}`)),
	} {
		if resp := serve(router, req); resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401 got %d", req.Method, req.URL.Path, resp.Code)
		}
	}
}

func TestCustomerCanListOwnOrders(t *testing.T) {
	cfg := testConfig()
	req := httptest.NewRequest(http.MethodGet, "/api/orders/myorders", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.RoleCustomer))
	if resp := serve(newTestRouter(cfg), req); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestOrderListRequiresAdmin(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)

	customer := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	customer.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.RoleCustomer))
	if resp := serve(router, customer); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer got %d", resp.Code)
	}

	admin := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	admin.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.RoleAdmin))
	if resp := serve(router, admin); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin got %d", resp.Code)
	}
}

func TestDeleteOrderRequiresAdminButDetailDoesNot(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	path := "/api/orders/" + uuid.NewString()
	token := buildToken(t, cfg, enums.RoleCustomer)

	detail := httptest.NewRequest(http.MethodGet, path, nil)
	detail.Header.Set("Authorization", "Bearer "+token)
	if resp := serve(router, detail); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for detail got %d", resp.Code)
	}

	del := httptest.NewRequest(http.MethodDelete, path, nil)
	del.Header.Set("Authorization", "Bearer "+token)
	if resp := serve(router, del); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer delete got %d", resp.Code)
	}
}

func TestAdminTransactionsRequireAdmin(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	path := "/api/admin/transactions/" + uuid.NewString() + "/permanent"

	customer := httptest.NewRequest(http.MethodDelete, path, nil)
	customer.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.RoleCustomer))
	if resp := serve(router, customer); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer got %d", resp.Code)
	}

	admin := httptest.NewRequest(http.MethodDelete, path, nil)
	admin.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.RoleAdmin))
	if resp := serve(router, admin); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin got %d", resp.Code)
	}
}

func TestPesapalCallbackIsPublic(t *testing.T) {
	router := newTestRouter(testConfig())
	orderID := uuid.NewString()

	get := httptest.NewRequest(http.MethodGet, "/api/pesapal/callback?OrderTrackingId=trk&OrderMerchantReference="+orderID, nil)
	resp := serve(router, get)
	if resp.Code != http.StatusFound {
		t.Fatalf("expected 302 got %d", resp.Code)
	}
	if want := "https://shop.example/order-confirmation?orderId=" + orderID; resp.Header().Get("Location") != want {
		t.Fatalf("expected redirect to %s got %s", want, resp.Header().Get("Location"))
	}

	post := httptest.NewRequest(http.MethodPost, "/api/pesapal/callback?OrderNotificationType=IPNCHANGE&OrderTrackingId=trk&OrderMerchantReference="+orderID, nil)
	if resp := serve(router, post); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 ack got %d", resp.Code)
	}
}
