package orders

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/muzafey/storefront-backend/api/middleware"
	"github.com/muzafey/storefront-backend/api/responses"
	"github.com/muzafey/storefront-backend/api/validators"
	internalorders "github.com/muzafey/storefront-backend/internal/orders"
	"github.com/muzafey/storefront-backend/internal/reconciliation"
	"github.com/muzafey/storefront-backend/pkg/db/models"
	"github.com/muzafey/storefront-backend/pkg/enums"
	pkgerrors "github.com/muzafey/storefront-backend/pkg/errors"
	"github.com/muzafey/storefront-backend/pkg/logger"
	"github.com/muzafey/storefront-backend/pkg/pagination"
)

// OrderEngine is the state-changing half of the order API.
type OrderEngine interface {
	CreateOrder(ctx context.Context, actor internalorders.Actor, in reconciliation.CreateOrderInput) (*models.Order, error)
	SetPaymentStatus(ctx context.Context, actor internalorders.Actor, orderID uuid.UUID, status enums.PaymentStatus) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, actor internalorders.Actor, orderID uuid.UUID, next enums.OrderStatus) (*models.Order, error)
	DeleteOrder(ctx context.Context, actor internalorders.Actor, orderID uuid.UUID) error
}

type orderItemRequest struct {
	Product string `json:"product" validate:"required,uuid"`
	Qty     int    `json:"qty" validate:"gt=0"`
	// Name, price and image are snapshotted from the catalog; client copies are ignored.
	Name  string          `json:"name,omitempty"`
	Price decimal.Decimal `json:"price,omitempty"`
	Image string          `json:"image,omitempty"`
}

type discountRequest struct {
	Type  *string         `json:"type"`
	Value decimal.Decimal `json:"value"`
}

type createOrderRequest struct {
	OrderItems      []orderItemRequest     `json:"orderItems" validate:"required,min=1,dive"`
	ShippingAddress models.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string                 `json:"paymentMethod" validate:"required"`
	CouponCode      *string                `json:"couponCode"`
	Phone           string                 `json:"phone,omitempty"`
	// Totals are recomputed from catalog prices and the coupon.
	TotalPrice  *decimal.Decimal `json:"totalPrice,omitempty"`
	Discount    *discountRequest `json:"discount,omitempty"`
	FinalAmount *decimal.Decimal `json:"finalAmount,omitempty"`
}

func (req createOrderRequest) toInput() (reconciliation.CreateOrderInput, error) {
	method, err := enums.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return reconciliation.CreateOrderInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method").
			WithDetails(map[string]any{"field": "paymentMethod"})
	}

	items := make([]reconciliation.ItemInput, 0, len(req.OrderItems))
	for _, item := range req.OrderItems {
		productID, err := uuid.Parse(item.Product)
		if err != nil {
			return reconciliation.CreateOrderInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id")
		}
		items = append(items, reconciliation.ItemInput{ProductID: productID, Qty: item.Qty})
	}

	address := req.ShippingAddress
	if address.Phone == "" {
		address.Phone = validators.SanitizeString(req.Phone, 32)
	}

	var coupon *string
	if req.CouponCode != nil {
		if code := strings.TrimSpace(*req.CouponCode); code != "" {
			coupon = &code
		}
	}

	return reconciliation.CreateOrderInput{
		Items:           items,
		PaymentMethod:   method,
		CouponCode:      coupon,
		ShippingAddress: address,
	}, nil
}

// Create places an order for the caller.
func Create(engine OrderEngine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := req.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := engine.CreateOrder(r.Context(), actor, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// Mine lists the caller's orders, newest first.
func Mine(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListMine(r.Context(), actor, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// List is the admin view over every order, filterable by status, payment status and user.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filters, err := buildListFilters(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListAll(r.Context(), actor, params, filters)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// Detail returns one order to its owner or an admin.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), actor, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// UpdateStatus moves an order along the fulfilment state machine.
func UpdateStatus(engine OrderEngine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req updateStatusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		next, err := enums.ParseOrderStatus(req.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		order, err := engine.UpdateOrderStatus(r.Context(), actor, orderID, next)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

type updatePaymentStatusRequest struct {
	PaymentStatus string `json:"paymentStatus" validate:"required"`
}

// UpdatePaymentStatus is the admin override for payment state.
func UpdatePaymentStatus(engine OrderEngine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req updatePaymentStatusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParsePaymentStatus(req.PaymentStatus)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment status"))
			return
		}

		order, err := engine.SetPaymentStatus(r.Context(), actor, orderID, status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// Delete removes an order, returning its stock unless it already left the warehouse.
func Delete(engine OrderEngine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := engine.DeleteOrder(r.Context(), actor, orderID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"message": "Order removed"})
	}
}

// SendPaymentReminder appends a reminder to an unpaid order and emails the pay link.
func SendPaymentReminder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		reminder, err := svc.SendPaymentReminder(r.Context(), actor, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, reminder)
	}
}

// Reminders lists every reminder across the caller's orders.
func Reminders(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		reminders, err := svc.ListReminders(r.Context(), actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, reminders)
	}
}

type markReminderReadRequest struct {
	OrderID    string `json:"orderId" validate:"required,uuid"`
	ReminderID string `json:"reminderId" validate:"required,uuid"`
}

// MarkReminderRead flags one reminder on the caller's own order as read.
func MarkReminderRead(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req markReminderReadRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		// validated as uuids above
		orderID := uuid.MustParse(req.OrderID)
		reminderID := uuid.MustParse(req.ReminderID)

		if err := svc.MarkReminderRead(r.Context(), actor, orderID, reminderID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"message": "Reminder marked as read"})
	}
}

func pageParams(r *http.Request) (pagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	}, nil
}

func buildListFilters(r *http.Request) (internalorders.ListFilters, error) {
	var filters internalorders.ListFilters
	query := r.URL.Query()

	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status, err := enums.ParseOrderStatus(raw)
		if err != nil {
			return filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		filters.Status = &status
	}
	if raw := strings.TrimSpace(query.Get("paymentStatus")); raw != "" {
		status, err := enums.ParsePaymentStatus(raw)
		if err != nil {
			return filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment status filter")
		}
		filters.PaymentStatus = &status
	}
	if raw := strings.TrimSpace(query.Get("userId")); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			return filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user filter")
		}
		filters.UserID = &userID
	}
	return filters, nil
}
