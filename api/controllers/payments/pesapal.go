package payments

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/muzafey/storefront-backend/api/middleware"
	"github.com/muzafey/storefront-backend/api/responses"
	"github.com/muzafey/storefront-backend/api/validators"
	internalorders "github.com/muzafey/storefront-backend/internal/orders"
	"github.com/muzafey/storefront-backend/internal/reconciliation"
	pkgerrors "github.com/muzafey/storefront-backend/pkg/errors"
	"github.com/muzafey/storefront-backend/pkg/logger"
	"github.com/muzafey/storefront-backend/pkg/pesapal"
)

// PaymentEngine opens gateway sessions and proxies status queries.
type PaymentEngine interface {
	InitiatePayment(ctx context.Context, actor internalorders.Actor, orderID uuid.UUID, in reconciliation.InitiatePaymentInput) (*reconciliation.PaymentSession, error)
	GetTransactionStatus(ctx context.Context, trackingID string) (*pesapal.TransactionStatus, error)
}

type initiatePaymentRequest struct {
	OrderID string `json:"orderId" validate:"required,uuid"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone"`
	// Amount is charged from the stored order total.
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

// InitiatePayment submits the caller's pending order to Pesapal and returns the payment page.
func InitiatePayment(engine PaymentEngine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req initiatePaymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID := uuid.MustParse(req.OrderID)

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
		}
		session, err := engine.InitiatePayment(ctx, actor, orderID, reconciliation.InitiatePaymentInput{
			Email: validators.SanitizeString(req.Email, 254),
			Phone: validators.SanitizeString(req.Phone, 32),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, session)
	}
}

// TransactionStatus relays the gateway's view of a tracking id.
func TransactionStatus(engine PaymentEngine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trackingID := strings.TrimSpace(chi.URLParam(r, "orderTrackingId"))
		if trackingID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order tracking id is required"))
			return
		}

		status, err := engine.GetTransactionStatus(r.Context(), trackingID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}
