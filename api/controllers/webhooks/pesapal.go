package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/muzafey/storefront-backend/internal/reconciliation"
	"github.com/muzafey/storefront-backend/pkg/logger"
)

// CallbackHandler is the reconciliation entry point for gateway notifications.
type CallbackHandler interface {
	HandleGatewayCallback(ctx context.Context, orderRef, trackingID string) (*reconciliation.CallbackResult, error)
}

// IPNGuard deduplicates Pesapal IPN deliveries by tracking id.
type IPNGuard interface {
	CheckAndMark(ctx context.Context, trackingID string) (bool, error)
	Delete(ctx context.Context, trackingID string) error
}

// callbackParams accepts both Pesapal's query names and the JSON body it posts for IPNs.
type callbackParams struct {
	NotificationType  string `json:"OrderNotificationType"`
	TrackingID        string `json:"OrderTrackingId"`
	MerchantReference string `json:"OrderMerchantReference"`
}

type ipnAck struct {
	OrderNotificationType  string `json:"orderNotificationType"`
	OrderTrackingID        string `json:"orderTrackingId"`
	OrderMerchantReference string `json:"orderMerchantReference"`
	Status                 int    `json:"status"`
}

// PesapalCallback serves both the customer redirect and the IPN. The embedded status is
// never trusted; the engine queries the gateway itself.
func PesapalCallback(handler CallbackHandler, guard IPNGuard, frontendURL string, logg *logger.Logger) http.HandlerFunc {
	frontend := strings.TrimRight(frontendURL, "/")
	return func(w http.ResponseWriter, r *http.Request) {
		params := readCallbackParams(r)
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"order_tracking_id":  params.TrackingID,
				"merchant_reference": params.MerchantReference,
				"notification_type":  params.NotificationType,
			})
		}

		if params.NotificationType != "" {
			handleIPN(ctx, w, handler, guard, params, logg)
			return
		}

		if params.TrackingID == "" || params.MerchantReference == "" {
			if logg != nil {
				logg.Warn(ctx, "pesapal callback missing parameters")
			}
			redirect(w, r, frontend, "/payment-failed", params.MerchantReference)
			return
		}

		result, err := handler.HandleGatewayCallback(ctx, params.MerchantReference, params.TrackingID)
		if err != nil {
			if logg != nil {
				logg.Error(ctx, "pesapal callback failed", err)
			}
			redirect(w, r, frontend, "/payment-failed", params.MerchantReference)
			return
		}
		if result.Succeeded() {
			redirect(w, r, frontend, "/order-confirmation", params.MerchantReference)
			return
		}
		redirect(w, r, frontend, "/payment-failed", params.MerchantReference)
	}
}

func handleIPN(ctx context.Context, w http.ResponseWriter, handler CallbackHandler, guard IPNGuard, params callbackParams, logg *logger.Logger) {
	ack := ipnAck{
		OrderNotificationType:  params.NotificationType,
		OrderTrackingID:        params.TrackingID,
		OrderMerchantReference: params.MerchantReference,
		Status:                 http.StatusOK,
	}
	if params.TrackingID == "" || params.MerchantReference == "" {
		ack.Status = http.StatusInternalServerError
		writeAck(w, ack)
		return
	}

	if guard != nil {
		seen, err := guard.CheckAndMark(ctx, params.TrackingID)
		if err != nil && logg != nil {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "ipn idempotency check failed; processing anyway")
		}
		if seen {
			writeAck(w, ack)
			return
		}
	}

	result, err := handler.HandleGatewayCallback(ctx, params.MerchantReference, params.TrackingID)
	if err != nil {
		if guard != nil {
			_ = guard.Delete(ctx, params.TrackingID)
		}
		if logg != nil {
			logg.Error(ctx, "pesapal ipn failed", err)
		}
		ack.Status = http.StatusInternalServerError
		writeAck(w, ack)
		return
	}

	switch result.Outcome {
	case reconciliation.OutcomeOrderNotFound, reconciliation.OutcomeReferenceMismatch:
		if guard != nil {
			_ = guard.Delete(ctx, params.TrackingID)
		}
	}
	writeAck(w, ack)
}

func readCallbackParams(r *http.Request) callbackParams {
	query := r.URL.Query()
	params := callbackParams{
		NotificationType:  strings.TrimSpace(query.Get("OrderNotificationType")),
		TrackingID:        strings.TrimSpace(query.Get("OrderTrackingId")),
		MerchantReference: strings.TrimSpace(query.Get("OrderMerchantReference")),
	}
	if params.MerchantReference == "" {
		params.MerchantReference = strings.TrimSpace(query.Get("orderId"))
	}

	if r.Method == http.MethodPost && strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body callbackParams
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			if params.NotificationType == "" {
				params.NotificationType = strings.TrimSpace(body.NotificationType)
			}
			if params.TrackingID == "" {
				params.TrackingID = strings.TrimSpace(body.TrackingID)
			}
			if params.MerchantReference == "" {
				params.MerchantReference = strings.TrimSpace(body.MerchantReference)
			}
		}
	}
	return params
}

func redirect(w http.ResponseWriter, r *http.Request, frontend, path, orderRef string) {
	target := frontend + path
	if orderRef != "" {
		target += "?orderId=" + url.QueryEscape(orderRef)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func writeAck(w http.ResponseWriter, ack ipnAck) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ack)
}
