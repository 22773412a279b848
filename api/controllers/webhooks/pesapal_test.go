package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muzafey/storefront-backend/internal/reconciliation"
	pkgerrors "github.com/muzafey/storefront-backend/pkg/errors"
)

type stubCallbackHandler struct {
	mu     sync.Mutex
	calls  []string
	result *reconciliation.CallbackResult
	err    error
}

func (s *stubCallbackHandler) HandleGatewayCallback(_ context.Context, orderRef, trackingID string) (*reconciliation.CallbackResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, orderRef+"|"+trackingID)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type memoryGuard struct {
	marked  map[string]bool
	deleted []string
}

func newMemoryGuard() *memoryGuard {
	return &memoryGuard{marked: map[string]bool{}}
}

func (g *memoryGuard) CheckAndMark(_ context.Context, trackingID string) (bool, error) {
	if g.marked[trackingID] {
		return true, nil
	}
	g.marked[trackingID] = true
	return false, nil
}

func (g *memoryGuard) Delete(_ context.Context, trackingID string) error {
	delete(g.marked, trackingID)
	g.deleted = append(g.deleted, trackingID)
	return nil
}

const orderRef = "5b0a4f4e-9f7a-4c43-9a55-2f1b1d3c4e5f"

func TestPesapalCallbackRedirectsOnPayment(t *testing.T) {
	handler := &stubCallbackHandler{result: &reconciliation.CallbackResult{Outcome: reconciliation.OutcomePaid}}
	h := PesapalCallback(handler, nil, "https://shop.example/", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/pesapal/callback?OrderTrackingId=trk-1&OrderMerchantReference="+orderRef, nil)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	require.Equal(t, http.StatusFound, resp.Code)
	assert.Equal(t, "https://shop.example/order-confirmation?orderId="+orderRef, resp.Header().Get("Location"))
	assert.Equal(t, []string{orderRef + "|trk-1"}, handler.calls)
}

func TestPesapalCallbackRedirectsToFailureOnFailedPayment(t *testing.T) {
	handler := &stubCallbackHandler{result: &reconciliation.CallbackResult{Outcome: reconciliation.OutcomeFailed}}
	h := PesapalCallback(handler, nil, "https://shop.example", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/pesapal/callback?OrderTrackingId=trk-1&orderId="+orderRef, nil)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	require.Equal(t, http.StatusFound, resp.Code)
	assert.Equal(t, "https://shop.example/payment-failed?orderId="+orderRef, resp.Header().Get("Location"))
}

func TestPesapalCallbackRedirectsToFailureOnUpstreamError(t *testing.T) {
	handler := &stubCallbackHandler{err: pkgerrors.New(pkgerrors.CodeUpstream, "pesapal transaction status")}
	h := PesapalCallback(handler, nil, "https://shop.example", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/pesapal/callback?OrderTrackingId=trk-1&OrderMerchantReference="+orderRef, nil)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	require.Equal(t, http.StatusFound, resp.Code)
	assert.Contains(t, resp.Header().Get("Location"), "/payment-failed")
}

func TestPesapalCallbackMissingParamsSkipsEngine(t *testing.T) {
	handler := &stubCallbackHandler{}
	h := PesapalCallback(handler, nil, "https://shop.example", nil)

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/pesapal/callback", nil))

	require.Equal(t, http.StatusFound, resp.Code)
	assert.Equal(t, "https://shop.example/payment-failed", resp.Header().Get("Location"))
	assert.Empty(t, handler.calls)
}

func TestPesapalIPNAcknowledgesAndDeduplicates(t *testing.T) {
	handler := &stubCallbackHandler{result: &reconciliation.CallbackResult{Outcome: reconciliation.OutcomePaid}}
	guard := newMemoryGuard()
	h := PesapalCallback(handler, guard, "https://shop.example", nil)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/pesapal/callback?OrderNotificationType=IPNCHANGE&OrderTrackingId=trk-9&OrderMerchantReference="+orderRef, nil)
		resp := httptest.NewRecorder()
		h.ServeHTTP(resp, req)

		require.Equal(t, http.StatusOK, resp.Code)
		var ack ipnAck
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
		assert.Equal(t, ipnAck{
			OrderNotificationType:  "IPNCHANGE",
			OrderTrackingID:        "trk-9",
			OrderMerchantReference: orderRef,
			Status:                 200,
		}, ack)
	}
	assert.Len(t, handler.calls, 1)
}

func TestPesapalIPNFromJSONBody(t *testing.T) {
	handler := &stubCallbackHandler{result: &reconciliation.CallbackResult{Outcome: reconciliation.OutcomeFailed}}
	h := PesapalCallback(handler, newMemoryGuard(), "https://shop.example", nil)

	body := `{"OrderNotificationType":"IPNCHANGE","OrderTrackingId":"trk-2","OrderMerchantReference":"` + orderRef + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/pesapal/callback", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []string{orderRef + "|trk-2"}, handler.calls)
}

func TestPesapalIPNErrorReleasesGuardAndReports500(t *testing.T) {
	handler := &stubCallbackHandler{err: errors.New("db down")}
	guard := newMemoryGuard()
	h := PesapalCallback(handler, guard, "https://shop.example", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/pesapal/callback?OrderNotificationType=IPNCHANGE&OrderTrackingId=trk-3&OrderMerchantReference="+orderRef, nil)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	var ack ipnAck
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	assert.Equal(t, http.StatusInternalServerError, ack.Status)
	assert.Equal(t, []string{"trk-3"}, guard.deleted)
	assert.False(t, guard.marked["trk-3"])
}
