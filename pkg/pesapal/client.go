// Package pesapal is a client for the Pesapal v3 payments API.
package pesapal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/muzafey/storefront-backend/pkg/config"
	pkgerrors "github.com/muzafey/storefront-backend/pkg/errors"
	"github.com/muzafey/storefront-backend/pkg/logger"
)

const (
	pathRequestToken  = "/api/Auth/RequestToken"
	pathRegisterIPN   = "/api/URLSetup/RegisterIPN"
	pathSubmitOrder   = "/api/Transactions/SubmitOrderRequest"
	pathTransactionSt = "/api/Transactions/GetTransactionStatus"

	// Tokens live five minutes; refresh a little early.
	tokenSafetyMargin = 30 * time.Second
	fallbackTokenTTL  = 4 * time.Minute
	maxBodyBytes      = 1 << 20
)

type gatewayObserver interface {
	ObserveGateway(operation string, took time.Duration, err error)
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithObserver records per-call latency.
func WithObserver(o gatewayObserver) Option {
	return func(c *Client) { c.observer = o }
}

// WithClock overrides time.Now for token expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client talks to Pesapal. It caches the bearer token and the IPN id; both caches are
// guarded by mu.
type Client struct {
	cfg      config.PesapalConfig
	baseURL  string
	http     *http.Client
	logg     *logger.Logger
	observer gatewayObserver
	now      func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	ipnID       string
}

func NewClient(cfg config.PesapalConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("pesapal base url required")
	}
	if cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" {
		return nil, fmt.Errorf("pesapal consumer credentials required")
	}
	if cfg.CallbackURL == "" {
		return nil, fmt.Errorf("pesapal callback url required")
	}
	if cfg.Currency == "" {
		cfg.Currency = "KES"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logg == nil {
		logg = logger.Nop()
	}

	c := &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		logg:    logg,
		now:     time.Now,
		ipnID:   cfg.IPNID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RequestToken returns a cached bearer token, fetching a new one when it is near expiry.
func (c *Client) RequestToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	var resp tokenResponse
	err := c.do(ctx, "request_token", http.MethodPost, pathRequestToken, "", tokenRequest{
		ConsumerKey:    c.cfg.ConsumerKey,
		ConsumerSecret: c.cfg.ConsumerSecret,
	}, &resp, nil)
	if err != nil {
		return "", err
	}
	if resp.Error.present() || resp.Token == "" {
		return "", upstream(apiErr(resp.Error), "pesapal token request rejected")
	}

	c.token = resp.Token
	c.tokenExpiry = c.expiryFrom(resp.ExpiryDate)
	return c.token, nil
}

func (c *Client) expiryFrom(raw string) time.Time {
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts.Add(-tokenSafetyMargin)
	}
	return c.now().Add(fallbackTokenTTL)
}

// RegisterIPN registers callbackURL for GET notifications and returns its id.
func (c *Client) RegisterIPN(ctx context.Context, callbackURL string) (string, error) {
	token, err := c.RequestToken(ctx)
	if err != nil {
		return "", err
	}

	var resp registerIPNResponse
	err = c.do(ctx, "register_ipn", http.MethodPost, pathRegisterIPN, token, registerIPNRequest{
		URL:                 callbackURL,
		IPNNotificationType: "GET",
	}, &resp, nil)
	if err != nil {
		return "", err
	}
	if resp.Error.present() || resp.IPNID == "" {
		return "", upstream(apiErr(resp.Error), "pesapal IPN registration rejected")
	}
	return resp.IPNID, nil
}

// NotificationID returns the configured IPN id, registering the callback URL once when
// none is configured.
func (c *Client) NotificationID(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.ipnID
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	id, err := c.RegisterIPN(ctx, c.cfg.CallbackURL)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.ipnID = id
	c.mu.Unlock()
	return id, nil
}

// SubmitOrder opens a hosted payment session for one order.
func (c *Client) SubmitOrder(ctx context.Context, in SubmitOrderInput) (*SubmitOrderResponse, error) {
	if in.MerchantReference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "merchant reference required")
	}
	if !in.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	notificationID, err := c.NotificationID(ctx)
	if err != nil {
		return nil, err
	}
	token, err := c.RequestToken(ctx)
	if err != nil {
		return nil, err
	}

	description := in.Description
	if description == "" {
		description = c.cfg.Description
	}

	req := submitOrderRequest{
		ID:             in.MerchantReference,
		Currency:       c.cfg.Currency,
		Amount:         json.Number(in.Amount.StringFixed(2)),
		Description:    description,
		CallbackURL:    c.callbackFor(in.MerchantReference),
		NotificationID: notificationID,
		BillingAddress: in.Billing,
	}

	var resp SubmitOrderResponse
	if err := c.do(ctx, "submit_order", http.MethodPost, pathSubmitOrder, token, req, &resp, nil); err != nil {
		return nil, err
	}
	if resp.Error.present() || resp.OrderTrackingID == "" || resp.RedirectURL == "" {
		return nil, upstream(apiErr(resp.Error), "pesapal order submission rejected")
	}
	return &resp, nil
}

func (c *Client) callbackFor(orderID string) string {
	u, err := url.Parse(c.cfg.CallbackURL)
	if err != nil {
		return c.cfg.CallbackURL + "?orderId=" + url.QueryEscape(orderID)
	}
	q := u.Query()
	q.Set("orderId", orderID)
	u.RawQuery = q.Encode()
	return u.String()
}

// GetTransactionStatus asks Pesapal for the authoritative state of trackingID.
func (c *Client) GetTransactionStatus(ctx context.Context, trackingID string) (*TransactionStatus, error) {
	if strings.TrimSpace(trackingID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order tracking id required")
	}
	token, err := c.RequestToken(ctx)
	if err != nil {
		return nil, err
	}

	var (
		status TransactionStatus
		raw    []byte
	)
	path := pathTransactionSt + "?orderTrackingId=" + url.QueryEscape(trackingID)
	if err := c.do(ctx, "transaction_status", http.MethodGet, path, token, nil, &status, &raw); err != nil {
		return nil, err
	}
	if status.Error.present() && status.StatusCode == 0 {
		return nil, upstream(apiErr(status.Error), "pesapal status query rejected")
	}
	status.Raw = raw
	return &status, nil
}

// do sends one JSON request. Transport failures, timeouts, non-2xx replies and
// undecodable bodies all become Upstream errors.
func (c *Client) do(ctx context.Context, op, method, path, token string, body, out any, raw *[]byte) (err error) {
	start := c.now()
	defer func() {
		if c.observer != nil {
			c.observer.ObserveGateway(op, c.now().Sub(start), err)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, mErr := json.Marshal(body)
		if mErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, mErr, "encode pesapal request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build pesapal request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return upstream(err, "pesapal request timed out")
		}
		return upstream(err, "pesapal unreachable")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return upstream(err, "read pesapal response")
	}
	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		c.invalidateToken()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return upstream(fmt.Errorf("status %d: %s", resp.StatusCode, truncate(data, 256)), "pesapal returned an error status")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return upstream(err, "malformed pesapal response")
	}
	if raw != nil {
		*raw = data
	}

	c.logg.Debug(c.logg.WithFields(ctx, map[string]any{"operation": op, "status": resp.StatusCode}), "pesapal call completed")
	return nil
}

// invalidateToken is only reached from authenticated calls, never while RequestToken
// holds mu.
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
}

func upstream(err error, msg string) error {
	return pkgerrors.Wrap(pkgerrors.CodeUpstream, err, msg)
}

func apiErr(e *APIError) error {
	if !e.present() {
		return errors.New("empty response")
	}
	return fmt.Errorf("%s %s: %s", e.ErrorType, e.Code, e.Message)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
