package pesapal

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// StatusCompleted is the only status_code that confirms a payment.
const StatusCompleted = 1

// Pesapal's other status codes, for logging.
const (
	StatusInvalid  = 0
	StatusFailed   = 2
	StatusReversed = 3
)

// APIError is the error object Pesapal embeds in otherwise 200 responses.
type APIError struct {
	ErrorType string `json:"error_type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (e *APIError) present() bool {
	return e != nil && (e.Code != "" || e.Message != "" || e.ErrorType != "")
}

type tokenRequest struct {
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
}

type tokenResponse struct {
	Token      string    `json:"token"`
	ExpiryDate string    `json:"expiryDate"`
	Error      *APIError `json:"error"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
}

type registerIPNRequest struct {
	URL                 string `json:"url"`
	IPNNotificationType string `json:"ipn_notification_type"`
}

type registerIPNResponse struct {
	IPNID  string    `json:"ipn_id"`
	URL    string    `json:"url"`
	Error  *APIError `json:"error"`
	Status string    `json:"status"`
}

// BillingAddress identifies the payer to Pesapal.
type BillingAddress struct {
	EmailAddress string `json:"email_address,omitempty"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	CountryCode  string `json:"country_code,omitempty"`
	Line1        string `json:"line_1,omitempty"`
	City         string `json:"city,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
}

// SubmitOrderInput is what callers provide; the client fills currency, description,
// callback and notification id from its config.
type SubmitOrderInput struct {
	MerchantReference string
	Amount            decimal.Decimal
	Description       string
	Billing           BillingAddress
}

type submitOrderRequest struct {
	ID             string         `json:"id"`
	Currency       string         `json:"currency"`
	Amount         json.Number    `json:"amount"`
	Description    string         `json:"description"`
	CallbackURL    string         `json:"callback_url"`
	NotificationID string         `json:"notification_id"`
	BillingAddress BillingAddress `json:"billing_address"`
}

// SubmitOrderResponse carries the hosted payment page for the customer.
type SubmitOrderResponse struct {
	OrderTrackingID   string    `json:"order_tracking_id"`
	MerchantReference string    `json:"merchant_reference"`
	RedirectURL       string    `json:"redirect_url"`
	Error             *APIError `json:"error,omitempty"`
	Status            string    `json:"status"`
}

// TransactionStatus is Pesapal's authoritative view of a payment. Raw keeps the exact body
// for the audit trail.
type TransactionStatus struct {
	PaymentMethod            string          `json:"payment_method"`
	Amount                   decimal.Decimal `json:"amount"`
	CreatedDate              string          `json:"created_date"`
	ConfirmationCode         string          `json:"confirmation_code"`
	PaymentStatusDescription string          `json:"payment_status_description"`
	Description              string          `json:"description"`
	Message                  string          `json:"message"`
	PaymentAccount           string          `json:"payment_account"`
	CallBackURL              string          `json:"call_back_url"`
	StatusCode               int             `json:"status_code"`
	MerchantReference        string          `json:"merchant_reference"`
	Currency                 string          `json:"currency"`
	Error                    *APIError       `json:"error,omitempty"`
	Status                   string          `json:"status"`
	Raw                      json.RawMessage `json:"-"`
}

// Succeeded reports whether the payment is confirmed.
func (s *TransactionStatus) Succeeded() bool {
	return s != nil && s.StatusCode == StatusCompleted
}
