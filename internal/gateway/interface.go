package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrSignatureInvalid is returned when webhook signature verification fails.
var ErrSignatureInvalid = errors.New("webhook signature verification failed")

// PaymentGateway defines the interface all payment gateway adapters implement
type PaymentGateway interface {
	// Name returns the gateway identifier (e.g. "xendit")
	Name() string

	// SupportsCurrency reports whether the gateway accepts the currency
	SupportsCurrency(currency string) bool

	// CreatePayment creates a hosted payment at the gateway and returns the
	// payment URL together with the gateway-side reference
	CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*CreatePaymentResult, error)

	// VerifyWebhook verifies a webhook signature against the raw payload
	VerifyWebhook(payload []byte, signature string) error

	// ProcessWebhook canonicalizes a gateway webhook body into WebhookPayload
	ProcessWebhook(ctx context.Context, payload []byte) (*WebhookPayload, error)
}

// InstallmentInfo identifies which installment of a schedule a payment covers
type InstallmentInfo struct {
	Number int
	Total  int
}

// CreatePaymentRequest represents a request to create a hosted payment
type CreatePaymentRequest struct {
	ExternalID      string // invoice external_id, or "{external_id}-installment-{n}"
	Amount          decimal.Decimal
	Currency        string
	Description     string
	PayerEmail      string
	SuccessURL      string
	FailureURL      string
	ExpiresAt       *time.Time
	InstallmentInfo *InstallmentInfo
}

// CreatePaymentResult represents the gateway's answer to payment creation
type CreatePaymentResult struct {
	GatewayReference string     `json:"gatewayReference"`
	PaymentURL       string     `json:"paymentUrl"`
	RawStatus        string     `json:"rawStatus,omitempty"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
}

// WebhookEventType represents the canonical meaning of a webhook event
type WebhookEventType string

const (
	WebhookPaymentCompleted WebhookEventType = "payment.completed"
	WebhookPaymentPending   WebhookEventType = "payment.pending"
	WebhookPaymentFailed    WebhookEventType = "payment.failed"
	WebhookPaymentExpired   WebhookEventType = "payment.expired"
	WebhookUnknown          WebhookEventType = "unknown"
)

// WebhookPayload is the canonical form of a gateway webhook event
type WebhookPayload struct {
	GatewayID             string                 `json:"gatewayId"`
	EventType             WebhookEventType       `json:"eventType"`
	GatewayTransactionRef string                 `json:"gatewayTransactionRef"`
	GatewayReference      string                 `json:"gatewayReference"`
	ExternalID            string                 `json:"externalId"`
	AmountPaid            decimal.Decimal        `json:"amountPaid"`
	Currency              string                 `json:"currency"`
	PaymentMethod         string                 `json:"paymentMethod,omitempty"`
	RawStatus             string                 `json:"rawStatus"`
	RawResponse           map[string]interface{} `json:"-"`
}

// ErrorCause classifies how a gateway call failed
type ErrorCause string

const (
	CauseTimeout       ErrorCause = "timeout"
	CauseConnectFailed ErrorCause = "connect_failed"
	CauseAPIError      ErrorCause = "api_error"
	CauseParseError    ErrorCause = "parse_error"
)

// GatewayError represents an error from a payment gateway
type GatewayError struct {
	Gateway    string     `json:"gateway"`
	HTTPStatus int        `json:"httpStatus,omitempty"`
	Cause      ErrorCause `json:"cause"`
	Message    string     `json:"message"`
}

func (e *GatewayError) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("%s: %s (http %d, %s)", e.Gateway, e.Message, e.HTTPStatus, e.Cause)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Gateway, e.Message, e.Cause)
}

// NewGatewayError creates a new gateway error
func NewGatewayError(gateway string, httpStatus int, cause ErrorCause, message string) *GatewayError {
	return &GatewayError{
		Gateway:    gateway,
		HTTPStatus: httpStatus,
		Cause:      cause,
		Message:    message,
	}
}

// classifyTransportError distinguishes timeouts from connection failures for
// outbound gateway calls that never produced an HTTP response.
func classifyTransportError(err error) ErrorCause {
	if errors.Is(err, context.DeadlineExceeded) {
		return CauseTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CauseTimeout
	}
	return CauseConnectFailed
}

// installmentRefSeparator joins an invoice external id with an installment
// number in gateway-facing references.
const installmentRefSeparator = "-installment-"

// InstallmentExternalID builds the gateway-facing reference for one
// installment of an invoice.
func InstallmentExternalID(externalID string, number int) string {
	return fmt.Sprintf("%s%s%d", externalID, installmentRefSeparator, number)
}

// ParseInstallmentExternalID splits a gateway-facing reference into the
// invoice external id and installment number. ok is false when the reference
// does not follow the installment format.
func ParseInstallmentExternalID(ref string) (externalID string, number int, ok bool) {
	idx := strings.LastIndex(ref, installmentRefSeparator)
	if idx <= 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(ref[idx+len(installmentRefSeparator):])
	if err != nil || n < 1 {
		return "", 0, false
	}
	return ref[:idx], n, true
}

// ExtractSignature pulls the gateway-specific signature value out of the
// request headers. Returns the empty string when the expected header is
// absent.
func ExtractSignature(gatewayID string, header http.Header) string {
	switch gatewayID {
	case "xendit":
		return header.Get("X-Callback-Token")
	case "midtrans":
		auth := header.Get("Authorization")
		return strings.TrimPrefix(auth, "Bearer ")
	case "stripe":
		return header.Get("Stripe-Signature")
	case "razorpay":
		return header.Get("X-Razorpay-Signature")
	default:
		return ""
	}
}
