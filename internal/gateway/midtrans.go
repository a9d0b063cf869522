package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"billing-service/internal/models"
)

// MidtransGateway implements the PaymentGateway interface for Midtrans Snap
type MidtransGateway struct {
	client       *resty.Client
	serverKey    string
	signatureKey string
	currencies   []string
	limiter      *rate.Limiter
}

// NewMidtransGateway creates a new Midtrans gateway instance. webhookSecret
// overrides the signature key for notification verification; when empty the
// server key is used, which is Midtrans's documented scheme.
func NewMidtransGateway(serverKey, webhookSecret, baseURL string, currencies []string) (*MidtransGateway, error) {
	if serverKey == "" {
		return nil, fmt.Errorf("midtrans server key is required")
	}
	if baseURL == "" {
		baseURL = "https://app.sandbox.midtrans.com"
	}
	if len(currencies) == 0 {
		currencies = []string{"IDR"}
	}
	signatureKey := webhookSecret
	if signatureKey == "" {
		signatureKey = serverKey
	}

	// Midtrans authenticates with the server key as the basic-auth username
	// and an empty password.
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetBasicAuth(serverKey, "").
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &MidtransGateway{
		client:       client,
		serverKey:    serverKey,
		signatureKey: signatureKey,
		currencies:   currencies,
		// Snap throttles transaction creation per merchant; pace outbound calls.
		limiter: rate.NewLimiter(rate.Limit(2), 1),
	}, nil
}

// Name returns the gateway identifier
func (g *MidtransGateway) Name() string {
	return models.GatewayMidtrans
}

// SupportsCurrency reports whether Midtrans accepts the currency
func (g *MidtransGateway) SupportsCurrency(currency string) bool {
	for _, c := range g.currencies {
		if c == currency {
			return true
		}
	}
	return false
}

type midtransTransactionDetails struct {
	OrderID     string  `json:"order_id"`
	GrossAmount float64 `json:"gross_amount"`
}

type midtransExpiry struct {
	Unit     string `json:"unit"`
	Duration int64  `json:"duration"`
}

type midtransCallbacks struct {
	Finish string `json:"finish,omitempty"`
	Error  string `json:"error,omitempty"`
}

type midtransSnapRequest struct {
	TransactionDetails midtransTransactionDetails `json:"transaction_details"`
	Expiry             *midtransExpiry            `json:"expiry,omitempty"`
	Callbacks          *midtransCallbacks         `json:"callbacks,omitempty"`
}

type midtransSnapResponse struct {
	Token         string   `json:"token"`
	RedirectURL   string   `json:"redirect_url"`
	ErrorMessages []string `json:"error_messages,omitempty"`
}

// CreatePayment creates a Midtrans Snap transaction. The submitted order id
// doubles as the gateway reference because Snap does not return its own.
func (g *MidtransGateway) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*CreatePaymentResult, error) {
	body := midtransSnapRequest{
		TransactionDetails: midtransTransactionDetails{
			OrderID:     req.ExternalID,
			GrossAmount: req.Amount.InexactFloat64(),
		},
	}
	if req.ExpiresAt != nil {
		if d := time.Until(*req.ExpiresAt); d > time.Minute {
			body.Expiry = &midtransExpiry{Unit: "minutes", Duration: int64(d.Minutes())}
		}
	}
	if req.SuccessURL != "" || req.FailureURL != "" {
		body.Callbacks = &midtransCallbacks{Finish: req.SuccessURL, Error: req.FailureURL}
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, NewGatewayError(g.Name(), 0, CauseTimeout, err.Error())
	}

	var result midtransSnapResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		SetError(&result).
		Post("/snap/v1/transactions")
	if err != nil {
		return nil, NewGatewayError(g.Name(), 0, classifyTransportError(err), err.Error())
	}
	if resp.IsError() {
		msg := "snap transaction rejected"
		if len(result.ErrorMessages) > 0 {
			msg = result.ErrorMessages[0]
		}
		return nil, NewGatewayError(g.Name(), resp.StatusCode(), CauseAPIError, msg)
	}
	if result.RedirectURL == "" {
		return nil, NewGatewayError(g.Name(), resp.StatusCode(), CauseParseError, "redirect url missing from response")
	}

	return &CreatePaymentResult{
		GatewayReference: req.ExternalID,
		PaymentURL:       result.RedirectURL,
		RawStatus:        "pending",
	}, nil
}

// VerifyWebhook recomputes the Midtrans signature, SHA-512 over
// order_id || status_code || gross_amount || signature key, and compares it
// in constant time.
func (g *MidtransGateway) VerifyWebhook(payload []byte, signature string) error {
	var event struct {
		OrderID     string `json:"order_id"`
		StatusCode  string `json:"status_code"`
		GrossAmount string `json:"gross_amount"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return NewGatewayError(g.Name(), 0, CauseParseError, fmt.Sprintf("failed to parse webhook payload: %v", err))
	}

	sum := sha512.Sum512([]byte(event.OrderID + event.StatusCode + event.GrossAmount + g.signatureKey))
	expected := hex.EncodeToString(sum[:])
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrSignatureInvalid
	}
	return nil
}

type midtransWebhookEvent struct {
	TransactionID     string          `json:"transaction_id"`
	OrderID           string          `json:"order_id"`
	TransactionStatus string          `json:"transaction_status"`
	StatusCode        string          `json:"status_code"`
	GrossAmount       decimal.Decimal `json:"gross_amount"`
	Currency          string          `json:"currency"`
	PaymentType       string          `json:"payment_type"`
}

// ProcessWebhook canonicalizes a Midtrans transaction notification
func (g *MidtransGateway) ProcessWebhook(ctx context.Context, payload []byte) (*WebhookPayload, error) {
	var event midtransWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, NewGatewayError(g.Name(), 0, CauseParseError, fmt.Sprintf("failed to parse webhook payload: %v", err))
	}
	if event.TransactionID == "" || event.OrderID == "" {
		return nil, NewGatewayError(g.Name(), 0, CauseParseError, "webhook payload missing transaction_id or order_id")
	}

	currency := event.Currency
	if currency == "" {
		currency = "IDR"
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(payload, &raw)

	return &WebhookPayload{
		GatewayID:             g.Name(),
		EventType:             mapMidtransStatus(event.TransactionStatus),
		GatewayTransactionRef: event.TransactionID,
		GatewayReference:      event.OrderID,
		ExternalID:            event.OrderID,
		AmountPaid:            event.GrossAmount,
		Currency:              currency,
		PaymentMethod:         event.PaymentType,
		RawStatus:             event.TransactionStatus,
		RawResponse:           raw,
	}, nil
}

func mapMidtransStatus(status string) WebhookEventType {
	switch status {
	case "capture", "settlement":
		return WebhookPaymentCompleted
	case "expire":
		return WebhookPaymentExpired
	case "deny", "cancel":
		return WebhookPaymentFailed
	default:
		return WebhookPaymentPending
	}
}
