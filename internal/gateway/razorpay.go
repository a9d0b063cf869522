package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	razorpayLib "github.com/razorpay/razorpay-go"
	"github.com/shopspring/decimal"

	"billing-service/internal/models"
	"billing-service/internal/money"
)

// RazorpayGateway implements the PaymentGateway interface for Razorpay
type RazorpayGateway struct {
	client        *razorpayLib.Client
	keyID         string
	webhookSecret string
	currencies    []string
}

// NewRazorpayGateway creates a new Razorpay gateway instance
func NewRazorpayGateway(keyID, keySecret, webhookSecret string, currencies []string) (*RazorpayGateway, error) {
	if keyID == "" || keySecret == "" {
		return nil, fmt.Errorf("razorpay key id and secret are required")
	}
	if len(currencies) == 0 {
		currencies = []string{"INR"}
	}
	return &RazorpayGateway{
		client:        razorpayLib.NewClient(keyID, keySecret),
		keyID:         keyID,
		webhookSecret: webhookSecret,
		currencies:    currencies,
	}, nil
}

// Name returns the gateway identifier
func (g *RazorpayGateway) Name() string {
	return models.GatewayRazorpay
}

// SupportsCurrency reports whether Razorpay accepts the currency
func (g *RazorpayGateway) SupportsCurrency(currency string) bool {
	for _, c := range g.currencies {
		if c == currency {
			return true
		}
	}
	return false
}

// CreatePayment creates a Razorpay payment link
func (g *RazorpayGateway) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*CreatePaymentResult, error) {
	data := map[string]interface{}{
		"amount":       minorUnits(req.Amount, req.Currency),
		"currency":     req.Currency,
		"reference_id": req.ExternalID,
	}
	if req.Description != "" {
		data["description"] = req.Description
	}
	if req.PayerEmail != "" {
		data["customer"] = map[string]interface{}{"email": req.PayerEmail}
	}
	if req.ExpiresAt != nil {
		data["expire_by"] = req.ExpiresAt.Unix()
	}
	if req.SuccessURL != "" {
		data["callback_url"] = req.SuccessURL
		data["callback_method"] = "get"
	}

	link, err := g.client.PaymentLink.Create(data, nil)
	if err != nil {
		return nil, g.handleRazorpayError(err)
	}

	linkID, _ := link["id"].(string)
	shortURL, _ := link["short_url"].(string)
	status, _ := link["status"].(string)
	if linkID == "" || shortURL == "" {
		return nil, NewGatewayError(g.Name(), 0, CauseParseError, "payment link id or url missing from response")
	}

	return &CreatePaymentResult{
		GatewayReference: linkID,
		PaymentURL:       shortURL,
		RawStatus:        status,
	}, nil
}

// VerifyWebhook verifies the Razorpay webhook HMAC-SHA256 signature
func (g *RazorpayGateway) VerifyWebhook(payload []byte, signature string) error {
	if g.webhookSecret == "" {
		return fmt.Errorf("razorpay webhook secret not configured")
	}
	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrSignatureInvalid
	}
	return nil
}

type razorpayWebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		PaymentLink struct {
			Entity struct {
				ID          string `json:"id"`
				ReferenceID string `json:"reference_id"`
				Status      string `json:"status"`
			} `json:"entity"`
		} `json:"payment_link"`
		Payment struct {
			Entity struct {
				ID       string `json:"id"`
				Amount   int64  `json:"amount"`
				Currency string `json:"currency"`
				Method   string `json:"method"`
				Status   string `json:"status"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// ProcessWebhook canonicalizes a Razorpay payment link webhook event
func (g *RazorpayGateway) ProcessWebhook(ctx context.Context, payload []byte) (*WebhookPayload, error) {
	var event razorpayWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, NewGatewayError(g.Name(), 0, CauseParseError, fmt.Sprintf("failed to parse webhook payload: %v", err))
	}

	link := event.Payload.PaymentLink.Entity
	payment := event.Payload.Payment.Entity
	if link.ID == "" && payment.ID == "" {
		return nil, NewGatewayError(g.Name(), 0, CauseParseError, "webhook payload missing payment link and payment entities")
	}

	txRef := payment.ID
	if txRef == "" {
		txRef = link.ID
	}
	currency := payment.Currency
	if currency == "" {
		currency = "INR"
	}

	var eventType WebhookEventType
	switch event.Event {
	case "payment_link.paid":
		eventType = WebhookPaymentCompleted
	case "payment_link.expired":
		eventType = WebhookPaymentExpired
	case "payment.failed":
		eventType = WebhookPaymentFailed
	default:
		eventType = WebhookUnknown
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(payload, &raw)

	return &WebhookPayload{
		GatewayID:             g.Name(),
		EventType:             eventType,
		GatewayTransactionRef: txRef,
		GatewayReference:      link.ID,
		ExternalID:            link.ReferenceID,
		AmountPaid:            decimal.New(payment.Amount, -money.Scale(currency)),
		Currency:              currency,
		PaymentMethod:         payment.Method,
		RawStatus:             event.Event,
		RawResponse:           raw,
	}, nil
}

func (g *RazorpayGateway) handleRazorpayError(err error) error {
	return NewGatewayError(g.Name(), 0, CauseAPIError, err.Error())
}
