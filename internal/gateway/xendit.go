package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"billing-service/internal/models"
)

// XenditGateway implements the PaymentGateway interface for Xendit
type XenditGateway struct {
	client        *resty.Client
	apiKey        string
	webhookSecret string
	currencies    []string
	limiter       *rate.Limiter
}

// NewXenditGateway creates a new Xendit gateway instance
func NewXenditGateway(apiKey, webhookSecret, baseURL string, currencies []string) (*XenditGateway, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("xendit API key is required")
	}
	if baseURL == "" {
		baseURL = "https://api.xendit.co"
	}
	if len(currencies) == 0 {
		currencies = []string{"IDR", "MYR"}
	}

	// Xendit authenticates with the API key as the basic-auth username and an
	// empty password.
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetBasicAuth(apiKey, "").
		SetHeader("Content-Type", "application/json")

	return &XenditGateway{
		client:        client,
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		currencies:    currencies,
		// Xendit throttles invoice creation per key; pace outbound calls.
		limiter: rate.NewLimiter(rate.Limit(2), 1),
	}, nil
}

// Name returns the gateway identifier
func (g *XenditGateway) Name() string {
	return models.GatewayXendit
}

// SupportsCurrency reports whether Xendit accepts the currency
func (g *XenditGateway) SupportsCurrency(currency string) bool {
	for _, c := range g.currencies {
		if c == currency {
			return true
		}
	}
	return false
}

type xenditInvoiceRequest struct {
	ExternalID         string  `json:"external_id"`
	Amount             float64 `json:"amount"`
	Currency           string  `json:"currency,omitempty"`
	Description        string  `json:"description,omitempty"`
	PayerEmail         string  `json:"payer_email,omitempty"`
	InvoiceDuration    int64   `json:"invoice_duration,omitempty"`
	SuccessRedirectURL string  `json:"success_redirect_url,omitempty"`
	FailureRedirectURL string  `json:"failure_redirect_url,omitempty"`
}

type xenditInvoiceResponse struct {
	ID         string     `json:"id"`
	ExternalID string     `json:"external_id"`
	Status     string     `json:"status"`
	InvoiceURL string     `json:"invoice_url"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
}

type xenditErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// CreatePayment creates a Xendit hosted invoice
func (g *XenditGateway) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*CreatePaymentResult, error) {
	body := xenditInvoiceRequest{
		ExternalID:         req.ExternalID,
		Amount:             req.Amount.InexactFloat64(),
		Currency:           req.Currency,
		Description:        req.Description,
		PayerEmail:         req.PayerEmail,
		SuccessRedirectURL: req.SuccessURL,
		FailureRedirectURL: req.FailureURL,
	}
	if req.ExpiresAt != nil {
		if d := time.Until(*req.ExpiresAt); d > time.Second {
			body.InvoiceDuration = int64(d.Seconds())
		}
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, NewGatewayError(g.Name(), 0, CauseTimeout, err.Error())
	}

	var result xenditInvoiceResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		Post("/v2/invoices")
	if err != nil {
		return nil, NewGatewayError(g.Name(), 0, classifyTransportError(err), err.Error())
	}
	if resp.IsError() {
		return nil, NewGatewayError(g.Name(), resp.StatusCode(), CauseAPIError, xenditErrorMessage(resp.Body()))
	}
	if result.ID == "" || result.InvoiceURL == "" {
		return nil, NewGatewayError(g.Name(), resp.StatusCode(), CauseParseError, "invoice id or url missing from response")
	}

	return &CreatePaymentResult{
		GatewayReference: result.ID,
		PaymentURL:       result.InvoiceURL,
		RawStatus:        result.Status,
		ExpiresAt:        result.ExpiryDate,
	}, nil
}

// VerifyWebhook verifies the callback token as an HMAC-SHA256 of the raw
// payload under the configured webhook secret.
func (g *XenditGateway) VerifyWebhook(payload []byte, signature string) error {
	if g.webhookSecret == "" {
		return fmt.Errorf("xendit webhook secret not configured")
	}
	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrSignatureInvalid
	}
	return nil
}

type xenditWebhookEvent struct {
	ID             string          `json:"id"`
	ExternalID     string          `json:"external_id"`
	Status         string          `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	Currency       string          `json:"currency"`
	PaymentMethod  string          `json:"payment_method"`
	PaymentChannel string          `json:"payment_channel"`
}

// ProcessWebhook canonicalizes a Xendit invoice callback
func (g *XenditGateway) ProcessWebhook(ctx context.Context, payload []byte) (*WebhookPayload, error) {
	var event xenditWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, NewGatewayError(g.Name(), 0, CauseParseError, fmt.Sprintf("failed to parse webhook payload: %v", err))
	}
	if event.ID == "" || event.ExternalID == "" {
		return nil, NewGatewayError(g.Name(), 0, CauseParseError, "webhook payload missing id or external_id")
	}

	paid := event.PaidAmount
	if paid.IsZero() {
		paid = event.Amount
	}
	method := event.PaymentMethod
	if method == "" {
		method = event.PaymentChannel
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(payload, &raw)

	return &WebhookPayload{
		GatewayID:             g.Name(),
		EventType:             mapXenditStatus(event.Status),
		GatewayTransactionRef: event.ID,
		GatewayReference:      event.ID,
		ExternalID:            event.ExternalID,
		AmountPaid:            paid,
		Currency:              event.Currency,
		PaymentMethod:         method,
		RawStatus:             event.Status,
		RawResponse:           raw,
	}, nil
}

func mapXenditStatus(status string) WebhookEventType {
	switch status {
	case "PAID":
		return WebhookPaymentCompleted
	case "EXPIRED":
		return WebhookPaymentExpired
	default:
		return WebhookPaymentPending
	}
}

func xenditErrorMessage(body []byte) string {
	var e xenditErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		if e.ErrorCode != "" {
			return fmt.Sprintf("%s: %s", e.ErrorCode, e.Message)
		}
		return e.Message
	}
	return "invoice creation rejected"
}
