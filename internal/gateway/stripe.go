package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"

	"billing-service/internal/models"
	"billing-service/internal/money"
)

// StripeGateway implements the PaymentGateway interface for Stripe
type StripeGateway struct {
	secretKey     string
	webhookSecret string
	currencies    []string
}

// NewStripeGateway creates a new Stripe gateway instance
func NewStripeGateway(secretKey, webhookSecret string, currencies []string) (*StripeGateway, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	if len(currencies) == 0 {
		currencies = []string{"USD", "SGD", "MYR"}
	}
	return &StripeGateway{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		currencies:    currencies,
	}, nil
}

// Name returns the gateway identifier
func (g *StripeGateway) Name() string {
	return models.GatewayStripe
}

// SupportsCurrency reports whether Stripe accepts the currency
func (g *StripeGateway) SupportsCurrency(currency string) bool {
	for _, c := range g.currencies {
		if c == currency {
			return true
		}
	}
	return false
}

// CreatePayment creates a Stripe Checkout Session for a hosted payment page
func (g *StripeGateway) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*CreatePaymentResult, error) {
	stripe.Key = g.secretKey

	successURL := req.SuccessURL
	if successURL == "" {
		successURL = "https://example.com/checkout/success?session_id={CHECKOUT_SESSION_ID}"
	}
	cancelURL := req.FailureURL
	if cancelURL == "" {
		cancelURL = "https://example.com/checkout?cancelled=true"
	}

	description := req.Description
	if description == "" {
		description = req.ExternalID
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.ExternalID),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(minorUnits(req.Amount, req.Currency)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"external_id": req.ExternalID,
		},
	}
	params.Context = ctx

	if req.PayerEmail != "" {
		params.CustomerEmail = stripe.String(req.PayerEmail)
	}

	// Stripe only accepts session expiries between 30 minutes and 24 hours out.
	if req.ExpiresAt != nil {
		d := time.Until(*req.ExpiresAt)
		if d >= 30*time.Minute && d <= 24*time.Hour {
			params.ExpiresAt = stripe.Int64(req.ExpiresAt.Unix())
		}
	}

	sess, err := session.New(params)
	if err != nil {
		return nil, g.handleStripeError(err)
	}

	return &CreatePaymentResult{
		GatewayReference: sess.ID,
		PaymentURL:       sess.URL,
		RawStatus:        string(sess.Status),
	}, nil
}

// VerifyWebhook verifies a Stripe webhook signature
func (g *StripeGateway) VerifyWebhook(payload []byte, signature string) error {
	if g.webhookSecret == "" {
		return fmt.Errorf("stripe webhook secret not configured")
	}
	if _, err := webhook.ConstructEvent(payload, signature, g.webhookSecret); err != nil {
		return ErrSignatureInvalid
	}
	return nil
}

type stripeSessionEvent struct {
	ID                string `json:"id"`
	ClientReferenceID string `json:"client_reference_id"`
	PaymentIntent     string `json:"payment_intent"`
	AmountTotal       int64  `json:"amount_total"`
	Currency          string `json:"currency"`
	PaymentStatus     string `json:"payment_status"`
}

// ProcessWebhook canonicalizes a Stripe checkout webhook event
func (g *StripeGateway) ProcessWebhook(ctx context.Context, payload []byte) (*WebhookPayload, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, NewGatewayError(g.Name(), 0, CauseParseError, fmt.Sprintf("failed to parse webhook payload: %v", err))
	}

	var sess stripeSessionEvent
	if event.Data != nil {
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, NewGatewayError(g.Name(), 0, CauseParseError, fmt.Sprintf("failed to parse checkout session: %v", err))
		}
	}
	if sess.ID == "" {
		return nil, NewGatewayError(g.Name(), 0, CauseParseError, "webhook payload missing session id")
	}

	txRef := sess.PaymentIntent
	if txRef == "" {
		txRef = sess.ID
	}
	currency := strings.ToUpper(sess.Currency)

	var eventType WebhookEventType
	switch string(event.Type) {
	case "checkout.session.completed":
		eventType = WebhookPaymentCompleted
	case "checkout.session.expired":
		eventType = WebhookPaymentExpired
	default:
		eventType = WebhookUnknown
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(payload, &raw)

	return &WebhookPayload{
		GatewayID:             g.Name(),
		EventType:             eventType,
		GatewayTransactionRef: txRef,
		GatewayReference:      sess.ID,
		ExternalID:            sess.ClientReferenceID,
		AmountPaid:            decimal.New(sess.AmountTotal, -money.Scale(currency)),
		Currency:              currency,
		PaymentMethod:         "card",
		RawStatus:             sess.PaymentStatus,
		RawResponse:           raw,
	}, nil
}

func (g *StripeGateway) handleStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return NewGatewayError(g.Name(), stripeErr.HTTPStatusCode, CauseAPIError, stripeErr.Msg)
	}
	return NewGatewayError(g.Name(), 0, classifyTransportError(err), err.Error())
}

// minorUnits converts a decimal amount into the currency's smallest unit.
func minorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(money.Scale(currency)).IntPart()
}
