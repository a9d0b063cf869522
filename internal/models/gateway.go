package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Stable gateway identifiers. These are wire-visible values: clients choose a
// gateway by id at invoice creation and webhooks arrive on /webhooks/{id}.
const (
	GatewayXendit   = "xendit"
	GatewayMidtrans = "midtrans"
	GatewayStripe   = "stripe"
	GatewayRazorpay = "razorpay"
)

// PaymentGatewayConfig holds the per-gateway routing and fee configuration.
// Rows are seeded at startup; API credentials come from the environment and
// only the webhook secret lives here.
type PaymentGatewayConfig struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	GatewayID string    `gorm:"type:varchar(50);not null;uniqueIndex:idx_payment_gateways_gateway_id" json:"gatewayId"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`

	SupportedCurrencies StringArray `gorm:"type:text[]" json:"supportedCurrencies"`

	FeePercentage decimal.Decimal `gorm:"type:numeric(7,5);not null;default:0" json:"feePercentage"`
	FeeFixed      decimal.Decimal `gorm:"type:numeric(20,4);not null;default:0" json:"feeFixed"`

	WebhookSecret string `gorm:"type:text" json:"-"` // Never expose in JSON
	BaseURL       string `gorm:"type:varchar(500)" json:"baseUrl"`
	Environment   string `gorm:"type:varchar(20);not null;default:'test'" json:"environment"`
	IsActive      bool   `gorm:"default:true;index:idx_payment_gateways_active" json:"isActive"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for PaymentGatewayConfig
func (PaymentGatewayConfig) TableName() string {
	return "payment_gateways"
}

// SupportsCurrency reports whether the gateway settles the given currency.
func (c *PaymentGatewayConfig) SupportsCurrency(currency string) bool {
	return c.SupportedCurrencies.Contains(currency)
}
