package repository

import (
	"log"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"billing-service/internal/models"
)

// SeedGatewayConfigs seeds the default payment gateway configurations.
// This is idempotent - it uses upsert to avoid duplicates. Fee schedules are
// updated on restart so config changes roll out without a migration; webhook
// secrets are left untouched since those are managed at runtime.
func SeedGatewayConfigs(db *gorm.DB) error {
	configs := []models.PaymentGatewayConfig{
		{
			GatewayID:           models.GatewayXendit,
			Name:                "Xendit",
			SupportedCurrencies: models.StringArray{"IDR", "MYR"},
			FeePercentage:       decimal.RequireFromString("0.029"),
			FeeFixed:            decimal.RequireFromString("2200"),
			BaseURL:             "https://api.xendit.co",
			Environment:         "test",
			IsActive:            true,
		},
		{
			GatewayID:           models.GatewayMidtrans,
			Name:                "Midtrans",
			SupportedCurrencies: models.StringArray{"IDR"},
			FeePercentage:       decimal.RequireFromString("0.02"),
			FeeFixed:            decimal.RequireFromString("2000"),
			BaseURL:             "https://app.sandbox.midtrans.com",
			Environment:         "test",
			IsActive:            true,
		},
		{
			GatewayID:           models.GatewayStripe,
			Name:                "Stripe",
			SupportedCurrencies: models.StringArray{"USD", "SGD", "MYR"},
			FeePercentage:       decimal.RequireFromString("0.029"),
			FeeFixed:            decimal.RequireFromString("0.30"),
			BaseURL:             "https://api.stripe.com",
			Environment:         "test",
			IsActive:            true,
		},
		{
			GatewayID:           models.GatewayRazorpay,
			Name:                "Razorpay",
			SupportedCurrencies: models.StringArray{"INR"},
			FeePercentage:       decimal.RequireFromString("0.02"),
			FeeFixed:            decimal.RequireFromString("0"),
			BaseURL:             "https://api.razorpay.com",
			Environment:         "test",
			IsActive:            true,
		},
	}

	// Use upsert (ON CONFLICT DO UPDATE) for idempotency
	result := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "gateway_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name",
			"supported_currencies",
			"fee_percentage",
			"fee_fixed",
			"base_url",
			"updated_at",
		}),
	}).Create(&configs)

	if result.Error != nil {
		return result.Error
	}

	log.Printf("Seeded %d payment gateway configurations", len(configs))
	return nil
}
