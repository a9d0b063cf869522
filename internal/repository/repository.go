package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"billing-service/internal/models"
)

// InvoiceFilter narrows invoice listings
type InvoiceFilter struct {
	Status    models.InvoiceStatus
	GatewayID string
	Limit     int
	Offset    int
}

// CurrencyInvoicedRow is one GROUP BY currency row over invoices
type CurrencyInvoicedRow struct {
	Currency      string
	InvoiceCount  int64
	TotalInvoiced decimal.Decimal
}

// CurrencyPaidRow is one GROUP BY currency row over completed transactions
type CurrencyPaidRow struct {
	Currency  string
	TotalPaid decimal.Decimal
}

// GatewayPaidRow is one GROUP BY (gateway, currency) row over completed transactions
type GatewayPaidRow struct {
	GatewayID        string
	Currency         string
	TransactionCount int64
	TotalPaid        decimal.Decimal
}

// TaxRateRow is one GROUP BY (tax_rate, currency) row over line items
type TaxRateRow struct {
	TaxRate      decimal.Decimal
	Currency     string
	LineCount    int64
	TaxCollected decimal.Decimal
}

// BillingRepositoryInterface defines the persistence operations used by the
// billing services. The concrete implementation is backed by GORM; tests
// substitute a mock.
type BillingRepositoryInterface interface {
	// Transactions
	WithTransaction(ctx context.Context, fn func(txRepo BillingRepositoryInterface) error) error

	// Invoices
	CreateInvoice(ctx context.Context, inv *models.Invoice) error
	GetInvoice(ctx context.Context, tenantID string, id uuid.UUID) (*models.Invoice, error)
	GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	GetInvoiceByExternalID(ctx context.Context, tenantID, externalID string) (*models.Invoice, error)
	FindInvoiceByGatewayRef(ctx context.Context, gatewayID, gatewayRef string) (*models.Invoice, error)
	ListInvoices(ctx context.Context, tenantID string, filter InvoiceFilter) ([]models.Invoice, int64, error)
	UpdateInvoice(ctx context.Context, inv *models.Invoice) error
	ListExpirableInvoices(ctx context.Context, cutoff time.Time, limit int) ([]models.Invoice, error)

	// Installments
	FindInstallmentByGatewayRef(ctx context.Context, gatewayID, gatewayRef string) (*models.InstallmentSchedule, error)
	UpdateInstallment(ctx context.Context, inst *models.InstallmentSchedule) error
	MarkOverdueInstallments(ctx context.Context, cutoff time.Time) (int64, error)

	// Payment transactions
	CreateTransaction(ctx context.Context, tx *models.PaymentTransaction) error
	GetTransactionByGatewayRef(ctx context.Context, gatewayRef string) (*models.PaymentTransaction, error)
	ListTransactionsByInvoice(ctx context.Context, tenantID string, invoiceID uuid.UUID) ([]models.PaymentTransaction, error)

	// Gateway configurations
	GetGatewayConfig(ctx context.Context, gatewayID string) (*models.PaymentGatewayConfig, error)
	ListGatewayConfigs(ctx context.Context) ([]models.PaymentGatewayConfig, error)
	UpdateGatewayConfig(ctx context.Context, config *models.PaymentGatewayConfig) error

	// API keys
	GetApiKeyByLookup(ctx context.Context, lookup string) (*models.ApiKey, error)
	CreateApiKey(ctx context.Context, key *models.ApiKey) error
	TouchApiKey(ctx context.Context, id uuid.UUID) error
	CreateAuditLog(ctx context.Context, entry *models.ApiKeyAuditLog) error

	// Webhook retry log
	CreateWebhookLog(ctx context.Context, entry *models.WebhookRetryLog) error
	ListWebhookLogsByRef(ctx context.Context, gatewayID, gatewayRef string) ([]models.WebhookRetryLog, error)

	// Reporting
	InvoicedTotalsByCurrency(ctx context.Context, tenantID string, start, end time.Time) ([]CurrencyInvoicedRow, error)
	PaidTotalsByCurrency(ctx context.Context, tenantID string, start, end time.Time) ([]CurrencyPaidRow, error)
	PaidTotalsByGateway(ctx context.Context, tenantID string, start, end time.Time) ([]GatewayPaidRow, error)
	TaxTotalsByRate(ctx context.Context, tenantID string, start, end time.Time) ([]TaxRateRow, error)
}

// BillingRepository handles billing data operations
type BillingRepository struct {
	db *gorm.DB
}

var _ BillingRepositoryInterface = (*BillingRepository)(nil)

// NewBillingRepository creates a new billing repository
func NewBillingRepository(db *gorm.DB) *BillingRepository {
	return &BillingRepository{db: db}
}

// WithTransaction runs fn inside a database transaction. The callback receives
// a repository bound to the transaction; any error rolls the whole unit back.
func (r *BillingRepository) WithTransaction(ctx context.Context, fn func(txRepo BillingRepositoryInterface) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&BillingRepository{db: tx})
	})
}
