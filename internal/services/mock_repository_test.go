package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"

	"billing-service/internal/config"
	"billing-service/internal/gateway"
	"billing-service/internal/models"
	"billing-service/internal/repository"
)

func init() {
	logrus.SetLevel(logrus.ErrorLevel)
}

// ===========================================
// Mock Repository
// ===========================================

// MockBillingRepository is a mock implementation of BillingRepositoryInterface
type MockBillingRepository struct {
	mock.Mock
}

var _ repository.BillingRepositoryInterface = (*MockBillingRepository)(nil)

// WithTransaction runs the callback against the mock itself so tests set
// expectations on the inner calls directly.
func (m *MockBillingRepository) WithTransaction(ctx context.Context, fn func(txRepo repository.BillingRepositoryInterface) error) error {
	return fn(m)
}

func (m *MockBillingRepository) CreateInvoice(ctx context.Context, inv *models.Invoice) error {
	args := m.Called(ctx, inv)
	return args.Error(0)
}

func (m *MockBillingRepository) GetInvoice(ctx context.Context, tenantID string, id uuid.UUID) (*models.Invoice, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Invoice), args.Error(1)
}

func (m *MockBillingRepository) GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Invoice), args.Error(1)
}

func (m *MockBillingRepository) GetInvoiceByExternalID(ctx context.Context, tenantID, externalID string) (*models.Invoice, error) {
	args := m.Called(ctx, tenantID, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Invoice), args.Error(1)
}

func (m *MockBillingRepository) FindInvoiceByGatewayRef(ctx context.Context, gatewayID, gatewayRef string) (*models.Invoice, error) {
	args := m.Called(ctx, gatewayID, gatewayRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Invoice), args.Error(1)
}

func (m *MockBillingRepository) ListInvoices(ctx context.Context, tenantID string, filter repository.InvoiceFilter) ([]models.Invoice, int64, error) {
	args := m.Called(ctx, tenantID, filter)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]models.Invoice), args.Get(1).(int64), args.Error(2)
}

func (m *MockBillingRepository) UpdateInvoice(ctx context.Context, inv *models.Invoice) error {
	args := m.Called(ctx, inv)
	return args.Error(0)
}

func (m *MockBillingRepository) ListExpirableInvoices(ctx context.Context, cutoff time.Time, limit int) ([]models.Invoice, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Invoice), args.Error(1)
}

func (m *MockBillingRepository) FindInstallmentByGatewayRef(ctx context.Context, gatewayID, gatewayRef string) (*models.InstallmentSchedule, error) {
	args := m.Called(ctx, gatewayID, gatewayRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.InstallmentSchedule), args.Error(1)
}

func (m *MockBillingRepository) UpdateInstallment(ctx context.Context, inst *models.InstallmentSchedule) error {
	args := m.Called(ctx, inst)
	return args.Error(0)
}

func (m *MockBillingRepository) MarkOverdueInstallments(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockBillingRepository) CreateTransaction(ctx context.Context, tx *models.PaymentTransaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockBillingRepository) GetTransactionByGatewayRef(ctx context.Context, gatewayRef string) (*models.PaymentTransaction, error) {
	args := m.Called(ctx, gatewayRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentTransaction), args.Error(1)
}

func (m *MockBillingRepository) ListTransactionsByInvoice(ctx context.Context, tenantID string, invoiceID uuid.UUID) ([]models.PaymentTransaction, error) {
	args := m.Called(ctx, tenantID, invoiceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PaymentTransaction), args.Error(1)
}

func (m *MockBillingRepository) GetGatewayConfig(ctx context.Context, gatewayID string) (*models.PaymentGatewayConfig, error) {
	args := m.Called(ctx, gatewayID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentGatewayConfig), args.Error(1)
}

func (m *MockBillingRepository) ListGatewayConfigs(ctx context.Context) ([]models.PaymentGatewayConfig, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PaymentGatewayConfig), args.Error(1)
}

func (m *MockBillingRepository) UpdateGatewayConfig(ctx context.Context, config *models.PaymentGatewayConfig) error {
	args := m.Called(ctx, config)
	return args.Error(0)
}

func (m *MockBillingRepository) GetApiKeyByLookup(ctx context.Context, lookup string) (*models.ApiKey, error) {
	args := m.Called(ctx, lookup)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ApiKey), args.Error(1)
}

func (m *MockBillingRepository) CreateApiKey(ctx context.Context, key *models.ApiKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockBillingRepository) TouchApiKey(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockBillingRepository) CreateAuditLog(ctx context.Context, entry *models.ApiKeyAuditLog) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockBillingRepository) CreateWebhookLog(ctx context.Context, entry *models.WebhookRetryLog) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockBillingRepository) ListWebhookLogsByRef(ctx context.Context, gatewayID, gatewayRef string) ([]models.WebhookRetryLog, error) {
	args := m.Called(ctx, gatewayID, gatewayRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.WebhookRetryLog), args.Error(1)
}

func (m *MockBillingRepository) InvoicedTotalsByCurrency(ctx context.Context, tenantID string, start, end time.Time) ([]repository.CurrencyInvoicedRow, error) {
	args := m.Called(ctx, tenantID, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.CurrencyInvoicedRow), args.Error(1)
}

func (m *MockBillingRepository) PaidTotalsByCurrency(ctx context.Context, tenantID string, start, end time.Time) ([]repository.CurrencyPaidRow, error) {
	args := m.Called(ctx, tenantID, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.CurrencyPaidRow), args.Error(1)
}

func (m *MockBillingRepository) PaidTotalsByGateway(ctx context.Context, tenantID string, start, end time.Time) ([]repository.GatewayPaidRow, error) {
	args := m.Called(ctx, tenantID, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.GatewayPaidRow), args.Error(1)
}

func (m *MockBillingRepository) TaxTotalsByRate(ctx context.Context, tenantID string, start, end time.Time) ([]repository.TaxRateRow, error) {
	args := m.Called(ctx, tenantID, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.TaxRateRow), args.Error(1)
}

// ===========================================
// Mock Gateway Adapter
// ===========================================

// MockGateway is a mock implementation of gateway.PaymentGateway
type MockGateway struct {
	mock.Mock
	name string
}

var _ gateway.PaymentGateway = (*MockGateway)(nil)

func newMockGateway(name string) *MockGateway {
	return &MockGateway{name: name}
}

func (m *MockGateway) Name() string {
	return m.name
}

func (m *MockGateway) SupportsCurrency(currency string) bool {
	return true
}

func (m *MockGateway) CreatePayment(ctx context.Context, req *gateway.CreatePaymentRequest) (*gateway.CreatePaymentResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.CreatePaymentResult), args.Error(1)
}

func (m *MockGateway) VerifyWebhook(payload []byte, signature string) error {
	args := m.Called(payload, signature)
	return args.Error(0)
}

func (m *MockGateway) ProcessWebhook(ctx context.Context, payload []byte) (*gateway.WebhookPayload, error) {
	args := m.Called(ctx, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.WebhookPayload), args.Error(1)
}

// ===========================================
// Test Helpers
// ===========================================

func testConfig() *config.Config {
	return &config.Config{
		InvoiceExpiryHours:      24,
		ExpirationSweepInterval: time.Hour,
		WebhookMaxAttempts:      4,
		WebhookRetryDelays:      []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
		DefaultRateLimit:        60,
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// createTestInvoice builds a pending IDR invoice: subtotal 3,000,000 with 11%
// tax and a 1% service fee, totalling 3,360,000.
func createTestInvoice(status models.InvoiceStatus) *models.Invoice {
	now := time.Now().UTC()
	return &models.Invoice{
		ID:          uuid.New(),
		TenantID:    "tenant-1",
		ExternalID:  "INV-001",
		Currency:    "IDR",
		GatewayID:   models.GatewayXendit,
		Subtotal:    dec("3000000"),
		TaxTotal:    dec("330000"),
		ServiceFee:  dec("30000"),
		TotalAmount: dec("3360000"),
		Status:      status,
		ExpiresAt:   now.Add(24 * time.Hour),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// createTestInstallmentInvoice attaches a three-part schedule to the standard
// test invoice. Each installment is due 1,000,000 + 110,000 tax + 10,000 fee.
func createTestInstallmentInvoice(status models.InvoiceStatus) *models.Invoice {
	inv := createTestInvoice(status)
	start := time.Now().UTC().AddDate(0, 1, 0)
	for i := 1; i <= 3; i++ {
		inv.Installments = append(inv.Installments, models.InstallmentSchedule{
			ID:                uuid.New(),
			TenantID:          inv.TenantID,
			InvoiceID:         inv.ID,
			InstallmentNumber: i,
			Amount:            dec("1000000"),
			TaxAmount:         dec("110000"),
			ServiceFeeAmount:  dec("10000"),
			DueDate:           start.AddDate(0, i-1, 0),
			Status:            models.InstallmentUnpaid,
		})
	}
	return inv
}

func createTestGatewayConfig(gatewayID string, currencies ...string) *models.PaymentGatewayConfig {
	return &models.PaymentGatewayConfig{
		ID:                  uuid.New(),
		GatewayID:           gatewayID,
		Name:                gatewayID,
		SupportedCurrencies: models.StringArray(currencies),
		FeePercentage:       dec("0.01"),
		FeeFixed:            decimal.Zero,
		IsActive:            true,
	}
}

func markInstallmentPaid(inv *models.Invoice, number int) {
	now := time.Now().UTC()
	for i := range inv.Installments {
		if inv.Installments[i].InstallmentNumber == number {
			inv.Installments[i].Status = models.InstallmentPaid
			inv.Installments[i].PaidAt = &now
		}
	}
}
