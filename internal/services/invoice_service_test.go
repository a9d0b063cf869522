package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	ierr "billing-service/internal/errors"
	"billing-service/internal/gateway"
	"billing-service/internal/models"
	"billing-service/internal/repository"
)

func newInvoiceService(repo repository.BillingRepositoryInterface, gw gateway.PaymentGateway) *InvoiceService {
	registry := gateway.NewRegistry()
	if gw != nil {
		registry.Register(gw)
	}
	return NewInvoiceService(repo, registry, testConfig())
}

func baseCreateRequest() *models.CreateInvoiceRequest {
	return &models.CreateInvoiceRequest{
		ExternalID: "INV-001",
		Currency:   "IDR",
		GatewayID:  models.GatewayXendit,
		LineItems: []models.LineItemInput{
			{ProductName: "Annual license", Quantity: 2, UnitPrice: dec("1000000"), TaxRate: dec("0.11")},
			{ProductName: "Setup", Quantity: 1, UnitPrice: dec("1000000"), TaxRate: decimal.Zero},
		},
	}
}

// ===========================================
// CreateInvoice
// ===========================================

func TestCreateInvoice(t *testing.T) {
	ctx := context.Background()

	t.Run("computes totals with fee on subtotal only", func(t *testing.T) {
		mockRepo := new(MockBillingRepository)
		service := newInvoiceService(mockRepo, nil)

		mockRepo.On("GetGatewayConfig", mock.Anything, models.GatewayXendit).
			Return(createTestGatewayConfig(models.GatewayXendit, "IDR", "MYR"), nil).Once()

		var captured *models.Invoice
		mockRepo.On("CreateInvoice", mock.Anything, mock.AnythingOfType("*models.Invoice")).
			Run(func(args mock.Arguments) {
				captured = args.Get(1).(*models.Invoice)
			}).
			Return(nil).Once()

		invoice, err := service.CreateInvoice(ctx, "tenant-1", baseCreateRequest())

		assert.NoError(t, err)
		assert.NotNil(t, invoice)
		assert.True(t, invoice.Subtotal.Equal(dec("3000000")), "subtotal %s", invoice.Subtotal)
		assert.True(t, invoice.TaxTotal.Equal(dec("220000")), "tax %s", invoice.TaxTotal)
		// 1% of the 3,000,000 subtotal; the 220,000 tax is not in the base.
		assert.True(t, invoice.ServiceFee.Equal(dec("30000")), "fee %s", invoice.ServiceFee)
		assert.True(t, invoice.TotalAmount.Equal(dec("3250000")), "total %s", invoice.TotalAmount)
		assert.Equal(t, models.InvoiceDraft, invoice.Status)
		assert.Equal(t, "tenant-1", captured.TenantID)
		assert.Len(t, captured.LineItems, 2)
		assert.True(t, captured.LineItems[0].TaxAmount.Equal(dec("220000")))
		assert.True(t, captured.LineItems[1].TaxAmount.Equal(decimal.Zero))
		mockRepo.AssertExpectations(t)
	})

	t.Run("defaults expiry to the configured window", func(t *testing.T) {
		mockRepo := new(MockBillingRepository)
		service := newInvoiceService(mockRepo, nil)

		mockRepo.On("GetGatewayConfig", mock.Anything, models.GatewayXendit).
			Return(createTestGatewayConfig(models.GatewayXendit, "IDR"), nil).Once()
		mockRepo.On("CreateInvoice", mock.Anything, mock.Anything).Return(nil).Once()

		before := time.Now().UTC()
		invoice, err := service.CreateInvoice(ctx, "tenant-1", baseCreateRequest())
		after := time.Now().UTC()

		assert.NoError(t, err)
		assert.False(t, invoice.ExpiresAt.Before(before.Add(24*time.Hour)))
		assert.False(t, invoice.ExpiresAt.After(after.Add(24*time.Hour)))
	})

	t.Run("rejects unsupported currency", func(t *testing.T) {
		mockRepo := new(MockBillingRepository)
		service := newInvoiceService(mockRepo, nil)

		req := baseCreateRequest()
		req.Currency = "EUR"
		_, err := service.CreateInvoice(ctx, "tenant-1", req)

		assert.Error(t, err)
		assert.True(t, ierr.IsValidation(err))
		mockRepo.AssertNotCalled(t, "CreateInvoice", mock.Anything, mock.Anything)
	})

	t.Run("rejects gateway that does not settle the currency", func(t *testing.T) {
		mockRepo := new(MockBillingRepository)
		service := newInvoiceService(mockRepo, nil)

		mockRepo.On("GetGatewayConfig", mock.Anything, models.GatewayXendit).
			Return(createTestGatewayConfig(models.GatewayXendit, "MYR"), nil).Once()

		_, err := service.CreateInvoice(ctx, "tenant-1", baseCreateRequest())

		assert.Error(t, err)
		assert.True(t, ierr.IsValidation(err))
	})

	t.Run("rejects unknown gateway", func(t *testing.T) {
		mockRepo := new(MockBillingRepository)
		service := newInvoiceService(mockRepo, nil)

		mockRepo.On("GetGatewayConfig", mock.Anything, "paypal").
			Return(nil, ierr.NewError("gateway not found").Mark(ierr.ErrNotFound)).Once()

		req := baseCreateRequest()
		req.GatewayID = "paypal"
		_, err := service.CreateInvoice(ctx, "tenant-1", req)

		assert.Error(t, err)
		assert.True(t, ierr.IsValidation(err))
	})

	t.Run("rejects empty line items", func(t *testing.T) {
		mockRepo := new(MockBillingRepository)
		service := newInvoiceService(mockRepo, nil)

		mockRepo.On("GetGatewayConfig", mock.Anything, models.GatewayXendit).
			Return(createTestGatewayConfig(models.GatewayXendit, "IDR"), nil).Once()

		req := baseCreateRequest()
		req.LineItems = nil
		_, err := service.CreateInvoice(ctx, "tenant-1", req)

		assert.Error(t, err)
		assert.True(t, ierr.IsValidation(err))
	})

	t.Run("rejects amount with sub-unit precision for the currency", func(t *testing.T) {
		mockRepo := new(MockBillingRepository)
		service := newInvoiceService(mockRepo, nil)

		mockRepo.On("GetGatewayConfig", mock.Anything, models.GatewayXendit).
			Return(createTestGatewayConfig(models.GatewayXendit, "IDR"), nil).Once()

		req := baseCreateRequest()
		req.LineItems[0].UnitPrice = dec("1000000.50") // IDR has no decimal places
		_, err := service.CreateInvoice(ctx, "tenant-1", req)

		assert.Error(t, err)
		assert.True(t, ierr.IsValidation(err))
	})

	t.Run("rejects tax rate above one", func(t *testing.T) {
		mockRepo := new(MockBillingRepository)
		service := newInvoiceService(mockRepo, nil)

		mockRepo.On("GetGatewayConfig", mock.Anything, models.GatewayXendit).
			Return(createTestGatewayConfig(models.GatewayXendit, "IDR"), nil).Once()

		req := baseCreateRequest()
		req.LineItems[0].TaxRate = dec("1.5")
		_, err := service.CreateInvoice(ctx, "tenant-1", req)

		assert.Error(t, err)
		assert.True(t, ierr.IsValidation(err))
	})
}

// ===========================================
// Installment schedule generation
// ===========================================

func TestCreateInvoiceWithInstallments(t *testing.T) {
	ctx := context.Background()

	t.Run("equal split with last-installment absorption", func(t *testing.T) {
		mockRepo := new(MockBillingRepository)
		service := newInvoiceService(mockRepo, nil)

		mockRepo.On("GetGatewayConfig", mock.Anything, models.GatewayXendit).
			Return(createTestGatewayConfig(models.GatewayXendit, "IDR"), nil).Once()
		mockRepo.On("CreateInvoice", mock.Anything, mock.Anything).Return(nil).Once()

		// 1,000,000 over 3 parts: 333,333 + 333,333 + 333,334
		req := &models.CreateInvoiceRequest{
			ExternalID: "INV-SPLIT",
			Currency:   "IDR",
			GatewayID:  models.GatewayXendit,
			LineItems: []models.LineItemInput{
				{ProductName: "Service", Quantity: 1, UnitPrice: dec("1000000"), TaxRate: dec("0.11")},
			},
			Installments: &models.InstallmentConfig{Count: 3},
		}

		invoice, err := service.CreateInvoice(ctx, "tenant-1", req)

		assert.NoError(t, err)
		assert.Len(t, invoice.Installments, 3)
		assert.True(t, invoice.Installments[0].Amount.Equal(dec("333333")))
		assert.True(t, invoice.Installments[1].Amount.Equal(dec("333333")))
		assert.True(t, invoice.Installments[2].Amount.Equal(dec("333334")))

		// Component sums must match the invoice exactly.
		amountSum, taxSum, feeSum := decimal.Zero, decimal.Zero, decimal.Zero
		for _, inst := range invoice.Installments {
			amountSum = amountSum.Add(inst.Amount)
			taxSum = taxSum.Add(inst.TaxAmount)
			feeSum = feeSum.Add(inst.ServiceFeeAmount)
			assert.Equal(t, models.InstallmentUnpaid, inst.Status)
		}
		assert.True(t, amountSum.Equal(invoice.Subtotal))
		assert.True(t, taxSum.Equal(invoice.TaxTotal))
		assert.True(t, feeSum.Equal(invoice.ServiceFee))
	})

	t.Run("due dates advance monthly from the start date", func(t *testing.T) {
		mockRepo := new(MockBillingRepository)
		service := newInvoiceService(mockRepo, nil)

		mockRepo.On("GetGatewayConfig", mock.Anything, models.GatewayXendit).
			Return(createTestGatewayConfig(models.GatewayXendit, "IDR"), nil).Once()
		mockRepo.On("CreateInvoice", mock.Anything, mock.Anything).Return(nil).Once()

		start := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
		req := baseCreateRequest()
		req.Installments = &models.InstallmentConfig{Count: 3, StartDate: &start}

		invoice, err := service.CreateInvoice(ctx, "tenant-1", req)

		assert.NoError(t, err)
		assert.Equal(t, start, invoice.Installments[0].DueDate)
		assert.Equal(t, start.AddDate(0, 1, 0), invoice.Installments[1].DueDate)
		assert.Equal(t, start.AddDate(0, 2, 0), invoice.Installments[2].DueDate)
		// Default expiry must cover the whole schedule.
		assert.Equal(t, invoice.Installments[2].DueDate.Add(24*time.Hour), invoice.ExpiresAt)
	})

	t.Run("custom amounts must sum to the subtotal", func(t *testing.T) {
		mockRepo := new(MockBillingRepository)
		service := newInvoiceService(mockRepo, nil)

		mockRepo.On("GetGatewayConfig", mock.Anything, models.GatewayXendit).
			Return(createTestGatewayConfig(models.GatewayXendit, "IDR"), nil).Twice()
		mockRepo.On("CreateInvoice", mock.Anything, mock.Anything).Return(nil).Once()

		req := baseCreateRequest()
		req.Installments = &models.InstallmentConfig{
			Count:         2,
			CustomAmounts: []decimal.Decimal{dec("2000000"), dec("1000000")},
		}
		invoice, err := service.CreateInvoice(ctx, "tenant-1", req)
		assert.NoError(t, err)
		assert.True(t, invoice.Installments[0].Amount.Equal(dec("2000000")))
		assert.True(t, invoice.Installments[1].Amount.Equal(dec("1000000")))

		req2 := baseCreateRequest()
		req2.Installments = &models.InstallmentConfig{
			Count:         2,
			CustomAmounts: []decimal.Decimal{dec("2000000"), dec("500000")},
		}
		_, err = service.CreateInvoice(ctx, "tenant-1", req2)
		assert.Error(t, err)
		assert.True(t, ierr.IsValidation(err))
	})

	t.Run("rejects counts outside the allowed range", func(t *testing.T) {
		mockRepo := new(MockBillingRepository)
		service := newInvoiceService(mockRepo, nil)

		mockRepo.On("GetGatewayConfig", mock.Anything, models.GatewayXendit).
			Return(createTestGatewayConfig(models.GatewayXendit, "IDR"), nil).Twice()

		for _, count := range []int{1, 13} {
			req := baseCreateRequest()
			req.Installments = &models.InstallmentConfig{Count: count}
			_, err := service.CreateInvoice(ctx, "tenant-1", req)
			assert.Error(t, err, "count %d", count)
			assert.True(t, ierr.IsValidation(err))
		}
	})
}

func TestCreateInvoiceExpiryValidation(t *testing.T) {
	ctx := context.Background()

	setup := func() (*MockBillingRepository, *InvoiceService) {
		mockRepo := new(MockBillingRepository)
		service := newInvoiceService(mockRepo, nil)
		mockRepo.On("GetGatewayConfig", mock.Anything, models.GatewayXendit).
			Return(createTestGatewayConfig(models.GatewayXendit, "IDR"), nil)
		return mockRepo, service
	}

	t.Run("rejects expiry in the past", func(t *testing.T) {
		_, service := setup()
		past := time.Now().UTC().Add(-time.Hour)
		req := baseCreateRequest()
		req.ExpiresAt = &past
		_, err := service.CreateInvoice(ctx, "tenant-1", req)
		assert.True(t, ierr.IsValidation(err))
	})

	t.Run("rejects expiry closer than one hour", func(t *testing.T) {
		_, service := setup()
		soon := time.Now().UTC().Add(30 * time.Minute)
		req := baseCreateRequest()
		req.ExpiresAt = &soon
		_, err := service.CreateInvoice(ctx, "tenant-1", req)
		assert.True(t, ierr.IsValidation(err))
	})

	t.Run("rejects expiry beyond thirty days", func(t *testing.T) {
		_, service := setup()
		far := time.Now().UTC().Add(31 * 24 * time.Hour)
		req := baseCreateRequest()
		req.ExpiresAt = &far
		_, err := service.CreateInvoice(ctx, "tenant-1", req)
		assert.True(t, ierr.IsValidation(err))
	})

	t.Run("rejects expiry before the last installment due date", func(t *testing.T) {
		_, service := setup()
		expiry := time.Now().UTC().Add(10 * 24 * time.Hour)
		start := time.Now().UTC().Add(5 * 24 * time.Hour)
		req := baseCreateRequest()
		req.ExpiresAt = &expiry
		req.Installments = &models.InstallmentConfig{Count: 2, StartDate: &start}
		_, err := service.CreateInvoice(ctx, "tenant-1", req)
		assert.True(t, ierr.IsValidation(err))
	})
}

// ===========================================
// InitiatePayment
// ===========================================

func TestInitiatePayment(t *testing.T) {
	ctx := context.Background()

	t.Run("creates hosted payment and flips draft to pending", func(t *testing.T) {
		mockRepo := new(MockBillingRepository)
		mockGw := newMockGateway(models.GatewayXendit)
		service := newInvoiceService(mockRepo, mockGw)

		invoice := createTestInvoice(models.InvoiceDraft)

		mockRepo.On("GetInvoice", mock.Anything, "tenant-1", invoice.ID).Return(invoice, nil).Once()
		mockGw.On("CreatePayment", mock.Anything, mock.MatchedBy(func(req *gateway.CreatePaymentRequest) bool {
			return req.ExternalID == "INV-001" && req.Amount.Equal(dec("3360000"))
		})).Return(&gateway.CreatePaymentResult{
			GatewayReference: "xnd-123",
			PaymentURL:       "https://checkout.xendit.co/web/xnd-123",
		}, nil).Once()
		mockRepo.On("GetInvoiceForUpdate", mock.Anything, invoice.ID).Return(invoice, nil).Once()
		mockRepo.On("UpdateInvoice", mock.Anything, mock.MatchedBy(func(inv *models.Invoice) bool {
			return inv.Status == models.InvoicePending && inv.PaymentInitiatedAt != nil &&
				inv.PaymentURL == "https://checkout.xendit.co/web/xnd-123" && inv.GatewayReference == "xnd-123"
		})).Return(nil).Once()

		resp, err := service.InitiatePayment(ctx, "tenant-1", invoice.ID, &models.InitiatePaymentRequest{})

		assert.NoError(t, err)
		assert.Equal(t, models.InvoicePending, resp.Status)
		assert.Equal(t, "https://checkout.xendit.co/web/xnd-123", resp.PaymentURL)
		assert.Equal(t, "xnd-123", resp.GatewayReference)
		mockRepo.AssertExpectations(t)
		mockGw.AssertExpectations(t)
	})

	t.Run("returns the existing payment URL without a second gateway call", func(t *testing.T) {
		mockRepo := new(MockBillingRepository)
		mockGw := newMockGateway(models.GatewayXendit)
		service := newInvoiceService(mockRepo, mockGw)

		invoice := createTestInvoice(models.InvoicePending)
		now := time.Now().UTC()
		invoice.PaymentInitiatedAt = &now
		invoice.PaymentURL = "https://checkout.xendit.co/web/xnd-123"
		invoice.GatewayReference = "xnd-123"

		mockRepo.On("GetInvoice", mock.Anything, "tenant-1", invoice.ID).Return(invoice, nil).Once()

		resp, err := service.InitiatePayment(ctx, "tenant-1", invoice.ID, &models.InitiatePaymentRequest{})

		assert.NoError(t, err)
		assert.Equal(t, "https://checkout.xendit.co/web/xnd-123", resp.PaymentURL)
		mockGw.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything)
	})

	t.Run("rejects terminal invoices", func(t *testing.T) {
		mockRepo := new(MockBillingRepository)
		service := newInvoiceService(mockRepo, nil)

		for _, status := range []models.InvoiceStatus{models.InvoicePaid, models.InvoiceFailed, models.InvoiceExpired} {
			invoice := createTestInvoice(status)
			mockRepo.On("GetInvoice", mock.Anything, "tenant-1", invoice.ID).Return(invoice, nil).Once()

			_, err := service.InitiatePayment(ctx, "tenant-1", invoice.ID, &models.InitiatePaymentRequest{})
			assert.Error(t, err, "status %s", status)
			assert.True(t, ierr.IsValidation(err))
		}
	})

	t.Run("targets the first unpaid installment", func(t *testing.T) {
		mockRepo := new(MockBillingRepository)
		mockGw := newMockGateway(models.GatewayXendit)
		service := newInvoiceService(mockRepo, mockGw)

		invoice := createTestInstallmentInvoice(models.InvoicePartiallyPaid)
		now := time.Now().UTC()
		invoice.PaymentInitiatedAt = &now
		markInstallmentPaid(invoice, 1)

		mockRepo.On("GetInvoice", mock.Anything, "tenant-1", invoice.ID).Return(invoice, nil).Once()
		mockGw.On("CreatePayment", mock.Anything, mock.MatchedBy(func(req *gateway.CreatePaymentRequest) bool {
			// Installment 2: 1,000,000 + 110,000 + 10,000
			return req.ExternalID == "INV-001-installment-2" && req.Amount.Equal(dec("1120000")) &&
				req.InstallmentInfo != nil && req.InstallmentInfo.Number == 2
		})).Return(&gateway.CreatePaymentResult{
			GatewayReference: "xnd-inst-2",
			PaymentURL:       "https://checkout.xendit.co/web/xnd-inst-2",
		}, nil).Once()
		mockRepo.On("GetInvoiceForUpdate", mock.Anything, invoice.ID).Return(invoice, nil).Once()
		mockRepo.On("UpdateInstallment", mock.Anything, mock.MatchedBy(func(inst *models.InstallmentSchedule) bool {
			return inst.InstallmentNumber == 2 && inst.PaymentURL != nil && *inst.GatewayReference == "xnd-inst-2"
		})).Return(nil).Once()

		resp, err := service.InitiatePayment(ctx, "tenant-1", invoice.ID, &models.InitiatePaymentRequest{})

		assert.NoError(t, err)
		assert.Equal(t, "https://checkout.xendit.co/web/xnd-inst-2", resp.PaymentURL)
		mockRepo.AssertExpectations(t)
		mockGw.AssertExpectations(t)
	})

	t.Run("fails when every installment is paid", func(t *testing.T) {
		mockRepo := new(MockBillingRepository)
		service := newInvoiceService(mockRepo, nil)

		invoice := createTestInstallmentInvoice(models.InvoicePartiallyPaid)
		for i := 1; i <= 3; i++ {
			markInstallmentPaid(invoice, i)
		}
		mockRepo.On("GetInvoice", mock.Anything, "tenant-1", invoice.ID).Return(invoice, nil).Once()

		_, err := service.InitiatePayment(ctx, "tenant-1", invoice.ID, &models.InitiatePaymentRequest{})
		assert.True(t, ierr.IsValidation(err))
	})

	t.Run("wraps gateway failures without touching the invoice", func(t *testing.T) {
		mockRepo := new(MockBillingRepository)
		mockGw := newMockGateway(models.GatewayXendit)
		service := newInvoiceService(mockRepo, mockGw)

		invoice := createTestInvoice(models.InvoiceDraft)
		mockRepo.On("GetInvoice", mock.Anything, "tenant-1", invoice.ID).Return(invoice, nil).Once()
		mockGw.On("CreatePayment", mock.Anything, mock.Anything).
			Return(nil, gateway.NewGatewayError(models.GatewayXendit, 400, gateway.CauseAPIError, "rejected")).Once()

		_, err := service.InitiatePayment(ctx, "tenant-1", invoice.ID, &models.InitiatePaymentRequest{})

		assert.Error(t, err)
		assert.True(t, ierr.Is(err, ierr.ErrGateway))
		mockRepo.AssertNotCalled(t, "UpdateInvoice", mock.Anything, mock.Anything)
	})
}

// ===========================================
// AdjustInstallments
// ===========================================

func TestAdjustInstallments(t *testing.T) {
	ctx := context.Background()

	t.Run("rebalances unpaid installments and conserves component sums", func(t *testing.T) {
		mockRepo := new(MockBillingRepository)
		service := newInvoiceService(mockRepo, nil)

		invoice := createTestInstallmentInvoice(models.InvoicePartiallyPaid)
		markInstallmentPaid(invoice, 1)

		mockRepo.On("GetInvoiceForUpdate", mock.Anything, invoice.ID).Return(invoice, nil).Once()

		var updated []*models.InstallmentSchedule
		mockRepo.On("UpdateInstallment", mock.Anything, mock.AnythingOfType("*models.InstallmentSchedule")).
			Run(func(args mock.Arguments) {
				updated = append(updated, args.Get(1).(*models.InstallmentSchedule))
			}).
			Return(nil).Twice()
		mockRepo.On("GetInvoice", mock.Anything, "tenant-1", invoice.ID).Return(invoice, nil).Once()

		req := &models.AdjustInstallmentsRequest{
			Adjustments: []models.InstallmentAdjustment{
				{InstallmentNumber: 2, NewAmount: dec("1500000")},
				{InstallmentNumber: 3, NewAmount: dec("500000")},
			},
		}
		_, err := service.AdjustInstallments(ctx, "tenant-1", invoice.ID, req)

		assert.NoError(t, err)
		assert.Len(t, updated, 2)

		amountSum, taxSum, feeSum := decimal.Zero, decimal.Zero, decimal.Zero
		for _, inst := range updated {
			amountSum = amountSum.Add(inst.Amount)
			taxSum = taxSum.Add(inst.TaxAmount)
			feeSum = feeSum.Add(inst.ServiceFeeAmount)
		}
		// The two unpaid installments held 2,000,000 + 220,000 tax + 20,000 fee.
		assert.True(t, amountSum.Equal(dec("2000000")))
		assert.True(t, taxSum.Equal(dec("220000")))
		assert.True(t, feeSum.Equal(dec("20000")))
		// Tax follows the new amounts proportionally: 75% / 25%.
		assert.True(t, updated[0].TaxAmount.Equal(dec("165000")), "tax %s", updated[0].TaxAmount)
		assert.True(t, updated[1].TaxAmount.Equal(dec("55000")), "tax %s", updated[1].TaxAmount)
		mockRepo.AssertExpectations(t)
	})

	t.Run("rejects proposals that change the remaining total", func(t *testing.T) {
		mockRepo := new(MockBillingRepository)
		service := newInvoiceService(mockRepo, nil)

		invoice := createTestInstallmentInvoice(models.InvoicePending)
		mockRepo.On("GetInvoiceForUpdate", mock.Anything, invoice.ID).Return(invoice, nil).Once()

		req := &models.AdjustInstallmentsRequest{
			Adjustments: []models.InstallmentAdjustment{
				{InstallmentNumber: 1, NewAmount: dec("1000000")},
				{InstallmentNumber: 2, NewAmount: dec("1000000")},
				{InstallmentNumber: 3, NewAmount: dec("1000001")},
			},
		}
		_, err := service.AdjustInstallments(ctx, "tenant-1", invoice.ID, req)

		assert.True(t, ierr.IsValidation(err))
		mockRepo.AssertNotCalled(t, "UpdateInstallment", mock.Anything, mock.Anything)
	})

	t.Run("rejects adjustments naming a paid installment", func(t *testing.T) {
		mockRepo := new(MockBillingRepository)
		service := newInvoiceService(mockRepo, nil)

		invoice := createTestInstallmentInvoice(models.InvoicePartiallyPaid)
		markInstallmentPaid(invoice, 1)
		mockRepo.On("GetInvoiceForUpdate", mock.Anything, invoice.ID).Return(invoice, nil).Once()

		req := &models.AdjustInstallmentsRequest{
			Adjustments: []models.InstallmentAdjustment{
				{InstallmentNumber: 1, NewAmount: dec("1000000")},
				{InstallmentNumber: 2, NewAmount: dec("1000000")},
				{InstallmentNumber: 3, NewAmount: dec("1000000")},
			},
		}
		_, err := service.AdjustInstallments(ctx, "tenant-1", invoice.ID, req)

		assert.True(t, ierr.IsValidation(err))
	})

	t.Run("rejects proposals that skip an unpaid installment", func(t *testing.T) {
		mockRepo := new(MockBillingRepository)
		service := newInvoiceService(mockRepo, nil)

		invoice := createTestInstallmentInvoice(models.InvoicePending)
		mockRepo.On("GetInvoiceForUpdate", mock.Anything, invoice.ID).Return(invoice, nil).Once()

		req := &models.AdjustInstallmentsRequest{
			Adjustments: []models.InstallmentAdjustment{
				{InstallmentNumber: 1, NewAmount: dec("3000000")},
			},
		}
		_, err := service.AdjustInstallments(ctx, "tenant-1", invoice.ID, req)

		assert.True(t, ierr.IsValidation(err))
	})

	t.Run("rejects terminal invoices", func(t *testing.T) {
		mockRepo := new(MockBillingRepository)
		service := newInvoiceService(mockRepo, nil)

		invoice := createTestInstallmentInvoice(models.InvoiceExpired)
		mockRepo.On("GetInvoiceForUpdate", mock.Anything, invoice.ID).Return(invoice, nil).Once()

		req := &models.AdjustInstallmentsRequest{
			Adjustments: []models.InstallmentAdjustment{
				{InstallmentNumber: 1, NewAmount: dec("3000000")},
			},
		}
		_, err := service.AdjustInstallments(ctx, "tenant-1", invoice.ID, req)

		assert.True(t, ierr.IsValidation(err))
	})
}

// ===========================================
// Read paths
// ===========================================

func TestListInvoices(t *testing.T) {
	ctx := context.Background()

	t.Run("applies the default page size", func(t *testing.T) {
		mockRepo := new(MockBillingRepository)
		service := newInvoiceService(mockRepo, nil)

		mockRepo.On("ListInvoices", mock.Anything, "tenant-1", repository.InvoiceFilter{Limit: 50}).
			Return([]models.Invoice{}, int64(0), nil).Once()

		_, _, err := service.ListInvoices(ctx, "tenant-1", repository.InvoiceFilter{})
		assert.NoError(t, err)
		mockRepo.AssertExpectations(t)
	})

	t.Run("caps oversized page requests", func(t *testing.T) {
		mockRepo := new(MockBillingRepository)
		service := newInvoiceService(mockRepo, nil)

		mockRepo.On("ListInvoices", mock.Anything, "tenant-1", repository.InvoiceFilter{Limit: 200}).
			Return([]models.Invoice{}, int64(0), nil).Once()

		_, _, err := service.ListInvoices(ctx, "tenant-1", repository.InvoiceFilter{Limit: 1000})
		assert.NoError(t, err)
		mockRepo.AssertExpectations(t)
	})
}

func TestGetPaymentStats(t *testing.T) {
	ctx := context.Background()

	t.Run("sums completed transactions and formats at currency scale", func(t *testing.T) {
		mockRepo := new(MockBillingRepository)
		service := newInvoiceService(mockRepo, nil)

		invoice := createTestInvoice(models.InvoicePartiallyPaid)
		transactions := []models.PaymentTransaction{
			{ID: uuid.New(), Status: models.TransactionCompleted, AmountPaid: dec("1120000"), OverpaymentAmount: decimal.Zero},
			{ID: uuid.New(), Status: models.TransactionCompleted, AmountPaid: dec("1130000"), OverpaymentAmount: dec("10000")},
			{ID: uuid.New(), Status: models.TransactionFailed, AmountPaid: dec("999999")},
		}

		mockRepo.On("GetInvoice", mock.Anything, "tenant-1", invoice.ID).Return(invoice, nil).Once()
		mockRepo.On("ListTransactionsByInvoice", mock.Anything, "tenant-1", invoice.ID).Return(transactions, nil).Once()

		stats, err := service.GetPaymentStats(ctx, "tenant-1", invoice.ID)

		assert.NoError(t, err)
		assert.Equal(t, "3360000", stats.TotalAmount)
		assert.Equal(t, "2250000", stats.TotalPaid)
		assert.Equal(t, "1110000", stats.Balance)
		assert.Equal(t, "10000", stats.Overpayment)
		assert.Equal(t, int64(2), stats.CountsByStatus[string(models.TransactionCompleted)])
		assert.Equal(t, int64(1), stats.CountsByStatus[string(models.TransactionFailed)])
	})
}
