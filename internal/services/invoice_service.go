package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"billing-service/internal/config"
	ierr "billing-service/internal/errors"
	"billing-service/internal/gateway"
	"billing-service/internal/metrics"
	"billing-service/internal/models"
	"billing-service/internal/money"
	"billing-service/internal/repository"
)

const (
	// Bounds for caller-supplied expiry timestamps, measured from creation.
	minExpiryLead = time.Hour
	maxExpiryLead = 30 * 24 * time.Hour

	// Deadline for outbound gateway calls when none is configured.
	defaultGatewayTimeout = 30 * time.Second

	defaultListLimit = 50
	maxListLimit     = 200
)

// InvoiceService owns the invoice lifecycle: creation with line items and
// installment schedules, payment initiation, installment adjustment, and the
// read paths over invoices and their payment history.
type InvoiceService struct {
	repo     repository.BillingRepositoryInterface
	gateways *gateway.Registry
	config   *config.Config
}

// NewInvoiceService creates a new invoice service
func NewInvoiceService(repo repository.BillingRepositoryInterface, gateways *gateway.Registry, cfg *config.Config) *InvoiceService {
	return &InvoiceService{
		repo:     repo,
		gateways: gateways,
		config:   cfg,
	}
}

// CreateInvoice builds and persists an invoice with its line items and
// optional installment schedule. The invoice, lines, and schedule are written
// in a single transaction; the result is a draft invoice.
func (s *InvoiceService) CreateInvoice(ctx context.Context, tenantID string, req *models.CreateInvoiceRequest) (*models.Invoice, error) {
	if err := money.ValidateCurrency(req.Currency); err != nil {
		return nil, err
	}

	gatewayConfig, err := s.repo.GetGatewayConfig(ctx, req.GatewayID)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, ierr.NewError("unknown payment gateway").
				WithHintf("Payment gateway %q is not supported", req.GatewayID).
				Mark(ierr.ErrValidation)
		}
		return nil, err
	}
	if !gatewayConfig.IsActive {
		return nil, ierr.NewError("gateway disabled").
			WithHintf("Payment gateway %q is not active", req.GatewayID).
			Mark(ierr.ErrValidation)
	}
	if !gatewayConfig.SupportsCurrency(req.Currency) {
		return nil, ierr.NewError("currency not supported by gateway").
			WithHintf("Payment gateway %q does not support currency %s", req.GatewayID, req.Currency).
			Mark(ierr.ErrValidation)
	}

	if len(req.LineItems) == 0 {
		return nil, ierr.NewError("empty line items").
			WithHint("Invoice must contain at least one line item").
			Mark(ierr.ErrValidation)
	}

	lineItems := make([]models.LineItem, 0, len(req.LineItems))
	subtotal := decimal.Zero
	taxTotal := decimal.Zero
	for i, li := range req.LineItems {
		if li.Quantity <= 0 {
			return nil, ierr.NewError("invalid quantity").
				WithHintf("Line item %d: quantity must be positive", i+1).
				Mark(ierr.ErrValidation)
		}
		if err := money.ValidateAmount(li.UnitPrice, req.Currency); err != nil {
			return nil, err
		}
		if err := money.ValidateTaxRate(li.TaxRate); err != nil {
			return nil, err
		}

		lineSubtotal := li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
		lineTax := money.TaxAmount(lineSubtotal, li.TaxRate, req.Currency)

		lineItems = append(lineItems, models.LineItem{
			TenantID:    tenantID,
			ProductName: li.ProductName,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
			Subtotal:    lineSubtotal,
			TaxRate:     li.TaxRate,
			TaxCategory: li.TaxCategory,
			TaxAmount:   lineTax,
		})
		subtotal = subtotal.Add(lineSubtotal)
		taxTotal = taxTotal.Add(lineTax)
	}

	// The fee base is the subtotal alone; tax never enters it.
	serviceFee := money.ServiceFee(subtotal, gatewayConfig.FeePercentage, gatewayConfig.FeeFixed, req.Currency)
	totalAmount := subtotal.Add(taxTotal).Add(serviceFee)

	now := time.Now().UTC()

	var installments []models.InstallmentSchedule
	if req.Installments != nil {
		installments, err = s.buildSchedule(tenantID, req.Installments, subtotal, taxTotal, serviceFee, req.Currency, now)
		if err != nil {
			return nil, err
		}
	}

	expiresAt, err := s.resolveExpiry(req.ExpiresAt, installments, now)
	if err != nil {
		return nil, err
	}

	invoice := &models.Invoice{
		TenantID:     tenantID,
		ExternalID:   req.ExternalID,
		Currency:     req.Currency,
		GatewayID:    req.GatewayID,
		Subtotal:     subtotal,
		TaxTotal:     taxTotal,
		ServiceFee:   serviceFee,
		TotalAmount:  totalAmount,
		Status:       models.InvoiceDraft,
		ExpiresAt:    expiresAt,
		LineItems:    lineItems,
		Installments: installments,
	}

	if req.OriginalInvoiceID != nil && *req.OriginalInvoiceID != "" {
		originalID, err := uuid.Parse(*req.OriginalInvoiceID)
		if err != nil {
			return nil, ierr.NewError("invalid original invoice id").
				WithHintf("Original invoice ID %q is not a valid UUID", *req.OriginalInvoiceID).
				Mark(ierr.ErrValidation)
		}
		if _, err := s.repo.GetInvoice(ctx, tenantID, originalID); err != nil {
			if ierr.IsNotFound(err) {
				return nil, ierr.NewError("original invoice not found").
					WithHintf("Original invoice %s does not exist", originalID).
					Mark(ierr.ErrValidation)
			}
			return nil, err
		}
		invoice.OriginalInvoiceID = &originalID
	}

	// GORM persists the invoice with both child collections in one
	// transaction, satisfying the all-or-nothing creation contract.
	if err := s.repo.CreateInvoice(ctx, invoice); err != nil {
		return nil, err
	}

	metrics.InvoicesCreated.WithLabelValues(invoice.Currency, invoice.GatewayID).Inc()
	logrus.WithFields(logrus.Fields{
		"tenant_id":    tenantID,
		"invoice_id":   invoice.ID,
		"external_id":  invoice.ExternalID,
		"currency":     invoice.Currency,
		"gateway_id":   invoice.GatewayID,
		"total_amount": invoice.TotalAmount.String(),
		"installments": len(installments),
	}).Info("Invoice created")

	return invoice, nil
}

// buildSchedule generates the installment schedule for an invoice. Amounts
// come either from caller-supplied custom amounts or from equal distribution;
// tax and fee are distributed proportionally with the last installment
// absorbing all rounding residuals.
func (s *InvoiceService) buildSchedule(tenantID string, cfg *models.InstallmentConfig, subtotal, taxTotal, serviceFee decimal.Decimal, currency string, now time.Time) ([]models.InstallmentSchedule, error) {
	count := cfg.Count
	if count < models.MinInstallmentCount || count > models.MaxInstallmentCount {
		return nil, ierr.NewError("invalid installment count").
			WithHintf("Installment count must be between %d and %d, got %d",
				models.MinInstallmentCount, models.MaxInstallmentCount, count).
			Mark(ierr.ErrValidation)
	}

	var amounts []decimal.Decimal
	if len(cfg.CustomAmounts) > 0 {
		if len(cfg.CustomAmounts) != count {
			return nil, ierr.NewError("custom amounts length mismatch").
				WithHintf("Expected %d custom amounts, got %d", count, len(cfg.CustomAmounts)).
				Mark(ierr.ErrValidation)
		}
		sum := decimal.Zero
		for i, a := range cfg.CustomAmounts {
			if !a.IsPositive() {
				return nil, ierr.NewError("non-positive custom amount").
					WithHintf("Custom amount %d must be positive", i+1).
					Mark(ierr.ErrValidation)
			}
			if err := money.ValidateAmount(a, currency); err != nil {
				return nil, err
			}
			sum = sum.Add(a)
		}
		if !sum.Equal(subtotal) {
			return nil, ierr.NewError("custom amounts do not sum to subtotal").
				WithHintf("Custom amounts sum to %s but invoice subtotal is %s", sum.String(), subtotal.String()).
				Mark(ierr.ErrValidation)
		}
		amounts = cfg.CustomAmounts
	} else {
		amounts = money.EqualSplit(subtotal, count, currency)
	}

	taxShares := money.ProportionalSplit(taxTotal, amounts, subtotal, currency)
	feeShares := money.ProportionalSplit(serviceFee, amounts, subtotal, currency)

	if err := verifyScheduleSums(amounts, taxShares, feeShares, subtotal, taxTotal, serviceFee); err != nil {
		return nil, err
	}

	startDate := now.AddDate(0, 1, 0)
	if cfg.StartDate != nil {
		startDate = cfg.StartDate.UTC()
	}

	schedule := make([]models.InstallmentSchedule, count)
	for i := 0; i < count; i++ {
		schedule[i] = models.InstallmentSchedule{
			TenantID:          tenantID,
			InstallmentNumber: i + 1,
			Amount:            amounts[i],
			TaxAmount:         taxShares[i],
			ServiceFeeAmount:  feeShares[i],
			DueDate:           startDate.AddDate(0, i, 0),
			Status:            models.InstallmentUnpaid,
		}
	}
	return schedule, nil
}

// verifyScheduleSums re-checks the conservation invariants after generation.
func verifyScheduleSums(amounts, taxShares, feeShares []decimal.Decimal, subtotal, taxTotal, serviceFee decimal.Decimal) error {
	sumOf := func(parts []decimal.Decimal) decimal.Decimal {
		total := decimal.Zero
		for _, p := range parts {
			total = total.Add(p)
		}
		return total
	}
	if !sumOf(amounts).Equal(subtotal) || !sumOf(taxShares).Equal(taxTotal) || !sumOf(feeShares).Equal(serviceFee) {
		return ierr.NewError("schedule sums do not match invoice components").
			WithHint("Installment schedule does not conserve invoice totals").
			Mark(ierr.ErrValidation)
	}
	for i := range amounts {
		if amounts[i].IsNegative() || taxShares[i].IsNegative() || feeShares[i].IsNegative() {
			return ierr.NewError("negative installment component").
				WithHintf("Installment %d has a negative component", i+1).
				Mark(ierr.ErrValidation)
		}
	}
	return nil
}

// resolveExpiry computes the invoice expiry. Without a caller value the
// default window applies, anchored past the last due date when a schedule
// exists. Caller values must land inside the allowed window and cover the
// whole schedule.
func (s *InvoiceService) resolveExpiry(requested *time.Time, installments []models.InstallmentSchedule, now time.Time) (time.Time, error) {
	window := time.Duration(s.config.InvoiceExpiryHours) * time.Hour
	var lastDue time.Time
	if len(installments) > 0 {
		lastDue = installments[len(installments)-1].DueDate
	}

	if requested == nil {
		if !lastDue.IsZero() {
			return lastDue.Add(window), nil
		}
		return now.Add(window), nil
	}

	expiresAt := requested.UTC()
	if !expiresAt.After(now) {
		return time.Time{}, ierr.NewError("expiry in the past").
			WithHint("Expiry timestamp must be in the future").
			Mark(ierr.ErrValidation)
	}
	if expiresAt.Before(now.Add(minExpiryLead)) {
		return time.Time{}, ierr.NewError("expiry too soon").
			WithHint("Expiry must be at least one hour after creation").
			Mark(ierr.ErrValidation)
	}
	if expiresAt.After(now.Add(maxExpiryLead)) {
		return time.Time{}, ierr.NewError("expiry too far out").
			WithHint("Expiry must be within 30 days of creation").
			Mark(ierr.ErrValidation)
	}
	if !lastDue.IsZero() && expiresAt.Before(lastDue) {
		return time.Time{}, ierr.NewError("expiry before last installment").
			WithHintf("Expiry must not precede the last installment due date %s", lastDue.Format(time.RFC3339)).
			Mark(ierr.ErrValidation)
	}
	return expiresAt, nil
}

// GetInvoice fetches one invoice with line items and schedule.
func (s *InvoiceService) GetInvoice(ctx context.Context, tenantID string, invoiceID uuid.UUID) (*models.Invoice, error) {
	return s.repo.GetInvoice(ctx, tenantID, invoiceID)
}

// ListInvoices returns a page of the tenant's invoices, newest first.
func (s *InvoiceService) ListInvoices(ctx context.Context, tenantID string, filter repository.InvoiceFilter) ([]models.Invoice, int64, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListInvoices(ctx, tenantID, filter)
}

// GetInstallments returns the invoice's schedule ordered by number.
func (s *InvoiceService) GetInstallments(ctx context.Context, tenantID string, invoiceID uuid.UUID) ([]models.InstallmentSchedule, error) {
	invoice, err := s.repo.GetInvoice(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	return invoice.Installments, nil
}

// ListTransactions returns the invoice's payment history, newest first.
func (s *InvoiceService) ListTransactions(ctx context.Context, tenantID string, invoiceID uuid.UUID) ([]models.PaymentTransaction, error) {
	if _, err := s.repo.GetInvoice(ctx, tenantID, invoiceID); err != nil {
		return nil, err
	}
	return s.repo.ListTransactionsByInvoice(ctx, tenantID, invoiceID)
}

// InitiatePayment creates the hosted payment for an invoice and flips it from
// draft to pending. The first call sets payment_initiated_at and freezes the
// invoice; repeat calls return the already-issued payment URL. For installment
// invoices each call targets the smallest-numbered unpaid installment.
func (s *InvoiceService) InitiatePayment(ctx context.Context, tenantID string, invoiceID uuid.UUID, req *models.InitiatePaymentRequest) (*models.InitiatePaymentResponse, error) {
	invoice, err := s.repo.GetInvoice(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	if models.IsTerminalInvoiceStatus(invoice.Status) {
		return nil, ierr.NewError("invoice not payable").
			WithHintf("Invoice is %s and can no longer accept payments", invoice.Status).
			Mark(ierr.ErrValidation)
	}

	if invoice.HasInstallments() {
		return s.initiateInstallmentPayment(ctx, invoice, req)
	}
	return s.initiateFullPayment(ctx, invoice, req)
}

func (s *InvoiceService) initiateFullPayment(ctx context.Context, invoice *models.Invoice, req *models.InitiatePaymentRequest) (*models.InitiatePaymentResponse, error) {
	if invoice.IsImmutable() && invoice.PaymentURL != "" {
		return initiateResponse(invoice, invoice.PaymentURL, invoice.GatewayReference), nil
	}

	result, err := s.createGatewayPayment(ctx, invoice, &gateway.CreatePaymentRequest{
		ExternalID:  invoice.ExternalID,
		Amount:      invoice.TotalAmount,
		Currency:    invoice.Currency,
		Description: fmt.Sprintf("Invoice %s", invoice.ExternalID),
		SuccessURL:  req.SuccessURL,
		FailureURL:  req.FailureURL,
		ExpiresAt:   &invoice.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}

	var resp *models.InitiatePaymentResponse
	err = s.repo.WithTransaction(ctx, func(txRepo repository.BillingRepositoryInterface) error {
		locked, err := txRepo.GetInvoiceForUpdate(ctx, invoice.ID)
		if err != nil {
			return err
		}
		if locked.TenantID != invoice.TenantID {
			return ierr.NewError("invoice not found").Mark(ierr.ErrNotFound)
		}
		// A concurrent initiation may have won the race; keep its artifacts.
		if locked.IsImmutable() && locked.PaymentURL != "" {
			resp = initiateResponse(locked, locked.PaymentURL, locked.GatewayReference)
			return nil
		}
		if locked.PaymentInitiatedAt == nil {
			if err := models.ValidateInvoiceStatusTransition(locked.Status, models.InvoicePending); err != nil {
				return err
			}
			now := time.Now().UTC()
			locked.PaymentInitiatedAt = &now
			locked.Status = models.InvoicePending
		}
		locked.PaymentURL = result.PaymentURL
		locked.GatewayReference = result.GatewayReference
		if err := txRepo.UpdateInvoice(ctx, locked); err != nil {
			return err
		}
		resp = initiateResponse(locked, locked.PaymentURL, locked.GatewayReference)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"invoice_id":  invoice.ID,
		"external_id": invoice.ExternalID,
		"gateway_id":  invoice.GatewayID,
	}).Info("Payment initiated")

	return resp, nil
}

func (s *InvoiceService) initiateInstallmentPayment(ctx context.Context, invoice *models.Invoice, req *models.InitiatePaymentRequest) (*models.InitiatePaymentResponse, error) {
	target := nextPayableInstallment(invoice.Installments)
	if target == nil {
		return nil, ierr.NewError("all installments paid").
			WithHint("Every installment on this invoice is already paid").
			Mark(ierr.ErrValidation)
	}
	if invoice.IsImmutable() && target.PaymentURL != nil && *target.PaymentURL != "" {
		return initiateResponse(invoice, *target.PaymentURL, derefString(target.GatewayReference)), nil
	}

	result, err := s.createGatewayPayment(ctx, invoice, &gateway.CreatePaymentRequest{
		ExternalID:  gateway.InstallmentExternalID(invoice.ExternalID, target.InstallmentNumber),
		Amount:      target.TotalDue(),
		Currency:    invoice.Currency,
		Description: fmt.Sprintf("Invoice %s installment %d/%d", invoice.ExternalID, target.InstallmentNumber, len(invoice.Installments)),
		SuccessURL:  req.SuccessURL,
		FailureURL:  req.FailureURL,
		ExpiresAt:   &invoice.ExpiresAt,
		InstallmentInfo: &gateway.InstallmentInfo{
			Number: target.InstallmentNumber,
			Total:  len(invoice.Installments),
		},
	})
	if err != nil {
		return nil, err
	}

	var resp *models.InitiatePaymentResponse
	err = s.repo.WithTransaction(ctx, func(txRepo repository.BillingRepositoryInterface) error {
		locked, err := txRepo.GetInvoiceForUpdate(ctx, invoice.ID)
		if err != nil {
			return err
		}
		if locked.TenantID != invoice.TenantID {
			return ierr.NewError("invoice not found").Mark(ierr.ErrNotFound)
		}

		var lockedTarget *models.InstallmentSchedule
		for i := range locked.Installments {
			if locked.Installments[i].InstallmentNumber == target.InstallmentNumber {
				lockedTarget = &locked.Installments[i]
				break
			}
		}
		if lockedTarget == nil {
			return ierr.NewError("installment not found").Mark(ierr.ErrNotFound)
		}
		if lockedTarget.PaymentURL != nil && *lockedTarget.PaymentURL != "" {
			resp = initiateResponse(locked, *lockedTarget.PaymentURL, derefString(lockedTarget.GatewayReference))
			return nil
		}

		lockedTarget.PaymentURL = &result.PaymentURL
		lockedTarget.GatewayReference = &result.GatewayReference
		if err := txRepo.UpdateInstallment(ctx, lockedTarget); err != nil {
			return err
		}

		if locked.PaymentInitiatedAt == nil {
			if err := models.ValidateInvoiceStatusTransition(locked.Status, models.InvoicePending); err != nil {
				return err
			}
			now := time.Now().UTC()
			locked.PaymentInitiatedAt = &now
			locked.Status = models.InvoicePending
			if err := txRepo.UpdateInvoice(ctx, locked); err != nil {
				return err
			}
		}
		resp = initiateResponse(locked, result.PaymentURL, result.GatewayReference)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"invoice_id":  invoice.ID,
		"external_id": invoice.ExternalID,
		"installment": target.InstallmentNumber,
		"gateway_id":  invoice.GatewayID,
	}).Info("Installment payment initiated")

	return resp, nil
}

// createGatewayPayment dispatches the remote payment creation with the
// configured outbound deadline. No database lock is held across this call.
func (s *InvoiceService) createGatewayPayment(ctx context.Context, invoice *models.Invoice, req *gateway.CreatePaymentRequest) (*gateway.CreatePaymentResult, error) {
	adapter, err := s.gateways.Get(invoice.GatewayID)
	if err != nil {
		return nil, err
	}

	timeout := s.config.GatewayTimeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := adapter.CreatePayment(callCtx, req)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"invoice_id": invoice.ID,
			"gateway_id": invoice.GatewayID,
		}).WithError(err).Error("Gateway payment creation failed")
		return nil, ierr.WithError(err).
			WithHintf("Payment gateway %s rejected the payment request", invoice.GatewayID).
			Mark(ierr.ErrGateway)
	}
	return result, nil
}

// AdjustInstallments rebalances the amounts of the unpaid installments. The
// proposal must cover every unpaid installment and conserve their total; tax
// and fee shares are redistributed proportionally over the new amounts.
func (s *InvoiceService) AdjustInstallments(ctx context.Context, tenantID string, invoiceID uuid.UUID, req *models.AdjustInstallmentsRequest) (*models.Invoice, error) {
	if len(req.Adjustments) == 0 {
		return nil, ierr.NewError("empty adjustment set").
			WithHint("At least one installment adjustment is required").
			Mark(ierr.ErrValidation)
	}

	err := s.repo.WithTransaction(ctx, func(txRepo repository.BillingRepositoryInterface) error {
		invoice, err := txRepo.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if invoice.TenantID != tenantID {
			return ierr.NewError("invoice not found").Mark(ierr.ErrNotFound)
		}
		if models.IsTerminalInvoiceStatus(invoice.Status) {
			return ierr.NewError("invoice not adjustable").
				WithHintf("Invoice is %s and its schedule can no longer change", invoice.Status).
				Mark(ierr.ErrValidation)
		}
		if !invoice.HasInstallments() {
			return ierr.NewError("no installment schedule").
				WithHint("Invoice has no installments to adjust").
				Mark(ierr.ErrValidation)
		}

		byNumber := make(map[int]*models.InstallmentSchedule, len(invoice.Installments))
		var unpaid []*models.InstallmentSchedule
		for i := range invoice.Installments {
			inst := &invoice.Installments[i]
			byNumber[inst.InstallmentNumber] = inst
			if inst.Status == models.InstallmentUnpaid {
				unpaid = append(unpaid, inst)
			}
		}
		if len(unpaid) == 0 {
			return ierr.NewError("no unpaid installments").
				WithHint("There are no unpaid installments to adjust").
				Mark(ierr.ErrValidation)
		}

		proposed := make(map[int]decimal.Decimal, len(req.Adjustments))
		for _, adj := range req.Adjustments {
			inst, ok := byNumber[adj.InstallmentNumber]
			if !ok {
				return ierr.NewError("unknown installment").
					WithHintf("Installment %d does not exist on this invoice", adj.InstallmentNumber).
					Mark(ierr.ErrValidation)
			}
			if inst.Status != models.InstallmentUnpaid {
				return ierr.NewError("installment not adjustable").
					WithHintf("Installment %d is %s; only unpaid installments can be adjusted", adj.InstallmentNumber, inst.Status).
					Mark(ierr.ErrValidation)
			}
			if _, dup := proposed[adj.InstallmentNumber]; dup {
				return ierr.NewError("duplicate adjustment").
					WithHintf("Installment %d appears more than once", adj.InstallmentNumber).
					Mark(ierr.ErrValidation)
			}
			if !adj.NewAmount.IsPositive() {
				return ierr.NewError("non-positive amount").
					WithHintf("Installment %d: adjusted amount must be positive", adj.InstallmentNumber).
					Mark(ierr.ErrValidation)
			}
			if err := money.ValidateAmount(adj.NewAmount, invoice.Currency); err != nil {
				return err
			}
			proposed[adj.InstallmentNumber] = adj.NewAmount
		}
		if len(proposed) != len(unpaid) {
			return ierr.NewError("incomplete adjustment set").
				WithHintf("Adjustments must cover all %d unpaid installments", len(unpaid)).
				Mark(ierr.ErrValidation)
		}

		remaining := decimal.Zero
		remainingTax := decimal.Zero
		remainingFee := decimal.Zero
		for _, inst := range unpaid {
			remaining = remaining.Add(inst.Amount)
			remainingTax = remainingTax.Add(inst.TaxAmount)
			remainingFee = remainingFee.Add(inst.ServiceFeeAmount)
		}

		newAmounts := make([]decimal.Decimal, len(unpaid))
		proposedSum := decimal.Zero
		for i, inst := range unpaid {
			newAmounts[i] = proposed[inst.InstallmentNumber]
			proposedSum = proposedSum.Add(newAmounts[i])
		}
		if !proposedSum.Equal(remaining) {
			return ierr.NewError("remaining total not conserved").
				WithHintf("Adjusted amounts sum to %s but the unpaid remainder is %s", proposedSum.String(), remaining.String()).
				Mark(ierr.ErrValidation)
		}

		taxShares := money.ProportionalSplit(remainingTax, newAmounts, remaining, invoice.Currency)
		feeShares := money.ProportionalSplit(remainingFee, newAmounts, remaining, invoice.Currency)

		for i, inst := range unpaid {
			inst.Amount = newAmounts[i]
			inst.TaxAmount = taxShares[i]
			inst.ServiceFeeAmount = feeShares[i]
			if err := txRepo.UpdateInstallment(ctx, inst); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"invoice_id": invoiceID,
	}).Info("Installment schedule adjusted")

	return s.repo.GetInvoice(ctx, tenantID, invoiceID)
}

// GetPaymentStats summarizes payment progress for one invoice.
func (s *InvoiceService) GetPaymentStats(ctx context.Context, tenantID string, invoiceID uuid.UUID) (*models.PaymentStatsResponse, error) {
	invoice, err := s.repo.GetInvoice(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	transactions, err := s.repo.ListTransactionsByInvoice(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}

	totalPaid := decimal.Zero
	overpayment := decimal.Zero
	counts := make(map[string]int64)
	for i := range transactions {
		t := &transactions[i]
		counts[string(t.Status)]++
		if t.IsCompleted() {
			totalPaid = totalPaid.Add(t.AmountPaid)
			overpayment = overpayment.Add(t.OverpaymentAmount)
		}
	}

	balance := invoice.TotalAmount.Sub(totalPaid)
	if balance.IsNegative() {
		balance = decimal.Zero
	}

	return &models.PaymentStatsResponse{
		InvoiceID:      invoice.ID.String(),
		Currency:       invoice.Currency,
		TotalAmount:    money.FormatAmount(invoice.TotalAmount, invoice.Currency),
		TotalPaid:      money.FormatAmount(totalPaid, invoice.Currency),
		Balance:        money.FormatAmount(balance, invoice.Currency),
		Overpayment:    money.FormatAmount(overpayment, invoice.Currency),
		CountsByStatus: counts,
	}, nil
}

// nextPayableInstallment returns the smallest-numbered installment that is
// not yet paid, or nil when the schedule is settled. Sequential gating makes
// this the only installment a payment may target.
func nextPayableInstallment(installments []models.InstallmentSchedule) *models.InstallmentSchedule {
	var next *models.InstallmentSchedule
	for i := range installments {
		inst := &installments[i]
		if inst.IsPaid() {
			continue
		}
		if next == nil || inst.InstallmentNumber < next.InstallmentNumber {
			next = inst
		}
	}
	return next
}

func initiateResponse(invoice *models.Invoice, paymentURL, gatewayRef string) *models.InitiatePaymentResponse {
	return &models.InitiatePaymentResponse{
		InvoiceID:        invoice.ID.String(),
		Status:           invoice.Status,
		PaymentURL:       paymentURL,
		GatewayReference: gatewayRef,
		ExpiresAt:        invoice.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
