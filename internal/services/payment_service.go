package services

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	ierr "billing-service/internal/errors"
	"billing-service/internal/metrics"
	"billing-service/internal/models"
	"billing-service/internal/repository"
)

// RecordPaymentInput carries one settled gateway payment into the ledger.
type RecordPaymentInput struct {
	GatewayTransactionRef string
	GatewayID             string
	AmountPaid            decimal.Decimal
	Currency              string
	PaymentMethod         string
	RawResponse           map[string]interface{}
}

// RecordResult reports what the recorder did with a payment event.
type RecordResult struct {
	Transaction *models.PaymentTransaction
	Duplicate   bool
}

// PaymentService records settled payments against invoices and installments
// and applies failure and expiry events from the gateways. Every mutation runs
// inside one database transaction under a row lock on the invoice; no network
// call ever happens while the lock is held.
type PaymentService struct {
	repo repository.BillingRepositoryInterface
}

// NewPaymentService creates a new payment service
func NewPaymentService(repo repository.BillingRepositoryInterface) *PaymentService {
	return &PaymentService{repo: repo}
}

// RecordPayment records a settled payment against a full-amount invoice.
// The gateway_transaction_ref is the idempotency key: a replayed event
// returns the original transaction with Duplicate set and changes nothing.
func (s *PaymentService) RecordPayment(ctx context.Context, invoiceID uuid.UUID, input *RecordPaymentInput) (*RecordResult, error) {
	if err := validateRecordInput(input); err != nil {
		return nil, err
	}

	var result *RecordResult
	err := s.repo.WithTransaction(ctx, func(txRepo repository.BillingRepositoryInterface) error {
		if existing, err := s.dedupe(ctx, txRepo, input.GatewayTransactionRef); err != nil {
			return err
		} else if existing != nil {
			result = &RecordResult{Transaction: existing, Duplicate: true}
			return nil
		}

		invoice, err := txRepo.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if err := validatePayable(invoice, input); err != nil {
			return err
		}

		transactions, err := txRepo.ListTransactionsByInvoice(ctx, invoice.TenantID, invoice.ID)
		if err != nil {
			return err
		}
		paidBefore := completedTotal(transactions)

		// Any part of this payment beyond the open balance is retained,
		// never discarded.
		balance := invoice.TotalAmount.Sub(paidBefore)
		overpayment := decimal.Zero
		if input.AmountPaid.GreaterThan(balance) {
			overpayment = input.AmountPaid.Sub(balance)
		}

		transaction := newLedgerEntry(invoice, nil, input, overpayment)
		if err := s.insertDeduped(ctx, txRepo, transaction, &result); err != nil || result != nil {
			return err
		}

		totalPaid := paidBefore.Add(input.AmountPaid)
		target := models.InvoicePartiallyPaid
		if totalPaid.GreaterThanOrEqual(invoice.TotalAmount) {
			target = models.InvoicePaid
		}
		if invoice.Status != target {
			if err := models.ValidateInvoiceStatusTransition(invoice.Status, target); err != nil {
				return err
			}
			invoice.Status = target
			if err := txRepo.UpdateInvoice(ctx, invoice); err != nil {
				return err
			}
		}

		if overpayment.IsPositive() {
			logrus.WithFields(logrus.Fields{
				"invoice_id":  invoice.ID,
				"gateway_ref": input.GatewayTransactionRef,
				"overpayment": overpayment.String(),
			}).Warn("Payment exceeded invoice balance; excess retained on transaction")
		}

		result = &RecordResult{Transaction: transaction}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Duplicate {
		metrics.PaymentsRecorded.WithLabelValues(result.Transaction.GatewayID, result.Transaction.Currency).Inc()
		logrus.WithFields(logrus.Fields{
			"invoice_id":  invoiceID,
			"gateway_ref": input.GatewayTransactionRef,
			"amount_paid": input.AmountPaid.String(),
		}).Info("Payment recorded")
	}
	return result, nil
}

// RecordInstallmentPayment records a settled payment against one installment.
// Sequential gating applies: installment n is only payable once 1..n-1 are
// paid. Overpayment cascades forward, settling each later installment whose
// full amount the excess covers; what cannot settle a further installment in
// full either stays attributed to the invoice or, when nothing is left
// unpaid, is retained on the transaction.
func (s *PaymentService) RecordInstallmentPayment(ctx context.Context, invoiceID uuid.UUID, installmentNumber int, input *RecordPaymentInput) (*RecordResult, error) {
	if err := validateRecordInput(input); err != nil {
		return nil, err
	}

	var result *RecordResult
	err := s.repo.WithTransaction(ctx, func(txRepo repository.BillingRepositoryInterface) error {
		if existing, err := s.dedupe(ctx, txRepo, input.GatewayTransactionRef); err != nil {
			return err
		} else if existing != nil {
			result = &RecordResult{Transaction: existing, Duplicate: true}
			return nil
		}

		invoice, err := txRepo.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if err := validatePayable(invoice, input); err != nil {
			return err
		}
		if !invoice.HasInstallments() {
			return ierr.NewError("invoice has no installments").
				WithHintf("Invoice %s has no installment schedule", invoice.ID).
				Mark(ierr.ErrValidation)
		}

		ordered := orderedInstallments(invoice.Installments)
		var target *models.InstallmentSchedule
		for _, inst := range ordered {
			if inst.InstallmentNumber == installmentNumber {
				target = inst
				break
			}
		}
		if target == nil {
			return ierr.NewError("installment not found").
				WithHintf("Invoice %s has no installment %d", invoice.ID, installmentNumber).
				Mark(ierr.ErrNotFound)
		}
		if target.IsPaid() {
			return ierr.NewError("installment already paid").
				WithHintf("Installment %d is already settled", installmentNumber).
				Mark(ierr.ErrConflict)
		}
		for _, inst := range ordered {
			if inst.InstallmentNumber < installmentNumber && !inst.IsPaid() {
				return ierr.NewError("installment not yet payable").
					WithHintf("Installment %d cannot be paid before installment %d", installmentNumber, inst.InstallmentNumber).
					Mark(ierr.ErrValidation)
			}
		}

		required := target.TotalDue()
		if input.AmountPaid.LessThan(required) {
			return ierr.NewError("insufficient payment").
				WithHintf("Installment %d requires %s but payment was %s", installmentNumber, required.String(), input.AmountPaid.String()).
				Mark(ierr.ErrValidation)
		}

		now := time.Now().UTC()
		settled := []*models.InstallmentSchedule{target}
		excess := input.AmountPaid.Sub(required)

		// Cascade: settle each later unpaid installment the excess fully
		// covers, in schedule order.
		exhausted := true
		for _, inst := range ordered {
			if inst.InstallmentNumber <= installmentNumber || inst.IsPaid() {
				continue
			}
			due := inst.TotalDue()
			if excess.LessThan(due) {
				exhausted = false
				break
			}
			excess = excess.Sub(due)
			settled = append(settled, inst)
		}

		retained := decimal.Zero
		if exhausted && excess.IsPositive() {
			retained = excess
		}

		transaction := newLedgerEntry(invoice, target, input, retained)
		if err := s.insertDeduped(ctx, txRepo, transaction, &result); err != nil || result != nil {
			return err
		}

		for _, inst := range settled {
			if err := models.ValidateInstallmentStatusTransition(inst.Status, models.InstallmentPaid); err != nil {
				return err
			}
			inst.Status = models.InstallmentPaid
			inst.PaidAt = &now
			if err := txRepo.UpdateInstallment(ctx, inst); err != nil {
				return err
			}
		}

		allPaid := true
		for _, inst := range ordered {
			if !inst.IsPaid() {
				allPaid = false
				break
			}
		}
		invoiceTarget := models.InvoicePartiallyPaid
		if allPaid {
			invoiceTarget = models.InvoicePaid
		}
		if invoice.Status != invoiceTarget {
			if err := models.ValidateInvoiceStatusTransition(invoice.Status, invoiceTarget); err != nil {
				return err
			}
			invoice.Status = invoiceTarget
			if err := txRepo.UpdateInvoice(ctx, invoice); err != nil {
				return err
			}
		}

		if len(settled) > 1 {
			logrus.WithFields(logrus.Fields{
				"invoice_id":      invoice.ID,
				"installment":     installmentNumber,
				"settled_through": settled[len(settled)-1].InstallmentNumber,
			}).Info("Overpayment cascade settled later installments")
		}
		if retained.IsPositive() {
			logrus.WithFields(logrus.Fields{
				"invoice_id":  invoice.ID,
				"gateway_ref": input.GatewayTransactionRef,
				"overpayment": retained.String(),
			}).Warn("Payment exceeded remaining schedule; excess retained on transaction")
		}

		result = &RecordResult{Transaction: transaction}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Duplicate {
		metrics.PaymentsRecorded.WithLabelValues(result.Transaction.GatewayID, result.Transaction.Currency).Inc()
		logrus.WithFields(logrus.Fields{
			"invoice_id":  invoiceID,
			"installment": installmentNumber,
			"gateway_ref": input.GatewayTransactionRef,
			"amount_paid": input.AmountPaid.String(),
		}).Info("Installment payment recorded")
	}
	return result, nil
}

// MarkInvoiceFailed applies a gateway failure event. Events arriving for an
// invoice the state machine cannot fail are acknowledged as no-ops; failure
// events never insert ledger rows.
func (s *PaymentService) MarkInvoiceFailed(ctx context.Context, invoiceID uuid.UUID) (bool, error) {
	return s.applyTerminalEvent(ctx, invoiceID, models.InvoiceFailed)
}

// MarkInvoiceExpired applies a gateway expiry event under the same rules as
// MarkInvoiceFailed.
func (s *PaymentService) MarkInvoiceExpired(ctx context.Context, invoiceID uuid.UUID) (bool, error) {
	return s.applyTerminalEvent(ctx, invoiceID, models.InvoiceExpired)
}

func (s *PaymentService) applyTerminalEvent(ctx context.Context, invoiceID uuid.UUID, target models.InvoiceStatus) (bool, error) {
	changed := false
	err := s.repo.WithTransaction(ctx, func(txRepo repository.BillingRepositoryInterface) error {
		invoice, err := txRepo.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if invoice.Status == target {
			return nil
		}
		if !models.CanTransitionInvoiceStatus(invoice.Status, target) {
			logrus.WithFields(logrus.Fields{
				"invoice_id": invoice.ID,
				"status":     invoice.Status,
				"event":      target,
			}).Warn("Gateway event ignored; invoice state does not allow transition")
			return nil
		}
		invoice.Status = target
		if err := txRepo.UpdateInvoice(ctx, invoice); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if changed {
		logrus.WithFields(logrus.Fields{
			"invoice_id": invoiceID,
			"status":     target,
		}).Info("Invoice status updated from gateway event")
	}
	return changed, nil
}

// dedupe returns the existing transaction for the reference, or nil when the
// event has not been seen.
func (s *PaymentService) dedupe(ctx context.Context, txRepo repository.BillingRepositoryInterface, gatewayRef string) (*models.PaymentTransaction, error) {
	existing, err := txRepo.GetTransactionByGatewayRef(ctx, gatewayRef)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return existing, nil
}

// insertDeduped inserts the ledger row. A unique-reference conflict from a
// concurrent recorder is resolved by re-reading the winner and reporting a
// duplicate through result.
func (s *PaymentService) insertDeduped(ctx context.Context, txRepo repository.BillingRepositoryInterface, transaction *models.PaymentTransaction, result **RecordResult) error {
	err := txRepo.CreateTransaction(ctx, transaction)
	if err == nil {
		return nil
	}
	if !ierr.IsConflict(err) {
		return err
	}
	existing, lookupErr := txRepo.GetTransactionByGatewayRef(ctx, transaction.GatewayTransactionRef)
	if lookupErr != nil {
		return err
	}
	*result = &RecordResult{Transaction: existing, Duplicate: true}
	return nil
}

func validateRecordInput(input *RecordPaymentInput) error {
	if input.GatewayTransactionRef == "" {
		return ierr.NewError("missing gateway transaction reference").
			WithHint("Payment event carries no gateway transaction reference").
			Mark(ierr.ErrValidation)
	}
	if !input.AmountPaid.IsPositive() {
		return ierr.NewError("non-positive payment amount").
			WithHintf("Payment amount %s must be positive", input.AmountPaid.String()).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// validatePayable rejects payments for invoices that cannot accept them and
// payments whose currency disagrees with the invoice.
func validatePayable(invoice *models.Invoice, input *RecordPaymentInput) error {
	if models.IsTerminalInvoiceStatus(invoice.Status) {
		return ierr.NewError("invoice not payable").
			WithHintf("Invoice %s is %s and cannot accept payments", invoice.ID, invoice.Status).
			Mark(ierr.ErrConflict)
	}
	if invoice.Status == models.InvoiceDraft {
		return ierr.NewError("payment before initiation").
			WithHintf("Invoice %s has no initiated payment", invoice.ID).
			Mark(ierr.ErrConflict)
	}
	if input.Currency != "" && input.Currency != invoice.Currency {
		return ierr.NewError("currency mismatch").
			WithHintf("Payment currency %s does not match invoice currency %s", input.Currency, invoice.Currency).
			Mark(ierr.ErrValidation)
	}
	return nil
}

func newLedgerEntry(invoice *models.Invoice, installment *models.InstallmentSchedule, input *RecordPaymentInput, overpayment decimal.Decimal) *models.PaymentTransaction {
	transaction := &models.PaymentTransaction{
		TenantID:              invoice.TenantID,
		InvoiceID:             invoice.ID,
		GatewayTransactionRef: input.GatewayTransactionRef,
		GatewayID:             input.GatewayID,
		AmountPaid:            input.AmountPaid,
		Currency:              invoice.Currency,
		OverpaymentAmount:     overpayment,
		PaymentMethod:         input.PaymentMethod,
		Status:                models.TransactionCompleted,
	}
	if installment != nil {
		transaction.InstallmentID = &installment.ID
	}
	if len(input.RawResponse) > 0 {
		transaction.GatewayResponse = models.JSONB(input.RawResponse)
	}
	return transaction
}

func completedTotal(transactions []models.PaymentTransaction) decimal.Decimal {
	total := decimal.Zero
	for i := range transactions {
		if transactions[i].IsCompleted() {
			total = total.Add(transactions[i].AmountPaid)
		}
	}
	return total
}

func orderedInstallments(installments []models.InstallmentSchedule) []*models.InstallmentSchedule {
	ordered := make([]*models.InstallmentSchedule, 0, len(installments))
	for i := range installments {
		ordered = append(ordered, &installments[i])
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].InstallmentNumber < ordered[j].InstallmentNumber
	})
	return ordered
}
