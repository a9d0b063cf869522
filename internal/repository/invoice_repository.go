package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	ierr "billing-service/internal/errors"
	"billing-service/internal/models"
)

func orderedInstallments(db *gorm.DB) *gorm.DB {
	return db.Order("installment_number ASC")
}

// CreateInvoice persists a new invoice together with its line items and
// installment schedule.
func (r *BillingRepository) CreateInvoice(ctx context.Context, inv *models.Invoice) error {
	if err := r.db.WithContext(ctx).Create(inv).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ierr.NewError("invoice already exists").
				WithHintf("An invoice with external id %q already exists for this tenant", inv.ExternalID).
				Mark(ierr.ErrConflict)
		}
		return ierr.WithError(err).
			WithHint("Failed to create invoice").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

// GetInvoice retrieves an invoice with its line items and installments,
// scoped to the owning tenant.
func (r *BillingRepository) GetInvoice(ctx context.Context, tenantID string, id uuid.UUID) (*models.Invoice, error) {
	var inv models.Invoice
	err := r.db.WithContext(ctx).
		Preload("LineItems").
		Preload("Installments", orderedInstallments).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ierr.NewError("invoice not found").
				WithHint("Invoice not found").
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to fetch invoice").
			Mark(ierr.ErrDatabase)
	}
	return &inv, nil
}

// GetInvoiceForUpdate locks the invoice row (SELECT ... FOR UPDATE) and loads
// the full aggregate. It is not tenant scoped; callers acting on behalf of a
// tenant must verify ownership on the returned invoice.
func (r *BillingRepository) GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var inv models.Invoice
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ierr.NewError("invoice not found").
				WithHint("Invoice not found").
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to lock invoice").
			Mark(ierr.ErrDatabase)
	}

	// Children are loaded after the row lock is held so their state cannot
	// move under the caller within this transaction.
	if err := r.db.WithContext(ctx).
		Where("invoice_id = ?", inv.ID).
		Find(&inv.LineItems).Error; err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to fetch invoice line items").
			Mark(ierr.ErrDatabase)
	}
	if err := r.db.WithContext(ctx).
		Where("invoice_id = ?", inv.ID).
		Order("installment_number ASC").
		Find(&inv.Installments).Error; err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to fetch invoice installments").
			Mark(ierr.ErrDatabase)
	}
	return &inv, nil
}

// GetInvoiceByExternalID retrieves an invoice by the caller-provided external
// identifier, scoped to the owning tenant.
func (r *BillingRepository) GetInvoiceByExternalID(ctx context.Context, tenantID, externalID string) (*models.Invoice, error) {
	var inv models.Invoice
	err := r.db.WithContext(ctx).
		Preload("LineItems").
		Preload("Installments", orderedInstallments).
		Where("tenant_id = ? AND external_id = ?", tenantID, externalID).
		First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ierr.NewError("invoice not found").
				WithHintf("No invoice with external id %q", externalID).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to fetch invoice").
			Mark(ierr.ErrDatabase)
	}
	return &inv, nil
}

// FindInvoiceByGatewayRef resolves an invoice from a gateway-side reference.
// Used on the webhook path, which has no tenant context.
func (r *BillingRepository) FindInvoiceByGatewayRef(ctx context.Context, gatewayID, gatewayRef string) (*models.Invoice, error) {
	var inv models.Invoice
	err := r.db.WithContext(ctx).
		Where("gateway_id = ? AND gateway_reference = ?", gatewayID, gatewayRef).
		First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ierr.NewError("invoice not found for gateway reference").
				WithHintf("No invoice matches gateway reference %q", gatewayRef).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to resolve invoice from gateway reference").
			Mark(ierr.ErrDatabase)
	}
	return &inv, nil
}

// ListInvoices lists invoices for a tenant with optional filters and returns
// the total count for pagination.
func (r *BillingRepository) ListInvoices(ctx context.Context, tenantID string, filter InvoiceFilter) ([]models.Invoice, int64, error) {
	var invoices []models.Invoice
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("tenant_id = ?", tenantID)

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.GatewayID != "" {
		query = query.Where("gateway_id = ?", filter.GatewayID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, ierr.WithError(err).
			WithHint("Failed to count invoices").
			Mark(ierr.ErrDatabase)
	}

	err := query.
		Preload("LineItems").
		Preload("Installments", orderedInstallments).
		Order("created_at DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&invoices).Error
	if err != nil {
		return nil, 0, ierr.WithError(err).
			WithHint("Failed to list invoices").
			Mark(ierr.ErrDatabase)
	}
	return invoices, total, nil
}

// UpdateInvoice saves invoice column changes. Associations are left untouched;
// installment rows are written through UpdateInstallment.
func (r *BillingRepository) UpdateInvoice(ctx context.Context, inv *models.Invoice) error {
	inv.UpdatedAt = time.Now()
	err := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Save(inv).Error
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update invoice").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

// ListExpirableInvoices returns invoices whose expiry has passed and that are
// still in a non-terminal state, oldest first.
func (r *BillingRepository) ListExpirableInvoices(ctx context.Context, cutoff time.Time, limit int) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.WithContext(ctx).
		Where("status IN ? AND expires_at < ?",
			[]models.InvoiceStatus{models.InvoiceDraft, models.InvoicePending, models.InvoicePartiallyPaid}, cutoff).
		Order("expires_at ASC").
		Limit(limit).
		Find(&invoices).Error
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list expirable invoices").
			Mark(ierr.ErrDatabase)
	}
	return invoices, nil
}

// FindInstallmentByGatewayRef resolves an installment from a gateway-side
// reference. Used on the webhook path, which has no tenant context.
func (r *BillingRepository) FindInstallmentByGatewayRef(ctx context.Context, gatewayID, gatewayRef string) (*models.InstallmentSchedule, error) {
	var inst models.InstallmentSchedule
	err := r.db.WithContext(ctx).
		Joins("JOIN invoices ON invoices.id = installment_schedules.invoice_id").
		Where("invoices.gateway_id = ? AND installment_schedules.gateway_reference = ?", gatewayID, gatewayRef).
		First(&inst).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ierr.NewError("installment not found for gateway reference").
				WithHintf("No installment matches gateway reference %q", gatewayRef).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to resolve installment from gateway reference").
			Mark(ierr.ErrDatabase)
	}
	return &inst, nil
}

// UpdateInstallment saves installment column changes.
func (r *BillingRepository) UpdateInstallment(ctx context.Context, inst *models.InstallmentSchedule) error {
	inst.UpdatedAt = time.Now()
	err := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Save(inst).Error
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update installment").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

// MarkOverdueInstallments flips unpaid installments whose due date has passed
// to overdue. Returns the number of rows changed.
func (r *BillingRepository) MarkOverdueInstallments(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.InstallmentSchedule{}).
		Where("status = ? AND due_date < ?", models.InstallmentUnpaid, cutoff).
		Updates(map[string]interface{}{
			"status":     models.InstallmentOverdue,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return 0, ierr.WithError(result.Error).
			WithHint("Failed to mark overdue installments").
			Mark(ierr.ErrDatabase)
	}
	return result.RowsAffected, nil
}
