package repository

import (
	"context"
	"time"

	ierr "billing-service/internal/errors"
	"billing-service/internal/models"
)

// InvoicedTotalsByCurrency aggregates non-draft invoices created in
// [start, end) per currency.
func (r *BillingRepository) InvoicedTotalsByCurrency(ctx context.Context, tenantID string, start, end time.Time) ([]CurrencyInvoicedRow, error) {
	var rows []CurrencyInvoicedRow
	err := r.db.WithContext(ctx).Model(&models.Invoice{}).
		Select("currency, COUNT(*) AS invoice_count, COALESCE(SUM(total_amount), 0) AS total_invoiced").
		Where("tenant_id = ? AND status <> ? AND created_at >= ? AND created_at < ?",
			tenantID, models.InvoiceDraft, start, end).
		Group("currency").
		Order("currency ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to aggregate invoiced totals").
			Mark(ierr.ErrDatabase)
	}
	return rows, nil
}

// PaidTotalsByCurrency aggregates completed transactions created in
// [start, end) per currency.
func (r *BillingRepository) PaidTotalsByCurrency(ctx context.Context, tenantID string, start, end time.Time) ([]CurrencyPaidRow, error) {
	var rows []CurrencyPaidRow
	err := r.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Select("currency, COALESCE(SUM(amount_paid), 0) AS total_paid").
		Where("tenant_id = ? AND status = ? AND created_at >= ? AND created_at < ?",
			tenantID, models.TransactionCompleted, start, end).
		Group("currency").
		Order("currency ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to aggregate paid totals").
			Mark(ierr.ErrDatabase)
	}
	return rows, nil
}

// PaidTotalsByGateway aggregates completed transactions created in
// [start, end) per gateway and currency.
func (r *BillingRepository) PaidTotalsByGateway(ctx context.Context, tenantID string, start, end time.Time) ([]GatewayPaidRow, error) {
	var rows []GatewayPaidRow
	err := r.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Select("gateway_id, currency, COUNT(*) AS transaction_count, COALESCE(SUM(amount_paid), 0) AS total_paid").
		Where("tenant_id = ? AND status = ? AND created_at >= ? AND created_at < ?",
			tenantID, models.TransactionCompleted, start, end).
		Group("gateway_id, currency").
		Order("gateway_id ASC, currency ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to aggregate gateway totals").
			Mark(ierr.ErrDatabase)
	}
	return rows, nil
}

// TaxTotalsByRate aggregates line-item tax on non-draft invoices created in
// [start, end) per tax rate and currency.
func (r *BillingRepository) TaxTotalsByRate(ctx context.Context, tenantID string, start, end time.Time) ([]TaxRateRow, error) {
	var rows []TaxRateRow
	err := r.db.WithContext(ctx).Model(&models.LineItem{}).
		Select("line_items.tax_rate, invoices.currency, COUNT(*) AS line_count, COALESCE(SUM(line_items.tax_amount), 0) AS tax_collected").
		Joins("JOIN invoices ON invoices.id = line_items.invoice_id").
		Where("invoices.tenant_id = ? AND invoices.status <> ? AND invoices.created_at >= ? AND invoices.created_at < ?",
			tenantID, models.InvoiceDraft, start, end).
		Group("line_items.tax_rate, invoices.currency").
		Order("invoices.currency ASC, line_items.tax_rate ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to aggregate tax totals").
			Mark(ierr.ErrDatabase)
	}
	return rows, nil
}
