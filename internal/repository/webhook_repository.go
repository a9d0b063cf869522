package repository

import (
	"context"

	ierr "billing-service/internal/errors"
	"billing-service/internal/models"
)

// CreateWebhookLog appends a webhook delivery outcome entry.
func (r *BillingRepository) CreateWebhookLog(ctx context.Context, entry *models.WebhookRetryLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return ierr.WithError(err).
			WithHint("Failed to write webhook log").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

// ListWebhookLogsByRef lists delivery outcomes for one gateway transaction,
// newest first.
func (r *BillingRepository) ListWebhookLogsByRef(ctx context.Context, gatewayID, gatewayRef string) ([]models.WebhookRetryLog, error) {
	var entries []models.WebhookRetryLog
	err := r.db.WithContext(ctx).
		Where("gateway_id = ? AND gateway_transaction_ref = ?", gatewayID, gatewayRef).
		Order("created_at DESC").
		Find(&entries).Error
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list webhook logs").
			Mark(ierr.ErrDatabase)
	}
	return entries, nil
}
