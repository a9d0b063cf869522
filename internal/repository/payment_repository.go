package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	ierr "billing-service/internal/errors"
	"billing-service/internal/models"
)

// CreateTransaction persists a payment transaction. The unique constraint on
// gateway_transaction_ref is the final idempotency guard; a violation surfaces
// as a conflict the recorder treats as an already-recorded payment.
func (r *BillingRepository) CreateTransaction(ctx context.Context, tx *models.PaymentTransaction) error {
	if err := r.db.WithContext(ctx).Create(tx).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ierr.NewError("transaction already recorded").
				WithHintf("Gateway transaction %q was already recorded", tx.GatewayTransactionRef).
				Mark(ierr.ErrConflict)
		}
		return ierr.WithError(err).
			WithHint("Failed to record payment transaction").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

// GetTransactionByGatewayRef retrieves a transaction by its gateway reference.
func (r *BillingRepository) GetTransactionByGatewayRef(ctx context.Context, gatewayRef string) (*models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("gateway_transaction_ref = ?", gatewayRef).
		First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ierr.NewError("transaction not found").
				WithHintf("No transaction with gateway reference %q", gatewayRef).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to fetch transaction").
			Mark(ierr.ErrDatabase)
	}
	return &tx, nil
}

// ListTransactionsByInvoice lists all transactions recorded against an
// invoice, newest first.
func (r *BillingRepository) ListTransactionsByInvoice(ctx context.Context, tenantID string, invoiceID uuid.UUID) ([]models.PaymentTransaction, error) {
	var txs []models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND invoice_id = ?", tenantID, invoiceID).
		Order("created_at DESC").
		Find(&txs).Error
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list transactions").
			Mark(ierr.ErrDatabase)
	}
	return txs, nil
}

// GetGatewayConfig retrieves an active gateway configuration by its identifier.
func (r *BillingRepository) GetGatewayConfig(ctx context.Context, gatewayID string) (*models.PaymentGatewayConfig, error) {
	var config models.PaymentGatewayConfig
	err := r.db.WithContext(ctx).
		Where("gateway_id = ?", gatewayID).
		First(&config).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ierr.NewError("gateway not found").
				WithHintf("Unknown payment gateway %q", gatewayID).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to fetch gateway configuration").
			Mark(ierr.ErrDatabase)
	}
	return &config, nil
}

// ListGatewayConfigs lists all gateway configurations.
func (r *BillingRepository) ListGatewayConfigs(ctx context.Context) ([]models.PaymentGatewayConfig, error) {
	var configs []models.PaymentGatewayConfig
	err := r.db.WithContext(ctx).
		Order("gateway_id ASC").
		Find(&configs).Error
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list gateway configurations").
			Mark(ierr.ErrDatabase)
	}
	return configs, nil
}

// UpdateGatewayConfig updates a gateway configuration.
func (r *BillingRepository) UpdateGatewayConfig(ctx context.Context, config *models.PaymentGatewayConfig) error {
	config.UpdatedAt = time.Now()
	if err := r.db.WithContext(ctx).Save(config).Error; err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update gateway configuration").
			Mark(ierr.ErrDatabase)
	}
	return nil
}
