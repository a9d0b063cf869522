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

// GetApiKeyByLookup retrieves an API key row by its lookup digest.
func (r *BillingRepository) GetApiKeyByLookup(ctx context.Context, lookup string) (*models.ApiKey, error) {
	var key models.ApiKey
	err := r.db.WithContext(ctx).
		Where("key_lookup = ? AND is_active = true", lookup).
		First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ierr.NewError("api key not found").
				WithHint("Invalid API key").
				Mark(ierr.ErrUnauthorized)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to fetch API key").
			Mark(ierr.ErrDatabase)
	}
	return &key, nil
}

// CreateApiKey persists a new API key.
func (r *BillingRepository) CreateApiKey(ctx context.Context, key *models.ApiKey) error {
	if err := r.db.WithContext(ctx).Create(key).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ierr.NewError("api key already exists").
				WithHint("An API key with this value already exists").
				Mark(ierr.ErrConflict)
		}
		return ierr.WithError(err).
			WithHint("Failed to create API key").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

// TouchApiKey records the time an API key was last used.
func (r *BillingRepository) TouchApiKey(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithContext(ctx).Model(&models.ApiKey{}).
		Where("id = ?", id).
		Update("last_used_at", time.Now()).Error
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update API key usage").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

// CreateAuditLog appends an API key audit entry.
func (r *BillingRepository) CreateAuditLog(ctx context.Context, entry *models.ApiKeyAuditLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return ierr.WithError(err).
			WithHint("Failed to write audit log").
			Mark(ierr.ErrDatabase)
	}
	return nil
}
