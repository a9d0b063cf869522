package models

import (
	"time"

	"github.com/google/uuid"
)

// Webhook delivery outcomes recorded in webhook_retry_log.
const (
	WebhookOutcomeSuccess   = "success"
	WebhookOutcomeDuplicate = "duplicate"
	WebhookOutcomeFailed    = "failed"
)

// WebhookRetryLog records one webhook delivery and the retries it consumed.
type WebhookRetryLog struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	GatewayID string    `gorm:"type:varchar(50);not null;index:idx_webhook_retry_gateway" json:"gatewayId"`

	GatewayTransactionRef string `gorm:"type:varchar(255);index:idx_webhook_retry_ref" json:"gatewayTransactionRef,omitempty"`
	ExternalID            string `gorm:"type:varchar(255)" json:"externalId,omitempty"`

	Attempts  int    `gorm:"not null;default:0" json:"attempts"`
	Outcome   string `gorm:"type:varchar(20);not null;index:idx_webhook_retry_outcome" json:"outcome"`
	LastError string `gorm:"type:text" json:"lastError,omitempty"`

	// Raw payload kept for replay and debugging
	Payload JSONB `gorm:"type:jsonb" json:"payload,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP;index:idx_webhook_retry_created" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for WebhookRetryLog
func (WebhookRetryLog) TableName() string {
	return "webhook_retry_log"
}
