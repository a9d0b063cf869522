package models

import (
	"time"

	"github.com/google/uuid"
)

// ApiKey authenticates a tenant. The plaintext key is never stored: KeyLookup
// is a SHA-256 digest used to find the row, KeyHash is the Argon2id hash the
// plaintext is verified against.
type ApiKey struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	TenantID string    `gorm:"type:varchar(255);not null;index:idx_api_keys_tenant" json:"tenantId"`

	KeyLookup string `gorm:"type:varchar(64);not null;uniqueIndex:idx_api_keys_lookup" json:"-"`
	KeyHash   string `gorm:"type:text;not null" json:"-"`

	// Token-bucket capacity per minute for this key
	RateLimit int  `gorm:"not null;default:60" json:"rateLimit"`
	IsActive  bool `gorm:"default:true;index:idx_api_keys_active" json:"isActive"`

	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for ApiKey
func (ApiKey) TableName() string {
	return "api_keys"
}

// Audit actions recorded in api_key_audit_log.
const (
	AuditActionAuthSuccess = "auth_success"
	AuditActionAuthFailure = "auth_failure"
	AuditActionRateLimited = "rate_limited"
)

// ApiKeyAuditLog records authentication and rate-limit events per request.
type ApiKeyAuditLog struct {
	ID       uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ApiKeyID *uuid.UUID `gorm:"type:uuid;index:idx_api_key_audit_key" json:"apiKeyId,omitempty"`
	TenantID string     `gorm:"type:varchar(255);index:idx_api_key_audit_tenant" json:"tenantId,omitempty"`

	Action     string `gorm:"type:varchar(50);not null" json:"action"`
	Method     string `gorm:"type:varchar(10)" json:"method"`
	Path       string `gorm:"type:varchar(500)" json:"path"`
	StatusCode int    `json:"statusCode"`
	ClientIP   string `gorm:"type:varchar(64)" json:"clientIp"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP;index:idx_api_key_audit_created" json:"createdAt"`
}

// TableName specifies the table name for ApiKeyAuditLog
func (ApiKeyAuditLog) TableName() string {
	return "api_key_audit_log"
}
