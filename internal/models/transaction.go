package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStatus represents the payment transaction status
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionRefunded  TransactionStatus = "refunded"
)

// PaymentTransaction is the append-mostly payment ledger. One row per gateway
// event; gateway_transaction_ref is globally unique and serves as the
// idempotency key, so a duplicate delivery returns the existing row unchanged.
type PaymentTransaction struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	TenantID string    `gorm:"type:varchar(255);not null;index:idx_payment_transactions_tenant" json:"tenantId"`

	InvoiceID     uuid.UUID  `gorm:"type:uuid;not null;index:idx_payment_transactions_invoice" json:"invoiceId"`
	InstallmentID *uuid.UUID `gorm:"type:uuid;index:idx_payment_transactions_installment" json:"installmentId,omitempty"`

	GatewayTransactionRef string `gorm:"type:varchar(255);not null;uniqueIndex:idx_payment_transactions_gateway_ref" json:"gatewayTransactionRef"`
	GatewayID             string `gorm:"type:varchar(50);not null;index:idx_payment_transactions_gateway" json:"gatewayId"`

	AmountPaid decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"amountPaid"`
	Currency   string          `gorm:"type:varchar(3);not null" json:"currency"`

	// Excess over the required installment amounts that could not be applied
	// to any later installment. Retained explicitly, never discarded.
	OverpaymentAmount decimal.Decimal `gorm:"type:numeric(20,4);not null;default:0" json:"overpaymentAmount"`

	PaymentMethod string            `gorm:"type:varchar(100)" json:"paymentMethod,omitempty"`
	Status        TransactionStatus `gorm:"type:varchar(20);not null;index:idx_payment_transactions_status" json:"status"`

	// Opaque gateway payload kept for audit and reconciliation
	GatewayResponse JSONB `gorm:"type:jsonb" json:"gatewayResponse,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP;index:idx_payment_transactions_created" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for PaymentTransaction
func (PaymentTransaction) TableName() string {
	return "payment_transactions"
}

// IsCompleted reports whether the transaction settled successfully.
func (t *PaymentTransaction) IsCompleted() bool {
	return t.Status == TransactionCompleted
}
