package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus represents the invoice lifecycle state
type InvoiceStatus string

const (
	InvoiceDraft         InvoiceStatus = "draft"
	InvoicePending       InvoiceStatus = "pending"
	InvoicePartiallyPaid InvoiceStatus = "partially_paid"
	InvoicePaid          InvoiceStatus = "paid"
	InvoiceFailed        InvoiceStatus = "failed"
	InvoiceExpired       InvoiceStatus = "expired"
)

// InstallmentStatus represents the state of a single installment
type InstallmentStatus string

const (
	InstallmentUnpaid  InstallmentStatus = "unpaid"
	InstallmentPaid    InstallmentStatus = "paid"
	InstallmentOverdue InstallmentStatus = "overdue"
)

// Installment count bounds per invoice.
const (
	MinInstallmentCount = 2
	MaxInstallmentCount = 12
)

// Invoice is the root aggregate: it owns its line items and installment
// schedule, and its monetary components always satisfy
// total_amount = subtotal + tax_total + service_fee.
type Invoice struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	TenantID   string    `gorm:"type:varchar(255);not null;index:idx_invoices_tenant;uniqueIndex:idx_invoices_tenant_external" json:"tenantId"`
	ExternalID string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_invoices_tenant_external" json:"externalId"`

	// Routing
	Currency  string `gorm:"type:varchar(3);not null" json:"currency"`
	GatewayID string `gorm:"type:varchar(50);not null" json:"gatewayId"`

	// Monetary breakdown (immutable once payment is initiated)
	Subtotal    decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"subtotal"`
	TaxTotal    decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"taxTotal"`
	ServiceFee  decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"serviceFee"`
	TotalAmount decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"totalAmount"`

	// Lifecycle
	Status             InvoiceStatus `gorm:"type:varchar(20);not null;default:'draft';index:idx_invoices_status" json:"status"`
	PaymentInitiatedAt *time.Time    `json:"paymentInitiatedAt,omitempty"`
	ExpiresAt          time.Time     `gorm:"not null;index:idx_invoices_expires" json:"expiresAt"`

	// Gateway artifacts for the whole-invoice payment flow
	PaymentURL       string `gorm:"type:varchar(1000)" json:"paymentUrl,omitempty"`
	GatewayReference string `gorm:"type:varchar(255)" json:"gatewayReference,omitempty"`

	// Link to a related re-issue, if any
	OriginalInvoiceID *uuid.UUID `gorm:"type:uuid" json:"originalInvoiceId,omitempty"`

	// Owned collections (cascade-deleted with the invoice)
	LineItems    []LineItem            `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE" json:"lineItems,omitempty"`
	Installments []InstallmentSchedule `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE" json:"installments,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP;index:idx_invoices_created" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for Invoice
func (Invoice) TableName() string {
	return "invoices"
}

// IsImmutable reports whether payment has been initiated. After that point
// line items, installment amounts (outside the adjustment operation), and the
// gateway choice are frozen.
func (i *Invoice) IsImmutable() bool {
	return i.PaymentInitiatedAt != nil
}

// HasInstallments reports whether the invoice carries a schedule.
func (i *Invoice) HasInstallments() bool {
	return len(i.Installments) > 0
}

// LineItem is one priced row inside an invoice with its own tax rate.
// subtotal = quantity × unit_price, tax_amount = subtotal × tax_rate.
type LineItem struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	InvoiceID uuid.UUID `gorm:"type:uuid;not null;index:idx_line_items_invoice" json:"invoiceId"`
	TenantID  string    `gorm:"type:varchar(255);not null;index:idx_line_items_tenant" json:"tenantId"`

	ProductName string          `gorm:"type:varchar(500);not null" json:"productName"`
	Quantity    int             `gorm:"not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"unitPrice"`
	Subtotal    decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"subtotal"`
	TaxRate     decimal.Decimal `gorm:"type:numeric(5,4);not null" json:"taxRate"`
	TaxCategory *string         `gorm:"type:varchar(100)" json:"taxCategory,omitempty"`
	TaxAmount   decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"taxAmount"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for LineItem
func (LineItem) TableName() string {
	return "line_items"
}

// InstallmentSchedule is one dated slice of an invoice. Amount, tax and fee
// components sum back to the invoice components across the schedule.
type InstallmentSchedule struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	InvoiceID         uuid.UUID `gorm:"type:uuid;not null;index:idx_installments_invoice;uniqueIndex:idx_installments_invoice_number" json:"invoiceId"`
	TenantID          string    `gorm:"type:varchar(255);not null;index:idx_installments_tenant" json:"tenantId"`
	InstallmentNumber int       `gorm:"not null;uniqueIndex:idx_installments_invoice_number" json:"installmentNumber"`

	Amount           decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"amount"`
	TaxAmount        decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"taxAmount"`
	ServiceFeeAmount decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"serviceFeeAmount"`

	DueDate time.Time         `gorm:"not null;index:idx_installments_due" json:"dueDate"`
	Status  InstallmentStatus `gorm:"type:varchar(20);not null;default:'unpaid';index:idx_installments_status" json:"status"`

	PaymentURL       *string    `gorm:"type:varchar(1000)" json:"paymentUrl,omitempty"`
	GatewayReference *string    `gorm:"type:varchar(255)" json:"gatewayReference,omitempty"`
	PaidAt           *time.Time `json:"paidAt,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for InstallmentSchedule
func (InstallmentSchedule) TableName() string {
	return "installment_schedules"
}

// TotalDue is the payable amount for the installment: principal plus its
// proportional tax and service-fee shares.
func (s *InstallmentSchedule) TotalDue() decimal.Decimal {
	return s.Amount.Add(s.TaxAmount).Add(s.ServiceFeeAmount)
}

// IsPaid reports whether the installment has been settled.
func (s *InstallmentSchedule) IsPaid() bool {
	return s.Status == InstallmentPaid
}
