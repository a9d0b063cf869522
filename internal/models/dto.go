package models

import (
	"time"

	"github.com/shopspring/decimal"

	"billing-service/internal/money"
)

// CreateInvoiceRequest represents a request to create an invoice
type CreateInvoiceRequest struct {
	ExternalID string          `json:"externalId" binding:"required"`
	Currency   string          `json:"currency" binding:"required"`
	GatewayID  string          `json:"gatewayId" binding:"required"`
	LineItems  []LineItemInput `json:"lineItems" binding:"required"`

	ExpiresAt    *time.Time         `json:"expiresAt"`
	Installments *InstallmentConfig `json:"installments"`

	OriginalInvoiceID *string `json:"originalInvoiceId"`
}

// LineItemInput is one line-item spec inside an invoice creation request
type LineItemInput struct {
	ProductName string          `json:"productName" binding:"required"`
	Quantity    int             `json:"quantity" binding:"required"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	TaxRate     decimal.Decimal `json:"taxRate"`
	TaxCategory *string         `json:"taxCategory"`
}

// InstallmentConfig configures schedule generation at invoice creation
type InstallmentConfig struct {
	Count         int               `json:"count" binding:"required"`
	CustomAmounts []decimal.Decimal `json:"customAmounts"`
	StartDate     *time.Time        `json:"startDate"`
}

// InitiatePaymentRequest carries optional redirect URLs for hosted pages
type InitiatePaymentRequest struct {
	SuccessURL string `json:"successUrl"`
	FailureURL string `json:"failureUrl"`
}

// InstallmentAdjustment proposes a new amount for one unpaid installment
type InstallmentAdjustment struct {
	InstallmentNumber int             `json:"installmentNumber" binding:"required"`
	NewAmount         decimal.Decimal `json:"newAmount"`
}

// AdjustInstallmentsRequest represents a PATCH over unpaid installments
type AdjustInstallmentsRequest struct {
	Adjustments []InstallmentAdjustment `json:"adjustments" binding:"required"`
}

// InvoiceResponse is the wire form of an invoice. Amounts are decimal strings
// at the currency's native scale; timestamps are RFC 3339 UTC.
type InvoiceResponse struct {
	ID         string `json:"id"`
	ExternalID string `json:"externalId"`
	Currency   string `json:"currency"`
	GatewayID  string `json:"gatewayId"`

	Subtotal    string `json:"subtotal"`
	TaxTotal    string `json:"taxTotal"`
	ServiceFee  string `json:"serviceFee"`
	TotalAmount string `json:"totalAmount"`

	Status             InvoiceStatus `json:"status"`
	PaymentInitiatedAt *string       `json:"paymentInitiatedAt,omitempty"`
	ExpiresAt          string        `json:"expiresAt"`

	PaymentURL       string `json:"paymentUrl,omitempty"`
	GatewayReference string `json:"gatewayReference,omitempty"`

	OriginalInvoiceID *string `json:"originalInvoiceId,omitempty"`

	LineItems    []LineItemResponse    `json:"lineItems,omitempty"`
	Installments []InstallmentResponse `json:"installments,omitempty"`

	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// LineItemResponse is the wire form of a line item
type LineItemResponse struct {
	ID          string  `json:"id"`
	ProductName string  `json:"productName"`
	Quantity    int     `json:"quantity"`
	UnitPrice   string  `json:"unitPrice"`
	Subtotal    string  `json:"subtotal"`
	TaxRate     string  `json:"taxRate"`
	TaxCategory *string `json:"taxCategory,omitempty"`
	TaxAmount   string  `json:"taxAmount"`
}

// InstallmentResponse is the wire form of one installment
type InstallmentResponse struct {
	ID                string            `json:"id"`
	InstallmentNumber int               `json:"installmentNumber"`
	Amount            string            `json:"amount"`
	TaxAmount         string            `json:"taxAmount"`
	ServiceFeeAmount  string            `json:"serviceFeeAmount"`
	TotalDue          string            `json:"totalDue"`
	DueDate           string            `json:"dueDate"`
	Status            InstallmentStatus `json:"status"`
	PaymentURL        *string           `json:"paymentUrl,omitempty"`
	GatewayReference  *string           `json:"gatewayReference,omitempty"`
	PaidAt            *string           `json:"paidAt,omitempty"`
}

// TransactionResponse is the wire form of a payment transaction
type TransactionResponse struct {
	ID                    string            `json:"id"`
	InvoiceID             string            `json:"invoiceId"`
	InstallmentID         *string           `json:"installmentId,omitempty"`
	GatewayTransactionRef string            `json:"gatewayTransactionRef"`
	GatewayID             string            `json:"gatewayId"`
	AmountPaid            string            `json:"amountPaid"`
	Currency              string            `json:"currency"`
	OverpaymentAmount     string            `json:"overpaymentAmount"`
	PaymentMethod         string            `json:"paymentMethod,omitempty"`
	Status                TransactionStatus `json:"status"`
	CreatedAt             string            `json:"createdAt"`
}

// InitiatePaymentResponse returns the hosted payment URL for an invoice
type InitiatePaymentResponse struct {
	InvoiceID        string        `json:"invoiceId"`
	Status           InvoiceStatus `json:"status"`
	PaymentURL       string        `json:"paymentUrl"`
	GatewayReference string        `json:"gatewayReference,omitempty"`
	ExpiresAt        string        `json:"expiresAt"`
}

// PaymentStatsResponse summarizes payment progress for an invoice
type PaymentStatsResponse struct {
	InvoiceID      string           `json:"invoiceId"`
	Currency       string           `json:"currency"`
	TotalAmount    string           `json:"totalAmount"`
	TotalPaid      string           `json:"totalPaid"`
	Balance        string           `json:"balance"`
	Overpayment    string           `json:"overpayment"`
	CountsByStatus map[string]int64 `json:"countsByStatus"`
}

// ListInvoicesResponse wraps a paginated invoice listing
type ListInvoicesResponse struct {
	Invoices []InvoiceResponse `json:"invoices"`
	Total    int64             `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// GatewayInfo is the public view of a gateway configuration
type GatewayInfo struct {
	GatewayID           string   `json:"gatewayId"`
	Name                string   `json:"name"`
	SupportedCurrencies []string `json:"supportedCurrencies"`
	FeePercentage       string   `json:"feePercentage"`
	FeeFixed            string   `json:"feeFixed"`
	Environment         string   `json:"environment"`
	IsActive            bool     `json:"isActive"`
}

// CurrencyBreakdown aggregates invoiced and collected totals per currency
type CurrencyBreakdown struct {
	Currency      string `json:"currency"`
	InvoiceCount  int64  `json:"invoiceCount"`
	TotalInvoiced string `json:"totalInvoiced"`
	TotalPaid     string `json:"totalPaid"`
}

// GatewayBreakdown aggregates collected totals per gateway and currency
type GatewayBreakdown struct {
	GatewayID        string `json:"gatewayId"`
	Currency         string `json:"currency"`
	TransactionCount int64  `json:"transactionCount"`
	TotalPaid        string `json:"totalPaid"`
}

// TaxRateBreakdown aggregates collected tax per rate and currency
type TaxRateBreakdown struct {
	TaxRate      string `json:"taxRate"`
	Currency     string `json:"currency"`
	LineCount    int64  `json:"lineCount"`
	TaxCollected string `json:"taxCollected"`
}

// FinancialReportResponse is the read-only aggregation over a date range
type FinancialReportResponse struct {
	StartDate  string              `json:"startDate"`
	EndDate    string              `json:"endDate"`
	Currencies []CurrencyBreakdown `json:"currencies"`
	Gateways   []GatewayBreakdown  `json:"gateways"`
	TaxRates   []TaxRateBreakdown  `json:"taxRates"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// NewInvoiceResponse converts an invoice aggregate to its wire form.
func NewInvoiceResponse(inv *Invoice) *InvoiceResponse {
	resp := &InvoiceResponse{
		ID:                 inv.ID.String(),
		ExternalID:         inv.ExternalID,
		Currency:           inv.Currency,
		GatewayID:          inv.GatewayID,
		Subtotal:           money.FormatAmount(inv.Subtotal, inv.Currency),
		TaxTotal:           money.FormatAmount(inv.TaxTotal, inv.Currency),
		ServiceFee:         money.FormatAmount(inv.ServiceFee, inv.Currency),
		TotalAmount:        money.FormatAmount(inv.TotalAmount, inv.Currency),
		Status:             inv.Status,
		PaymentInitiatedAt: formatTimePtr(inv.PaymentInitiatedAt),
		ExpiresAt:          formatTime(inv.ExpiresAt),
		PaymentURL:         inv.PaymentURL,
		GatewayReference:   inv.GatewayReference,
		CreatedAt:          formatTime(inv.CreatedAt),
		UpdatedAt:          formatTime(inv.UpdatedAt),
	}

	if inv.OriginalInvoiceID != nil {
		s := inv.OriginalInvoiceID.String()
		resp.OriginalInvoiceID = &s
	}

	for i := range inv.LineItems {
		resp.LineItems = append(resp.LineItems, NewLineItemResponse(&inv.LineItems[i], inv.Currency))
	}
	for i := range inv.Installments {
		resp.Installments = append(resp.Installments, NewInstallmentResponse(&inv.Installments[i], inv.Currency))
	}

	return resp
}

// NewLineItemResponse converts a line item to its wire form.
func NewLineItemResponse(li *LineItem, currency string) LineItemResponse {
	return LineItemResponse{
		ID:          li.ID.String(),
		ProductName: li.ProductName,
		Quantity:    li.Quantity,
		UnitPrice:   money.FormatAmount(li.UnitPrice, currency),
		Subtotal:    money.FormatAmount(li.Subtotal, currency),
		TaxRate:     li.TaxRate.String(),
		TaxCategory: li.TaxCategory,
		TaxAmount:   money.FormatAmount(li.TaxAmount, currency),
	}
}

// NewInstallmentResponse converts an installment to its wire form.
func NewInstallmentResponse(s *InstallmentSchedule, currency string) InstallmentResponse {
	return InstallmentResponse{
		ID:                s.ID.String(),
		InstallmentNumber: s.InstallmentNumber,
		Amount:            money.FormatAmount(s.Amount, currency),
		TaxAmount:         money.FormatAmount(s.TaxAmount, currency),
		ServiceFeeAmount:  money.FormatAmount(s.ServiceFeeAmount, currency),
		TotalDue:          money.FormatAmount(s.TotalDue(), currency),
		DueDate:           formatTime(s.DueDate),
		Status:            s.Status,
		PaymentURL:        s.PaymentURL,
		GatewayReference:  s.GatewayReference,
		PaidAt:            formatTimePtr(s.PaidAt),
	}
}

// NewTransactionResponse converts a transaction to its wire form.
func NewTransactionResponse(t *PaymentTransaction) TransactionResponse {
	resp := TransactionResponse{
		ID:                    t.ID.String(),
		InvoiceID:             t.InvoiceID.String(),
		GatewayTransactionRef: t.GatewayTransactionRef,
		GatewayID:             t.GatewayID,
		AmountPaid:            money.FormatAmount(t.AmountPaid, t.Currency),
		Currency:              t.Currency,
		OverpaymentAmount:     money.FormatAmount(t.OverpaymentAmount, t.Currency),
		PaymentMethod:         t.PaymentMethod,
		Status:                t.Status,
		CreatedAt:             formatTime(t.CreatedAt),
	}
	if t.InstallmentID != nil {
		s := t.InstallmentID.String()
		resp.InstallmentID = &s
	}
	return resp
}

// NewGatewayInfo converts a gateway config to its public view.
func NewGatewayInfo(c *PaymentGatewayConfig) GatewayInfo {
	return GatewayInfo{
		GatewayID:           c.GatewayID,
		Name:                c.Name,
		SupportedCurrencies: []string(c.SupportedCurrencies),
		FeePercentage:       c.FeePercentage.String(),
		FeeFixed:            c.FeeFixed.String(),
		Environment:         c.Environment,
		IsActive:            c.IsActive,
	}
}
