package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	ierr "billing-service/internal/errors"
	"billing-service/internal/middleware"
	"billing-service/internal/models"
	"billing-service/internal/repository"
	"billing-service/internal/services"
)

// InvoiceHandler handles invoice-related HTTP requests
type InvoiceHandler struct {
	service *services.InvoiceService
}

// NewInvoiceHandler creates a new invoice handler
func NewInvoiceHandler(service *services.InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{service: service}
}

// CreateInvoice handles POST /api/v1/invoices
func (h *InvoiceHandler) CreateInvoice(c *gin.Context) {
	var req models.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, ierr.NewError("invalid request body").
			WithHintf("Invalid request body: %v", err).
			Mark(ierr.ErrValidation))
		return
	}

	invoice, err := h.service.CreateInvoice(c.Request.Context(), middleware.TenantFromGin(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, models.NewInvoiceResponse(invoice))
}

// ListInvoices handles GET /api/v1/invoices
func (h *InvoiceHandler) ListInvoices(c *gin.Context) {
	filter := repository.InvoiceFilter{
		Status:    models.InvoiceStatus(c.Query("status")),
		GatewayID: c.Query("gatewayId"),
		Limit:     intQuery(c, "limit", 0),
		Offset:    intQuery(c, "offset", 0),
	}
	if filter.Status != "" && !models.IsValidInvoiceStatus(filter.Status) {
		respondError(c, ierr.NewError("invalid status filter").
			WithHintf("Unknown invoice status %q", filter.Status).
			Mark(ierr.ErrValidation))
		return
	}

	invoices, total, err := h.service.ListInvoices(c.Request.Context(), middleware.TenantFromGin(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := models.ListInvoicesResponse{
		Invoices: make([]models.InvoiceResponse, 0, len(invoices)),
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	}
	for i := range invoices {
		resp.Invoices = append(resp.Invoices, *models.NewInvoiceResponse(&invoices[i]))
	}

	c.JSON(http.StatusOK, resp)
}

// GetInvoice handles GET /api/v1/invoices/:id
func (h *InvoiceHandler) GetInvoice(c *gin.Context) {
	invoiceID, ok := invoiceIDParam(c)
	if !ok {
		return
	}

	invoice, err := h.service.GetInvoice(c.Request.Context(), middleware.TenantFromGin(c), invoiceID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.NewInvoiceResponse(invoice))
}

// InitiatePayment handles POST /api/v1/invoices/:id/initiate-payment
func (h *InvoiceHandler) InitiatePayment(c *gin.Context) {
	invoiceID, ok := invoiceIDParam(c)
	if !ok {
		return
	}

	var req models.InitiatePaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, ierr.NewError("invalid request body").
				WithHintf("Invalid request body: %v", err).
				Mark(ierr.ErrValidation))
			return
		}
	}

	resp, err := h.service.InitiatePayment(c.Request.Context(), middleware.TenantFromGin(c), invoiceID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetInstallments handles GET /api/v1/invoices/:id/installments
func (h *InvoiceHandler) GetInstallments(c *gin.Context) {
	invoiceID, ok := invoiceIDParam(c)
	if !ok {
		return
	}

	invoice, err := h.service.GetInvoice(c.Request.Context(), middleware.TenantFromGin(c), invoiceID)
	if err != nil {
		respondError(c, err)
		return
	}

	installments := make([]models.InstallmentResponse, 0, len(invoice.Installments))
	for i := range invoice.Installments {
		installments = append(installments, models.NewInstallmentResponse(&invoice.Installments[i], invoice.Currency))
	}

	c.JSON(http.StatusOK, gin.H{"installments": installments})
}

// AdjustInstallments handles PATCH /api/v1/invoices/:id/installments
func (h *InvoiceHandler) AdjustInstallments(c *gin.Context) {
	invoiceID, ok := invoiceIDParam(c)
	if !ok {
		return
	}

	var req models.AdjustInstallmentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, ierr.NewError("invalid request body").
			WithHintf("Invalid request body: %v", err).
			Mark(ierr.ErrValidation))
		return
	}

	invoice, err := h.service.AdjustInstallments(c.Request.Context(), middleware.TenantFromGin(c), invoiceID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.NewInvoiceResponse(invoice))
}

// ListTransactions handles GET /api/v1/invoices/:id/transactions
func (h *InvoiceHandler) ListTransactions(c *gin.Context) {
	invoiceID, ok := invoiceIDParam(c)
	if !ok {
		return
	}

	transactions, err := h.service.ListTransactions(c.Request.Context(), middleware.TenantFromGin(c), invoiceID)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]models.TransactionResponse, 0, len(transactions))
	for i := range transactions {
		resp = append(resp, models.NewTransactionResponse(&transactions[i]))
	}

	c.JSON(http.StatusOK, gin.H{"transactions": resp})
}

// GetPaymentStats handles GET /api/v1/invoices/:id/payment-stats
func (h *InvoiceHandler) GetPaymentStats(c *gin.Context) {
	invoiceID, ok := invoiceIDParam(c)
	if !ok {
		return
	}

	stats, err := h.service.GetPaymentStats(c.Request.Context(), middleware.TenantFromGin(c), invoiceID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// invoiceIDParam parses the :id path segment, answering the request itself
// when the segment is not a UUID.
func invoiceIDParam(c *gin.Context) (uuid.UUID, bool) {
	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, ierr.NewError("invalid invoice id").
			WithHint("Invoice ID must be a UUID").
			Mark(ierr.ErrValidation))
		return uuid.Nil, false
	}
	return invoiceID, true
}

// intQuery reads an optional integer query parameter, falling back to def on
// absent or malformed values.
func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// respondError maps a taxonomy error to its HTTP status and uniform body.
func respondError(c *gin.Context, err error) {
	c.JSON(ierr.HTTPStatusFromErr(err), ierr.NewErrorResponse(err))
}
