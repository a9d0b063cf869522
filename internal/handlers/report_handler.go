package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"billing-service/internal/middleware"
	"billing-service/internal/services"
)

// ReportHandler handles financial reporting HTTP requests
type ReportHandler struct {
	service *services.ReportService
}

// NewReportHandler creates a new report handler
func NewReportHandler(service *services.ReportService) *ReportHandler {
	return &ReportHandler{service: service}
}

// FinancialReport handles GET /api/v1/reports/financial
func (h *ReportHandler) FinancialReport(c *gin.Context) {
	report, err := h.service.FinancialReport(
		c.Request.Context(),
		middleware.TenantFromGin(c),
		c.Query("start_date"),
		c.Query("end_date"),
	)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}
