package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"billing-service/internal/models"
	"billing-service/internal/repository"
)

// AuditTrail appends one row to api_key_audit_log for every authenticated
// request after the handler completes. Mutating operations are recorded under
// their operation name; reads record the bare auth outcome. Must run after
// APIKeyAuth.
func AuditTrail(repo repository.BillingRepositoryInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		entry := &models.ApiKeyAuditLog{
			ApiKeyID:   auditedKeyID(c),
			TenantID:   c.GetString(GinTenantID),
			Action:     parseBillingAction(c),
			Method:     c.Request.Method,
			Path:       c.Request.URL.Path,
			StatusCode: c.Writer.Status(),
			ClientIP:   c.ClientIP(),
		}

		// The request context may already be canceled once the response is
		// written; the audit insert still has to land.
		ctx := context.WithoutCancel(c.Request.Context())
		if err := repo.CreateAuditLog(ctx, entry); err != nil {
			logrus.WithError(err).Error("Failed to write API key audit log")
		}
	}
}

// parseBillingAction names the operation behind the matched route template.
func parseBillingAction(c *gin.Context) string {
	switch c.Request.Method + " " + c.FullPath() {
	case "POST /api/v1/invoices":
		return "create_invoice"
	case "POST /api/v1/invoices/:id/initiate-payment":
		return "initiate_payment"
	case "PATCH /api/v1/invoices/:id/installments":
		return "adjust_installments"
	default:
		return models.AuditActionAuthSuccess
	}
}
