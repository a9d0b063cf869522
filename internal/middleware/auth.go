package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	ierr "billing-service/internal/errors"
	"billing-service/internal/models"
	"billing-service/internal/repository"
	"billing-service/internal/services"
)

// APIKeyAuth authenticates requests by the X-API-Key header and attaches the
// key's tenant to the request context. Failed attempts are recorded in the
// audit log before the request is rejected.
func APIKeyAuth(apiKeys *services.ApiKeyService, repo repository.BillingRepositoryInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := apiKeys.Authenticate(c.Request.Context(), c.GetHeader("X-API-Key"))
		if err != nil {
			status := ierr.HTTPStatusFromErr(err)
			writeAudit(c, repo, &models.ApiKeyAuditLog{
				Action:     models.AuditActionAuthFailure,
				Method:     c.Request.Method,
				Path:       c.Request.URL.Path,
				StatusCode: status,
				ClientIP:   c.ClientIP(),
			})
			c.AbortWithStatusJSON(status, ierr.NewErrorResponse(err))
			return
		}

		c.Set(GinTenantID, key.TenantID)
		c.Set(GinApiKeyID, key.ID.String())
		c.Set(GinRateLimit, key.RateLimit)

		ctx := context.WithValue(c.Request.Context(), TenantIDKey, key.TenantID)
		ctx = context.WithValue(ctx, ApiKeyIDKey, key.ID.String())
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// writeAudit persists one audit row. Audit failures never affect the request.
func writeAudit(c *gin.Context, repo repository.BillingRepositoryInterface, entry *models.ApiKeyAuditLog) {
	if err := repo.CreateAuditLog(c.Request.Context(), entry); err != nil {
		logrus.WithError(err).Error("Failed to write API key audit log")
	}
}

// auditedKeyID resolves the authenticated key's ID for audit rows, nil when
// the request never authenticated.
func auditedKeyID(c *gin.Context) *uuid.UUID {
	raw := c.GetString(GinApiKeyID)
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}
