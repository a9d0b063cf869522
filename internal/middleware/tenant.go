package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Context keys for request-scoped values
type contextKey string

const (
	TenantIDKey  contextKey = "tenantID"
	ApiKeyIDKey  contextKey = "apiKeyID"
	RequestIDKey contextKey = "requestID"
)

// Gin context keys set by the auth middleware and read by handlers.
const (
	GinTenantID  = "tenantID"
	GinApiKeyID  = "apiKeyID"
	GinRateLimit = "rateLimit"
	GinRequestID = "requestID"
)

// RequestContext tags every request with an ID and logs its completion. The
// inbound X-Request-ID is honored so callers can correlate across services.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set(GinRequestID, requestID)

		ctx := context.WithValue(c.Request.Context(), RequestIDKey, requestID)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		logrus.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(start).String(),
			"client_ip":  c.ClientIP(),
		}).Info("Request completed")
	}
}

// GetTenantID extracts the authenticated tenant from a request context.
func GetTenantID(ctx context.Context) string {
	if v := ctx.Value(TenantIDKey); v != nil {
		return v.(string)
	}
	return ""
}

// GetRequestID extracts the request ID from a request context.
func GetRequestID(ctx context.Context) string {
	if v := ctx.Value(RequestIDKey); v != nil {
		return v.(string)
	}
	return ""
}

// TenantFromGin returns the tenant the auth middleware resolved for this
// request, or empty when the route is unauthenticated.
func TenantFromGin(c *gin.Context) string {
	return c.GetString(GinTenantID)
}
