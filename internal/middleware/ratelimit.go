package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	ierr "billing-service/internal/errors"
	"billing-service/internal/models"
	"billing-service/internal/repository"
)

// RateLimiter implements a token bucket rate limiter with per-key limits.
// Buckets refill continuously at the key's per-minute rate and are created on
// first use with a full minute of tokens.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	cleanup time.Duration
}

type tokenBucket struct {
	tokens     float64
	perMinute  int
	lastUpdate time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter() *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		cleanup: 5 * time.Minute,
	}
	go rl.cleanupLoop()
	return rl
}

// cleanupLoop removes stale buckets
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanup)
	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for key, bucket := range rl.buckets {
			if now.Sub(bucket.lastUpdate) > rl.cleanup {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}

// Allow consumes one token from the key's bucket. When the bucket is empty it
// returns false and the number of seconds until a token accrues.
func (rl *RateLimiter) Allow(key string, perMinute int) (bool, int) {
	if perMinute <= 0 {
		return true, 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	bucket, exists := rl.buckets[key]
	if !exists {
		rl.buckets[key] = &tokenBucket{
			tokens:     float64(perMinute - 1),
			perMinute:  perMinute,
			lastUpdate: now,
		}
		return true, 0
	}

	// The configured limit can change between requests when a key is
	// re-issued; the bucket follows the latest value.
	bucket.perMinute = perMinute

	perSecond := float64(perMinute) / 60.0
	elapsed := now.Sub(bucket.lastUpdate).Seconds()
	bucket.tokens += elapsed * perSecond
	if bucket.tokens > float64(perMinute) {
		bucket.tokens = float64(perMinute)
	}
	bucket.lastUpdate = now

	if bucket.tokens >= 1 {
		bucket.tokens--
		return true, 0
	}

	retryAfter := int(math.Ceil((1 - bucket.tokens) / perSecond))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}

// KeyRateLimit limits authenticated requests per API key at the key's own
// per-minute rate. Must run after APIKeyAuth. Exhaustion answers 429 with a
// Retry-After header and is recorded in the audit log.
func KeyRateLimit(limiter *RateLimiter, repo repository.BillingRepositoryInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString(GinApiKeyID)
		if key == "" {
			key = c.ClientIP()
		}

		allowed, retryAfter := limiter.Allow(key, c.GetInt(GinRateLimit))
		if !allowed {
			writeAudit(c, repo, &models.ApiKeyAuditLog{
				ApiKeyID:   auditedKeyID(c),
				TenantID:   c.GetString(GinTenantID),
				Action:     models.AuditActionRateLimited,
				Method:     c.Request.Method,
				Path:       c.Request.URL.Path,
				StatusCode: http.StatusTooManyRequests,
				ClientIP:   c.ClientIP(),
			})
			rejectRateLimited(c, retryAfter)
			return
		}

		c.Next()
	}
}

// IPRateLimit limits unauthenticated ingress, the webhook endpoints, per
// client IP at a fixed per-minute rate.
func IPRateLimit(limiter *RateLimiter, perMinute int) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, retryAfter := limiter.Allow("ip:"+c.ClientIP(), perMinute)
		if !allowed {
			rejectRateLimited(c, retryAfter)
			return
		}
		c.Next()
	}
}

func rejectRateLimited(c *gin.Context, retryAfter int) {
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, &ierr.ErrorResponse{
		Error: ierr.ErrorDetail{
			Code:       http.StatusTooManyRequests,
			Message:    "Rate limit exceeded",
			RetryAfter: &retryAfter,
		},
	})
}
