package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"billing-service/internal/metrics"
)

// RequestMetrics observes request latency per route template and status.
// Unmatched routes are recorded under their raw path so scanners don't
// explode label cardinality on real endpoints.
func RequestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RequestDuration.
			WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
