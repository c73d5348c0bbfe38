package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/erp/billing/internal/infrastructure/telemetry"
)

// Profiling tags CPU samples taken while serving a request with its route
// and method so profiles can be filtered per endpoint.
func Profiling(enabled bool) gin.HandlerFunc {
	if !enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	return func(c *gin.Context) {
		labels := map[string]string{
			"route":  routePattern(c),
			"method": c.Request.Method,
		}
		telemetry.WithProfilingLabels(c.Request.Context(), labels, func(ctx context.Context) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
}
