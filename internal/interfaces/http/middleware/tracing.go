// Package middleware provides HTTP middleware for the billing service.
package middleware

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/erp/billing/internal/infrastructure/logger"
)

// MaxRequestIDLength caps request ids copied into span attributes.
const MaxRequestIDLength = 128

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	// ServiceName is the name of the service for trace identification.
	ServiceName string
	// Enabled controls whether tracing is active.
	Enabled bool
}

// Tracing returns otelgin middleware. Spans are named after the route
// pattern, e.g. "POST /api/v1/payments/mpesa/callback".
func Tracing(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	return otelgin.Middleware(cfg.ServiceName)
}

// TracingAttributeInjector copies the request id and client address onto
// the current span. Place it after Tracing and logger.GinMiddleware.
func TracingAttributeInjector() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			if requestID := requestID(c); requestID != "" {
				span.SetAttributes(attribute.String("request_id", requestID))
			}
			span.SetAttributes(attribute.String("client.address", c.ClientIP()))
		}
		c.Next()
	}
}

// requestID prefers the id assigned by the logging middleware
func requestID(c *gin.Context) string {
	id := logger.GetRequestID(c.Request.Context())
	if id == "" {
		id = c.GetHeader(logger.RequestIDHeader)
	}
	if len(id) > MaxRequestIDLength {
		return id[:MaxRequestIDLength]
	}
	return id
}
