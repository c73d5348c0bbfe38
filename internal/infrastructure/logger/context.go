package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey    contextKey = "logger"
	requestIDKey contextKey = "request_id"
	tenantIDKey  contextKey = "tenant_id"
	paymentKey   contextKey = "payment"
)

type paymentRef struct {
	paymentID         string
	checkoutRequestID string
}

// WithContext returns a new context with the logger attached
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context, or a no-op logger
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithRequestID tags ctx with the inbound request id
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithTenantID tags ctx with the tenant being operated on
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// WithPayment tags ctx with the payment and its gateway correlation id so
// that every entry for a callback or reconciliation run can be joined.
func WithPayment(ctx context.Context, paymentID, checkoutRequestID string) context.Context {
	return context.WithValue(ctx, paymentKey, paymentRef{paymentID: paymentID, checkoutRequestID: checkoutRequestID})
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDKey).(string)
	return requestID
}

// GetTenantID retrieves tenant ID from context
func GetTenantID(ctx context.Context) string {
	tenantID, _ := ctx.Value(tenantIDKey).(string)
	return tenantID
}

// GetTraceID extracts the trace ID from the context's span, or "".
func GetTraceID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return ""
	}
	return spanCtx.TraceID().String()
}

// Fields returns the correlation fields carried by ctx: trace/span ids,
// request id, tenant id and payment references.
func Fields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		fields = append(fields,
			zap.String("trace_id", spanCtx.TraceID().String()),
			zap.String("span_id", spanCtx.SpanID().String()),
		)
	}
	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if tenantID := GetTenantID(ctx); tenantID != "" {
		fields = append(fields, zap.String("tenant_id", tenantID))
	}
	if ref, ok := ctx.Value(paymentKey).(paymentRef); ok {
		if ref.paymentID != "" {
			fields = append(fields, zap.String("payment_id", ref.paymentID))
		}
		if ref.checkoutRequestID != "" {
			fields = append(fields, zap.String("checkout_request_id", ref.checkoutRequestID))
		}
	}
	return fields
}

// L returns the context logger enriched with the correlation fields.
// Usage: logger.L(ctx).Info("message", zap.String("key", "value"))
func L(ctx context.Context) *zap.Logger {
	return For(ctx, FromContext(ctx))
}

// For enriches an explicitly provided logger with ctx's correlation fields.
func For(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	fields := Fields(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}
