package router

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/erp/billing/internal/infrastructure/logger"
	"github.com/erp/billing/internal/interfaces/http/handler"
	"github.com/erp/billing/internal/interfaces/http/middleware"
)

// EngineConfig configures the HTTP engine
type EngineConfig struct {
	Production       bool
	ServiceName      string
	TrustedProxies   []string
	TracingEnabled   bool
	ProfilingEnabled bool
	// Meter enables HTTP metrics when set
	Meter metric.Meter
}

// Handlers are the endpoints served by the engine
type Handlers struct {
	PaymentCallback *handler.PaymentCallbackHandler
	System          *handler.SystemHandler
}

// NewEngine builds the gin engine with the middleware chain and all routes.
// Callbacks are mounted at POST /api/v1/payments/mpesa/callback.
func NewEngine(cfg EngineConfig, h Handlers, log *zap.Logger) (*gin.Engine, error) {
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	// ClientIP feeds the callback source check, so only listed proxies may
	// set forwarding headers.
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	engine.Use(
		middleware.Tracing(middleware.TracingConfig{ServiceName: cfg.ServiceName, Enabled: cfg.TracingEnabled}),
		logger.Recovery(log),
		logger.GinMiddleware(log),
		middleware.TracingAttributeInjector(),
		middleware.Profiling(cfg.ProfilingEnabled),
	)
	if cfg.Meter != nil {
		metricsMiddleware, err := middleware.HTTPMetrics(cfg.Meter)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
		}
		engine.Use(metricsMiddleware)
	}

	if h.System != nil {
		engine.GET("/health/live", h.System.Live)
		engine.GET("/health/ready", h.System.Ready)
	}

	r := NewRouter(engine)
	if h.PaymentCallback != nil {
		payments := NewDomainGroup("payments", "/payments")
		payments.Group("mpesa", "/mpesa").
			POST("/callback", h.PaymentCallback.HandleMpesaCallback)
		r.Register(payments)
	}
	r.Setup()

	return engine, nil
}
