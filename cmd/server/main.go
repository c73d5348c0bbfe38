// Command server runs the billing core: the M-Pesa callback endpoint and the
// reconciliation scheduler that settles payments whose callback never came.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"

	appfinance "github.com/erp/billing/internal/application/finance"
	"github.com/erp/billing/internal/domain/finance"
	"github.com/erp/billing/internal/infrastructure/cache"
	"github.com/erp/billing/internal/infrastructure/config"
	"github.com/erp/billing/internal/infrastructure/logger"
	"github.com/erp/billing/internal/infrastructure/notification"
	"github.com/erp/billing/internal/infrastructure/payment"
	"github.com/erp/billing/internal/infrastructure/persistence"
	"github.com/erp/billing/internal/infrastructure/scheduler"
	"github.com/erp/billing/internal/infrastructure/telemetry"
	"github.com/erp/billing/internal/interfaces/http/handler"
	"github.com/erp/billing/internal/interfaces/http/router"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "billing-core: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments set BILLING_* directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	baseLog, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Output:      cfg.Log.Output,
		ServiceName: cfg.App.Name,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = baseLog.Sync()
	}()

	ctx := context.Background()
	otelCfg := telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}

	tracerProvider, err := telemetry.NewTracerProvider(ctx, otelCfg, baseLog)
	if err != nil {
		return fmt.Errorf("init tracer provider: %w", err)
	}

	metricsCfg := telemetry.MetricsConfig{Config: otelCfg}
	metricsCfg.Enabled = cfg.Telemetry.Enabled && cfg.Telemetry.MetricsEnabled
	meterProvider, err := telemetry.NewMeterProvider(ctx, metricsCfg, baseLog)
	if err != nil {
		return fmt.Errorf("init meter provider: %w", err)
	}

	logsCfg := otelCfg
	logsCfg.Enabled = cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled
	loggerProvider, err := telemetry.NewLoggerProvider(ctx, logsCfg, baseLog)
	if err != nil {
		return fmt.Errorf("init logger provider: %w", err)
	}
	log := telemetry.Bridge(baseLog, loggerProvider, cfg.App.Name, zapcore.InfoLevel)

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         cfg.Telemetry.ProfilingEnabled,
		ServerAddress:   cfg.Telemetry.ProfilingServerAddress,
		ApplicationName: cfg.Telemetry.ServiceName,
	}, log)
	if err != nil {
		return fmt.Errorf("init profiler: %w", err)
	}
	if profiler.IsEnabled() {
		tracerProvider.EnableSpanProfiles()
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			log.Warn("Meter provider shutdown failed", zap.Error(err))
		}
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Warn("Tracer provider shutdown failed", zap.Error(err))
		}
		if err := loggerProvider.Shutdown(shutdownCtx); err != nil {
			log.Warn("Logger provider shutdown failed", zap.Error(err))
		}
		if err := profiler.Stop(); err != nil {
			log.Warn("Profiler stop failed", zap.Error(err))
		}
	}()

	log.Info("Starting billing core",
		zap.String("env", cfg.App.Env),
		zap.String("version", version),
	)

	dbOpts := persistence.DatabaseOptions{
		Logger:        log,
		LogLevel:      gormlogger.Warn,
		SlowThreshold: cfg.Telemetry.DBSlowQueryThresh,
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled {
		tracing := telemetry.DefaultDBTracingConfig()
		tracing.Enabled = true
		tracing.LogFullSQL = cfg.Telemetry.DBLogFullSQL && !cfg.App.IsProduction()
		if cfg.Telemetry.DBSlowQueryThresh > 0 {
			tracing.SlowQueryThresh = cfg.Telemetry.DBSlowQueryThresh
		}
		dbOpts.Tracing = &tracing
	}
	db, err := persistence.NewDatabase(cfg.Database, dbOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("Database close failed", zap.Error(err))
		}
	}()

	meter := meterProvider.Meter()
	if sqlDB, err := db.DB.DB(); err == nil {
		if _, err := telemetry.RegisterDBPoolMetrics(meter, sqlDB); err != nil {
			log.Warn("DB pool metrics unavailable", zap.Error(err))
		}
	}
	paymentMetrics, err := telemetry.NewPaymentMetrics(meter)
	if err != nil {
		return fmt.Errorf("init payment metrics: %w", err)
	}

	store, err := cache.NewStoreFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(!cfg.App.IsProduction()),
	).CreateStore()
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	gateway, err := payment.NewMpesaAdapter(&payment.MpesaConfig{
		Environment:     cfg.Mpesa.Environment,
		BaseURL:         cfg.Mpesa.BaseURL,
		ConsumerKey:     cfg.Mpesa.ConsumerKey,
		ConsumerSecret:  cfg.Mpesa.ConsumerSecret,
		ShortCode:       cfg.Mpesa.ShortCode,
		PassKey:         cfg.Mpesa.PassKey,
		TransactionType: cfg.Mpesa.TransactionType,
		CallbackURL:     cfg.Mpesa.CallbackURL,
		Timeout:         cfg.Mpesa.Timeout,
		TrustedCIDRs:    cfg.Mpesa.TrustedCIDRs,
	},
		payment.WithTokenCache(store),
		payment.WithGatewayMetrics(paymentMetrics),
		payment.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("init M-Pesa adapter: %w", err)
	}

	amountPolicy, err := finance.ParseAmountPolicy(cfg.Payments.AmountPolicy)
	if err != nil {
		return err
	}

	scope := persistence.NewGormTransactionScope(db.DB)
	poster := appfinance.NewLedgerPoster(scope, finance.LedgerAccounts{
		Receivable:          cfg.Ledger.ReceivableAccount,
		Payable:             cfg.Ledger.PayableAccount,
		TaxPayable:          cfg.Ledger.TaxPayableAccount,
		TaxReceivable:       cfg.Ledger.TaxReceivableAccount,
		UnappliedFunds:      cfg.Ledger.UnappliedFundsAccount,
		SupplierPrepayments: cfg.Ledger.SupplierPrepaymentsAccount,
		DefaultDeposit:      cfg.Ledger.DepositAccount,
	}, log)
	allocator := appfinance.NewPaymentAllocator(scope, poster, log)
	settlement := appfinance.NewPaymentSettlementService(appfinance.PaymentSettlementServiceConfig{
		Scope:     scope,
		Allocator: allocator,
		Poster:    poster,
		Notifier:  notification.NewLogNotifier(log),
		Metrics:   paymentMetrics,
		Settings: appfinance.SettlementConfig{
			AmountPolicy:    amountPolicy,
			NotifierTimeout: cfg.Payments.NotifierTimeout,
		},
		Logger: log,
	})
	matcher := appfinance.NewPaymentMatcher(
		persistence.NewGormPaymentRepository(db.DB),
		cfg.Payments.HeuristicWindow,
		amountPolicy,
		paymentMetrics,
		log,
	)
	processor := appfinance.NewCallbackProcessor(
		gateway,
		matcher,
		settlement,
		persistence.NewGormCallbackLog(db.DB),
		paymentMetrics,
		appfinance.CallbackProcessorConfig{EnforceTrustedSource: cfg.App.IsProduction()},
		log,
	)
	poller := appfinance.NewReconciliationPoller(scope, gateway, settlement, paymentMetrics,
		appfinance.ReconciliationConfig{
			MinAge:       cfg.Reconciliation.MinAge,
			QueryTimeout: cfg.Reconciliation.QueryTimeout,
			BatchSize:    cfg.Reconciliation.BatchSize,
		}, log)

	reconciler := scheduler.NewReconciliationScheduler(poller, store, log, scheduler.ReconciliationSchedulerConfig{
		Enabled:   cfg.Reconciliation.Enabled,
		Interval:  cfg.Reconciliation.Interval,
		BatchSize: cfg.Reconciliation.BatchSize,
		LockTTL:   cfg.Reconciliation.LockTTL,
	})

	engine, err := router.NewEngine(router.EngineConfig{
		Production:       cfg.App.IsProduction(),
		ServiceName:      cfg.Telemetry.ServiceName,
		TrustedProxies:   cfg.HTTP.TrustedProxies,
		TracingEnabled:   cfg.Telemetry.Enabled,
		ProfilingEnabled: profiler.IsEnabled(),
		Meter:            meter,
	}, router.Handlers{
		PaymentCallback: handler.NewPaymentCallbackHandler(processor, cfg.HTTP.MaxBodySize, log),
		System:          handler.NewSystemHandler(cfg.App.Name, version, db),
	}, log)
	if err != nil {
		return fmt.Errorf("init router: %w", err)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	if err := reconciler.Start(ctx); err != nil {
		return fmt.Errorf("start reconciliation scheduler: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			log.Error("Server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := reconciler.Stop(shutdownCtx); err != nil {
		log.Warn("Reconciliation scheduler stop failed", zap.Error(err))
	}

	log.Info("Server exited gracefully")
	return nil
}
