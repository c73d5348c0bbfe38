package config

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App            AppConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	Log            LogConfig
	HTTP           HTTPConfig
	Mpesa          MpesaConfig
	Payments       PaymentsConfig
	Reconciliation ReconciliationConfig
	Ledger         LedgerConfig
	Telemetry      TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// IsProduction reports whether the app runs in production
func (a AppConfig) IsProduction() bool {
	return a.Env == "production"
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxBodySize    int64
	TrustedProxies []string
}

// MpesaConfig holds Daraja API credentials and endpoints
type MpesaConfig struct {
	Environment     string // sandbox, production
	BaseURL         string // overrides the environment default when set
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	PassKey         string
	TransactionType string
	CallbackURL     string
	Timeout         time.Duration
	TrustedCIDRs    []string
}

// PaymentsConfig holds settlement policy settings
type PaymentsConfig struct {
	AmountPolicy    string        // gateway, requested
	HeuristicWindow time.Duration // phone/amount match window for unlinked callbacks
	NotifierTimeout time.Duration
}

// ReconciliationConfig holds the pending-payment poller settings
type ReconciliationConfig struct {
	Enabled      bool
	Interval     time.Duration
	MinAge       time.Duration
	BatchSize    int
	QueryTimeout time.Duration
	LockTTL      time.Duration
}

// LedgerConfig holds the control account codes used when posting
type LedgerConfig struct {
	ReceivableAccount          string
	PayableAccount             string
	TaxPayableAccount          string
	TaxReceivableAccount       string
	UnappliedFundsAccount      string
	SupplierPrepaymentsAccount string
	DepositAccount             string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	MetricsEnabled    bool    // Export metrics through the collector
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Log full SQL statements (dev only)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings
	// Log export and continuous profiling
	LogsEnabled            bool   // Tee zap output into the OTLP log pipeline
	ProfilingEnabled       bool   // Start the Pyroscope profiler
	ProfilingServerAddress string // Pyroscope server (e.g., "http://pyroscope:4040")
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with BILLING_ prefix (e.g., BILLING_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("BILLING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
		},
		Mpesa: MpesaConfig{
			Environment:     v.GetString("mpesa.environment"),
			BaseURL:         v.GetString("mpesa.base_url"),
			ConsumerKey:     v.GetString("mpesa.consumer_key"),
			ConsumerSecret:  v.GetString("mpesa.consumer_secret"),
			ShortCode:       v.GetString("mpesa.short_code"),
			PassKey:         v.GetString("mpesa.pass_key"),
			TransactionType: v.GetString("mpesa.transaction_type"),
			CallbackURL:     v.GetString("mpesa.callback_url"),
			Timeout:         v.GetDuration("mpesa.timeout"),
			TrustedCIDRs:    v.GetStringSlice("mpesa.trusted_cidrs"),
		},
		Payments: PaymentsConfig{
			AmountPolicy:    v.GetString("payments.amount_policy"),
			HeuristicWindow: v.GetDuration("payments.heuristic_window"),
			NotifierTimeout: v.GetDuration("payments.notifier_timeout"),
		},
		Reconciliation: ReconciliationConfig{
			Enabled:      v.GetBool("reconciliation.enabled"),
			Interval:     v.GetDuration("reconciliation.interval"),
			MinAge:       v.GetDuration("reconciliation.min_age"),
			BatchSize:    v.GetInt("reconciliation.batch_size"),
			QueryTimeout: v.GetDuration("reconciliation.query_timeout"),
			LockTTL:      v.GetDuration("reconciliation.lock_ttl"),
		},
		Ledger: LedgerConfig{
			ReceivableAccount:          v.GetString("ledger.receivable_account"),
			PayableAccount:             v.GetString("ledger.payable_account"),
			TaxPayableAccount:          v.GetString("ledger.tax_payable_account"),
			TaxReceivableAccount:       v.GetString("ledger.tax_receivable_account"),
			UnappliedFundsAccount:      v.GetString("ledger.unapplied_funds_account"),
			SupplierPrepaymentsAccount: v.GetString("ledger.supplier_prepayments_account"),
			DepositAccount:             v.GetString("ledger.deposit_account"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),

			LogsEnabled:            v.GetBool("telemetry.logs_enabled"),
			ProfilingEnabled:       v.GetBool("telemetry.profiling_enabled"),
			ProfilingServerAddress: v.GetString("telemetry.profiling_server_address"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultTrustedCIDRs is Safaricom's published callback source range
var DefaultTrustedCIDRs = []string{
	"196.201.214.0/24",
	"196.201.213.0/24",
	"196.201.212.0/24",
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "billing-core"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "billing"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB
	}

	if cfg.Mpesa.Environment == "" {
		cfg.Mpesa.Environment = "sandbox"
	}
	if cfg.Mpesa.TransactionType == "" {
		cfg.Mpesa.TransactionType = "CustomerPayBillOnline"
	}
	if cfg.Mpesa.Timeout == 0 {
		cfg.Mpesa.Timeout = 30 * time.Second
	}
	if len(cfg.Mpesa.TrustedCIDRs) == 0 {
		cfg.Mpesa.TrustedCIDRs = DefaultTrustedCIDRs
	}

	if cfg.Payments.AmountPolicy == "" {
		cfg.Payments.AmountPolicy = "gateway"
	}
	if cfg.Payments.HeuristicWindow == 0 {
		cfg.Payments.HeuristicWindow = 5 * time.Minute
	}
	if cfg.Payments.NotifierTimeout == 0 {
		cfg.Payments.NotifierTimeout = 10 * time.Second
	}

	if cfg.Reconciliation.Interval == 0 {
		cfg.Reconciliation.Interval = time.Minute
	}
	if cfg.Reconciliation.MinAge == 0 {
		cfg.Reconciliation.MinAge = 2 * time.Minute
	}
	if cfg.Reconciliation.BatchSize == 0 {
		cfg.Reconciliation.BatchSize = 50
	}
	if cfg.Reconciliation.QueryTimeout == 0 {
		cfg.Reconciliation.QueryTimeout = 30 * time.Second
	}
	if cfg.Reconciliation.LockTTL == 0 {
		cfg.Reconciliation.LockTTL = 5 * time.Minute
	}

	if cfg.Ledger.ReceivableAccount == "" {
		cfg.Ledger.ReceivableAccount = "1200"
	}
	if cfg.Ledger.PayableAccount == "" {
		cfg.Ledger.PayableAccount = "2000"
	}
	if cfg.Ledger.TaxPayableAccount == "" {
		cfg.Ledger.TaxPayableAccount = "2200"
	}
	if cfg.Ledger.TaxReceivableAccount == "" {
		cfg.Ledger.TaxReceivableAccount = "1400"
	}
	if cfg.Ledger.UnappliedFundsAccount == "" {
		cfg.Ledger.UnappliedFundsAccount = "2400"
	}
	if cfg.Ledger.SupplierPrepaymentsAccount == "" {
		cfg.Ledger.SupplierPrepaymentsAccount = "1300"
	}
	if cfg.Ledger.DepositAccount == "" {
		cfg.Ledger.DepositAccount = "1100"
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "billing-core"
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	switch c.Mpesa.Environment {
	case "sandbox", "production":
	default:
		return fmt.Errorf("mpesa.environment must be sandbox or production, got %q", c.Mpesa.Environment)
	}
	for _, cidr := range c.Mpesa.TrustedCIDRs {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			return fmt.Errorf("mpesa.trusted_cidrs: invalid prefix %q: %w", cidr, err)
		}
	}

	switch c.Payments.AmountPolicy {
	case "gateway", "requested":
	default:
		return fmt.Errorf("payments.amount_policy must be gateway or requested, got %q", c.Payments.AmountPolicy)
	}

	if c.Reconciliation.BatchSize < 0 {
		return fmt.Errorf("reconciliation.batch_size cannot be negative")
	}
	if c.Reconciliation.Enabled && c.Reconciliation.LockTTL < c.Reconciliation.Interval {
		return fmt.Errorf("reconciliation.lock_ttl (%s) must be at least reconciliation.interval (%s)",
			c.Reconciliation.LockTTL, c.Reconciliation.Interval)
	}

	if c.App.IsProduction() {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Mpesa.Environment != "production" {
			return fmt.Errorf("mpesa.environment must be production when app.env is production")
		}
		if c.Mpesa.ConsumerKey == "" || c.Mpesa.ConsumerSecret == "" {
			return fmt.Errorf("mpesa.consumer_key and mpesa.consumer_secret are required in production")
		}
		if c.Mpesa.ShortCode == "" || c.Mpesa.PassKey == "" {
			return fmt.Errorf("mpesa.short_code and mpesa.pass_key are required in production")
		}
		if !strings.HasPrefix(c.Mpesa.CallbackURL, "https://") {
			return fmt.Errorf("mpesa.callback_url must be an https URL in production")
		}
		// Sandbox amount substitution must never reach production books.
		if c.Payments.AmountPolicy != "gateway" {
			return fmt.Errorf("payments.amount_policy must be gateway in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	if c.Telemetry.ProfilingEnabled && c.Telemetry.ProfilingServerAddress == "" {
		return fmt.Errorf("telemetry.profiling_server_address is required when profiling is enabled")
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
