// Package config holds the engine configuration.
//
// Values come from viper: built-in defaults, an optional ventureflow.yaml,
// and VENTUREFLOW_* environment variables. Secrets are bound to explicit
// environment variables only.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable viper reads.
const EnvPrefix = "VENTUREFLOW"

// Config is the full engine configuration.
type Config struct {
	Logger       LoggerConfig       `mapstructure:"logger"`
	Database     DatabaseConfig     `mapstructure:"database"`
	NATS         NATSConfig         `mapstructure:"nats"`
	GRPC         GRPCConfig         `mapstructure:"grpc"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	RealityGate  RealityGateConfig  `mapstructure:"reality_gate"`
	Recovery     RecoveryConfig     `mapstructure:"recovery"`
	Budget       BudgetConfig       `mapstructure:"budget"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Cleanup      CleanupConfig      `mapstructure:"cleanup"`
}

// LoggerConfig configures the zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"` // json or console
	ServiceName string `mapstructure:"service_name"`
	AddSource   bool   `mapstructure:"add_source"`
	LogFile     string `mapstructure:"log_file"`
	MaxSize     int    `mapstructure:"max_size"` // megabytes
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAge      int    `mapstructure:"max_age"` // days
	Compress    bool   `mapstructure:"compress"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// NATSConfig configures the telemetry event sink.
type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	Name          string        `mapstructure:"name"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// GRPCConfig configures the network surfaces of `serve`.
type GRPCConfig struct {
	Address        string        `mapstructure:"address"`
	MetricsAddress string        `mapstructure:"metrics_address"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
	// RateLimit is the sustained requests per second across all methods.
	// Zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// TracingConfig configures the OTLP exporter.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
}

// OrchestratorConfig controls stage processing and the run loop.
type OrchestratorConfig struct {
	MaxStages          int           `mapstructure:"max_stages"`
	AutoProceed        bool          `mapstructure:"auto_proceed"`
	StrictContracts    bool          `mapstructure:"strict_contracts"`
	WaitForReview      bool          `mapstructure:"wait_for_review"`
	ReviewTimeout      time.Duration `mapstructure:"review_timeout"`
	ReviewPollInterval time.Duration `mapstructure:"review_poll_interval"`
	// DecisionTTL is how long a chairman decision stays pending. Zero never
	// expires it.
	DecisionTTL time.Duration `mapstructure:"decision_ttl"`
}

// RealityGateConfig controls URL reachability probing.
type RealityGateConfig struct {
	ProbeTimeout       time.Duration `mapstructure:"probe_timeout"`
	ProbeRatePerSecond float64       `mapstructure:"probe_rate_per_second"`
	ProbeBurst         int           `mapstructure:"probe_burst"`
}

// RecoveryConfig controls gate failure recovery.
type RecoveryConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
}

// BudgetConfig controls the budget-status cache.
type BudgetConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// DefaultLimitUSD applies to ventures without an allocation. Zero is
	// unlimited.
	DefaultLimitUSD float64 `mapstructure:"default_limit_usd"`
}

// TelemetryConfig controls the detached telemetry queue.
type TelemetryConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

// CleanupConfig controls the background janitor.
type CleanupConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	DecisionRetention time.Duration `mapstructure:"decision_retention"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.service_name", "ventureflow")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Database --
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.connect_timeout", "10s")

	// -- NATS --
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject_prefix", "ventureflow")
	v.SetDefault("nats.name", "ventureflow")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")

	// -- gRPC --
	v.SetDefault("grpc.address", ":50051")
	v.SetDefault("grpc.metrics_address", ":9090")
	v.SetDefault("grpc.shutdown_grace", "15s")
	v.SetDefault("grpc.rate_limit", 50.0)
	v.SetDefault("grpc.rate_burst", 100)

	// -- Tracing --
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.service_name", "ventureflow")
	v.SetDefault("tracing.environment", "development")

	// -- Orchestrator --
	v.SetDefault("orchestrator.max_stages", 25)
	v.SetDefault("orchestrator.auto_proceed", true)
	v.SetDefault("orchestrator.strict_contracts", false)
	v.SetDefault("orchestrator.wait_for_review", false)
	v.SetDefault("orchestrator.review_timeout", "30m")
	v.SetDefault("orchestrator.review_poll_interval", "5s")
	v.SetDefault("orchestrator.decision_ttl", "72h")

	// -- Reality gate --
	v.SetDefault("reality_gate.probe_timeout", "5s")
	v.SetDefault("reality_gate.probe_rate_per_second", 5.0)
	v.SetDefault("reality_gate.probe_burst", 5)

	// -- Recovery / budget / telemetry / cleanup --
	v.SetDefault("recovery.max_retries", 3)
	v.SetDefault("budget.cache_ttl", "60s")
	v.SetDefault("budget.default_limit_usd", 0.0)
	v.SetDefault("telemetry.queue_size", 256)
	v.SetDefault("cleanup.interval", "5m")
	v.SetDefault("cleanup.decision_retention", "24h")
}

// NewDefaultConfig returns a configuration built from defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewViper creates a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// NewConfigFromViper unmarshals and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Secrets are only read from explicit variables.
	_ = v.BindEnv("database.url", "VENTUREFLOW_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("nats.url", "VENTUREFLOW_NATS_URL", "NATS_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	var errs []error
	if c.Orchestrator.MaxStages <= 0 {
		errs = append(errs, errors.New("orchestrator.max_stages must be positive"))
	}
	if c.Recovery.MaxRetries < 0 {
		errs = append(errs, errors.New("recovery.max_retries must not be negative"))
	}
	if c.RealityGate.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("reality_gate.probe_timeout must be positive"))
	}
	if c.Telemetry.QueueSize <= 0 {
		errs = append(errs, errors.New("telemetry.queue_size must be positive"))
	}
	if c.Orchestrator.WaitForReview && c.Orchestrator.ReviewPollInterval <= 0 {
		errs = append(errs, errors.New("orchestrator.review_poll_interval must be positive when wait_for_review is set"))
	}
	if c.GRPC.RateLimit < 0 || c.GRPC.RateBurst < 0 {
		errs = append(errs, errors.New("grpc.rate_limit and grpc.rate_burst must not be negative"))
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required when nats is enabled"))
	}
	switch c.Logger.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logger.format must be json or console, got %q", c.Logger.Format))
	}
	return errors.Join(errs...)
}

// =============================================================================
// GLOBAL CONFIG (set by the cmd bootstrap)
// =============================================================================

var (
	globalConfig *Config
	configMu     sync.RWMutex
)

// Get returns the injected config, or defaults when none is set.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()

	if globalConfig == nil {
		return NewDefaultConfig()
	}
	return globalConfig
}

// Set installs the process-wide configuration.
func Set(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()

	globalConfig = cfg
}

// Reset clears the process-wide configuration (useful for testing).
func Reset() {
	configMu.Lock()
	defer configMu.Unlock()

	globalConfig = nil
}
