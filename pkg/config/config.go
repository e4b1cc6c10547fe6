// Package config loads CIVOS configuration from an optional YAML file and
// CIVOS_* environment variables, on top of built-in defaults.
//
// Environment keys are the upper-cased YAML path joined by underscores, e.g.
// budget.monthly is CIVOS_BUDGET_MONTHLY.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/qontrek/civos/pkg/contracts"
	"github.com/qontrek/civos/pkg/observability"
)

const EnvPrefix = "CIVOS"

// Config holds server configuration.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Log            LogConfig            `mapstructure:"log"`
	Budget         BudgetConfig         `mapstructure:"budget"`
	Classification ClassificationConfig `mapstructure:"classification"`
	Ledger         LedgerConfig         `mapstructure:"ledger"`
	Auth           AuthConfig           `mapstructure:"auth"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	Telemetry      observability.Config `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

type BudgetConfig struct {
	Monthly        float64       `mapstructure:"monthly"`
	Tenant         string        `mapstructure:"tenant"`
	AutoSpendLimit float64       `mapstructure:"auto_spend_limit"`
	GreenRatio     float64       `mapstructure:"green_ratio"`
	YellowRatio    float64       `mapstructure:"yellow_ratio"`
	Store          string        `mapstructure:"store"` // memory, postgres, redis
	PostgresDSN    string        `mapstructure:"postgres_dsn"`
	RedisAddr      string        `mapstructure:"redis_addr"`
	RedisTTL       time.Duration `mapstructure:"redis_ttl"`
}

type ClassificationConfig struct {
	ConfirmThreshold float64 `mapstructure:"confirm_threshold"`
	HoldThreshold    float64 `mapstructure:"hold_threshold"`
	FrictionPhase    string  `mapstructure:"friction_phase"`
	RulesFile        string  `mapstructure:"rules_file"`
}

type LedgerConfig struct {
	Driver string `mapstructure:"driver"` // memory, sqlite, postgres
	DSN    string `mapstructure:"dsn"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("budget.monthly", 10000.0)
	v.SetDefault("budget.tenant", "default")
	v.SetDefault("budget.auto_spend_limit", 100.0)
	v.SetDefault("budget.green_ratio", 0.95)
	v.SetDefault("budget.yellow_ratio", 1.05)
	v.SetDefault("budget.store", "memory")
	v.SetDefault("budget.postgres_dsn", "")
	v.SetDefault("budget.redis_addr", "localhost:6379")
	v.SetDefault("budget.redis_ttl", 40*24*time.Hour)

	v.SetDefault("classification.confirm_threshold", 100.0)
	v.SetDefault("classification.hold_threshold", 1000.0)
	v.SetDefault("classification.friction_phase", string(contracts.FrictionPhase1))
	v.SetDefault("classification.rules_file", "")

	v.SetDefault("ledger.driver", "memory")
	v.SetDefault("ledger.dsn", "")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")

	v.SetDefault("rate_limit.rps", 20.0)
	v.SetDefault("rate_limit.burst", 40)

	tel := observability.DefaultConfig()
	v.SetDefault("telemetry.service_name", tel.ServiceName)
	v.SetDefault("telemetry.service_version", tel.ServiceVersion)
	v.SetDefault("telemetry.environment", tel.Environment)
	v.SetDefault("telemetry.otlp_endpoint", tel.OTLPEndpoint)
	v.SetDefault("telemetry.sample_rate", tel.SampleRate)
	v.SetDefault("telemetry.batch_timeout", tel.BatchTimeout)
	v.SetDefault("telemetry.metric_interval", tel.MetricInterval)
	v.SetDefault("telemetry.enabled", tel.Enabled)
	v.SetDefault("telemetry.insecure", tel.Insecure)
}

// New returns a viper instance with defaults and environment binding.
// Commands bind their flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (when non-empty), applies the environment and validates.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = New()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SpendThresholds returns the classification spend limits.
func (c *Config) SpendThresholds() contracts.SpendThresholds {
	return contracts.SpendThresholds{Confirm: c.Classification.ConfirmThreshold, Hold: c.Classification.HoldThreshold}
}

// Validate fails fast on settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}

	if c.Budget.Monthly <= 0 {
		errs = append(errs, fmt.Errorf("budget.monthly must be positive, got %v", c.Budget.Monthly))
	}
	if c.Budget.GreenRatio <= 0 || c.Budget.GreenRatio > c.Budget.YellowRatio {
		errs = append(errs, fmt.Errorf("budget ratios must satisfy 0 < green (%v) <= yellow (%v)",
			c.Budget.GreenRatio, c.Budget.YellowRatio))
	}
	switch c.Budget.Store {
	case "memory":
	case "postgres":
		if c.Budget.PostgresDSN == "" {
			errs = append(errs, errors.New("budget.postgres_dsn is required for the postgres store"))
		}
	case "redis":
		if c.Budget.RedisAddr == "" {
			errs = append(errs, errors.New("budget.redis_addr is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("budget.store %q is not one of memory, postgres, redis", c.Budget.Store))
	}

	if err := c.SpendThresholds().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("classification: %w", err))
	}
	if _, err := contracts.ParseFrictionPhase(c.Classification.FrictionPhase); err != nil {
		errs = append(errs, fmt.Errorf("classification: %w", err))
	}

	switch c.Ledger.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Ledger.DSN == "" {
			errs = append(errs, fmt.Errorf("ledger.dsn is required for the %s driver", c.Ledger.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("ledger.driver %q is not one of memory, sqlite, postgres", c.Ledger.Driver))
	}

	if c.Auth.Enabled && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 32 bytes when auth is enabled"))
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate_limit values must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
