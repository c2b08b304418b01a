// Package config loads service configuration with viper: an optional YAML
// file, defaults, and LEAVECREDITS_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // clock.timezone must resolve in images without zoneinfo

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/warp/leave-credits/generic"
	"github.com/warp/leave-credits/observability"
)

// EnvPrefix prefixes every environment override (server.port → LEAVECREDITS_SERVER_PORT).
const EnvPrefix = "LEAVECREDITS"

// Config holds all application configuration
type Config struct {
	Server     ServerConfig               `mapstructure:"server"`
	Database   DatabaseConfig             `mapstructure:"database"`
	Accrual    AccrualConfig              `mapstructure:"accrual"`
	Conversion ConversionConfig           `mapstructure:"conversion"`
	Clock      ClockConfig                `mapstructure:"clock"`
	Logger     observability.LoggerConfig `mapstructure:"logger"`
	Metrics    MetricsConfig              `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects and configures the store.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite | postgres | memory
	Path     string `mapstructure:"path"`   // sqlite file
	URL      string `mapstructure:"url"`    // postgres connection string
	MaxConns int    `mapstructure:"max_conns"`
}

// AccrualConfig holds the monthly accrual settings and scheduler.
type AccrualConfig struct {
	Increment        string        `mapstructure:"increment"`
	Codes            []string      `mapstructure:"codes"`
	SchedulerEnabled bool          `mapstructure:"scheduler_enabled"`
	CheckInterval    time.Duration `mapstructure:"check_interval"`
	OrgIDs           []string      `mapstructure:"org_ids"`
}

// ConversionConfig holds the monetization rules.
type ConversionConfig struct {
	LeaveCode  string `mapstructure:"leave_code"`
	MinCredits string `mapstructure:"min_credits"`
	AnnualCap  string `mapstructure:"annual_cap"`
}

// ClockConfig sets the location used for month and year boundaries.
type ClockConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load loads configuration from an optional file and environment variables.
// An empty path skips the file.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "leavecredits.db")
	v.SetDefault("database.max_conns", 10)

	// Accrual defaults
	v.SetDefault("accrual.increment", "1.25")
	v.SetDefault("accrual.codes", []string{"SL", "VL"})
	v.SetDefault("accrual.scheduler_enabled", false)
	v.SetDefault("accrual.check_interval", time.Hour)
	v.SetDefault("accrual.org_ids", []string{})

	// Conversion defaults
	v.SetDefault("conversion.leave_code", "VL")
	v.SetDefault("conversion.min_credits", "10")
	v.SetDefault("conversion.annual_cap", "10")

	v.SetDefault("clock.timezone", "UTC")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// bindEnvVars binds environment variables that do not follow the prefix scheme.
func bindEnvVars(v *viper.Viper) {
	// Connection strings usually arrive under their conventional name
	v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be sqlite, postgres or memory, got %q", c.Database.Driver)
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Accrual.SchedulerEnabled {
		if len(c.Accrual.OrgIDs) == 0 {
			return fmt.Errorf("accrual.org_ids is required when the scheduler is enabled")
		}
		if c.Accrual.CheckInterval <= 0 {
			return fmt.Errorf("accrual.check_interval must be positive")
		}
	}

	policy, err := c.Policy()
	if err != nil {
		return err
	}
	return policy.Validate()
}

// Location resolves clock.timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Clock.Timezone)
	if err != nil {
		return nil, fmt.Errorf("clock.timezone %q: %w", c.Clock.Timezone, err)
	}
	return loc, nil
}

// Policy converts the accrual and conversion sections into a CreditPolicy.
func (c *Config) Policy() (generic.CreditPolicy, error) {
	var p generic.CreditPolicy

	fields := []struct {
		key string
		raw string
		dst *decimal.Decimal
	}{
		{"accrual.increment", c.Accrual.Increment, &p.AccrualIncrement},
		{"conversion.min_credits", c.Conversion.MinCredits, &p.ConversionMinimum},
		{"conversion.annual_cap", c.Conversion.AnnualCap, &p.ConversionAnnualCap},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(strings.TrimSpace(f.raw))
		if err != nil {
			return generic.CreditPolicy{}, fmt.Errorf("%s %q is not a decimal: %w", f.key, f.raw, err)
		}
		*f.dst = d
	}

	for _, raw := range c.Accrual.Codes {
		code, err := generic.LookupLeaveCode(raw)
		if err != nil {
			return generic.CreditPolicy{}, fmt.Errorf("accrual.codes: %w", err)
		}
		p.EarnableCodes = append(p.EarnableCodes, code)
	}

	code, err := generic.LookupLeaveCode(c.Conversion.LeaveCode)
	if err != nil {
		return generic.CreditPolicy{}, fmt.Errorf("conversion.leave_code: %w", err)
	}
	p.ConversionCode = code

	return p, nil
}

// Orgs returns accrual.org_ids as typed ids.
func (c *Config) Orgs() []generic.OrgID {
	out := make([]generic.OrgID, len(c.Accrual.OrgIDs))
	for i, id := range c.Accrual.OrgIDs {
		out[i] = generic.OrgID(id)
	}
	return out
}
