package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant  string        `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string        `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	// Chifa settlement policy. The insurer's exact rounding rule is
	// configurable until confirmed; bank rounding is the default.
	ChifaRounding         string `mapstructure:"CHIFA_ROUNDING"`
	ChifaLocalProductRate string `mapstructure:"CHIFA_LOCAL_PRODUCT_RATE"`

	// Write-offs are posted here when set.
	AccountingWebhookURL    string `mapstructure:"ACCOUNTING_WEBHOOK_URL"`
	AccountingWebhookSecret string `mapstructure:"ACCOUNTING_WEBHOOK_SECRET"`

	ReportTopN    int    `mapstructure:"REPORT_TOP_N"`
	DevPharmacyID string `mapstructure:"DEV_PHARMACY_ID"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DEFAULT_TENANT", "CORS_ORIGINS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"CHIFA_ROUNDING", "CHIFA_LOCAL_PRODUCT_RATE",
	"ACCOUNTING_WEBHOOK_URL", "ACCOUNTING_WEBHOOK_SECRET",
	"REPORT_TOP_N", "DEV_PHARMACY_ID",
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("CHIFA_ROUNDING", "bank")
	v.SetDefault("REPORT_TOP_N", 10)
	v.SetDefault("DEV_PHARMACY_ID", "00000000-0000-0000-0000-000000000001")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// LocalProductRate returns the reimbursement rate override for locally
// manufactured products, or an invalid NullDecimal when none is configured.
func (c *Config) LocalProductRate() (decimal.NullDecimal, error) {
	if strings.TrimSpace(c.ChifaLocalProductRate) == "" {
		return decimal.NullDecimal{}, nil
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(c.ChifaLocalProductRate))
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("CHIFA_LOCAL_PRODUCT_RATE is not a number: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.NullDecimal{}, fmt.Errorf("CHIFA_LOCAL_PRODUCT_RATE must be between 0 and 100, got %s", rate)
	}
	return decimal.NullDecimal{Decimal: rate, Valid: true}, nil
}

// Validate checks that the configuration is safe to run. Outside development
// a token issuer and a verification key source are required.
func (c *Config) Validate() error {
	switch c.ChifaRounding {
	case "bank", "half_up", "truncate":
	default:
		return fmt.Errorf("CHIFA_ROUNDING must be \"bank\", \"half_up\" or \"truncate\", got %q", c.ChifaRounding)
	}
	if _, err := c.LocalProductRate(); err != nil {
		return err
	}
	if c.ReportTopN <= 0 {
		return fmt.Errorf("REPORT_TOP_N must be positive, got %d", c.ReportTopN)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}

	if c.AccountingWebhookURL != "" && c.AccountingWebhookSecret == "" {
		return fmt.Errorf("ACCOUNTING_WEBHOOK_SECRET must be set with ACCOUNTING_WEBHOOK_URL")
	}

	if c.IsDev() {
		return nil
	}
	if c.AuthIssuer == "" {
		return fmt.Errorf("AUTH_ISSUER must be set when ENV=%q", c.Env)
	}
	if c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("one of AUTH_SIGNING_KEY or AUTH_JWKS_URL must be set when ENV=%q", c.Env)
	}
	return nil
}
