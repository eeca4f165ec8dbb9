package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration. Every key has a default so the
// binaries start without a config file; env vars override with "." -> "_"
// (ledger.max_retries is LEDGER_MAX_RETRIES, database.url is DATABASE_URL).
type Config struct {
	Database struct {
		URL      string `mapstructure:"url"`
		MaxConns int32  `mapstructure:"max_conns"`
	} `mapstructure:"database"`

	Ledger struct {
		OperatingCompanyID int    `mapstructure:"operating_company_id"`
		DefaultDueDays     int    `mapstructure:"default_due_days"`
		AllowOverpayment   bool   `mapstructure:"allow_overpayment"`
		MaxRetries         int    `mapstructure:"max_retries"`
		TaxRate            string `mapstructure:"tax_rate"`
	} `mapstructure:"ledger"`

	Comparison struct {
		Tolerance string `mapstructure:"tolerance"`
	} `mapstructure:"comparison"`

	Reconciliation struct {
		DateWindowDays  int    `mapstructure:"date_window_days"`
		AmountTolerance string `mapstructure:"amount_tolerance"`
		MaxCandidates   int    `mapstructure:"max_candidates"`
		UseAI           bool   `mapstructure:"use_ai"`
	} `mapstructure:"reconciliation"`

	OpenAI struct {
		APIKey string `mapstructure:"api_key"`
		Model  string `mapstructure:"model"`
	} `mapstructure:"openai"`

	Redis struct {
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		CacheTTL time.Duration `mapstructure:"cache_ttl"`
	} `mapstructure:"redis"`

	Accounting struct {
		BaseURL string        `mapstructure:"base_url"`
		Token   string        `mapstructure:"token"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"accounting"`

	Storage struct {
		Bucket    string `mapstructure:"bucket"`
		Endpoint  string `mapstructure:"endpoint"`
		Region    string `mapstructure:"region"`
		AccessKey string `mapstructure:"access_key"`
		SecretKey string `mapstructure:"secret_key"`
	} `mapstructure:"storage"`

	Metrics struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`

	Log struct {
		Level      string `mapstructure:"level"`
		Format     string `mapstructure:"format"`
		TimeFormat string `mapstructure:"time_format"`
		Output     string `mapstructure:"output"`
	} `mapstructure:"log"`
}

// Load reads .env, the optional YAML file at path and the environment.
// An empty path means configs/config.yaml.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = "configs/config.yaml"
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Debug().Str("path", path).Msg("no config file found, using defaults and environment")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// AutomaticEnv only resolves keys viper already knows about.
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("ledger.operating_company_id", 0)
	v.SetDefault("ledger.default_due_days", 14)
	v.SetDefault("ledger.allow_overpayment", false)
	v.SetDefault("ledger.max_retries", 3)
	v.SetDefault("ledger.tax_rate", "0")
	v.SetDefault("comparison.tolerance", "0.01")
	v.SetDefault("reconciliation.date_window_days", 7)
	v.SetDefault("reconciliation.amount_tolerance", "0.01")
	v.SetDefault("reconciliation.max_candidates", 10)
	v.SetDefault("reconciliation.use_ai", false)
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", 5*time.Minute)
	v.SetDefault("accounting.base_url", "")
	v.SetDefault("accounting.token", "")
	v.SetDefault("accounting.timeout", 15*time.Second)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.region", "auto")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.time_format", time.RFC3339)
	v.SetDefault("log.output", "stdout")
}

// Validate checks values that would otherwise fail deep inside the engines.
func (c *Config) Validate() error {
	if c.Ledger.DefaultDueDays < 0 {
		return fmt.Errorf("ledger.default_due_days must be >= 0, got %d", c.Ledger.DefaultDueDays)
	}
	if c.Ledger.MaxRetries < 1 {
		return fmt.Errorf("ledger.max_retries must be >= 1, got %d", c.Ledger.MaxRetries)
	}
	for key, raw := range map[string]string{
		"ledger.tax_rate":                 c.Ledger.TaxRate,
		"comparison.tolerance":            c.Comparison.Tolerance,
		"reconciliation.amount_tolerance": c.Reconciliation.AmountTolerance,
	} {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("%s: invalid decimal %q: %w", key, raw, err)
		}
		if d.IsNegative() {
			return fmt.Errorf("%s must be >= 0, got %s", key, raw)
		}
	}
	if c.Reconciliation.DateWindowDays < 0 {
		return fmt.Errorf("reconciliation.date_window_days must be >= 0, got %d", c.Reconciliation.DateWindowDays)
	}
	return nil
}

// TaxRate returns the flat tax rate. Validate has already checked it parses.
func (c *Config) TaxRate() decimal.Decimal {
	return decimal.RequireFromString(c.Ledger.TaxRate)
}

// Tolerance returns the comparison epsilon.
func (c *Config) Tolerance() decimal.Decimal {
	return decimal.RequireFromString(c.Comparison.Tolerance)
}

// MatchAmountTolerance returns the reconciliation amount epsilon.
func (c *Config) MatchAmountTolerance() decimal.Decimal {
	return decimal.RequireFromString(c.Reconciliation.AmountTolerance)
}
