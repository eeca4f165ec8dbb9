package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"freight-ledger/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Ledger.DefaultDueDays != 14 {
		t.Errorf("expected default due days 14, got %d", cfg.Ledger.DefaultDueDays)
	}
	if cfg.Ledger.MaxRetries != 3 {
		t.Errorf("expected max retries 3, got %d", cfg.Ledger.MaxRetries)
	}
	if cfg.Tolerance().String() != "0.01" {
		t.Errorf("expected tolerance 0.01, got %s", cfg.Tolerance())
	}
	if cfg.Redis.CacheTTL != 5*time.Minute {
		t.Errorf("expected cache ttl 5m, got %s", cfg.Redis.CacheTTL)
	}
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte("ledger:\n  operating_company_id: 7\n  allow_overpayment: true\ncomparison:\n  tolerance: \"0.05\"\n")
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LEDGER_MAX_RETRIES", "5")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Ledger.OperatingCompanyID != 7 {
		t.Errorf("expected operating company 7, got %d", cfg.Ledger.OperatingCompanyID)
	}
	if !cfg.Ledger.AllowOverpayment {
		t.Errorf("expected allow_overpayment from file")
	}
	if cfg.Ledger.MaxRetries != 5 {
		t.Errorf("expected env override max retries 5, got %d", cfg.Ledger.MaxRetries)
	}
	if cfg.Tolerance().String() != "0.05" {
		t.Errorf("expected tolerance 0.05, got %s", cfg.Tolerance())
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"zero retries", func(c *config.Config) { c.Ledger.MaxRetries = 0 }},
		{"negative due days", func(c *config.Config) { c.Ledger.DefaultDueDays = -1 }},
		{"bad tolerance", func(c *config.Config) { c.Comparison.Tolerance = "abc" }},
		{"negative tax", func(c *config.Config) { c.Ledger.TaxRate = "-0.1" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}
