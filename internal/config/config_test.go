package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}

func TestLoadTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
log_level = "debug"

[server]
port = 9090

[engine]
seed_liquidity = "250"
settlement_page_size = 50
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %s, want debug", cfg.LogLevel)
	}
	if !cfg.Engine.SeedLiquidity.Equal(decimal.NewFromInt(250)) {
		t.Errorf("seed liquidity = %s, want 250", cfg.Engine.SeedLiquidity)
	}
	if cfg.Engine.SettlementPageSize != 50 {
		t.Errorf("page size = %d, want 50", cfg.Engine.SettlementPageSize)
	}
	// Untouched fields keep their defaults.
	if !cfg.Engine.SpreadStep.Equal(decimal.NewFromFloat(0.01)) {
		t.Errorf("spread step = %s, want default 0.01", cfg.Engine.SpreadStep)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	t.Setenv("MOODSWING_SERVER_PORT", "7070")
	t.Setenv("MOODSWING_ENGINE_SEED_LIQUIDITY", "42")
	t.Setenv("MOODSWING_LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want 7070", cfg.Server.Port)
	}
	if !cfg.Engine.SeedLiquidity.Equal(decimal.NewFromInt(42)) {
		t.Errorf("seed liquidity = %s, want 42", cfg.Engine.SeedLiquidity)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log level = %s, want warn", cfg.LogLevel)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"negative seed", func(c *Config) { c.Engine.SeedLiquidity = decimal.NewFromInt(-1) }},
		{"max price at one", func(c *Config) { c.Engine.MaxPrice = decimal.NewFromInt(1) }},
		{"inverted bounds", func(c *Config) {
			c.Engine.MinPrice = decimal.NewFromFloat(0.9)
			c.Engine.MaxPrice = decimal.NewFromFloat(0.1)
		}},
		{"zero page size", func(c *Config) { c.Engine.SettlementPageSize = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}
