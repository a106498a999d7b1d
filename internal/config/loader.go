package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load reads a TOML configuration file at path (skipped when path is
// empty), merges it on top of the built-in defaults, applies MOODSWING_*
// environment overrides, and returns the final Config. The caller should
// invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MOODSWING_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setInt(&cfg.Server.Port, "MOODSWING_SERVER_PORT")

	setStr(&cfg.Postgres.DSN, "MOODSWING_POSTGRES_DSN")
	setBool(&cfg.Postgres.RunMigrations, "MOODSWING_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "MOODSWING_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MOODSWING_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MOODSWING_REDIS_DB")

	setStr(&cfg.NATS.URL, "MOODSWING_NATS_URL")
	setStr(&cfg.NATS.StreamName, "MOODSWING_NATS_STREAM")

	setDecimal(&cfg.Engine.SeedLiquidity, "MOODSWING_ENGINE_SEED_LIQUIDITY")
	setDecimal(&cfg.Engine.SpreadStep, "MOODSWING_ENGINE_SPREAD_STEP")
	setInt(&cfg.Engine.SettlementPageSize, "MOODSWING_ENGINE_SETTLEMENT_PAGE_SIZE")

	setStr(&cfg.LogLevel, "MOODSWING_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if dec, err := decimal.NewFromString(v); err == nil {
			*dst = dec
		}
	}
}
