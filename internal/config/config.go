// Package config defines the engine configuration and provides loading
// from a TOML file with MOODSWING_* environment overrides.
package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by MOODSWING_* environment
// variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	NATS     NATSConfig     `toml:"nats"`
	Engine   EngineConfig   `toml:"engine"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP listener parameters.
type ServerConfig struct {
	Port            int           `toml:"port"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	IdleTimeout     time.Duration `toml:"idle_timeout"`
	RequestTimeout  time.Duration `toml:"request_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

// PostgresConfig holds the source-of-truth store connection. An empty DSN
// selects the in-memory store (development only).
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds cache and lock connection parameters. An empty Addr
// disables the cache layer and falls back to in-process locks.
type RedisConfig struct {
	Addr     string        `toml:"addr"`
	Password string        `toml:"password"`
	DB       int           `toml:"db"`
	CacheTTL time.Duration `toml:"cache_ttl"`
}

// NATSConfig holds the event-emission transport. An empty URL selects the
// no-op notifier.
type NATSConfig struct {
	URL        string `toml:"url"`
	StreamName string `toml:"stream_name"`
}

// EngineConfig holds market-making and settlement tunables.
type EngineConfig struct {
	// SeedLiquidity is the default pool seed when market creation omits one.
	SeedLiquidity decimal.Decimal `toml:"seed_liquidity"`
	// SpreadStep is applied around the last trade price when deriving a
	// bet price: YES adds, NO subtracts.
	SpreadStep decimal.Decimal `toml:"spread_step"`
	// MinPrice/MaxPrice bound every bet price.
	MinPrice decimal.Decimal `toml:"min_price"`
	MaxPrice decimal.Decimal `toml:"max_price"`
	// ReserveRetries bounds compare-and-set retries on reserve updates.
	ReserveRetries int `toml:"reserve_retries"`
	// SettlementPageSize is the position page size during settlement.
	SettlementPageSize int `toml:"settlement_page_size"`
	// SettlementLockTTL bounds how long a settlement lock may be held.
	SettlementLockTTL time.Duration `toml:"settlement_lock_ttl"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			CacheTTL: 30 * time.Second,
		},
		NATS: NATSConfig{
			StreamName: "MOODSWING_EVENTS",
		},
		Engine: EngineConfig{
			SeedLiquidity:      decimal.NewFromInt(100),
			SpreadStep:         decimal.NewFromFloat(0.01),
			MinPrice:           decimal.NewFromFloat(0.01),
			MaxPrice:           decimal.NewFromFloat(0.99),
			ReserveRetries:     3,
			SettlementPageSize: 200,
			SettlementLockTTL:  2 * time.Minute,
		},
		LogLevel: "info",
	}
}

// Validate checks cross-field constraints after loading.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if !c.Engine.SeedLiquidity.IsPositive() {
		return fmt.Errorf("config: seed_liquidity must be positive")
	}
	if !c.Engine.MinPrice.IsPositive() || c.Engine.MaxPrice.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("config: price bounds must lie inside (0,1)")
	}
	if c.Engine.MinPrice.GreaterThanOrEqual(c.Engine.MaxPrice) {
		return fmt.Errorf("config: min_price must be below max_price")
	}
	if c.Engine.SettlementPageSize <= 0 {
		return fmt.Errorf("config: settlement_page_size must be positive")
	}
	return nil
}
