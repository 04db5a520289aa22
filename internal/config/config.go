// Package config defines the lending ledger service configuration and
// validation helpers.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration. Fields are populated from a TOML file and
// then optionally overridden by LEND_* environment variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Postgres PostgresConfig `toml:"postgres"`
	NATS     NATSConfig     `toml:"nats"`
	Redis    RedisConfig    `toml:"redis"`
	Oracle   OracleConfig   `toml:"oracle"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Admin    AdminConfig    `toml:"admin"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds the HTTP listen addresses.
type ServerConfig struct {
	Addr        string `toml:"addr"`
	MetricsAddr string `toml:"metrics_addr"`
}

// PostgresConfig holds the event-log store parameters. An empty DSN disables
// persistence entirely; the ledger then runs in-memory only.
type PostgresConfig struct {
	DSN           string   `toml:"dsn"`
	MigrationsDir string   `toml:"migrations_dir"`
	BatchSize     int      `toml:"batch_size"`
	FlushInterval duration `toml:"flush_interval"`
	SnapshotEvery int64    `toml:"snapshot_every"`
	ChannelBuffer int      `toml:"channel_buffer"`
}

// NATSConfig holds the outbound event stream parameters. An empty URL
// disables publishing.
type NATSConfig struct {
	URL           string `toml:"url"`
	Stream        string `toml:"stream"`
	SubjectPrefix string `toml:"subject_prefix"`
	ChannelBuffer int    `toml:"channel_buffer"`
}

// RedisConfig holds the oracle price-cache parameters. An empty Addr disables
// caching; lookups hit the feed directly.
type RedisConfig struct {
	Addr     string   `toml:"addr"`
	Password string   `toml:"password"`
	DB       int      `toml:"db"`
	CacheTTL duration `toml:"cache_ttl"`
}

// OracleConfig holds the external price feed parameters. An empty FeedURL
// means only the admin-fed static source is available.
type OracleConfig struct {
	FeedURL string   `toml:"feed_url"`
	Timeout duration `toml:"timeout"`
}

// LedgerConfig holds accrual rates and operation policy.
type LedgerConfig struct {
	BorrowRateBps     int64    `toml:"borrow_rate_bps"`
	DepositRateBps    int64    `toml:"deposit_rate_bps"`
	StrictWithdrawals bool     `toml:"strict_withdrawals"`
	CallTimeout       duration `toml:"call_timeout"`
}

// AdminConfig gates the administrative endpoints. Requests must present the
// owner token; with an empty token every admin request is rejected.
type AdminConfig struct {
	OwnerToken string `toml:"owner_token"`
}

// Defaults returns the built-in configuration before file and env overlays.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:        ":8080",
			MetricsAddr: ":9100",
		},
		Postgres: PostgresConfig{
			MigrationsDir: "migrations",
			BatchSize:     256,
			FlushInterval: duration{100 * time.Millisecond},
			SnapshotEvery: 10_000,
			ChannelBuffer: 4096,
		},
		NATS: NATSConfig{
			Stream:        "LENDLEDGER",
			SubjectPrefix: "lend.events",
			ChannelBuffer: 4096,
		},
		Redis: RedisConfig{
			CacheTTL: duration{5 * time.Second},
		},
		Oracle: OracleConfig{
			Timeout: duration{3 * time.Second},
		},
		Ledger: LedgerConfig{
			BorrowRateBps:  500,
			DepositRateBps: 300,
			CallTimeout:    duration{5 * time.Second},
		},
		LogLevel: "info",
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server.addr must not be empty")
	}
	if c.Ledger.BorrowRateBps < 0 || c.Ledger.DepositRateBps < 0 {
		return fmt.Errorf("config: rates must not be negative")
	}
	if c.Ledger.CallTimeout.Duration <= 0 {
		return fmt.Errorf("config: ledger.call_timeout must be positive")
	}
	if c.Postgres.DSN != "" {
		if c.Postgres.BatchSize <= 0 {
			return fmt.Errorf("config: postgres.batch_size must be positive")
		}
		if c.Postgres.FlushInterval.Duration <= 0 {
			return fmt.Errorf("config: postgres.flush_interval must be positive")
		}
	}
	if c.Redis.Addr != "" && c.Redis.CacheTTL.Duration <= 0 {
		return fmt.Errorf("config: redis.cache_ttl must be positive")
	}
	return nil
}

// duration wraps time.Duration so TOML values can be written as "250ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}
