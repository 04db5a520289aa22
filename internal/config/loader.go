package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges a TOML file at path (optional, skipped when empty) on top of
// the built-in defaults and then applies LEND_* environment overrides. The
// result has NOT been validated; callers should invoke Config.Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env if present, silently ignore if missing.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from well-known LEND_* variables
// when set, so operators can inject secrets without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Server.Addr, "LEND_SERVER_ADDR")
	setStr(&cfg.Server.MetricsAddr, "LEND_METRICS_ADDR")

	setStr(&cfg.Postgres.DSN, "LEND_POSTGRES_DSN")
	setStr(&cfg.Postgres.MigrationsDir, "LEND_POSTGRES_MIGRATIONS_DIR")
	setInt(&cfg.Postgres.BatchSize, "LEND_POSTGRES_BATCH_SIZE")
	setDuration(&cfg.Postgres.FlushInterval, "LEND_POSTGRES_FLUSH_INTERVAL")
	setInt64(&cfg.Postgres.SnapshotEvery, "LEND_POSTGRES_SNAPSHOT_EVERY")
	setInt(&cfg.Postgres.ChannelBuffer, "LEND_POSTGRES_CHANNEL_BUFFER")

	setStr(&cfg.NATS.URL, "LEND_NATS_URL")
	setStr(&cfg.NATS.Stream, "LEND_NATS_STREAM")
	setStr(&cfg.NATS.SubjectPrefix, "LEND_NATS_SUBJECT_PREFIX")
	setInt(&cfg.NATS.ChannelBuffer, "LEND_NATS_CHANNEL_BUFFER")

	setStr(&cfg.Redis.Addr, "LEND_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LEND_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LEND_REDIS_DB")
	setDuration(&cfg.Redis.CacheTTL, "LEND_REDIS_CACHE_TTL")

	setStr(&cfg.Oracle.FeedURL, "LEND_ORACLE_FEED_URL")
	setDuration(&cfg.Oracle.Timeout, "LEND_ORACLE_TIMEOUT")

	setInt64(&cfg.Ledger.BorrowRateBps, "LEND_BORROW_RATE_BPS")
	setInt64(&cfg.Ledger.DepositRateBps, "LEND_DEPOSIT_RATE_BPS")
	setBool(&cfg.Ledger.StrictWithdrawals, "LEND_STRICT_WITHDRAWALS")
	setDuration(&cfg.Ledger.CallTimeout, "LEND_CALL_TIMEOUT")

	setStr(&cfg.Admin.OwnerToken, "LEND_OWNER_TOKEN")

	setStr(&cfg.LogLevel, "LEND_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
