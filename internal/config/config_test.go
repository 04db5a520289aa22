package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("server addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Ledger.BorrowRateBps != 500 || cfg.Ledger.DepositRateBps != 300 {
		t.Errorf("rates = %d/%d, want 500/300", cfg.Ledger.BorrowRateBps, cfg.Ledger.DepositRateBps)
	}
	if cfg.Ledger.StrictWithdrawals {
		t.Error("strict withdrawals should default off")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadTOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lend.toml")
	content := `
log_level = "debug"

[server]
addr = ":9999"

[ledger]
borrow_rate_bps = 700
strict_withdrawals = true
call_timeout = "2s"

[postgres]
dsn = "postgres://localhost/lend"
flush_interval = "250ms"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("server addr = %q, want :9999", cfg.Server.Addr)
	}
	if cfg.Ledger.BorrowRateBps != 700 {
		t.Errorf("borrow rate = %d, want 700", cfg.Ledger.BorrowRateBps)
	}
	if !cfg.Ledger.StrictWithdrawals {
		t.Error("strict withdrawals should be enabled")
	}
	if cfg.Ledger.CallTimeout.Duration != 2*time.Second {
		t.Errorf("call timeout = %v, want 2s", cfg.Ledger.CallTimeout.Duration)
	}
	if cfg.Postgres.FlushInterval.Duration != 250*time.Millisecond {
		t.Errorf("flush interval = %v, want 250ms", cfg.Postgres.FlushInterval.Duration)
	}
	// File leaves unrelated defaults intact.
	if cfg.Ledger.DepositRateBps != 300 {
		t.Errorf("deposit rate = %d, want default 300", cfg.Ledger.DepositRateBps)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LEND_SERVER_ADDR", ":7070")
	t.Setenv("LEND_BORROW_RATE_BPS", "900")
	t.Setenv("LEND_STRICT_WITHDRAWALS", "true")
	t.Setenv("LEND_CALL_TIMEOUT", "7s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("server addr = %q, want :7070", cfg.Server.Addr)
	}
	if cfg.Ledger.BorrowRateBps != 900 {
		t.Errorf("borrow rate = %d, want 900", cfg.Ledger.BorrowRateBps)
	}
	if !cfg.Ledger.StrictWithdrawals {
		t.Error("strict withdrawals should be enabled via env")
	}
	if cfg.Ledger.CallTimeout.Duration != 7*time.Second {
		t.Errorf("call timeout = %v, want 7s", cfg.Ledger.CallTimeout.Duration)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Addr = ""
	if err := cfg.Validate(); err == nil {
		t.Error("empty server addr should fail validation")
	}

	cfg = Defaults()
	cfg.Ledger.BorrowRateBps = -1
	if err := cfg.Validate(); err == nil {
		t.Error("negative rate should fail validation")
	}

	cfg = Defaults()
	cfg.Postgres.DSN = "postgres://x"
	cfg.Postgres.BatchSize = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero batch size with a DSN should fail validation")
	}
}
