package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StateFile != "./data/amm_state.json" || cfg.FeeBps != 30 || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RetryBackoff != 500*time.Millisecond || cfg.MaxRetries != 5 {
		t.Fatalf("unexpected retry defaults: %+v", cfg)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "amm.yaml")
	content := "listen: \":9000\"\nfee-bps: 25\nlog-level: debug\n"
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("AMM_LOG_LEVEL", "warn")
	t.Setenv("AMM_PG_DSN", "postgres://localhost/amm")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Uint16("fee-bps", 30, "")
	flags.String("listen", ":8080", "")
	if err := flags.Parse([]string{"--fee-bps=5"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(cfgFile, flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.FeeBps != 5 {
		t.Fatalf("flag should win, got fee %d", cfg.FeeBps)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("env should beat file, got %q", cfg.LogLevel)
	}
	if cfg.Listen != ":9000" {
		t.Fatalf("file should beat flag default, got %q", cfg.Listen)
	}
	if cfg.PGDSN != "postgres://localhost/amm" {
		t.Fatalf("pg dsn from env, got %q", cfg.PGDSN)
	}
}

func TestLoadRejectsFee(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("AMM_FEE_BPS", "10001")
	if _, err := Load("", nil); err == nil {
		t.Fatalf("expected fee error")
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
