package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvHost, EnvPort, EnvUser, EnvPassword, EnvDatabase} {
		t.Setenv(k, "")
	}
}

func TestParseDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	ch := cfg.ClickHouse
	if ch.Host != "localhost" || ch.Port != 9000 || ch.Database != "default" || ch.User != "default" {
		t.Errorf("unexpected clickhouse defaults: %+v", ch)
	}
	if cfg.Mutations.PollInterval != time.Second {
		t.Errorf("PollInterval = %v, want 1s", cfg.Mutations.PollInterval)
	}
	if cfg.Mutations.WaitTimeout != 0 {
		t.Errorf("WaitTimeout = %v, want unbounded", cfg.Mutations.WaitTimeout)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if !strings.HasSuffix(cfg.Journal.Path, filepath.Join(".chkit", "history.db")) || strings.HasPrefix(cfg.Journal.Path, "~") {
		t.Errorf("journal path not expanded: %q", cfg.Journal.Path)
	}
}

func TestParseFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CH_PASS", "s3cret")
	doc := `
clickhouse:
  host: ch.internal
  secure: true
  database: analytics
  user: etl
  password: ${CH_PASS}
  compression: zstd
  settings:
    max_execution_time: "60"
mutations:
  poll_interval: 250ms
  wait_timeout: 10m
logging:
  level: debug
  format: json
journal:
  path: /var/lib/chkit/history.db
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.ClickHouse.Port != 9440 {
		t.Errorf("secure default port = %d, want 9440", cfg.ClickHouse.Port)
	}
	if cfg.ClickHouse.Password != "s3cret" {
		t.Errorf("password not expanded: %q", cfg.ClickHouse.Password)
	}
	if cfg.ClickHouse.Settings["max_execution_time"] != "60" {
		t.Errorf("settings = %v", cfg.ClickHouse.Settings)
	}
	opts := cfg.MutationOptions()
	if opts.PollInterval != 250*time.Millisecond || opts.Timeout != 10*time.Minute {
		t.Errorf("MutationOptions = %+v", opts)
	}
	if opts.PreventParallel {
		t.Error("PreventParallel must be chosen per call")
	}
	if cfg.Journal.Path != "/var/lib/chkit/history.db" {
		t.Errorf("journal path = %q", cfg.Journal.Path)
	}
	if got := cfg.Redacted().ClickHouse.Password; got == "s3cret" {
		t.Error("Redacted leaked the password")
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvHost, "env-host")
	t.Setenv(EnvPort, "19000")
	t.Setenv(EnvUser, "env-user")
	t.Setenv(EnvPassword, "env-pass")
	t.Setenv(EnvDatabase, "env_db")

	cfg, err := Parse([]byte("clickhouse:\n  host: file-host\n  port: 9000\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ch := cfg.ClickHouse
	if ch.Host != "env-host" || ch.Port != 19000 || ch.User != "env-user" || ch.Password != "env-pass" || ch.Database != "env_db" {
		t.Errorf("env overrides not applied: %+v", ch)
	}

	t.Setenv(EnvPort, "nine")
	if _, err := Parse(nil); err == nil || !strings.Contains(err.Error(), EnvPort) {
		t.Errorf("expected %s parse error, got %v", EnvPort, err)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		errorMsg string
	}{
		{"port out of range", "clickhouse: {port: 70000}", "clickhouse.port"},
		{"unknown compression", "clickhouse: {compression: gzip}", "clickhouse.compression"},
		{"negative poll", "mutations: {poll_interval: -1s}", "mutations.poll_interval"},
		{"negative timeout", "mutations: {wait_timeout: -5s}", "mutations.wait_timeout"},
		{"bad level", "logging: {level: loud}", "logging.level"},
		{"bad format", "logging: {format: xml}", "logging.format"},
		{"bad duration", "mutations: {poll_interval: soon}", "parsing config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.errorMsg)
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("expected error containing %q, got %q", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFile)
	if err := os.WriteFile(path, []byte("clickhouse:\n  host: from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ClickHouse.Host != "from-file" {
		t.Errorf("host = %q", cfg.ClickHouse.Host)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
