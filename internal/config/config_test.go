package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad base url", func(c *Config) { c.Source.BaseURL = "ftp://x" }, "source.base_url"},
		{"negative column", func(c *Config) { c.Extract.Columns.Last = -1 }, "extract.columns"},
		{"no selectors", func(c *Config) { c.Extract.Selectors = nil }, "extract.selectors"},
		{"blank selector", func(c *Config) { c.Extract.Selectors = []string{"tr", " "} }, "extract.selectors[1]"},
		{"zero attempts", func(c *Config) { c.Extract.MaxAttempts = 0 }, "max_attempts"},
		{"zero ready timeout", func(c *Config) { c.Extract.ReadyTimeout = 0 }, "ready_timeout"},
		{"unknown storage", func(c *Config) { c.Storage.Type = "csv,parquet" }, "parquet"},
		{"mongo without uri", func(c *Config) { c.Storage.Type = "mongodb" }, "mongo_uri"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestStorageTypes(t *testing.T) {
	got := StorageTypes(" CSV, sqlite,,json ")
	want := []string{"csv", "sqlite", "json"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marketgrab.yaml")
	yaml := `
source:
  base_url: https://prices.test/report
extract:
  max_attempts: 5
  retry_backoff: 250ms
  columns:
    low: 1
    high: 2
    last: 3
    weight_avg: 4
storage:
  type: json
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Source.BaseURL != "https://prices.test/report" {
		t.Errorf("base url not loaded, got %q", cfg.Source.BaseURL)
	}
	if cfg.Extract.MaxAttempts != 5 {
		t.Errorf("expected max_attempts 5, got %d", cfg.Extract.MaxAttempts)
	}
	if cfg.Extract.RetryBackoff != 250*time.Millisecond {
		t.Errorf("expected 250ms backoff, got %s", cfg.Extract.RetryBackoff)
	}
	if cfg.Extract.Columns.WeightAvg != 4 {
		t.Errorf("expected weight_avg column 4, got %d", cfg.Extract.Columns.WeightAvg)
	}
	if cfg.Storage.Type != "json" {
		t.Errorf("expected json storage, got %q", cfg.Storage.Type)
	}
	// Untouched keys keep their defaults.
	if cfg.Extract.ReadyTimeout != 30*time.Second {
		t.Errorf("expected default ready timeout, got %s", cfg.Extract.ReadyTimeout)
	}
	if len(cfg.Extract.Selectors) != len(DefaultSelectors()) {
		t.Errorf("expected default selectors, got %v", cfg.Extract.Selectors)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadBrowserEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marketgrab.yaml")
	if err := os.WriteFile(path, []byte("browser:\n  headless: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MARKETGRAB_BROWSER_PROXY", "http://proxy.test:3128")
	t.Setenv("MARKETGRAB_BROWSER_USER_DATA_DIR", "/tmp/marketgrab-profile")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Browser.Proxy != "http://proxy.test:3128" {
		t.Errorf("expected proxy from env, got %q", cfg.Browser.Proxy)
	}
	if cfg.Browser.UserDataDir != "/tmp/marketgrab-profile" {
		t.Errorf("expected user data dir from env, got %q", cfg.Browser.UserDataDir)
	}
}
