package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if err := ValidateURL(cfg.Source.BaseURL); err != nil {
		return fmt.Errorf("source.base_url: %w", err)
	}
	if cfg.Source.DateParam == "" {
		return fmt.Errorf("source.date_param must not be empty")
	}

	if err := cfg.Extract.Columns.Validate(); err != nil {
		return fmt.Errorf("extract.columns: %w", err)
	}
	if len(cfg.Extract.Selectors) == 0 {
		return fmt.Errorf("extract.selectors must list at least one selector")
	}
	for i, sel := range cfg.Extract.Selectors {
		if strings.TrimSpace(sel) == "" {
			return fmt.Errorf("extract.selectors[%d] is empty", i)
		}
	}
	if cfg.Extract.MaxAttempts < 1 {
		return fmt.Errorf("extract.max_attempts must be >= 1, got %d", cfg.Extract.MaxAttempts)
	}
	if cfg.Extract.RetryBackoff < 0 {
		return fmt.Errorf("extract.retry_backoff must be >= 0")
	}
	if cfg.Extract.ReadyTimeout <= 0 {
		return fmt.Errorf("extract.ready_timeout must be > 0")
	}
	if cfg.Extract.NavigationTimeout <= 0 {
		return fmt.Errorf("extract.navigation_timeout must be > 0")
	}

	if cfg.Browser.RemoteURL != "" {
		if _, err := url.Parse(cfg.Browser.RemoteURL); err != nil {
			return fmt.Errorf("browser.remote_url: %w", err)
		}
	}
	if cfg.Browser.Proxy != "" {
		if _, err := url.Parse(cfg.Browser.Proxy); err != nil {
			return fmt.Errorf("browser.proxy: %w", err)
		}
	}

	if cfg.HTTP.MaxBodySize <= 0 {
		return fmt.Errorf("http.max_body_size must be > 0")
	}
	if cfg.HTTP.MaxRedirects < 0 {
		return fmt.Errorf("http.max_redirects must be >= 0")
	}

	validStorageTypes := map[string]bool{
		"csv": true, "json": true, "jsonl": true, "sqlite": true, "mongodb": true,
	}
	kinds := StorageTypes(cfg.Storage.Type)
	if len(kinds) == 0 {
		return fmt.Errorf("storage.type must not be empty")
	}
	for _, t := range kinds {
		if !validStorageTypes[t] {
			return fmt.Errorf("storage.type %q is not supported (valid: csv, json, jsonl, sqlite, mongodb)", t)
		}
		if t == "mongodb" && cfg.Storage.MongoURI == "" {
			return fmt.Errorf("storage.mongo_uri is required for mongodb storage")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}

	return nil
}

// StorageTypes splits a comma-separated storage.type value.
func StorageTypes(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// ValidateURL checks if a URL string is usable as a report source.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
