package config

import (
	"time"

	"github.com/IshaanNene/marketgrab/internal/types"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for marketgrab.
type Config struct {
	Source  SourceConfig  `mapstructure:"source"  yaml:"source"`
	Extract ExtractConfig `mapstructure:"extract" yaml:"extract"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	HTTP    HTTPConfig    `mapstructure:"http"    yaml:"http"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// SourceConfig describes where the report lives.
type SourceConfig struct {
	BaseURL   string            `mapstructure:"base_url"   yaml:"base_url"`
	DateParam string            `mapstructure:"date_param" yaml:"date_param"`
	DayOffset int               `mapstructure:"day_offset" yaml:"day_offset"`
	Params    map[string]string `mapstructure:"params"     yaml:"params"` // static query parameters
}

// ExtractConfig controls the table-extraction policy.
type ExtractConfig struct {
	Columns           types.ColumnMap `mapstructure:"columns"            yaml:"columns"`
	Selectors         []string        `mapstructure:"selectors"          yaml:"selectors"`
	DenialMarkers     []string        `mapstructure:"denial_markers"     yaml:"denial_markers"`
	MaxAttempts       int             `mapstructure:"max_attempts"       yaml:"max_attempts"`
	RetryBackoff      time.Duration   `mapstructure:"retry_backoff"      yaml:"retry_backoff"`
	ReadyTimeout      time.Duration   `mapstructure:"ready_timeout"      yaml:"ready_timeout"`
	NavigationTimeout time.Duration   `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// BrowserConfig controls the headless browser session.
type BrowserConfig struct {
	Enabled     bool          `mapstructure:"enabled"       yaml:"enabled"` // false = static HTTP session
	RemoteURL   string        `mapstructure:"remote_url"    yaml:"remote_url"`
	Headless    bool          `mapstructure:"headless"      yaml:"headless"`
	Stealth     bool          `mapstructure:"stealth"       yaml:"stealth"`
	UserAgent   string        `mapstructure:"user_agent"    yaml:"user_agent"`
	UserDataDir string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	WindowSize  string        `mapstructure:"window_size"   yaml:"window_size"`
	Proxy       string        `mapstructure:"proxy"         yaml:"proxy"`
	QuietPeriod time.Duration `mapstructure:"quiet_period"  yaml:"quiet_period"`
}

// HTTPConfig controls the static HTTP session and the reachability probe.
type HTTPConfig struct {
	UserAgent       string        `mapstructure:"user_agent"        yaml:"user_agent"`
	MaxBodySize     int64         `mapstructure:"max_body_size"     yaml:"max_body_size"`
	TLSInsecure     bool          `mapstructure:"tls_insecure"      yaml:"tls_insecure"`
	MaxRedirects    int           `mapstructure:"max_redirects"     yaml:"max_redirects"`
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout"`
}

// StorageConfig controls output/storage.
type StorageConfig struct {
	Type       string `mapstructure:"type"        yaml:"type"` // csv, json, jsonl, sqlite, mongodb, or a comma list
	OutputPath string `mapstructure:"output_path" yaml:"output_path"`
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	MongoURI   string `mapstructure:"mongo_uri"   yaml:"mongo_uri"`
	MongoDB    string `mapstructure:"mongo_db"    yaml:"mongo_db"`
	MongoColl  string `mapstructure:"mongo_coll"  yaml:"mongo_coll"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level      string `mapstructure:"level"        yaml:"level"`
	Format     string `mapstructure:"format"       yaml:"format"`
	Output     string `mapstructure:"output"       yaml:"output"` // stderr, stdout, or a file path
	MaxSizeMB  int    `mapstructure:"max_size_mb"  yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"  yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress"     yaml:"compress"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// DefaultSelectors are the row selectors tried in order. The first matches
// the canonical report layout; the rest cover degraded renderings.
func DefaultSelectors() []string {
	return []string{
		"table#price-report tbody tr",
		"table.price-report tbody tr",
		"div.report-table table tr",
		`[role="table"] [role="row"]`,
		"//table[.//th[contains(., 'Weight')]]//tr[td]",
	}
}

// DefaultDenialMarkers are body fragments that identify a blocked or
// challenge page.
func DefaultDenialMarkers() []string {
	return []string{
		"403 Forbidden",
		"Access Denied",
		"Forbidden",
		"Attention Required! | Cloudflare",
		"cf-browser-verification",
		"Just a moment...",
	}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			BaseURL:   "https://markets.example.com/reports/daily-prices",
			DateParam: "date",
			DayOffset: -1,
			Params: map[string]string{
				"region": "NA",
				"view":   "table",
			},
		},
		Extract: ExtractConfig{
			Columns:           types.DefaultColumnMap(),
			Selectors:         DefaultSelectors(),
			DenialMarkers:     DefaultDenialMarkers(),
			MaxAttempts:       3,
			RetryBackoff:      2 * time.Second,
			ReadyTimeout:      30 * time.Second,
			NavigationTimeout: 60 * time.Second,
		},
		Browser: BrowserConfig{
			Enabled:     true,
			Headless:    true,
			UserAgent:   defaultUserAgent,
			WindowSize:  "1366,768",
			QuietPeriod: 500 * time.Millisecond,
		},
		HTTP: HTTPConfig{
			UserAgent:       defaultUserAgent,
			MaxBodySize:     10 * 1024 * 1024, // 10MB
			MaxRedirects:    10,
			IdleConnTimeout: 90 * time.Second,
		},
		Storage: StorageConfig{
			Type:       "csv",
			OutputPath: "./output/prices.csv",
			SQLitePath: "./output/prices.db",
			MongoDB:    "marketgrab",
			MongoColl:  "prices",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}
