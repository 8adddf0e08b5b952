// Package marketgrab provides a public SDK for embedding the daily price
// report extraction as a library.
//
// Example usage:
//
//	g, err := marketgrab.New(
//	    marketgrab.WithBaseURL("https://markets.example.com/reports/daily-prices"),
//	    marketgrab.WithOutput("csv", "./output/prices.csv"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	report, err := g.Run(ctx, time.Now())
package marketgrab

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/IshaanNene/marketgrab/internal/config"
	"github.com/IshaanNene/marketgrab/internal/extract"
	"github.com/IshaanNene/marketgrab/internal/fetcher"
	"github.com/IshaanNene/marketgrab/internal/observability"
	"github.com/IshaanNene/marketgrab/internal/source"
	"github.com/IshaanNene/marketgrab/internal/storage"
	"github.com/IshaanNene/marketgrab/internal/types"
)

// Record is one extracted price row.
type Record = types.Record

// Session is the page capability the extraction loop drives.
type Session = extract.Session

// Report summarizes a completed run.
type Report struct {
	URL        string
	ReportDate string
	Records    []Record
	Attempts   int
	Selector   string
	Storage    string
	Duration   time.Duration
}

// Grabber builds the report URL, extracts the table and stores the records.
type Grabber struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	session Session
	sleep   extract.SleepFunc
	builder *source.Builder
}

// Option configures a Grabber.
type Option func(*Grabber)

// WithConfig replaces the default configuration with a copy of cfg. Later
// options still apply, to the copy.
func WithConfig(cfg *config.Config) Option {
	return func(g *Grabber) {
		c := *cfg
		c.Source.Params = maps.Clone(cfg.Source.Params)
		c.Extract.Selectors = slices.Clone(cfg.Extract.Selectors)
		c.Extract.DenialMarkers = slices.Clone(cfg.Extract.DenialMarkers)
		g.cfg = &c
	}
}

// WithBaseURL sets the report page URL without the date parameter.
func WithBaseURL(u string) Option {
	return func(g *Grabber) { g.cfg.Source.BaseURL = u }
}

// WithOutput sets the storage type(s) and the output file path.
func WithOutput(format, path string) Option {
	return func(g *Grabber) {
		g.cfg.Storage.Type = format
		g.cfg.Storage.OutputPath = path
	}
}

// WithStatic fetches the page with plain HTTP instead of a browser.
func WithStatic() Option {
	return func(g *Grabber) { g.cfg.Browser.Enabled = false }
}

// WithRemoteBrowser connects to an already running Chromium.
func WithRemoteBrowser(url string) Option {
	return func(g *Grabber) {
		g.cfg.Browser.Enabled = true
		g.cfg.Browser.RemoteURL = url
	}
}

// WithRetry sets the attempt budget and the constant backoff between
// attempts.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(g *Grabber) {
		g.cfg.Extract.MaxAttempts = maxAttempts
		g.cfg.Extract.RetryBackoff = backoff
	}
}

// WithSelectors replaces the candidate row selectors, canonical first.
func WithSelectors(selectors ...string) Option {
	return func(g *Grabber) { g.cfg.Extract.Selectors = selectors }
}

// WithSession supplies the session instead of opening one per run. The
// caller keeps ownership and closes it.
func WithSession(s Session) Option {
	return func(g *Grabber) { g.session = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Grabber) { g.logger = l }
}

// WithMetrics records extraction and storage counters on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Grabber) { g.metrics = m }
}

// WithSleep replaces the retry backoff clock.
func WithSleep(fn extract.SleepFunc) Option {
	return func(g *Grabber) { g.sleep = fn }
}

// WithVerbose enables debug-level logging.
func WithVerbose() Option {
	return func(g *Grabber) { g.cfg.Logging.Level = "debug" }
}

// New creates a Grabber with the given options.
func New(opts ...Option) (*Grabber, error) {
	g := &Grabber{cfg: config.DefaultConfig()}
	for _, opt := range opts {
		opt(g)
	}

	if err := config.Validate(g.cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if g.logger == nil {
		level, err := observability.ParseLevel(g.cfg.Logging.Level)
		if err != nil {
			return nil, err
		}
		g.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	b, err := source.NewBuilder(g.cfg.Source)
	if err != nil {
		return nil, err
	}
	g.builder = b
	return g, nil
}

// URL returns the report URL for the reference time.
func (g *Grabber) URL(ref time.Time) string {
	return g.builder.URL(ref)
}

// Extract fetches and validates the report for ref without storing it.
func (g *Grabber) Extract(ctx context.Context, ref time.Time) (*extract.Result, error) {
	sess, closer, err := g.openSession(ctx)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var opts []extract.Option
	if g.metrics != nil {
		opts = append(opts, extract.WithMetrics(g.metrics))
	}
	if g.sleep != nil {
		opts = append(opts, extract.WithSleep(g.sleep))
	}
	policy := extract.NewPolicy(g.cfg.Extract, g.logger, opts...)

	url := g.builder.URL(ref)
	g.logger.Info("extracting report", "url", url, "report_date", g.builder.ReportDate(ref))
	return policy.Run(ctx, sess, url)
}

// Run extracts the report for ref and hands the records to storage. No
// output is written when extraction fails.
func (g *Grabber) Run(ctx context.Context, ref time.Time) (*Report, error) {
	res, err := g.Extract(ctx, ref)
	if err != nil {
		return nil, err
	}

	meta := storage.Meta{
		ReportDate: g.builder.ReportDate(ref),
		SourceURL:  res.URL,
		FetchedAt:  time.Now(),
	}
	if res.Navigation != nil && !res.Navigation.FetchedAt.IsZero() {
		meta.FetchedAt = res.Navigation.FetchedAt
	}

	store, err := storage.New(g.cfg.Storage, meta, g.logger)
	if err != nil {
		return nil, fmt.Errorf("create storage: %w", err)
	}
	if err := store.Store(res.Records); err != nil {
		_ = store.Close()
		g.count(func(m *observability.Metrics) { m.StoreErrors.Add(1) })
		return nil, err
	}
	if err := store.Close(); err != nil {
		g.count(func(m *observability.Metrics) { m.StoreErrors.Add(1) })
		return nil, &types.StorageError{Backend: store.Name(), Err: err}
	}
	g.count(func(m *observability.Metrics) { m.RecordsStored.Add(int64(len(res.Records))) })

	return &Report{
		URL:        res.URL,
		ReportDate: meta.ReportDate,
		Records:    res.Records,
		Attempts:   res.Attempts,
		Selector:   res.Selector,
		Storage:    store.Name(),
		Duration:   res.Duration,
	}, nil
}

// Config returns the effective configuration.
func (g *Grabber) Config() *config.Config {
	return g.cfg
}

func (g *Grabber) openSession(ctx context.Context) (Session, io.Closer, error) {
	if g.session != nil {
		return g.session, io.NopCloser(nil), nil
	}
	if g.cfg.Browser.Enabled {
		bs, err := fetcher.NewBrowserSession(ctx, g.cfg.Browser, g.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open browser session: %w", err)
		}
		return bs, bs, nil
	}
	hs, err := fetcher.NewHTTPSession(g.cfg.HTTP, g.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open http session: %w", err)
	}
	return hs, hs, nil
}

func (g *Grabber) count(fn func(*observability.Metrics)) {
	if g.metrics != nil {
		fn(g.metrics)
	}
}
