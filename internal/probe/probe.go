// Package probe checks whether a report source can be reached before a
// full extraction is attempted.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/IshaanNene/marketgrab/internal/config"
	"github.com/IshaanNene/marketgrab/internal/extract"
	"github.com/IshaanNene/marketgrab/internal/fetcher"
	"github.com/IshaanNene/marketgrab/internal/types"
)

// Report is the outcome of one probe.
type Report struct {
	URL         string        `json:"url"`
	Host        string        `json:"host"`
	Addresses   []string      `json:"addresses,omitempty"`
	DNSDuration time.Duration `json:"dns_duration"`
	StatusCode  int           `json:"status_code,omitempty"`
	Latency     time.Duration `json:"latency"`
	Size        int           `json:"size"`
	Blocked     bool          `json:"blocked"`
	Marker      string        `json:"marker,omitempty"`
}

// Resolver looks up host addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Prober resolves a source host and fetches the page once.
type Prober struct {
	resolver Resolver
	httpCfg  config.HTTPConfig
	markers  []string
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures a Prober.
type Option func(*Prober)

// WithResolver replaces the system resolver.
func WithResolver(r Resolver) Option {
	return func(p *Prober) { p.resolver = r }
}

// New creates a Prober from the HTTP and extraction settings.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Prober {
	p := &Prober{
		resolver: net.DefaultResolver,
		httpCfg:  cfg.HTTP,
		markers:  cfg.Extract.DenialMarkers,
		timeout:  cfg.Extract.NavigationTimeout,
		logger:   logger.With("component", "probe"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Check resolves the host of rawURL and performs one GET. It returns an
// error wrapping types.ErrUnreachable when the host cannot be resolved or
// contacted. A blocked response is reported, not returned as an error.
func (p *Prober) Check(ctx context.Context, rawURL string) (*Report, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	rep := &Report{URL: rawURL, Host: u.Hostname()}

	start := time.Now()
	addrs, err := p.resolver.LookupHost(ctx, rep.Host)
	rep.DNSDuration = time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		return rep, fmt.Errorf("%w: resolve %s: %v", types.ErrUnreachable, rep.Host, err)
	}
	rep.Addresses = addrs
	p.logger.Debug("host resolved", "host", rep.Host, "addresses", addrs, "duration", rep.DNSDuration)

	sess, err := fetcher.NewHTTPSession(p.httpCfg, p.logger)
	if err != nil {
		return rep, err
	}
	defer sess.Close()

	start = time.Now()
	nav, err := sess.Navigate(ctx, rawURL, p.timeout)
	rep.Latency = time.Since(start)
	if err != nil {
		var ne *types.NavigationError
		if errors.As(err, &ne) {
			rep.StatusCode = ne.StatusCode
			if ne.Unreachable {
				return rep, fmt.Errorf("%w: %v", types.ErrUnreachable, err)
			}
		}
		return rep, err
	}
	rep.StatusCode = nav.StatusCode

	body, err := sess.Content(ctx)
	if err != nil {
		return rep, err
	}
	rep.Size = len(body)
	rep.Marker = extract.DenialMarker(body, p.markers)
	rep.Blocked = nav.IsForbidden() || rep.Marker != ""

	p.logger.Info("probe complete",
		"url", rawURL,
		"status", rep.StatusCode,
		"latency", rep.Latency,
		"blocked", rep.Blocked,
	)
	return rep, nil
}
