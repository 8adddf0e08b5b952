package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/IshaanNene/marketgrab/internal/config"
	"github.com/IshaanNene/marketgrab/internal/parser"
	"github.com/IshaanNene/marketgrab/internal/types"
)

// BrowserSession drives one Chromium page via Rod. It either launches a
// local browser or connects to the DevTools endpoint in RemoteURL.
type BrowserSession struct {
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
	cfg      config.BrowserConfig
	logger   *slog.Logger
	loaded   bool
}

// NewBrowserSession starts or attaches to a browser and opens a blank page.
func NewBrowserSession(ctx context.Context, cfg config.BrowserConfig, logger *slog.Logger) (*BrowserSession, error) {
	bs := &BrowserSession{
		cfg:    cfg,
		logger: logger.With("component", "browser_session"),
	}

	controlURL, err := bs.controlURL()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().Context(ctx).ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		bs.cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	bs.browser = browser

	// Stealth only patches the page at bootstrap; it does nothing to get
	// past an access check.
	var page *rod.Page
	if cfg.Stealth {
		page, err = stealth.Page(browser)
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		_ = bs.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	bs.page = page

	if cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: cfg.UserAgent}); err != nil {
			bs.logger.Warn("failed to set user agent", "error", err)
		}
	}
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		_ = bs.Close()
		return nil, fmt.Errorf("enable network events: %w", err)
	}

	bs.logger.Info("browser session ready",
		"remote", cfg.RemoteURL != "",
		"headless", cfg.Headless,
		"stealth", cfg.Stealth,
	)
	return bs, nil
}

// controlURL resolves RemoteURL or launches Chromium with the usual
// container-friendly flags.
func (bs *BrowserSession) controlURL() (string, error) {
	if bs.cfg.RemoteURL != "" {
		return launcher.ResolveURL(bs.cfg.RemoteURL)
	}

	l := launcher.New().
		Headless(bs.cfg.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-blink-features", "AutomationControlled")

	if bs.cfg.Proxy != "" {
		l = l.Proxy(bs.cfg.Proxy)
	}
	if bs.cfg.UserDataDir != "" {
		l = l.UserDataDir(bs.cfg.UserDataDir)
	}
	if bs.cfg.WindowSize != "" {
		l = l.Set("window-size", bs.cfg.WindowSize)
	}

	bs.launcher = l
	return l.Launch()
}

// Navigate loads url and reports the status of the main document response.
func (bs *BrowserSession) Navigate(ctx context.Context, url string, timeout time.Duration) (*types.Navigation, error) {
	start := time.Now()
	page := bs.page.Context(ctx)
	if timeout > 0 {
		page = page.Timeout(timeout)
		defer page.CancelTimeout()
	}

	// The subscription ends with evCtx, including when Navigate fails and
	// waitResponse is never called.
	evCtx, cancelEvents := context.WithCancel(page.GetContext())
	defer cancelEvents()

	var doc *proto.NetworkResponse
	waitResponse := page.Context(evCtx).EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type == proto.NetworkResourceTypeDocument {
			doc = e.Response
			return true
		}
		return false
	})

	if err := page.Navigate(url); err != nil {
		return nil, navigationError(url, err)
	}
	waitResponse()
	bs.loaded = true

	nav := &types.Navigation{
		URL:      url,
		FinalURL: url,
		Duration: time.Since(start),
	}
	nav.FetchedAt = start.Add(nav.Duration)
	if doc != nil {
		nav.StatusCode = doc.Status
		nav.FinalURL = doc.URL
		nav.Headers = make(http.Header, len(doc.Headers))
		for k, v := range doc.Headers {
			nav.Headers.Set(k, v.String())
		}
	} else if err := ctx.Err(); err != nil {
		return nil, navigationError(url, err)
	}

	bs.logger.Debug("navigation complete",
		"url", url,
		"status", nav.StatusCode,
		"duration", nav.Duration,
	)
	return nav, nil
}

// Content returns the serialized DOM.
func (bs *BrowserSession) Content(ctx context.Context) (string, error) {
	if !bs.loaded {
		return "", ErrNoDocument
	}
	return bs.page.Context(ctx).HTML()
}

// WaitIdle waits until the page has produced no DOM or network activity
// for the configured quiet period.
func (bs *BrowserSession) WaitIdle(ctx context.Context, timeout time.Duration) error {
	if !bs.loaded {
		return ErrNoDocument
	}
	page := bs.page.Context(ctx)
	if timeout > 0 {
		page = page.Timeout(timeout)
		defer page.CancelTimeout()
	}
	quiet := bs.cfg.QuietPeriod
	if quiet <= 0 {
		quiet = 300 * time.Millisecond
	}
	return page.WaitStable(quiet)
}

// Document returns a view that evaluates selectors inside the live page.
func (bs *BrowserSession) Document(context.Context) (parser.Document, error) {
	if !bs.loaded {
		return nil, ErrNoDocument
	}
	return &PageDocument{page: bs.page}, nil
}

// Close shuts down the page and browser and removes a launched browser's
// profile.
func (bs *BrowserSession) Close() error {
	var err error
	if bs.page != nil {
		_ = bs.page.Close()
	}
	if bs.browser != nil {
		err = bs.browser.Close()
	}
	bs.cleanup()
	return err
}

func (bs *BrowserSession) cleanup() {
	if bs.launcher != nil {
		bs.launcher.Kill()
		if bs.cfg.UserDataDir == "" {
			bs.launcher.Cleanup()
		}
	}
}
