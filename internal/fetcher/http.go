package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/IshaanNene/marketgrab/internal/config"
	"github.com/IshaanNene/marketgrab/internal/parser"
	"github.com/IshaanNene/marketgrab/internal/types"
)

// ErrNoDocument is returned when a session is queried before a successful
// navigation.
var ErrNoDocument = errors.New("no document loaded")

// ErrBodyTooLarge is returned when the decoded page exceeds MaxBodySize. A
// truncated report would still parse, so it is never handed on.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// errRedirectLimit means the server kept redirecting. The host answered, so
// this is never an unreachable source.
var errRedirectLimit = errors.New("redirect limit reached")

// HTTPSession is a static session backed by net/http. It suits sources that
// render the report server-side: the document is complete once the body
// has been read, so WaitIdle returns immediately.
type HTTPSession struct {
	client *http.Client
	cfg    config.HTTPConfig
	logger *slog.Logger

	nav  *types.Navigation
	body []byte
	doc  *parser.HTMLDocument
}

// NewHTTPSession creates a new HTTP session.
func NewHTTPSession(cfg config.HTTPConfig, logger *slog.Logger) (*HTTPSession, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        4,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.TLSInsecure,
		},
		DisableCompression: true, // decoded below, including brotli
	}

	redirectPolicy := func(req *http.Request, via []*http.Request) error {
		if len(via) >= cfg.MaxRedirects {
			return fmt.Errorf("%w (max %d)", errRedirectLimit, cfg.MaxRedirects)
		}
		return nil
	}

	return &HTTPSession{
		client: &http.Client{
			Transport:     transport,
			Jar:           jar,
			CheckRedirect: redirectPolicy,
		},
		cfg:    cfg,
		logger: logger.With("component", "http_session"),
	}, nil
}

// Navigate fetches url and keeps the decoded body as the current document.
// 403 is returned as a normal navigation so the caller can classify it;
// 429 and 5xx are transient navigation errors.
func (s *HTTPSession) Navigate(ctx context.Context, url string, timeout time.Duration) (*types.Navigation, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &types.NavigationError{URL: url, Err: err, Unreachable: true}
	}
	req.Header.Set("User-Agent", s.userAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, navigationError(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &types.NavigationError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("HTTP %d: %s", resp.StatusCode, snippet),
			Transient:  true,
		}
	}

	reader, err := decompressReader(resp, resp.Body)
	if err != nil {
		return nil, &types.NavigationError{URL: url, StatusCode: resp.StatusCode, Err: err, Transient: true}
	}
	if s.cfg.MaxBodySize > 0 {
		reader = io.LimitReader(reader, s.cfg.MaxBodySize+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, navigationError(url, fmt.Errorf("read body: %w", err))
	}
	if s.cfg.MaxBodySize > 0 && int64(len(body)) > s.cfg.MaxBodySize {
		return nil, &types.NavigationError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, s.cfg.MaxBodySize),
			Transient:  true,
		}
	}

	s.body = body
	s.doc = nil
	s.nav = &types.Navigation{
		URL:        url,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Duration:   time.Since(start),
	}
	s.nav.FetchedAt = start.Add(s.nav.Duration)

	s.logger.Debug("navigation complete",
		"url", url,
		"status", resp.StatusCode,
		"size", len(body),
		"duration", s.nav.Duration,
	)
	return s.nav, nil
}

// Content returns the body of the last successful navigation.
func (s *HTTPSession) Content(ctx context.Context) (string, error) {
	if s.nav == nil {
		return "", ErrNoDocument
	}
	return string(s.body), ctx.Err()
}

// WaitIdle returns immediately: a static document never changes.
func (s *HTTPSession) WaitIdle(ctx context.Context, _ time.Duration) error {
	if s.nav == nil {
		return ErrNoDocument
	}
	return ctx.Err()
}

// Document parses the body once and reuses the tree across attempts.
func (s *HTTPSession) Document(ctx context.Context) (parser.Document, error) {
	if s.nav == nil {
		return nil, ErrNoDocument
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.doc == nil {
		doc, err := parser.NewHTMLDocument(s.body)
		if err != nil {
			return nil, err
		}
		s.doc = doc
	}
	return s.doc, nil
}

// Close releases idle connections.
func (s *HTTPSession) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *HTTPSession) userAgent() string {
	if s.cfg.UserAgent != "" {
		return s.cfg.UserAgent
	}
	return "marketgrab/" + config.Version
}

// decompressReader wraps a reader with the appropriate decompressor.
// Handles gzip, deflate, and brotli (br) encodings.
func decompressReader(resp *http.Response, reader io.Reader) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(reader)
	case "deflate":
		return flate.NewReader(reader), nil
	case "br":
		return brotli.NewReader(reader), nil
	default:
		return reader, nil
	}
}
