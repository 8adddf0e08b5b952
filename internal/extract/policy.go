package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IshaanNene/marketgrab/internal/config"
	"github.com/IshaanNene/marketgrab/internal/observability"
	"github.com/IshaanNene/marketgrab/internal/parser"
	"github.com/IshaanNene/marketgrab/internal/types"
)

// State names a step of the extraction state machine.
type State string

const (
	StateNavigate    State = "navigate"
	StateCheckAccess State = "check_access"
	StateReady       State = "ready"
	StateResolve     State = "resolve"
	StateExtract     State = "extract"
	StateValidate    State = "validate"
	StateRetryWait   State = "retry_wait"
	StateSuccess     State = "success"
	StateFatal       State = "fatal"
)

// transitions lists the legal successors of every non-terminal state.
var transitions = map[State][]State{
	StateNavigate:    {StateCheckAccess, StateRetryWait, StateFatal},
	StateCheckAccess: {StateReady, StateRetryWait, StateFatal},
	StateReady:       {StateResolve, StateRetryWait, StateFatal},
	StateResolve:     {StateExtract, StateRetryWait, StateFatal},
	StateExtract:     {StateValidate, StateRetryWait, StateFatal},
	StateValidate:    {StateSuccess, StateRetryWait},
	StateRetryWait:   {StateNavigate, StateCheckAccess, StateFatal},
}

func legal(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Result is the outcome of a successful run.
type Result struct {
	URL        string
	Records    []types.Record
	Selector   string
	Attempts   int
	Stats      parser.RowStats
	Navigation *types.Navigation
	Duration   time.Duration
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures a Policy.
type Option func(*Policy)

// WithSleep replaces the backoff clock. Tests use it to observe waits
// without spending them.
func WithSleep(fn SleepFunc) Option {
	return func(p *Policy) { p.sleep = fn }
}

// WithMetrics records attempts and outcomes on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Policy) { p.metrics = m }
}

// Policy drives one session through navigate, access check, readiness,
// selector resolution, row extraction and validation, retrying transient
// failures with a constant backoff.
type Policy struct {
	cfg     config.ExtractConfig
	logger  *slog.Logger
	metrics *observability.Metrics
	sleep   SleepFunc
	steps   map[State]stepFunc
}

type stepFunc func(ctx context.Context, s Session, a *attempt) State

// attempt is the mutable state of one Run.
type attempt struct {
	url        string
	n          int
	nav        *types.Navigation
	navigated  bool
	doc        parser.Document
	selector   string
	records    []types.Record
	stats      parser.RowStats
	cause      error
	causeState State
	failure    *types.ExtractionError
}

// NewPolicy creates a Policy. Missing selectors, denial markers and a
// non-positive attempt budget fall back to the defaults.
func NewPolicy(cfg config.ExtractConfig, logger *slog.Logger, opts ...Option) *Policy {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if len(cfg.Selectors) == 0 {
		cfg.Selectors = config.DefaultSelectors()
	}
	if cfg.DenialMarkers == nil {
		cfg.DenialMarkers = config.DefaultDenialMarkers()
	}

	p := &Policy{
		cfg:    cfg,
		logger: logger.With("component", "extract"),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.steps = map[State]stepFunc{
		StateNavigate:    p.navigate,
		StateCheckAccess: p.checkAccess,
		StateReady:       p.ready,
		StateResolve:     p.resolve,
		StateExtract:     p.extract,
		StateValidate:    p.validate,
		StateRetryWait:   p.retryWait,
	}
	return p
}

// Run extracts records from url using s. It returns a non-empty record set
// or a *types.ExtractionError.
func (p *Policy) Run(ctx context.Context, s Session, url string) (*Result, error) {
	start := time.Now()
	a := &attempt{url: url, n: 1}
	p.count(func(m *observability.Metrics) {
		m.Runs.Add(1)
		m.Attempts.Add(1)
	})

	state := StateNavigate
	for {
		switch state {
		case StateSuccess:
			p.count(func(m *observability.Metrics) { m.Successes.Add(1) })
			p.logger.Info("extraction succeeded",
				"url", url,
				"records", len(a.records),
				"selector", a.selector,
				"attempts", a.n,
			)
			return &Result{
				URL:        url,
				Records:    a.records,
				Selector:   a.selector,
				Attempts:   a.n,
				Stats:      a.stats,
				Navigation: a.nav,
				Duration:   time.Since(start),
			}, nil
		case StateFatal:
			p.recordFailure(a.failure)
			p.logger.Error("extraction failed",
				"url", url,
				"kind", a.failure.Kind.String(),
				"state", a.failure.State,
				"attempts", a.failure.Attempts,
				"error", a.failure.Err,
			)
			return nil, a.failure
		}

		if err := ctx.Err(); err != nil {
			state = p.cancel(a, state, err)
			continue
		}

		step, ok := p.steps[state]
		if !ok {
			return nil, fmt.Errorf("extract: no step for state %q", state)
		}
		next := step(ctx, s, a)
		if !legal(state, next) {
			return nil, fmt.Errorf("extract: illegal transition %s -> %s", state, next)
		}
		p.logger.Debug("transition", "from", state, "to", next, "attempt", a.n)
		state = next
	}
}

func (p *Policy) navigate(ctx context.Context, s Session, a *attempt) State {
	nav, err := s.Navigate(ctx, a.url, p.cfg.NavigationTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return p.cancel(a, StateNavigate, ctx.Err())
		}
		var ne *types.NavigationError
		if errors.As(err, &ne) && ne.Retryable() {
			if ne.Timeout {
				err = fmt.Errorf("%w: %v", types.ErrNavigationTimeout, err)
			}
			return p.retry(a, StateNavigate, err)
		}
		return p.fail(a, types.Unreachable, StateNavigate, 0, err)
	}
	a.nav = nav
	a.navigated = true
	p.logger.Debug("navigated", "url", a.url, "status", nav.StatusCode, "duration", nav.Duration)
	return StateCheckAccess
}

func (p *Policy) checkAccess(ctx context.Context, s Session, a *attempt) State {
	if a.nav != nil && a.nav.IsForbidden() {
		return p.fail(a, types.AccessDenied, StateCheckAccess, a.nav.StatusCode,
			fmt.Errorf("server answered %d", a.nav.StatusCode))
	}

	body, err := s.Content(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return p.cancel(a, StateCheckAccess, ctx.Err())
		}
		return p.retry(a, StateCheckAccess, fmt.Errorf("read document: %w", err))
	}
	if marker := DenialMarker(body, p.cfg.DenialMarkers); marker != "" {
		status := 0
		if a.nav != nil {
			status = a.nav.StatusCode
		}
		return p.fail(a, types.AccessDenied, StateCheckAccess, status,
			fmt.Errorf("denial marker %q in document", marker))
	}
	return StateReady
}

func (p *Policy) ready(ctx context.Context, s Session, a *attempt) State {
	if err := s.WaitIdle(ctx, p.cfg.ReadyTimeout); err != nil {
		if ctx.Err() != nil {
			return p.cancel(a, StateReady, ctx.Err())
		}
		p.count(func(m *observability.Metrics) { m.ReadyTimeouts.Add(1) })
		return p.retry(a, StateReady, fmt.Errorf("%w: %v", types.ErrNotReady, err))
	}
	return StateResolve
}

func (p *Policy) resolve(ctx context.Context, s Session, a *attempt) State {
	doc, err := s.Document(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return p.cancel(a, StateResolve, ctx.Err())
		}
		return p.retry(a, StateResolve, fmt.Errorf("open document: %w", err))
	}

	sel, err := parser.Resolve(ctx, doc, p.cfg.Selectors)
	if err != nil {
		if ctx.Err() != nil {
			return p.cancel(a, StateResolve, ctx.Err())
		}
		p.count(func(m *observability.Metrics) { m.SelectorMisses.Add(1) })
		return p.retry(a, StateResolve, err)
	}
	if sel != p.cfg.Selectors[0] {
		p.logger.Info("canonical selector missed, using fallback", "selector", sel)
	}
	a.doc = doc
	a.selector = sel
	return StateExtract
}

func (p *Policy) extract(ctx context.Context, _ Session, a *attempt) State {
	rows, err := a.doc.Rows(ctx, a.selector)
	if err != nil {
		if ctx.Err() != nil {
			return p.cancel(a, StateExtract, ctx.Err())
		}
		return p.retry(a, StateExtract, fmt.Errorf("collect rows for %q: %w", a.selector, err))
	}

	records, stats := parser.Extract(rows, p.cfg.Columns)
	p.logger.Debug("rows extracted",
		"selector", a.selector,
		"rows", stats.Rows,
		"ineligible", stats.Ineligible,
		"incomplete", stats.Incomplete,
		"records", stats.Emitted,
	)
	p.count(func(m *observability.Metrics) {
		m.RowsSeen.Add(int64(stats.Rows))
		m.RowsSkipped.Add(int64(stats.Dropped()))
		m.RecordsExtracted.Add(int64(stats.Emitted))
	})
	a.records = records
	a.stats = stats
	return StateValidate
}

func (p *Policy) validate(_ context.Context, _ Session, a *attempt) State {
	if len(a.records) == 0 {
		p.count(func(m *observability.Metrics) { m.EmptyResults.Add(1) })
		return p.retry(a, StateValidate, types.ErrEmptyResult)
	}
	return StateSuccess
}

func (p *Policy) retryWait(ctx context.Context, _ Session, a *attempt) State {
	p.logger.Warn("attempt failed",
		"attempt", a.n,
		"max_attempts", p.cfg.MaxAttempts,
		"state", a.causeState,
		"error", a.cause,
	)
	if a.n >= p.cfg.MaxAttempts {
		return p.fail(a, types.RetryExhausted, a.causeState, 0, a.cause)
	}
	if err := p.sleep(ctx, p.cfg.RetryBackoff); err != nil {
		return p.cancel(a, StateRetryWait, err)
	}

	a.n++
	a.doc, a.selector, a.records = nil, "", nil
	p.count(func(m *observability.Metrics) {
		m.Attempts.Add(1)
		m.Retries.Add(1)
	})

	if !a.navigated {
		return StateNavigate
	}
	return StateCheckAccess
}

func (p *Policy) retry(a *attempt, state State, cause error) State {
	a.cause = cause
	a.causeState = state
	return StateRetryWait
}

func (p *Policy) fail(a *attempt, kind types.FailureKind, state State, status int, err error) State {
	a.failure = &types.ExtractionError{
		Kind:       kind,
		State:      string(state),
		Attempts:   a.n,
		URL:        a.url,
		StatusCode: status,
		Err:        err,
	}
	return StateFatal
}

func (p *Policy) cancel(a *attempt, state State, err error) State {
	return p.fail(a, types.Cancelled, state, 0, err)
}

// DenialMarker returns the first marker found in body, or "". Matching is
// case-sensitive.
func DenialMarker(body string, markers []string) string {
	for _, m := range markers {
		if m != "" && strings.Contains(body, m) {
			return m
		}
	}
	return ""
}

func (p *Policy) recordFailure(e *types.ExtractionError) {
	p.count(func(m *observability.Metrics) {
		switch e.Kind {
		case types.AccessDenied:
			m.AccessDenials.Add(1)
		case types.Unreachable:
			m.Unreachable.Add(1)
		case types.RetryExhausted:
			m.RetryExhausted.Add(1)
		case types.Cancelled:
			m.Cancellations.Add(1)
		}
	})
}

func (p *Policy) count(fn func(*observability.Metrics)) {
	if p.metrics != nil {
		fn(p.metrics)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
