package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Metrics tracks extraction and storage counters.
type Metrics struct {
	// Extraction metrics
	Runs           atomic.Int64
	Attempts       atomic.Int64
	Retries        atomic.Int64
	Successes      atomic.Int64
	AccessDenials  atomic.Int64
	Unreachable    atomic.Int64
	RetryExhausted atomic.Int64
	Cancellations  atomic.Int64
	SelectorMisses atomic.Int64
	ReadyTimeouts  atomic.Int64
	EmptyResults   atomic.Int64

	// Row metrics
	RowsSeen         atomic.Int64
	RowsSkipped      atomic.Int64
	RecordsExtracted atomic.Int64
	RecordsStored    atomic.Int64
	StoreErrors      atomic.Int64

	logger *slog.Logger
	server *http.Server
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *slog.Logger) *Metrics {
	return &Metrics{
		logger: logger.With("component", "metrics"),
	}
}

type metricLine struct {
	name  string
	help  string
	value int64
}

func (m *Metrics) lines() []metricLine {
	return []metricLine{
		{"marketgrab_runs_total", "Extraction runs started", m.Runs.Load()},
		{"marketgrab_attempts_total", "Extraction attempts made", m.Attempts.Load()},
		{"marketgrab_retries_total", "Attempts retried after a transient failure", m.Retries.Load()},
		{"marketgrab_successes_total", "Runs that produced records", m.Successes.Load()},
		{"marketgrab_access_denied_total", "Runs stopped by an access denial", m.AccessDenials.Load()},
		{"marketgrab_unreachable_total", "Runs stopped because the source was unreachable", m.Unreachable.Load()},
		{"marketgrab_retry_exhausted_total", "Runs that ran out of attempts", m.RetryExhausted.Load()},
		{"marketgrab_cancelled_total", "Runs cancelled by the caller", m.Cancellations.Load()},
		{"marketgrab_selector_misses_total", "Attempts where no candidate selector matched", m.SelectorMisses.Load()},
		{"marketgrab_ready_timeouts_total", "Attempts where the document did not settle in time", m.ReadyTimeouts.Load()},
		{"marketgrab_empty_results_total", "Attempts that parsed a table without complete rows", m.EmptyResults.Load()},
		{"marketgrab_rows_seen_total", "Table rows inspected", m.RowsSeen.Load()},
		{"marketgrab_rows_skipped_total", "Table rows dropped as ineligible or incomplete", m.RowsSkipped.Load()},
		{"marketgrab_records_extracted_total", "Records extracted", m.RecordsExtracted.Load()},
		{"marketgrab_records_stored_total", "Records handed to storage", m.RecordsStored.Load()},
		{"marketgrab_store_errors_total", "Storage failures", m.StoreErrors.Load()},
	}
}

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	for _, metric := range m.lines() {
		fmt.Fprintf(w, "# HELP %s %s\n", metric.name, metric.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", metric.name)
		fmt.Fprintf(w, "%s %d\n", metric.name, metric.value)
	}
}

// StartServer starts the metrics HTTP server in the background.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	addr := fmt.Sprintf(":%d", port)
	m.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	m.logger.Info("metrics server starting", "addr", addr, "path", path)

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// Shutdown stops the metrics server if it was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

// Snapshot returns all metrics as a map.
func (m *Metrics) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	for _, l := range m.lines() {
		out[l.name] = l.value
	}
	return out
}
