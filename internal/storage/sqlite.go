package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/IshaanNene/marketgrab/internal/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS price_records (
	report_date TEXT    NOT NULL,
	seq         INTEGER NOT NULL,
	low         TEXT    NOT NULL,
	high        TEXT    NOT NULL,
	last        TEXT    NOT NULL,
	weight_avg  TEXT    NOT NULL,
	source_url  TEXT    NOT NULL DEFAULT '',
	fetched_at  TEXT    NOT NULL,
	PRIMARY KEY (report_date, seq)
);`

// SQLiteStorage writes records to a local SQLite database. Storing a report
// date again replaces its rows, so reruns are idempotent.
type SQLiteStorage struct {
	db     *sql.DB
	path   string
	meta   Meta
	mu     sync.Mutex
	seq    int
	logger *slog.Logger
}

// NewSQLiteStorage opens (or creates) the database at path.
func NewSQLiteStorage(path string, meta Meta, logger *slog.Logger) (*SQLiteStorage, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	if meta.FetchedAt.IsZero() {
		meta.FetchedAt = time.Now()
	}
	return &SQLiteStorage{
		db:     db,
		path:   path,
		meta:   meta,
		logger: logger.With("component", "sqlite_storage"),
	}, nil
}

func (s *SQLiteStorage) Name() string { return "sqlite" }

func (s *SQLiteStorage) Store(records []types.Record) error {
	if err := checkBatch(s.Name(), records); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.insert(ctx, records); err != nil {
		return &types.StorageError{Backend: s.Name(), Err: err}
	}
	s.logger.Debug("records stored in sqlite", "count", len(records), "report_date", s.meta.ReportDate)
	return nil
}

func (s *SQLiteStorage) insert(ctx context.Context, records []types.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// The first batch of a run replaces whatever an earlier run stored
	// for the same report date.
	if s.seq == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM price_records WHERE report_date = ?`, s.meta.ReportDate); err != nil {
			return fmt.Errorf("clear report date: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO price_records
		(report_date, seq, low, high, last, weight_avg, source_url, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	fetchedAt := s.meta.FetchedAt.UTC().Format(time.RFC3339)
	seq := s.seq
	for _, r := range records {
		seq++
		if _, err := stmt.ExecContext(ctx,
			s.meta.ReportDate, seq, r.Low, r.High, r.Last, r.WeightAvg, s.meta.SourceURL, fetchedAt,
		); err != nil {
			return fmt.Errorf("insert row %d: %w", seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.seq = seq
	return nil
}

// Records returns the stored records for a report date in sequence order.
func (s *SQLiteStorage) Records(ctx context.Context, reportDate string) ([]types.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT low, high, last, weight_avg FROM price_records WHERE report_date = ? ORDER BY seq`,
		reportDate)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []types.Record
	for rows.Next() {
		var r types.Record
		if err := rows.Scan(&r.Low, &r.High, &r.Last, &r.WeightAvg); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) Close() error {
	s.logger.Info("sqlite storage closing", "path", s.path, "records", s.seq)
	return s.db.Close()
}
