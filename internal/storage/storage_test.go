package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IshaanNene/marketgrab/internal/config"
	"github.com/IshaanNene/marketgrab/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var sample = []types.Record{
	{Low: "45.23", High: "48.75", Last: "47.50", WeightAvg: "46.82"},
	{Low: "1,020.5", High: "1,100", Last: `7" bar`, WeightAvg: "1,050.25"},
	{Low: "21.00", High: "22.40", Last: "21.95", WeightAvg: "21.70"},
}

var testMeta = Meta{
	ReportDate: "2025-12-31",
	SourceURL:  "https://prices.test/report?date=2025-12-31",
	FetchedAt:  time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC),
}

func TestCSVStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "prices.csv")
	s, err := NewCSVStorage(path, testLogger)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Store(sample); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "Low,High,Last,Weight Avg\n" +
		"45.23,48.75,47.50,46.82\n" +
		`"1,020.5","1,100","7"" bar","1,050.25"` + "\n" +
		"21.00,22.40,21.95,21.70\n"
	if string(data) != want {
		t.Errorf("csv mismatch\n got: %q\nwant: %q", data, want)
	}
}

func TestCSVStorageMultipleBatchesOneHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.csv")
	s, _ := NewCSVStorage(path, testLogger)
	if err := s.Store(sample[:1]); err != nil {
		t.Fatal(err)
	}
	if err := s.Store(sample[2:]); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 || lines[0] != "Low,High,Last,Weight Avg" {
		t.Errorf("unexpected lines %q", lines)
	}
}

func TestEmptyInputRejected(t *testing.T) {
	dir := t.TempDir()
	csvS, _ := NewCSVStorage(filepath.Join(dir, "p.csv"), testLogger)
	jsonS, _ := NewJSONStorage(filepath.Join(dir, "p.json"), testLogger)
	jsonlS, _ := NewJSONLStorage(filepath.Join(dir, "p.jsonl"), testLogger)
	sqliteS, err := NewSQLiteStorage(filepath.Join(dir, "p.db"), testMeta, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	multi := NewMultiStorage([]Storage{csvS, jsonS}, testLogger)

	for _, s := range []Storage{csvS, jsonS, jsonlS, sqliteS, multi} {
		t.Run(s.Name(), func(t *testing.T) {
			err := s.Store(nil)
			if !errors.Is(err, types.ErrEmptySinkInput) {
				t.Fatalf("expected ErrEmptySinkInput, got %v", err)
			}
			var se *types.StorageError
			if !errors.As(err, &se) || se.Backend != s.Name() {
				t.Errorf("expected StorageError for %s, got %v", s.Name(), err)
			}
			if err := s.Close(); err != nil {
				t.Errorf("close: %v", err)
			}
		})
	}

	for _, name := range []string{"p.csv", "p.json", "p.jsonl"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("%s must not exist after an empty store, stat err %v", name, err)
		}
	}
}

func TestJSONStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.json")
	s, _ := NewJSONStorage(path, testLogger)
	if err := s.Store(sample[:2]); err != nil {
		t.Fatal(err)
	}
	if err := s.Store(sample[2:]); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw []map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(raw) != 3 {
		t.Fatalf("expected 3 objects, got %d", len(raw))
	}
	if raw[0]["weight_avg"] != "46.82" || raw[1]["low"] != "1,020.5" {
		t.Errorf("unexpected objects %v", raw)
	}
}

func TestJSONLStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.jsonl")
	s, _ := NewJSONLStorage(path, testLogger)
	if err := s.Store(sample); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	var r types.Record
	if err := json.Unmarshal([]byte(lines[2]), &r); err != nil {
		t.Fatal(err)
	}
	if r != sample[2] {
		t.Errorf("got %+v, want %+v", r, sample[2])
	}
}

func TestSQLiteStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.db")
	s, err := NewSQLiteStorage(path, testMeta, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Store(sample); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := s.Records(context.Background(), testMeta.ReportDate)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, sample) {
		t.Errorf("got %+v, want %+v", got, sample)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// A rerun for the same date replaces the earlier rows.
	s, err = NewSQLiteStorage(path, testMeta, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Store(sample[:1]); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Records(context.Background(), testMeta.ReportDate)
	if len(got) != 1 || got[0] != sample[0] {
		t.Errorf("expected rerun to replace rows, got %+v", got)
	}
}

type recordingStorage struct {
	name   string
	err    error
	stored atomic.Int64
	closed atomic.Bool
}

func (r *recordingStorage) Name() string { return r.name }

func (r *recordingStorage) Store(records []types.Record) error {
	if r.err != nil {
		return r.err
	}
	r.stored.Add(int64(len(records)))
	return nil
}

func (r *recordingStorage) Close() error {
	r.closed.Store(true)
	return nil
}

func TestMultiStorageFanOut(t *testing.T) {
	a := &recordingStorage{name: "a"}
	b := &recordingStorage{name: "b", err: errors.New("disk full")}
	c := &recordingStorage{name: "c"}
	m := NewMultiStorage([]Storage{a, b, c}, testLogger)

	err := m.Store(sample)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected backend failure, got %v", err)
	}
	if a.stored.Load() != 3 || c.stored.Load() != 3 {
		t.Errorf("healthy backends must still receive the batch: a=%d c=%d", a.stored.Load(), c.stored.Load())
	}

	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	for _, r := range []*recordingStorage{a, b, c} {
		if !r.closed.Load() {
			t.Errorf("backend %s not closed", r.name)
		}
	}
}

func TestNewFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig().Storage
	cfg.Type = "csv, jsonl, sqlite"
	cfg.OutputPath = filepath.Join(dir, "prices.csv")
	cfg.SQLitePath = filepath.Join(dir, "prices.db")

	s, err := New(cfg, testMeta, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	if s.Name() != "multi" {
		t.Errorf("expected multi storage, got %s", s.Name())
	}
	if err := s.Store(sample); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"prices.csv", "prices.jsonl", "prices.db"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}

	cfg.Type = "parquet"
	if _, err := New(cfg, testMeta, testLogger); err == nil {
		t.Error("expected error for unsupported type")
	}
}

func TestOutputPath(t *testing.T) {
	tests := map[string]string{
		"./output/prices.csv": "./output/prices.json",
		"prices":              "prices.json",
		"out.d/prices":        "out.d/prices.json",
	}
	for in, want := range tests {
		if got := outputPath(in, ".json"); got != want {
			t.Errorf("outputPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMongoStorage(t *testing.T) {
	uri := os.Getenv("MARKETGRAB_MONGO_URI")
	if testing.Short() || uri == "" {
		t.Skip("set MARKETGRAB_MONGO_URI to run mongodb tests")
	}
	s, err := NewMongoStorage(uri, "marketgrab_test", "prices_"+time.Now().Format("150405"), testMeta, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.Store(nil); !errors.Is(err, types.ErrEmptySinkInput) {
		t.Errorf("expected ErrEmptySinkInput, got %v", err)
	}
	if err := s.Store(sample); err != nil {
		t.Fatalf("store: %v", err)
	}
	n, err := s.collection.CountDocuments(context.Background(), map[string]any{"report_date": testMeta.ReportDate})
	if err != nil || n != 3 {
		t.Errorf("expected 3 documents, got %d, %v", n, err)
	}
	_ = s.collection.Drop(context.Background())
}
