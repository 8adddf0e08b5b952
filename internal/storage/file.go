package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/IshaanNene/marketgrab/internal/types"
)

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return nil
}

// --- CSV Storage ---

// CSVStorage writes records under the fixed Low,High,Last,Weight Avg
// header. The file is created on the first non-empty Store.
type CSVStorage struct {
	path   string
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
	count  int
	logger *slog.Logger
}

// NewCSVStorage creates a new CSV file storage.
func NewCSVStorage(outputPath string, logger *slog.Logger) (*CSVStorage, error) {
	return &CSVStorage{
		path:   outputPath,
		logger: logger.With("component", "csv_storage"),
	}, nil
}

func (s *CSVStorage) Name() string { return "csv" }

func (s *CSVStorage) Store(records []types.Record) error {
	if err := checkBatch(s.Name(), records); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		if err := s.open(); err != nil {
			return &types.StorageError{Backend: s.Name(), Err: err}
		}
	}

	for _, r := range records {
		if err := s.writer.Write(r.Values()); err != nil {
			return &types.StorageError{Backend: s.Name(), Err: fmt.Errorf("write CSV row: %w", err)}
		}
		s.count++
	}

	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return &types.StorageError{Backend: s.Name(), Err: err}
	}
	return nil
}

func (s *CSVStorage) open() error {
	if err := ensureDir(s.path); err != nil {
		return err
	}
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	s.file = f
	s.writer = csv.NewWriter(f)
	if err := s.writer.Write(types.Header); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}
	return nil
}

func (s *CSVStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	s.logger.Info("CSV written", "path", s.path, "records", s.count)
	s.writer.Flush()
	err := s.writer.Error()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.file = nil
	return err
}

// --- JSON Storage ---

// JSONStorage writes records as a JSON array. Every Store rewrites the
// file with everything stored so far.
type JSONStorage struct {
	path    string
	records []types.Record
	mu      sync.Mutex
	logger  *slog.Logger
}

// NewJSONStorage creates a new JSON file storage.
func NewJSONStorage(outputPath string, logger *slog.Logger) (*JSONStorage, error) {
	return &JSONStorage{
		path:   outputPath,
		logger: logger.With("component", "json_storage"),
	}, nil
}

func (s *JSONStorage) Name() string { return "json" }

func (s *JSONStorage) Store(records []types.Record) error {
	if err := checkBatch(s.Name(), records); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all := append(append([]types.Record(nil), s.records...), records...)
	if err := writeJSONFile(s.path, all); err != nil {
		return &types.StorageError{Backend: s.Name(), Err: err}
	}
	s.records = all
	s.logger.Debug("records written", "count", len(records), "total", len(s.records))
	return nil
}

// writeJSONFile replaces path through a temp file so a failed write never
// leaves a truncated array behind.
func writeJSONFile(path string, records []types.Record) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".marketgrab-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		tmp.Close()
		return fmt.Errorf("encode JSON: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *JSONStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) > 0 {
		s.logger.Info("JSON written", "path", s.path, "records", len(s.records))
	}
	return nil
}

// --- JSONL Storage ---

// JSONLStorage writes records as newline-delimited JSON (one object per line).
type JSONLStorage struct {
	path   string
	file   *os.File
	enc    *json.Encoder
	mu     sync.Mutex
	count  int
	logger *slog.Logger
}

// NewJSONLStorage creates a new JSONL file storage (streaming writes).
func NewJSONLStorage(outputPath string, logger *slog.Logger) (*JSONLStorage, error) {
	return &JSONLStorage{
		path:   outputPath,
		logger: logger.With("component", "jsonl_storage"),
	}, nil
}

func (s *JSONLStorage) Name() string { return "jsonl" }

func (s *JSONLStorage) Store(records []types.Record) error {
	if err := checkBatch(s.Name(), records); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		if err := ensureDir(s.path); err != nil {
			return &types.StorageError{Backend: s.Name(), Err: err}
		}
		f, err := os.Create(s.path)
		if err != nil {
			return &types.StorageError{Backend: s.Name(), Err: fmt.Errorf("create output file: %w", err)}
		}
		s.file = f
		s.enc = json.NewEncoder(f)
	}

	for _, r := range records {
		if err := s.enc.Encode(r); err != nil {
			return &types.StorageError{Backend: s.Name(), Err: fmt.Errorf("encode JSONL: %w", err)}
		}
		s.count++
	}
	return nil
}

func (s *JSONLStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	s.logger.Info("JSONL written", "path", s.path, "records", s.count)
	err := s.file.Close()
	s.file = nil
	return err
}
