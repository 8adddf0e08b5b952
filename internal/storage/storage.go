package storage

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IshaanNene/marketgrab/internal/config"
	"github.com/IshaanNene/marketgrab/internal/types"
)

// Storage is the interface for all record sinks.
type Storage interface {
	// Store persists a batch of records in order. An empty batch is
	// rejected with types.ErrEmptySinkInput and leaves no trace.
	Store(records []types.Record) error

	// Close flushes pending writes and releases resources.
	Close() error

	// Name returns the storage backend identifier.
	Name() string
}

// Meta describes the report a batch came from. Database backends persist it
// next to every record; file backends ignore it.
type Meta struct {
	ReportDate string
	SourceURL  string
	FetchedAt  time.Time
}

// New builds the backend(s) named in cfg.Type. A comma-separated type
// fans out to every listed backend.
func New(cfg config.StorageConfig, meta Meta, logger *slog.Logger) (Storage, error) {
	kinds := config.StorageTypes(cfg.Type)
	if len(kinds) == 0 {
		return nil, fmt.Errorf("no storage type configured")
	}

	backends := make([]Storage, 0, len(kinds))
	for _, kind := range kinds {
		b, err := newBackend(kind, cfg, meta, logger)
		if err != nil {
			for _, opened := range backends {
				_ = opened.Close()
			}
			return nil, err
		}
		backends = append(backends, b)
	}

	if len(backends) == 1 {
		return backends[0], nil
	}
	return NewMultiStorage(backends, logger), nil
}

func newBackend(kind string, cfg config.StorageConfig, meta Meta, logger *slog.Logger) (Storage, error) {
	switch kind {
	case "csv":
		return NewCSVStorage(outputPath(cfg.OutputPath, ".csv"), logger)
	case "json":
		return NewJSONStorage(outputPath(cfg.OutputPath, ".json"), logger)
	case "jsonl":
		return NewJSONLStorage(outputPath(cfg.OutputPath, ".jsonl"), logger)
	case "sqlite":
		return NewSQLiteStorage(cfg.SQLitePath, meta, logger)
	case "mongodb":
		return NewMongoStorage(cfg.MongoURI, cfg.MongoDB, cfg.MongoColl, meta, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", kind)
	}
}

// outputPath swaps the extension of the configured output path so that
// "prices.csv" also yields "prices.json" when both are requested.
func outputPath(path, ext string) string {
	if i := strings.LastIndex(path, "."); i > strings.LastIndexAny(path, `/\`) {
		path = path[:i]
	}
	return path + ext
}

func checkBatch(backend string, records []types.Record) error {
	if len(records) == 0 {
		return &types.StorageError{Backend: backend, Err: types.ErrEmptySinkInput}
	}
	return nil
}
