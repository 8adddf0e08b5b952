package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"github.com/IshaanNene/marketgrab/internal/types"
)

// priceDocument is the MongoDB shape of one record.
type priceDocument struct {
	types.Record `bson:",inline"`
	ReportDate   string    `bson:"report_date"`
	Seq          int       `bson:"seq"`
	SourceURL    string    `bson:"source_url,omitempty"`
	FetchedAt    time.Time `bson:"fetched_at"`
}

// MongoStorage writes records to a MongoDB collection.
type MongoStorage struct {
	client     *mongo.Client
	collection *mongo.Collection
	meta       Meta
	mu         sync.Mutex
	count      int
	logger     *slog.Logger
}

// NewMongoStorage creates a new MongoDB storage backend.
func NewMongoStorage(uri, database, collection string, meta Meta, logger *slog.Logger) (*MongoStorage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	if meta.FetchedAt.IsZero() {
		meta.FetchedAt = time.Now()
	}
	return &MongoStorage{
		client:     client,
		collection: client.Database(database).Collection(collection),
		meta:       meta,
		logger:     logger.With("component", "mongo_storage"),
	}, nil
}

func (s *MongoStorage) Name() string { return "mongodb" }

func (s *MongoStorage) Store(records []types.Record) error {
	if err := checkBatch(s.Name(), records); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs := make([]any, len(records))
	for i, r := range records {
		docs[i] = priceDocument{
			Record:     r,
			ReportDate: s.meta.ReportDate,
			Seq:        s.count + i + 1,
			SourceURL:  s.meta.SourceURL,
			FetchedAt:  s.meta.FetchedAt.UTC(),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// ordered insert keeps the table order in the collection
	if _, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		return &types.StorageError{Backend: s.Name(), Err: fmt.Errorf("mongodb insert: %w", err)}
	}

	s.count += len(records)
	s.logger.Debug("records stored in mongodb", "count", len(records), "total", s.count)
	return nil
}

func (s *MongoStorage) Close() error {
	s.logger.Info("mongodb storage closing", "total_records", s.count)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// --- Multi-Storage Fan-Out ---

// MultiStorage writes records to multiple backends concurrently.
type MultiStorage struct {
	backends []Storage
	logger   *slog.Logger
}

// NewMultiStorage creates a storage that fans out to multiple backends.
func NewMultiStorage(backends []Storage, logger *slog.Logger) *MultiStorage {
	return &MultiStorage{
		backends: backends,
		logger:   logger.With("component", "multi_storage"),
	}
}

func (s *MultiStorage) Name() string { return "multi" }

// Store hands the batch to every backend and returns the first failure.
// Every backend is attempted even when another fails.
func (s *MultiStorage) Store(records []types.Record) error {
	if err := checkBatch(s.Name(), records); err != nil {
		return err
	}

	var g errgroup.Group
	for _, backend := range s.backends {
		backend := backend
		g.Go(func() error {
			if err := backend.Store(records); err != nil {
				s.logger.Error("backend store failed", "backend", backend.Name(), "error", err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *MultiStorage) Close() error {
	var firstErr error
	for _, backend := range s.backends {
		if err := backend.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
