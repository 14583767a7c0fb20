// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package autollama

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/autollama/autollama/ai"
	"github.com/autollama/autollama/ai/openai"
	"github.com/autollama/autollama/extract"
	"github.com/autollama/autollama/ingestion"
	"github.com/autollama/autollama/progress"
	"github.com/autollama/autollama/session"
	"github.com/autollama/autollama/storage"
	"github.com/autollama/autollama/storage/badger"
	"github.com/autollama/autollama/storage/postgres"
	"github.com/redis/go-redis/v9"
)

const connectTimeout = 10 * time.Second

// Database owns the storage backend, the AI provider and the progress
// broadcaster, and builds pipelines over them.
type Database struct {
	backend     *badger.Backend
	pg          *postgres.DB
	coord       *storage.Coordinator
	sessions    *session.Manager
	provider    ai.Provider
	broadcaster *progress.Broadcaster
	logger      *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	aiConfig    *ai.Config
	provider    ai.Provider
	inMemory    bool
	postgresURL string
	redis       redis.UniversalClient
	logger      *slog.Logger
}

// WithAIConfig sets the configuration of the OpenAI-compatible provider.
func WithAIConfig(config *ai.Config) DatabaseOption {
	return func(o *databaseOptions) {
		o.aiConfig = config
	}
}

// WithProvider uses provider instead of creating one from the AI config.
// The database closes it.
func WithProvider(provider ai.Provider) DatabaseOption {
	return func(o *databaseOptions) {
		o.provider = provider
	}
}

// WithInMemory keeps all data in memory. The path is ignored.
func WithInMemory() DatabaseOption {
	return func(o *databaseOptions) {
		o.inMemory = true
	}
}

// WithPostgres stores sessions, chunks and vectors in PostgreSQL instead
// of the embedded store. The path is ignored.
func WithPostgres(url string) DatabaseOption {
	return func(o *databaseOptions) {
		o.postgresURL = url
	}
}

// WithRedis relays progress events to Redis pub/sub.
func WithRedis(client redis.UniversalClient) DatabaseOption {
	return func(o *databaseOptions) {
		o.redis = client
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(o *databaseOptions) {
		o.logger = logger
	}
}

// NewDatabase opens the store at filePath and wires the components of the
// ingestion pipeline.
func NewDatabase(filePath string, opts ...DatabaseOption) (*Database, error) {
	options := &databaseOptions{
		aiConfig: ai.DefaultConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	db := &Database{logger: options.logger}

	var (
		sessionRepo storage.SessionRepository
		chunkRepo   storage.ChunkRepository
		vectorIndex storage.VectorIndex
	)
	if options.postgresURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		pg, err := postgres.Connect(ctx, postgres.DefaultConfig(options.postgresURL))
		if err != nil {
			return nil, err
		}
		if err := pg.InitSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		db.pg = pg
		sessionRepo = postgres.NewSessionRepository(pg)
		chunkRepo = postgres.NewChunkRepository(pg)
		vectorIndex = postgres.NewVectorIndex(pg)
	} else {
		backend, err := badger.OpenBackend(filePath, options.inMemory)
		if err != nil {
			return nil, err
		}
		db.backend = backend
		sessionRepo, chunkRepo, vectorIndex = badger.NewRepositories(backend)
	}

	coord, err := storage.NewCoordinator(sessionRepo, chunkRepo, vectorIndex,
		storage.WithCoordinatorLogger(options.logger))
	if err != nil {
		db.closeStorage()
		return nil, err
	}
	db.coord = coord
	db.sessions = session.NewManager(coord, session.WithLogger(options.logger))

	db.provider = options.provider
	if db.provider == nil {
		provider, err := openai.NewProvider(options.aiConfig)
		if err != nil {
			db.closeStorage()
			return nil, err
		}
		db.provider = provider
	}

	broadcasterOpts := []progress.Option{progress.WithLogger(options.logger)}
	if options.redis != nil {
		broadcasterOpts = append(broadcasterOpts, progress.WithSink(progress.NewRedisSink(options.redis)))
	}
	db.broadcaster = progress.NewBroadcaster(broadcasterOpts...)

	return db, nil
}

func (db *Database) Close() error {
	var errs []error
	if err := db.provider.Close(); err != nil {
		db.logger.Error("error closing AI provider", "err", err)
		errs = append(errs, err)
	}
	if err := db.closeStorage(); err != nil {
		db.logger.Error("error closing backend storage", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (db *Database) closeStorage() error {
	if db.pg != nil {
		db.pg.Close()
	}
	if db.backend != nil {
		return db.backend.Close()
	}
	return nil
}

func (db *Database) Coordinator() *storage.Coordinator {
	return db.coord
}

func (db *Database) Sessions() *session.Manager {
	return db.sessions
}

func (db *Database) Broadcaster() *progress.Broadcaster {
	return db.broadcaster
}

// NewPipeline creates an ingestion pipeline over the database. Callers
// close it before closing the database.
func (db *Database) NewPipeline(opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	base := []ingestion.Option{
		ingestion.WithBroadcaster(db.broadcaster),
		ingestion.WithLogger(db.logger),
	}
	return ingestion.NewPipeline(db.sessions, db.coord, db.provider, extract.DefaultRegistry(),
		append(base, opts...)...)
}
