package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// Store is the central PostgreSQL-backed conversation store. It holds a
// single [pgxpool.Pool] shared across the message log, compression,
// growth-summary/session-analysis rollups, voice-clone records, and the
// memory module's semantic recall index.
//
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool

	// summarizer produces an LLM condensation of a message window, injected
	// so CompactIfNeeded and the growth-summary worker stay independent of
	// any concrete LLM module. Set via [Store.SetSummarizer].
	summarizer Summarizer
}

// Summarizer produces natural-language summaries for compaction and
// scheduled rollups. The orchestrator wires this to the agent's configured
// LLM module; tests can supply a stub.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// NewStore creates a Store, opens a connection pool to dsn, registers
// pgvector types on every connection, and runs [Migrate].
//
// embeddingDimensions must match the output dimension of the configured
// embedding model (postgres.embedding_dimensions in config).
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Pool exposes the underlying connection pool for components that share it,
// such as the metrics recorder's batched inserts.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// SetSummarizer installs the LLM-backed summarizer used by compaction and
// growth-summary rollups. Must be called before [Store.CompactIfNeeded] or
// [Store.RunGrowthSummaryWorker] are used in anger.
func (s *Store) SetSummarizer(sum Summarizer) {
	s.summarizer = sum
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
