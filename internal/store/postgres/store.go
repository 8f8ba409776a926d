// Package postgres provides the PostgreSQL-backed implementations of the
// store ports: calls, agents, transcripts, and the pgvector knowledge base.
//
// All repositories share a single [pgxpool.Pool]. The pgvector extension must
// be available in the target database; [Migrate] installs it via CREATE
// EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	st, err := postgres.New(ctx, dsn, 1536)
//	if err != nil { … }
//	defer st.Close()
//
//	_ = st.Calls().Save(ctx, c)
//	agents, _ := st.Agents().List(ctx)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/voxloop-ai/voxloop/internal/store"
)

// Compile-time interface checks.
var (
	_ store.CallRepository  = (*CallRepository)(nil)
	_ store.AgentRepository = (*AgentRepository)(nil)
	_ store.TranscriptStore = (*TranscriptStore)(nil)
	_ store.KnowledgeStore  = (*KnowledgeStore)(nil)
)

// Store bundles all PostgreSQL repositories over one connection pool.
// All operations are safe for concurrent use.
type Store struct {
	pool        *pgxpool.Pool
	calls       *CallRepository
	agents      *AgentRepository
	transcripts *TranscriptStore
	knowledge   *KnowledgeStore
}

// New connects to the database at dsn, registers pgvector types on every
// connection, and runs [Migrate] so all required tables exist.
//
// embeddingDimensions must match the output dimension of the embedding model
// used for knowledge snippets (e.g. 1536 for OpenAI text-embedding-3-small).
// Changing it after the first migration requires a manual schema change.
func New(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so vector columns can
	// be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:        pool,
		calls:       &CallRepository{pool: pool},
		agents:      &AgentRepository{pool: pool},
		transcripts: &TranscriptStore{pool: pool},
		knowledge:   &KnowledgeStore{pool: pool},
	}, nil
}

// Calls returns the call repository.
func (s *Store) Calls() *CallRepository { return s.calls }

// Agents returns the agent repository.
func (s *Store) Agents() *AgentRepository { return s.agents }

// Transcripts returns the transcript store.
func (s *Store) Transcripts() *TranscriptStore { return s.transcripts }

// Knowledge returns the knowledge base.
func (s *Store) Knowledge() *KnowledgeStore { return s.knowledge }

// Ping verifies database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
