package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/voxloop-ai/voxloop/internal/store"
)

// KnowledgeStore is the pgvector-backed knowledge base. Snippets are embedded
// ahead of time; Search runs approximate nearest-neighbour lookups over an
// HNSW index with cosine distance.
//
// Obtain one via [Store.Knowledge] rather than constructing directly.
type KnowledgeStore struct {
	pool *pgxpool.Pool
}

// Add inserts one embedded snippet.
func (k *KnowledgeStore) Add(ctx context.Context, s store.KnowledgeSnippet) error {
	if len(s.Embedding) == 0 {
		return fmt.Errorf("knowledge store: snippet needs an embedding")
	}
	const q = `
		INSERT INTO knowledge_snippets (agent_uuid, content, embedding)
		VALUES ($1, $2, $3)`

	_, err := k.pool.Exec(ctx, q, s.AgentUUID, s.Content, pgvector.NewVector(s.Embedding))
	if err != nil {
		return fmt.Errorf("knowledge store: add: %w", err)
	}
	return nil
}

// Search returns the limit snippets nearest to the query embedding for the
// given agent, best match first. Score is 1-distance, so identical vectors
// score 1.0.
func (k *KnowledgeStore) Search(ctx context.Context, agentUUID string, embedding []float32, limit int) ([]store.KnowledgeSnippet, error) {
	if limit <= 0 {
		limit = 5
	}
	const q = `
		SELECT id, agent_uuid, content, embedding, created_at,
		       embedding <=> $2 AS distance
		FROM   knowledge_snippets
		WHERE  agent_uuid = $1
		ORDER  BY distance
		LIMIT  $3`

	rows, err := k.pool.Query(ctx, q, agentUUID, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("knowledge store: search: %w", err)
	}

	snippets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.KnowledgeSnippet, error) {
		var (
			s        store.KnowledgeSnippet
			vec      pgvector.Vector
			distance float64
		)
		if err := row.Scan(&s.ID, &s.AgentUUID, &s.Content, &vec, &s.CreatedAt, &distance); err != nil {
			return s, err
		}
		s.Embedding = vec.Slice()
		s.Score = 1 - distance
		return s, nil
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge store: search scan: %w", err)
	}
	return snippets, nil
}

// DeleteByAgent removes an agent's entire knowledge base, returning the
// snippet count.
func (k *KnowledgeStore) DeleteByAgent(ctx context.Context, agentUUID string) (int, error) {
	tag, err := k.pool.Exec(ctx, `DELETE FROM knowledge_snippets WHERE agent_uuid = $1`, agentUUID)
	if err != nil {
		return 0, fmt.Errorf("knowledge store: delete by agent: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
