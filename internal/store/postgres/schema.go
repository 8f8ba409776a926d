package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlCalls = `
CREATE TABLE IF NOT EXISTS calls (
    id           TEXT         PRIMARY KEY,
    agent_uuid   TEXT         NOT NULL DEFAULT '',
    agent_name   TEXT         NOT NULL DEFAULT '',
    client_type  TEXT         NOT NULL DEFAULT '',
    phone_number TEXT         NOT NULL DEFAULT '',
    stream_id    TEXT         NOT NULL DEFAULT '',
    status       TEXT         NOT NULL,
    end_reason   TEXT         NOT NULL DEFAULT '',
    start_time   TIMESTAMPTZ,
    end_time     TIMESTAMPTZ,
    metadata     JSONB        NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_calls_start_time
    ON calls (start_time DESC NULLS LAST);

CREATE INDEX IF NOT EXISTS idx_calls_client_type
    ON calls (client_type);`

const ddlAgents = `
CREATE TABLE IF NOT EXISTS agents (
    uuid               TEXT        PRIMARY KEY,
    name               TEXT        NOT NULL UNIQUE,
    system_prompt      TEXT        NOT NULL,
    first_message      TEXT        NOT NULL DEFAULT '',
    voice              JSONB       NOT NULL DEFAULT '{}',
    model              JSONB       NOT NULL DEFAULT '{}',
    speech             JSONB       NOT NULL DEFAULT '{}',
    client_type        TEXT        NOT NULL DEFAULT 'browser',
    silence_timeout_ms INTEGER     NOT NULL DEFAULT 800,
    style_overrides    JSONB       NOT NULL DEFAULT '{}',
    context_data       JSONB       NOT NULL DEFAULT '{}',
    tools              TEXT[]      NOT NULL DEFAULT '{}',
    transfer_number    TEXT        NOT NULL DEFAULT '',
    active             BOOLEAN     NOT NULL DEFAULT false,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_agents_single_active
    ON agents (active) WHERE active;`

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcripts (
    id         BIGSERIAL   PRIMARY KEY,
    call_id    TEXT        NOT NULL,
    role       TEXT        NOT NULL,
    content    TEXT        NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcripts_call_id
    ON transcripts (call_id, id);

CREATE INDEX IF NOT EXISTS idx_transcripts_fts
    ON transcripts USING GIN (to_tsvector('english', content));`

// ddlKnowledgeTemplate needs the embedding dimension substituted; VECTOR(n)
// does not accept a bind parameter.
const ddlKnowledgeTemplate = `
CREATE TABLE IF NOT EXISTS knowledge_snippets (
    id         BIGSERIAL   PRIMARY KEY,
    agent_uuid TEXT        NOT NULL,
    content    TEXT        NOT NULL,
    embedding  VECTOR(%d)  NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_knowledge_agent
    ON knowledge_snippets (agent_uuid);

CREATE INDEX IF NOT EXISTS idx_knowledge_embedding
    ON knowledge_snippets USING hnsw (embedding vector_cosine_ops);`

// Migrate creates the pgvector extension and all tables. Every statement is
// idempotent, so running it on every startup is safe.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("migrate: embeddingDimensions must be positive, got %d", embeddingDimensions)
	}

	statements := []struct {
		name string
		ddl  string
	}{
		{"vector extension", `CREATE EXTENSION IF NOT EXISTS vector`},
		{"calls", ddlCalls},
		{"agents", ddlAgents},
		{"transcripts", ddlTranscripts},
		{"knowledge_snippets", fmt.Sprintf(ddlKnowledgeTemplate, embeddingDimensions)},
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt.ddl); err != nil {
			return fmt.Errorf("migrate %s: %w", stmt.name, err)
		}
	}
	return nil
}
