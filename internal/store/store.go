// Package store defines the persistence ports of the voice runtime: call
// records, agent definitions, transcripts, the prompt cache, and the
// pgvector-backed knowledge base.
//
// Implementations live in the subpackages:
//
//   - postgres: durable storage on PostgreSQL via pgx
//   - redis: the prompt/context cache on Redis
//   - memory: in-process implementations for tests and single-node dev runs
//
// All implementations must be safe for concurrent use.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/voxloop-ai/voxloop/internal/agent"
	"github.com/voxloop-ai/voxloop/internal/call"
)

// ErrNotFound is returned by lookups when no row matches. Implementations
// wrap it so callers can test with errors.Is.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when a write collides with a uniqueness rule, such
// as creating a second agent with an existing name.
var ErrConflict = errors.New("store: conflict")

// ListOpts narrows a call listing. Zero values mean "no constraint" except
// Limit, where zero falls back to the implementation default.
type ListOpts struct {
	Limit      int
	Offset     int
	ClientType string
}

// CallRepository persists call aggregates. Save is an upsert keyed by
// call ID; the orchestrator saves once at session start and once at teardown.
type CallRepository interface {
	Save(ctx context.Context, c *call.Call) error
	GetByID(ctx context.Context, id string) (*call.Call, error)

	// List returns a page of calls ordered by start time descending, along
	// with the total number of calls matching the filter.
	List(ctx context.Context, opts ListOpts) ([]*call.Call, int, error)

	Delete(ctx context.Context, id string) error

	// Clear deletes all calls and returns how many were removed.
	Clear(ctx context.Context) (int, error)
}

// AgentRepository persists agent definitions. Names are unique; at most one
// agent is active at a time.
type AgentRepository interface {
	Create(ctx context.Context, a *agent.Agent) (*agent.Agent, error)
	GetByUUID(ctx context.Context, uuid string) (*agent.Agent, error)
	GetByName(ctx context.Context, name string) (*agent.Agent, error)
	List(ctx context.Context) ([]*agent.Agent, error)
	Update(ctx context.Context, a *agent.Agent) error

	// SetActive marks the given agent active and every other agent inactive,
	// returning the newly active agent.
	SetActive(ctx context.Context, uuid string) (*agent.Agent, error)

	// GetActive returns the agent that answers calls with no explicit agent
	// selection, or ErrNotFound when none is marked active.
	GetActive(ctx context.Context) (*agent.Agent, error)

	Delete(ctx context.Context, uuid string) error
}

// TranscriptEntry is one persisted line of a call transcript.
type TranscriptEntry struct {
	ID        int64
	CallID    string
	Role      string
	Content   string
	CreatedAt time.Time
}

// TranscriptStore persists transcript lines. Writes during a live call go
// through [Writer] so a slow database never blocks the audio path.
type TranscriptStore interface {
	Append(ctx context.Context, e TranscriptEntry) error
	ListByCall(ctx context.Context, callID string) ([]TranscriptEntry, error)
}

// Cache is the prompt/context cache. It degrades gracefully: Get returns a
// miss and Set is a no-op when the backend is unreachable, so a cache outage
// slows calls down instead of failing them.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)

	// Invalidate removes all keys matching the glob pattern.
	Invalidate(ctx context.Context, pattern string)

	Close() error
}

// KnowledgeSnippet is one embedded fact in an agent's knowledge base.
type KnowledgeSnippet struct {
	ID        int64
	AgentUUID string
	Content   string
	Embedding []float32

	// Score is the similarity to the query embedding, set only on Search
	// results. Higher is closer.
	Score float64

	CreatedAt time.Time
}

// KnowledgeStore is the vector-similarity knowledge base used to ground
// prompts in agent-specific facts.
type KnowledgeStore interface {
	Add(ctx context.Context, s KnowledgeSnippet) error

	// Search returns the limit nearest snippets to the query embedding for
	// the given agent, best match first.
	Search(ctx context.Context, agentUUID string, embedding []float32, limit int) ([]KnowledgeSnippet, error)

	DeleteByAgent(ctx context.Context, agentUUID string) (int, error)
}
