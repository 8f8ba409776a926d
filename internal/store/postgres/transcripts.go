package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxloop-ai/voxloop/internal/store"
)

// TranscriptStore persists transcript lines in the transcripts table with a
// GIN full-text search index over the content column.
//
// Obtain one via [Store.Transcripts] rather than constructing directly.
// Live-call writes should go through [store.Writer] so database latency never
// reaches the audio path.
type TranscriptStore struct {
	pool *pgxpool.Pool
}

// Append inserts one transcript line.
func (t *TranscriptStore) Append(ctx context.Context, e store.TranscriptEntry) error {
	const q = `
		INSERT INTO transcripts (call_id, role, content, created_at)
		VALUES ($1, $2, $3, $4)`

	_, err := t.pool.Exec(ctx, q, e.CallID, e.Role, e.Content, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("transcript store: append: %w", err)
	}
	return nil
}

// ListByCall returns the full transcript of one call in insertion order.
func (t *TranscriptStore) ListByCall(ctx context.Context, callID string) ([]store.TranscriptEntry, error) {
	const q = `
		SELECT id, call_id, role, content, created_at
		FROM   transcripts
		WHERE  call_id = $1
		ORDER  BY id`

	rows, err := t.pool.Query(ctx, q, callID)
	if err != nil {
		return nil, fmt.Errorf("transcript store: list %s: %w", callID, err)
	}
	return collectTranscripts(rows)
}

// SearchOpts narrows a transcript full-text search.
type SearchOpts struct {
	CallID string
	Role   string
	Limit  int
}

// Search performs a PostgreSQL full-text search over transcript content. The
// query goes through plainto_tsquery so no operator syntax is required.
func (t *TranscriptStore) Search(ctx context.Context, query string, opts SearchOpts) ([]store.TranscriptEntry, error) {
	args := []any{query} // $1 = FTS query string
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('english', content) @@ plainto_tsquery('english', $1)",
	}
	if opts.CallID != "" {
		conditions = append(conditions, "call_id = "+next(opts.CallID))
	}
	if opts.Role != "" {
		conditions = append(conditions, "role = "+next(opts.Role))
	}

	q := "SELECT id, call_id, role, content, created_at\n" +
		"FROM   transcripts\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY id"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := t.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("transcript store: search: %w", err)
	}
	return collectTranscripts(rows)
}

// DeleteByCall removes the transcript of one call, returning the line count.
func (t *TranscriptStore) DeleteByCall(ctx context.Context, callID string) (int, error) {
	tag, err := t.pool.Exec(ctx, `DELETE FROM transcripts WHERE call_id = $1`, callID)
	if err != nil {
		return 0, fmt.Errorf("transcript store: delete %s: %w", callID, err)
	}
	return int(tag.RowsAffected()), nil
}

// collectTranscripts scans pgx rows into transcript entries.
func collectTranscripts(rows pgx.Rows) ([]store.TranscriptEntry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.TranscriptEntry, error) {
		var e store.TranscriptEntry
		err := row.Scan(&e.ID, &e.CallID, &e.Role, &e.Content, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("transcript store: scan: %w", err)
	}
	return entries, nil
}
