package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxloop-ai/voxloop/internal/call"
	"github.com/voxloop-ai/voxloop/internal/conversation"
	"github.com/voxloop-ai/voxloop/internal/store"
)

// CallRepository persists call aggregates in the calls table. The turn
// history is not stored here; it lives in the transcripts table and is keyed
// by call ID.
//
// Obtain one via [Store.Calls] rather than constructing directly.
type CallRepository struct {
	pool *pgxpool.Pool
}

// Save upserts the call row keyed by ID.
func (r *CallRepository) Save(ctx context.Context, c *call.Call) error {
	const q = `
		INSERT INTO calls
		    (id, agent_uuid, agent_name, client_type, phone_number, stream_id,
		     status, end_reason, start_time, end_time, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
		    status     = EXCLUDED.status,
		    end_reason = EXCLUDED.end_reason,
		    start_time = EXCLUDED.start_time,
		    end_time   = EXCLUDED.end_time,
		    metadata   = EXCLUDED.metadata`

	_, err := r.pool.Exec(ctx, q,
		c.ID,
		c.AgentUUID,
		c.AgentName,
		c.ClientType,
		c.PhoneNumber,
		c.StreamID,
		string(c.Status),
		c.EndReason,
		nullableTime(c.StartTime),
		nullableTime(c.EndTime),
		c.Metadata,
	)
	if err != nil {
		return fmt.Errorf("call repo: save %s: %w", c.ID, err)
	}
	return nil
}

// GetByID returns one call. The Conversation field is empty; load the turn
// history from the transcript store when needed.
func (r *CallRepository) GetByID(ctx context.Context, id string) (*call.Call, error) {
	const q = `
		SELECT id, agent_uuid, agent_name, client_type, phone_number, stream_id,
		       status, end_reason, start_time, end_time, metadata
		FROM   calls
		WHERE  id = $1`

	rows, err := r.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("call repo: get %s: %w", id, err)
	}
	c, err := pgx.CollectOneRow(rows, scanCall)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("call repo: %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("call repo: get %s: %w", id, err)
	}
	return c, nil
}

// List returns a page of calls ordered by start time descending, plus the
// total matching the filter.
func (r *CallRepository) List(ctx context.Context, opts store.ListOpts) ([]*call.Call, int, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if opts.ClientType != "" {
		conditions = append(conditions, "client_type = "+next(opts.ClientType))
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQ := "SELECT count(*) FROM calls " + where
	if err := r.pool.QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("call repo: count: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	q := fmt.Sprintf(`
		SELECT id, agent_uuid, agent_name, client_type, phone_number, stream_id,
		       status, end_reason, start_time, end_time, metadata
		FROM   calls
		%s
		ORDER  BY start_time DESC NULLS LAST
		LIMIT  %s OFFSET %s`, where, next(limit), next(opts.Offset))

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("call repo: list: %w", err)
	}
	calls, err := pgx.CollectRows(rows, scanCall)
	if err != nil {
		return nil, 0, fmt.Errorf("call repo: list scan: %w", err)
	}
	return calls, total, nil
}

// Delete removes one call row.
func (r *CallRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM calls WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("call repo: delete %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("call repo: %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// Clear removes every call row and returns the count.
func (r *CallRepository) Clear(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM calls`)
	if err != nil {
		return 0, fmt.Errorf("call repo: clear: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// scanCall maps one calls row into the aggregate.
func scanCall(row pgx.CollectableRow) (*call.Call, error) {
	var (
		c         call.Call
		status    string
		startTime *time.Time
		endTime   *time.Time
	)
	if err := row.Scan(
		&c.ID,
		&c.AgentUUID,
		&c.AgentName,
		&c.ClientType,
		&c.PhoneNumber,
		&c.StreamID,
		&status,
		&c.EndReason,
		&startTime,
		&endTime,
		&c.Metadata,
	); err != nil {
		return nil, err
	}
	c.Status = call.Status(status)
	if startTime != nil {
		c.StartTime = *startTime
	}
	if endTime != nil {
		c.EndTime = *endTime
	}
	c.Conversation = conversation.NewHistory()
	return &c, nil
}

// nullableTime maps the zero time to SQL NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
