package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxloop-ai/voxloop/internal/agent"
	"github.com/voxloop-ai/voxloop/internal/store"
)

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505), which the agents table raises on name reuse.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// AgentRepository persists agent definitions in the agents table. Voice,
// model, and speech settings are stored as JSONB so new tuning fields do not
// need schema migrations.
//
// Obtain one via [Store.Agents] rather than constructing directly.
type AgentRepository struct {
	pool *pgxpool.Pool
}

const agentColumns = `
	uuid, name, system_prompt, first_message, voice, model, speech,
	client_type, silence_timeout_ms, style_overrides, context_data,
	tools, transfer_number, active, created_at, updated_at`

// Create inserts a new agent, assigning a UUID when absent. When the new
// agent is marked active, every other agent is deactivated in the same
// transaction.
func (r *AgentRepository) Create(ctx context.Context, a *agent.Agent) (*agent.Agent, error) {
	c := a.Clone()
	if c.UUID == "" {
		c.UUID = uuid.NewString()
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if c.Active {
			if _, err := tx.Exec(ctx, `UPDATE agents SET active = false WHERE active`); err != nil {
				return err
			}
		}
		const q = `
			INSERT INTO agents (` + agentColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
		_, err := tx.Exec(ctx, q,
			c.UUID, c.Name, c.SystemPrompt, c.FirstMessage,
			c.Voice, c.Model, c.Speech,
			c.ClientType, c.SilenceTimeoutMs, c.StyleOverrides, c.ContextData,
			c.Tools, c.TransferNumber, c.Active, c.CreatedAt, c.UpdatedAt,
		)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("agent repo: create %q: %w", c.Name, store.ErrConflict)
		}
		return nil, fmt.Errorf("agent repo: create %q: %w", c.Name, err)
	}
	return c, nil
}

// Seed inserts agents that do not yet exist by name, leaving API-edited
// definitions untouched. Used at startup to load YAML-defined agents.
func (r *AgentRepository) Seed(ctx context.Context, agents []*agent.Agent) error {
	for _, a := range agents {
		_, err := r.GetByName(ctx, a.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if _, err := r.Create(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// GetByUUID returns one agent by its UUID.
func (r *AgentRepository) GetByUUID(ctx context.Context, id string) (*agent.Agent, error) {
	return r.getOne(ctx, "uuid = $1", id)
}

// GetByName returns one agent by its unique name.
func (r *AgentRepository) GetByName(ctx context.Context, name string) (*agent.Agent, error) {
	return r.getOne(ctx, "name = $1", name)
}

// GetActive returns the agent marked active, or [store.ErrNotFound].
func (r *AgentRepository) GetActive(ctx context.Context) (*agent.Agent, error) {
	return r.getOne(ctx, "active", nil)
}

func (r *AgentRepository) getOne(ctx context.Context, where string, arg any) (*agent.Agent, error) {
	q := "SELECT " + agentColumns + " FROM agents WHERE " + where

	var rows pgx.Rows
	var err error
	if arg == nil {
		rows, err = r.pool.Query(ctx, q)
	} else {
		rows, err = r.pool.Query(ctx, q, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("agent repo: query: %w", err)
	}
	a, err := pgx.CollectOneRow(rows, scanAgent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("agent repo: %w", store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("agent repo: scan: %w", err)
	}
	return a, nil
}

// List returns all agents ordered by name.
func (r *AgentRepository) List(ctx context.Context) ([]*agent.Agent, error) {
	q := "SELECT " + agentColumns + " FROM agents ORDER BY name"
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("agent repo: list: %w", err)
	}
	agents, err := pgx.CollectRows(rows, scanAgent)
	if err != nil {
		return nil, fmt.Errorf("agent repo: list scan: %w", err)
	}
	return agents, nil
}

// Update rewrites the agent row keyed by UUID. Activation through Update
// deactivates every other agent in the same transaction.
func (r *AgentRepository) Update(ctx context.Context, a *agent.Agent) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if a.Active {
			if _, err := tx.Exec(ctx, `UPDATE agents SET active = false WHERE active AND uuid <> $1`, a.UUID); err != nil {
				return err
			}
		}
		const q = `
			UPDATE agents SET
			    name = $2, system_prompt = $3, first_message = $4,
			    voice = $5, model = $6, speech = $7,
			    client_type = $8, silence_timeout_ms = $9,
			    style_overrides = $10, context_data = $11, tools = $12,
			    transfer_number = $13, active = $14, updated_at = now()
			WHERE uuid = $1`
		tag, err := tx.Exec(ctx, q,
			a.UUID, a.Name, a.SystemPrompt, a.FirstMessage,
			a.Voice, a.Model, a.Speech,
			a.ClientType, a.SilenceTimeoutMs,
			a.StyleOverrides, a.ContextData, a.Tools,
			a.TransferNumber, a.Active,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("agent repo: update %s: %w", a.UUID, store.ErrConflict)
		}
		return fmt.Errorf("agent repo: update %s: %w", a.UUID, err)
	}
	return nil
}

// SetActive marks one agent active and all others inactive, returning the
// newly active agent.
func (r *AgentRepository) SetActive(ctx context.Context, id string) (*agent.Agent, error) {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE agents SET active = false WHERE active`); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `UPDATE agents SET active = true, updated_at = now() WHERE uuid = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("agent repo: set active %s: %w", id, err)
	}
	return r.GetByUUID(ctx, id)
}

// Delete removes one agent row.
func (r *AgentRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM agents WHERE uuid = $1`, id)
	if err != nil {
		return fmt.Errorf("agent repo: delete %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent repo: %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// scanAgent maps one agents row into the entity.
func scanAgent(row pgx.CollectableRow) (*agent.Agent, error) {
	var a agent.Agent
	if err := row.Scan(
		&a.UUID,
		&a.Name,
		&a.SystemPrompt,
		&a.FirstMessage,
		&a.Voice,
		&a.Model,
		&a.Speech,
		&a.ClientType,
		&a.SilenceTimeoutMs,
		&a.StyleOverrides,
		&a.ContextData,
		&a.Tools,
		&a.TransferNumber,
		&a.Active,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &a, nil
}
