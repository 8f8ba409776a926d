package tool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxloop-ai/voxloop/internal/observe"
	"github.com/voxloop-ai/voxloop/pkg/types"
)

// DefaultTimeout caps a single tool execution. Voice turns cannot absorb
// slow tools; anything longer reads as dead air to the caller.
const DefaultTimeout = 10 * time.Second

// Executor runs tool calls under a per-request deadline and converts every
// failure mode into a failure [types.ToolResponse]. A broken tool can slow a
// turn down but can never abort the conversation.
type Executor struct {
	registry *Registry
	timeout  time.Duration
	metrics  *observe.Metrics
}

// ExecutorOption configures an [Executor].
type ExecutorOption func(*Executor)

// WithTimeout overrides [DefaultTimeout].
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMetrics enables per-execution metric recording.
func WithMetrics(m *observe.Metrics) ExecutorOption {
	return func(e *Executor) {
		e.metrics = m
	}
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		timeout:  DefaultTimeout,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Definitions exposes the registry's definitions filtered by the agent's
// allowlist.
func (e *Executor) Definitions(allow []string) []types.ToolDefinition {
	return e.registry.Definitions(allow)
}

// Execute looks up and runs the requested tool. It always returns a
// response: unknown tools, timeouts, panics, and tool errors all become
// failure responses with Success=false.
func (e *Executor) Execute(ctx context.Context, req types.ToolRequest) types.ToolResponse {
	start := time.Now()

	t, ok := e.registry.Get(req.Name)
	if !ok {
		slog.Warn("tool not found", "tool", req.Name, "trace_id", req.TraceID)
		e.record(ctx, req.Name, "not_found", time.Since(start))
		return failure(req, start, fmt.Sprintf("tool %q not found", req.Name))
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		result, err := t.Execute(execCtx, req)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			slog.Warn("tool failed",
				"tool", req.Name, "trace_id", req.TraceID,
				"duration", time.Since(start), "err", out.err)
			e.record(ctx, req.Name, "error", time.Since(start))
			return failure(req, start, out.err.Error())
		}
		slog.Debug("tool executed",
			"tool", req.Name, "trace_id", req.TraceID,
			"duration", time.Since(start))
		e.record(ctx, req.Name, "ok", time.Since(start))
		return types.ToolResponse{
			Name:          req.Name,
			Result:        out.result,
			Success:       true,
			ExecutionTime: time.Since(start),
			TraceID:       req.TraceID,
		}
	case <-execCtx.Done():
		slog.Warn("tool timed out",
			"tool", req.Name, "trace_id", req.TraceID, "timeout", e.timeout)
		e.record(ctx, req.Name, "timeout", time.Since(start))
		return failure(req, start, fmt.Sprintf("tool %q timed out after %s", req.Name, e.timeout))
	}
}

func (e *Executor) record(ctx context.Context, name, status string, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.ToolExecutionDuration.Record(ctx, elapsed.Seconds())
	e.metrics.RecordToolCall(ctx, name, status)
}

func failure(req types.ToolRequest, start time.Time, msg string) types.ToolResponse {
	return types.ToolResponse{
		Name:          req.Name,
		Success:       false,
		ErrorMessage:  msg,
		ExecutionTime: time.Since(start),
		TraceID:       req.TraceID,
	}
}
