package resilience

import (
	"context"

	"github.com/voxloop-ai/voxloop/pkg/provider/llm"
	"github.com/voxloop-ai/voxloop/pkg/types"
)

// LLMFallback implements [llm.Provider] with automatic failover across
// multiple LLM backends. Each backend has its own circuit breaker; when the
// primary fails or its breaker is open, the next healthy fallback is tried.
// A degraded model is better than dead air mid-call.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	if cfg.Kind == "" {
		cfg.Kind = "llm"
	}
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM backend as a fallback.
func (f *LLMFallback) AddFallback(name string, backend llm.Provider) {
	f.group.AddFallback(name, backend)
}

// BreakerStates reports the circuit-breaker state per backend name.
func (f *LLMFallback) BreakerStates() map[string]State {
	return f.group.States()
}

// StreamCompletion opens a completion stream against the first healthy
// backend. Only the initial connection attempt is covered by failover; once
// a stream is established, mid-stream errors surface as chunks and are the
// caller's responsibility.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// Complete sends the request to the first healthy backend and returns its
// response.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// ListModels returns the model identifiers of the first healthy backend.
func (f *LLMFallback) ListModels(ctx context.Context) ([]string, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) ([]string, error) {
		return p.ListModels(ctx)
	})
}

// IsModelSafeForVoice delegates to the primary. Model safety is static
// configuration and does not participate in failover.
func (f *LLMFallback) IsModelSafeForVoice(model string) bool {
	return f.group.Primary().IsModelSafeForVoice(model)
}

// CountTokens delegates to the first healthy backend's token counter.
func (f *LLMFallback) CountTokens(messages []types.Message) (int, error) {
	return ExecuteWithResult(context.Background(), f.group, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities returns the primary's capabilities. Capabilities are static
// metadata and do not participate in failover.
func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	return f.group.Primary().Capabilities()
}
