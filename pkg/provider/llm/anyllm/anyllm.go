// Package anyllm provides a universal LLM provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// Usage:
//
//	p, err := anyllm.NewGroq("llama-3.3-70b-versatile", anyllmlib.WithAPIKey("gsk-..."))
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/voxloop-ai/voxloop/pkg/provider/llm"
	"github.com/voxloop-ai/voxloop/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// backends maps provider names to their any-llm-go constructors. Without an
// API key option, each backend falls back to its usual environment variable
// (GROQ_API_KEY, ANTHROPIC_API_KEY, and so on); the local backends need none.
var backends = map[string]func(...anyllmlib.Option) (anyllmlib.Provider, error){
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
}

// New creates a Provider backed by the named any-llm-go backend. model is the
// default model; a per-request Model in CompletionRequest overrides it.
func New(providerName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	construct, ok := backends[strings.ToLower(providerName)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported provider %q; supported: %s",
			providerName, strings.Join(slices.Sorted(maps.Keys(backends)), ", "))
	}
	backend, err := construct(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

// NewGroq creates a Provider backed by Groq. Groq's inference latency makes
// it the default choice for the realtime path.
func NewGroq(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("groq", model, opts...)
}

// NewOllama creates a Provider backed by Ollama, the local-inference path.
// Without options it connects to http://localhost:11434.
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", model, opts...)
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	backendChunks, backendErrs := p.backend.CompletionStream(ctx, p.buildParams(req))

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)

		// Tool-call fragments arrive positionally across deltas; any-llm-go
		// does not expose an index field, so merge by slice position.
		var calls []types.ToolCall

		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			calls = mergeToolFragments(calls, choice.Delta.ToolCalls)

			out := llm.Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}
			if choice.FinishReason != "" && len(calls) > 0 {
				out.ToolCalls = slices.Clone(calls)
			}
			if out.Text == "" && out.FinishReason == "" {
				continue
			}

			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		// The error channel resolves only after the chunk channel drains.
		if err := <-backendErrs; err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: llm.FinishError, Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// mergeToolFragments folds one delta's tool-call fragments into the running
// accumulator. The first fragment at a position carries the ID and name;
// argument JSON accretes across fragments.
func mergeToolFragments(accum []types.ToolCall, fragments []anyllmlib.ToolCall) []types.ToolCall {
	for i, f := range fragments {
		for len(accum) <= i {
			accum = append(accum, types.ToolCall{})
		}
		if f.ID != "" {
			accum[i].ID = f.ID
		}
		if f.Function.Name != "" {
			accum[i].Name = f.Function.Name
		}
		accum[i].Arguments += f.Function.Arguments
	}
	return accum
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: empty choices in response")
	}

	msg := resp.Choices[0].Message
	result := &llm.CompletionResponse{Content: msg.ContentString()}
	if resp.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	for _, tc := range msg.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, types.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result, nil
}

// ListModels implements llm.Provider. any-llm-go does not expose model
// discovery across its backends, so the provider serves exactly the model it
// was configured with.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	return []string{p.model}, nil
}

// IsModelSafeForVoice implements llm.Provider. Reasoning model families
// buffer a thinking phase before the first token, which a caller hears as
// dead air, so they are rejected for the realtime path.
func (p *Provider) IsModelSafeForVoice(model string) bool {
	if model == "" {
		model = p.model
	}
	return !isReasoningModel(model)
}

// reasoningPrefixes matches model families whose time-to-first-token is far
// beyond conversational latency.
var reasoningPrefixes = []string{
	"o1",
	"o3",
	"o4",
	"deepseek-r",
	"deepseek-reasoner",
	"qwq",
}

// isReasoningModel reports whether the model name belongs to a known
// reasoning family. Explicit "-thinking" variants are caught regardless of
// family.
func isReasoningModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range reasoningPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return strings.Contains(lower, "-thinking")
}

// CountTokens implements llm.Provider with the rough 4-chars-per-token
// approximation most chat models share, plus per-message formatting overhead.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	const perMessageOverhead = 4
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + perMessageOverhead
	}
	return total, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return modelCapabilities(p.model)
}

// buildParams converts a CompletionRequest into anyllm CompletionParams.
func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m))
	}

	params := anyllmlib.CompletionParams{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = &req.Temperature
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = &req.MaxTokens
	}
	for _, td := range req.Tools {
		params.Tools = append(params.Tools, anyllmlib.Tool{
			Type: "function",
			Function: anyllmlib.Function{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		})
	}
	return params
}

// convertMessage converts a types.Message to an anyllm Message.
func convertMessage(m types.Message) anyllmlib.Message {
	msg := anyllmlib.Message{
		Role:       m.Role,
		Content:    m.Content,
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, anyllmlib.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: anyllmlib.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return msg
}

// capabilityRule assigns context-window and output limits to a model family.
type capabilityRule struct {
	prefixes []string
	infixes  []string
	window   int
	output   int
	noTools  bool
}

func (r capabilityRule) matches(lower string) bool {
	for _, p := range r.prefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	for _, in := range r.infixes {
		if strings.Contains(lower, in) {
			return true
		}
	}
	return false
}

// capabilityRules covers the OpenAI, Anthropic, Gemini, Groq-hosted Llama,
// Mistral, and DeepSeek families. First match wins, so narrower names come
// before their family prefix.
var capabilityRules = []capabilityRule{
	{prefixes: []string{"gpt-4o-mini", "gpt-4o"}, window: 128_000, output: 16_384},
	{prefixes: []string{"gpt-4-turbo"}, window: 128_000, output: 4_096},
	{prefixes: []string{"gpt-4"}, window: 8_192, output: 4_096},
	{prefixes: []string{"gpt-3.5-turbo"}, window: 16_385, output: 4_096},
	// o-series stays listed for the offline paths even though
	// IsModelSafeForVoice rejects it.
	{prefixes: []string{"o1-mini"}, window: 128_000, output: 65_536, noTools: true},
	{prefixes: []string{"o1", "o3"}, window: 200_000, output: 100_000},
	{infixes: []string{"claude-3-opus"}, window: 200_000, output: 4_096},
	{prefixes: []string{"claude"}, window: 200_000, output: 8_192},
	{infixes: []string{"gemini-1.5-pro"}, window: 2_097_152, output: 8_192},
	{infixes: []string{"gemini-2.0-flash", "gemini-1.5-flash"}, window: 1_048_576, output: 8_192},
	{prefixes: []string{"gemini"}, window: 128_000, output: 8_192},
	{prefixes: []string{"llama-3.3", "llama-3.1"}, window: 131_072, output: 32_768},
	{prefixes: []string{"llama"}, window: 8_192, output: 4_096},
	{prefixes: []string{"mixtral"}, window: 32_768, output: 4_096},
	{prefixes: []string{"deepseek"}, window: 65_536, output: 8_192},
}

// modelCapabilities returns ModelCapabilities for known model names. Unknown
// models receive conservative defaults.
func modelCapabilities(model string) types.ModelCapabilities {
	caps := types.ModelCapabilities{
		SupportsToolCalling: true,
		SupportsStreaming:   true,
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
	}
	lower := strings.ToLower(model)
	for _, r := range capabilityRules {
		if r.matches(lower) {
			caps.ContextWindow = r.window
			caps.MaxOutputTokens = r.output
			caps.SupportsToolCalling = !r.noTools
			break
		}
	}
	return caps
}
