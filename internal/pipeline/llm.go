package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/voxloop-ai/voxloop/internal/agent"
	"github.com/voxloop-ai/voxloop/internal/conversation"
	"github.com/voxloop-ai/voxloop/internal/frame"
	"github.com/voxloop-ai/voxloop/pkg/provider/llm"
	"github.com/voxloop-ai/voxloop/pkg/types"
)

const (
	// EndCallSentinel is the token the model emits when the conversation
	// should end. It is stripped from the spoken reply and turned into an
	// EndTask frame.
	EndCallSentinel = "[END_CALL]"

	// minSentenceChars is the smallest buffer the sentence segmenter will
	// flush. Very short fragments ("Dr.", "No.") tend to be abbreviations or
	// sound clipped when synthesized alone.
	minSentenceChars = 10

	// defaultHistoryWindow is how many trailing conversation turns feed each
	// generation.
	defaultHistoryWindow = 20

	// maxToolDepth bounds tool-call recursion within one user turn.
	maxToolDepth = 5
)

// sentenceEnd matches a buffer that just completed a sentence: terminal
// punctuation followed by whitespace.
var sentenceEnd = regexp.MustCompile(`[.?!]\s+$`)

// ToolRunner executes the tool calls a model requests mid-generation and
// exposes the definitions offered to it. Implemented by the tool executor.
type ToolRunner interface {
	Execute(ctx context.Context, req types.ToolRequest) types.ToolResponse
	Definitions(allow []string) []types.ToolDefinition
}

// BargeInCommand is the planner's verdict on user speech that arrives while
// a generation is in flight.
type BargeInCommand struct {
	// InterruptAudio stops the agent's current reply.
	InterruptAudio bool

	// ClearPipeline additionally flushes queued synthesis downstream.
	ClearPipeline bool
}

// BargeInPlanner decides how to react when the user talks over the agent.
// The session layer implements it; it also drives the FSM and control-channel
// side of an interruption.
type BargeInPlanner interface {
	Plan(reason, text string) BargeInCommand
}

// PromptSource renders the system prompt for one generation. Implementations
// that prefetch context (knowledge snippets, cache values) degrade gracefully:
// a failed prefetch yields a prompt without that block, never an error.
type PromptSource interface {
	System(ctx context.Context) string
}

type queryCtxKey struct{}

// WithQuery tags ctx with the user utterance driving the current generation,
// so a PromptSource can ground its context retrieval on it.
func WithQuery(ctx context.Context, utterance string) context.Context {
	return context.WithValue(ctx, queryCtxKey{}, utterance)
}

// QueryFromContext returns the utterance set by WithQuery, or "".
func QueryFromContext(ctx context.Context) string {
	q, _ := ctx.Value(queryCtxKey{}).(string)
	return q
}

// LLMProcessor turns final user transcripts into streamed assistant replies.
//
// At most one generation is in flight: a new user turn cancels the previous
// generation before spawning its own (barge-in at the LLM layer). Streamed
// text is segmented at sentence boundaries and pushed downstream as assistant
// TextFrames so synthesis can start before the reply is complete. Tool calls
// are executed inline and the generation recurses with the result in history.
type LLMProcessor struct {
	*Base

	port    llm.Provider
	history *conversation.History
	agent   *agent.Agent

	tools         ToolRunner
	prompt        PromptSource
	bargeIn       BargeInPlanner
	transcript    TranscriptSink
	historyWindow int
	streamID      string

	mu        sync.Mutex
	genCancel context.CancelFunc
	genSeq    uint64

	wg sync.WaitGroup
}

// LLMOption configures an [LLMProcessor].
type LLMOption func(*LLMProcessor)

// WithToolRunner wires the executor for model-requested tool calls. Without
// it the model is offered no tools.
func WithToolRunner(tr ToolRunner) LLMOption {
	return func(p *LLMProcessor) { p.tools = tr }
}

// WithPromptSource replaces the agent's raw system prompt with a rendered
// one (style overrides, context data, placeholder substitution).
func WithPromptSource(ps PromptSource) LLMOption {
	return func(p *LLMProcessor) { p.prompt = ps }
}

// WithBargeInPlanner wires the session's barge-in decision hook.
func WithBargeInPlanner(bp BargeInPlanner) LLMOption {
	return func(p *LLMProcessor) { p.bargeIn = bp }
}

// WithHistoryWindow sets how many trailing turns feed each generation.
func WithHistoryWindow(n int) LLMOption {
	return func(p *LLMProcessor) {
		if n > 0 {
			p.historyWindow = n
		}
	}
}

// WithLLMTranscriptSink reports each completed assistant reply, typically
// into the async transcript store.
func WithLLMTranscriptSink(sink TranscriptSink) LLMOption {
	return func(p *LLMProcessor) { p.transcript = sink }
}

// WithStreamID tags provider requests and tool calls with the session's
// stream id for correlation.
func WithStreamID(id string) LLMOption {
	return func(p *LLMProcessor) { p.streamID = id }
}

// NewLLM builds an LLM processor for the given agent. The agent is cloned
// and normalized, so later mutations by the caller do not affect generation.
func NewLLM(port llm.Provider, history *conversation.History, a *agent.Agent, opts ...LLMOption) *LLMProcessor {
	a = a.Clone()
	a.Normalize()
	p := &LLMProcessor{
		port:          port,
		history:       history,
		agent:         a,
		historyWindow: defaultHistoryWindow,
	}
	p.Base = NewBase("llm", p)
	for _, o := range opts {
		o(p)
	}
	return p
}

var _ Processor = (*LLMProcessor)(nil)

// Stop halts dispatch, cancels any in-flight generation, and waits for it.
func (p *LLMProcessor) Stop() error {
	err := p.Base.Stop()
	p.cancelGeneration("shutdown")
	p.wg.Wait()
	return err
}

// InFlight reports whether a generation is currently running.
func (p *LLMProcessor) InFlight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.genCancel != nil
}

// HandleFrame reacts to final user text and Cancel frames; everything passes
// through, including the user frame itself (downstream processors ignore
// non-assistant roles).
func (p *LLMProcessor) HandleFrame(_ context.Context, f frame.Frame, dir frame.Direction) error {
	if dir != frame.Downstream {
		return p.PushFrame(f, dir)
	}
	switch fr := f.(type) {
	case *frame.TextFrame:
		if fr.Role == frame.RoleUser && fr.IsFinal {
			p.onUserText(fr)
		}
	case *frame.CancelFrame:
		p.cancelGeneration(fr.Reason)
	}
	return p.PushFrame(f, dir)
}

// onUserText appends the turn to history (suppressing exact duplicates),
// resolves any in-flight generation via the barge-in planner, and spawns the
// new generation.
func (p *LLMProcessor) onUserText(f *frame.TextFrame) {
	if p.history.LastUserContent() != f.Text {
		p.history.Append(frame.RoleUser, f.Text)
	}

	clearPipeline := false
	if p.InFlight() {
		if p.bargeIn != nil {
			cmd := p.bargeIn.Plan("user_spoke", f.Text)
			clearPipeline = cmd.ClearPipeline
			if cmd.InterruptAudio {
				p.cancelGeneration("user_spoke")
			}
		} else {
			p.cancelGeneration("user_spoke")
		}
	}
	if clearPipeline {
		c := frame.NewCancel("barge_in")
		c.SetTraceID(f.TraceID())
		p.PushFrame(c, frame.Downstream)
	}

	p.startGeneration(f.TraceID())
}

// startGeneration replaces the in-flight generation, if any, with a new one.
func (p *LLMProcessor) startGeneration(traceID string) {
	root := p.Context()
	if root == nil {
		slog.Warn("llm: user text before start, generation skipped")
		return
	}

	p.mu.Lock()
	if p.genCancel != nil {
		p.genCancel()
	}
	gctx, cancel := context.WithCancel(root)
	p.genCancel = cancel
	p.genSeq++
	seq := p.genSeq
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.clearGeneration(seq)
		p.generate(gctx, traceID, 0)
	}()
}

// cancelGeneration aborts the in-flight generation, if any.
func (p *LLMProcessor) cancelGeneration(reason string) {
	p.mu.Lock()
	cancel := p.genCancel
	p.genCancel = nil
	p.mu.Unlock()
	if cancel != nil {
		slog.Debug("llm: generation cancelled", "reason", reason, "stream_id", p.streamID)
		cancel()
	}
}

// clearGeneration releases the cancel handle when the generation that owns
// seq finishes. A successor that already replaced the handle is left alone.
func (p *LLMProcessor) clearGeneration(seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.genSeq == seq && p.genCancel != nil {
		p.genCancel()
		p.genCancel = nil
	}
}

// generate runs one streamed completion: segmenting sentences, stripping the
// end-call sentinel, executing tool calls, and committing the reply to
// history. Failures are logged and the call continues; the next user turn
// simply retries.
func (p *LLMProcessor) generate(ctx context.Context, traceID string, depth int) {
	req := p.buildRequest(ctx, traceID)
	stream, err := p.port.StreamCompletion(ctx, req)
	if err != nil {
		slog.Error("llm: stream start failed",
			"model", req.Model, "trace_id", traceID, "err", err)
		return
	}

	var full, buf string
	shouldEndCall := false
	for chunk := range stream {
		if len(chunk.ToolCalls) > 0 {
			go drainLLMStream(stream)
			p.runTool(ctx, chunk.ToolCalls[0], traceID, depth)
			return
		}
		if chunk.Text != "" {
			full += chunk.Text
			buf += chunk.Text
			if strings.Contains(buf, EndCallSentinel) {
				buf = strings.ReplaceAll(buf, EndCallSentinel, "")
				full = strings.ReplaceAll(full, EndCallSentinel, "")
				shouldEndCall = true
			}
			if len(buf) > minSentenceChars && sentenceEnd.MatchString(buf) {
				p.emitAssistant(buf, traceID)
				buf = ""
			}
		}
		if chunk.FinishReason == llm.FinishError {
			slog.Warn("llm: stream reported error", "trace_id", traceID)
		}
	}

	if ctx.Err() != nil {
		// Cancelled mid-stream: sentences already emitted stand, the tail is
		// dropped, and history keeps only what was committed.
		return
	}

	if tail := strings.TrimSpace(buf); tail != "" {
		p.emitAssistant(tail, traceID)
	}
	if reply := strings.TrimSpace(full); reply != "" {
		p.history.Append(frame.RoleAssistant, reply)
		if p.transcript != nil {
			p.transcript(frame.RoleAssistant, reply)
		}
	}
	if shouldEndCall {
		slog.Info("llm: model requested end of call",
			"stream_id", p.streamID, "trace_id", traceID)
		et := frame.NewEndTask("end_call", "model_requested")
		et.SetTraceID(traceID)
		p.PushFrame(et, frame.Downstream)
	}
}

// runTool records the call in history, executes it, and recurses so the
// model can speak to the result. Tool failures become their error text; the
// model decides how to phrase them.
func (p *LLMProcessor) runTool(ctx context.Context, call types.ToolCall, traceID string, depth int) {
	if p.tools == nil {
		slog.Warn("llm: model requested a tool but no executor is wired",
			"tool", call.Name, "trace_id", traceID)
		return
	}
	if depth >= maxToolDepth {
		slog.Warn("llm: tool recursion limit reached",
			"tool", call.Name, "depth", depth, "trace_id", traceID)
		return
	}

	p.history.Append(frame.RoleAssistant, "[TOOL_CALL: "+call.Name+"]")

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			slog.Warn("llm: tool arguments are not valid JSON",
				"tool", call.Name, "err", err)
			args = map[string]any{"raw": call.Arguments}
		}
	}

	resp := p.tools.Execute(ctx, types.ToolRequest{
		Name:      call.Name,
		Arguments: args,
		TraceID:   traceID,
		Context:   map[string]any{"stream_id": p.streamID},
	})
	result := resp.ErrorMessage
	if resp.Success {
		result = fmt.Sprint(resp.Result)
	}
	p.history.Append(frame.RoleFunction, result)

	p.generate(ctx, traceID, depth+1)
}

// emitAssistant pushes one spoken sentence downstream.
func (p *LLMProcessor) emitAssistant(text, traceID string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	tf := frame.NewText(text, true, frame.RoleAssistant)
	tf.SetTraceID(traceID)
	tf.SetMetadata("source", "llm")
	p.PushFrame(tf, frame.Downstream)
}

// buildRequest assembles the completion request from the history window, the
// rendered system prompt, and the agent's model parameters.
func (p *LLMProcessor) buildRequest(ctx context.Context, traceID string) llm.CompletionRequest {
	system := p.agent.SystemPrompt
	if p.prompt != nil {
		system = p.prompt.System(WithQuery(ctx, p.history.LastUserContent()))
	}
	var tools []types.ToolDefinition
	if p.tools != nil {
		tools = p.tools.Definitions(p.agent.Tools)
	}
	return llm.CompletionRequest{
		Messages:     p.history.Messages(p.historyWindow),
		Model:        p.agent.Model.Name,
		Tools:        tools,
		Temperature:  p.agent.Model.Temperature,
		MaxTokens:    p.agent.Model.MaxTokens,
		SystemPrompt: system,
		Metadata: map[string]any{
			"trace_id":  traceID,
			"stream_id": p.streamID,
		},
	}
}

// drainLLMStream discards the remainder of a completion stream so the
// provider's producer goroutine never blocks.
func drainLLMStream(ch <-chan llm.Chunk) {
	for range ch {
	}
}
