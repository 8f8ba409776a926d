// Package types holds the data structures shared across Voxloop packages.
//
// Providers, the pipeline, stores, and the session orchestrator all speak
// these types to each other. The package stays deliberately small: anything
// owned by a single domain lives in that domain's package, and only the
// cross-cutting structures that would otherwise force import cycles land
// here.
package types

import "time"

// Transcript is a speech-to-text result. Partial (interim) and final
// results share this shape; IsFinal tells them apart.
type Transcript struct {
	// Text is the recognized speech.
	Text string

	// IsFinal is true for authoritative results. Partial results may be
	// revised by later transcripts covering the same audio.
	IsFinal bool

	// Confidence in the range 0.0 to 1.0. Zero when the provider does not
	// report one.
	Confidence float64

	// Words carries per-word timing and confidence where the provider
	// supports it (Deepgram does). Nil otherwise.
	Words []WordDetail

	// Timestamp is the utterance start, relative to the start of the call.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// WordDetail is per-word timing and confidence from STT providers that
// emit word-level output.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Message is one entry in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", "tool" or "function".
	Role string

	// Content is the message text.
	Content string

	// Name optionally identifies the participant in multi-speaker contexts.
	Name string

	// ToolCalls holds tool invocations the assistant asked for.
	ToolCalls []ToolCall

	// ToolCallID links a "tool" role message back to the call it answers.
	ToolCallID string
}

// ToolCall is a tool invocation requested by the LLM.
type ToolCall struct {
	// ID is the provider-assigned identifier for this call.
	ID string

	// Name is the tool being invoked.
	Name string

	// Arguments is the argument payload as a JSON string.
	Arguments string
}

// ToolDefinition describes a tool offered to an LLM.
type ToolDefinition struct {
	// Name uniquely identifies the tool.
	Name string

	// Description tells the model what the tool does. It is sent verbatim
	// in prompts, so keep it short and imperative.
	Description string

	// Parameters is a JSON Schema object describing the tool's inputs.
	Parameters map[string]any

	// Idempotent marks tools that are safe to retry after a timeout.
	Idempotent bool
}

// ToolRequest is a single tool invocation dispatched by the pipeline.
type ToolRequest struct {
	// Name is the tool to invoke.
	Name string

	// Arguments holds the decoded invocation arguments.
	Arguments map[string]any

	// TraceID correlates the invocation with the frame that triggered it.
	TraceID string

	// Context carries per-call data (agent id, caller number) that tools may read.
	Context map[string]any
}

// ToolResponse is the outcome of a tool invocation. Failures are captured
// here rather than returned as errors so a misbehaving tool can never abort
// the conversation.
type ToolResponse struct {
	// Name echoes the invoked tool.
	Name string

	// Result is the tool's output. Nil when Success is false.
	Result any

	// Success reports whether the invocation completed normally.
	Success bool

	// ErrorMessage describes the failure when Success is false.
	ErrorMessage string

	// ExecutionTime is how long the invocation took.
	ExecutionTime time.Duration

	// TraceID echoes the request's trace id.
	TraceID string
}

// ModelCapabilities reports what an LLM model can do. Adapters derive it
// from the model name so the pipeline can size prompts and decide whether
// tools are available.
type ModelCapabilities struct {
	// ContextWindow is the model's total token budget, input plus output.
	ContextWindow int

	// MaxOutputTokens caps a single completion.
	MaxOutputTokens int

	// SupportsToolCalling is true when the model handles native tool calls.
	SupportsToolCalling bool

	// SupportsStreaming is true when the model can stream completions.
	SupportsStreaming bool
}

// KeywordBoost biases STT recognition toward a term. Agents use it for
// proper nouns the base model is unlikely to know (product names,
// departments, local place names).
type KeywordBoost struct {
	// Keyword is the text to boost.
	Keyword string

	// Boost is the intensity on the provider's own scale.
	Boost float64
}

// VADEvent is the voice activity decision for one audio chunk.
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// Probability is the speech likelihood in the range 0.0 to 1.0.
	Probability float64
}

// VADEventType enumerates VAD detection states.
type VADEventType int

const (
	// VADSpeechStart marks the first chunk of a speech run.
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue marks a chunk inside an ongoing speech run.
	VADSpeechContinue

	// VADSpeechEnd marks the chunk where speech stopped.
	VADSpeechEnd

	// VADSilence marks a chunk with no speech.
	VADSilence
)
