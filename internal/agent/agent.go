// Package agent defines the persisted configuration of a voice persona: the
// prompt, greeting, voice tuning, model parameters, and transport hints that
// shape how a call sounds and behaves.
//
// Agents are stored in an [github.com/voxloop-ai/voxloop/internal/store.AgentRepository]
// and resolved once at session start. The [Settings] helper centralises the
// tolerant key lookup used when agent options arrive as untyped maps (HTTP
// config merges, YAML definitions with loose spellings).
package agent

import (
	"errors"
	"fmt"
	"time"

	"github.com/voxloop-ai/voxloop/pkg/provider/tts"
	"github.com/voxloop-ai/voxloop/pkg/types"
)

// Defaults applied by [Agent.Normalize] when a field is unset.
const (
	DefaultModel            = "llama-3.3-70b-versatile"
	DefaultTemperature      = 0.7
	DefaultMaxTokens        = 600
	DefaultClientType       = "browser"
	DefaultLanguage         = "en"
	DefaultSilenceTimeoutMs = 800
)

// Voice groups the speech-synthesis tuning of an agent.
type Voice struct {
	// Name is the provider-specific voice identifier.
	Name string `yaml:"name" json:"name"`

	// Provider pins the agent to a TTS backend ("elevenlabs", "openai").
	// Empty uses the server default.
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty"`

	// Speed is the speaking-rate multiplier, 0.5–2.0. Zero means 1.0.
	Speed float64 `yaml:"speed,omitempty" json:"speed,omitempty"`

	// Pitch shifts the base pitch in Hz, -100–100.
	Pitch float64 `yaml:"pitch,omitempty" json:"pitch,omitempty"`

	// Volume is the output gain percentage, 0–100. Zero means 100.
	Volume float64 `yaml:"volume,omitempty" json:"volume,omitempty"`

	// Style selects a provider voice style (e.g. "cheerful"). Optional.
	Style string `yaml:"style,omitempty" json:"style,omitempty"`

	// StyleDegree scales the style intensity, 0.01–2.0. Zero means 1.0.
	StyleDegree float64 `yaml:"style_degree,omitempty" json:"style_degree,omitempty"`
}

// Model groups the LLM parameters of an agent.
type Model struct {
	// Name is the model identifier passed to the LLM provider.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Temperature controls output randomness, [0.0, 2.0].
	Temperature float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`

	// MaxTokens caps completion length per turn. Voice replies should stay
	// short; the default keeps a turn under roughly 45 seconds of speech.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
}

// Speech groups the transcription parameters of an agent.
type Speech struct {
	// Language is the BCP-47 language hint passed to the STT provider.
	Language string `yaml:"language,omitempty" json:"language,omitempty"`

	// Keywords boost recognition of domain vocabulary (product names,
	// jargon) that general models mis-hear.
	Keywords []types.KeywordBoost `yaml:"keywords,omitempty" json:"keywords,omitempty"`
}

// Agent is a voice persona. The zero value is not usable; construct via
// [FromSettings], the YAML [Loader], or fill the fields and call
// [Agent.Normalize].
type Agent struct {
	// UUID is the stable identifier assigned at creation time.
	UUID string `yaml:"uuid,omitempty" json:"uuid"`

	// Name is the human-readable unique name ("support-line", "receptionist").
	Name string `yaml:"name" json:"name"`

	// SystemPrompt is the base instruction block for the LLM.
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt"`

	// FirstMessage is spoken to the caller as soon as the session starts.
	// Empty means the agent waits for the caller to speak first.
	FirstMessage string `yaml:"first_message,omitempty" json:"first_message,omitempty"`

	Voice  Voice  `yaml:"voice" json:"voice"`
	Model  Model  `yaml:"model" json:"model"`
	Speech Speech `yaml:"speech" json:"speech"`

	// ClientType selects the transport the agent answers on: "browser",
	// "twilio" or "telnyx". It determines the session's audio format.
	ClientType string `yaml:"client_type,omitempty" json:"client_type,omitempty"`

	// SilenceTimeoutMs is how long the caller must stay silent after speech
	// before the turn is considered over.
	SilenceTimeoutMs int `yaml:"silence_timeout_ms,omitempty" json:"silence_timeout_ms,omitempty"`

	// ConfirmationWindowMs delays the speech-onset event until this much time
	// has passed since the first voiced chunk, filtering out coughs and
	// keyboard noise. Zero confirms immediately.
	ConfirmationWindowMs int `yaml:"confirmation_window_ms,omitempty" json:"confirmation_window_ms,omitempty"`

	// StyleOverrides are appended to the system prompt per call, keyed by a
	// label the prompt builder interpolates ("response_length", "tone",
	// "formality").
	StyleOverrides map[string]string `yaml:"style_overrides,omitempty" json:"style_overrides,omitempty"`

	// ContextData holds static facts interpolated into the prompt
	// ("opening_hours", "address"). Dynamic per-call values are layered on
	// top by the prompt builder.
	ContextData map[string]string `yaml:"context_data,omitempty" json:"context_data,omitempty"`

	// Tools is the allowlist of tool names this agent may call. Empty means
	// only the built-in tools.
	Tools []string `yaml:"tools,omitempty" json:"tools,omitempty"`

	// DynamicVarsEnabled turns on {placeholder} substitution in the system
	// prompt using DynamicVars.
	DynamicVarsEnabled bool `yaml:"dynamic_vars_enabled,omitempty" json:"dynamic_vars_enabled,omitempty"`

	// DynamicVars are the substitution values for {placeholder} tokens in the
	// system prompt ("caller_name", "account_tier").
	DynamicVars map[string]string `yaml:"dynamic_vars,omitempty" json:"dynamic_vars,omitempty"`

	// EndCallPhrases are caller utterances that end the call directly, checked
	// against final transcripts ("goodbye", "that's all").
	EndCallPhrases []string `yaml:"end_call_phrases,omitempty" json:"end_call_phrases,omitempty"`

	// TransferPhrases are caller utterances that trigger a transfer to
	// TransferNumber ("speak to a human").
	TransferPhrases []string `yaml:"transfer_phrases,omitempty" json:"transfer_phrases,omitempty"`

	// TransferNumber is the E.164 number the transfer_call tool dials.
	TransferNumber string `yaml:"transfer_number,omitempty" json:"transfer_number,omitempty"`

	// KnowledgeEnabled turns on knowledge-base retrieval: before each
	// generation, top-matching snippets are prefetched into the prompt's
	// context block.
	KnowledgeEnabled bool `yaml:"knowledge_enabled,omitempty" json:"knowledge_enabled,omitempty"`

	// Active marks the agent that answers inbound calls with no explicit
	// agent selection. At most one agent should be active at a time.
	Active bool `yaml:"active,omitempty" json:"active"`

	CreatedAt time.Time `yaml:"-" json:"created_at,omitzero"`
	UpdatedAt time.Time `yaml:"-" json:"updated_at,omitzero"`
}

// Normalize fills unset fields with their defaults. It never fails; range
// violations are left for [Agent.Validate].
func (a *Agent) Normalize() {
	if a.Model.Name == "" {
		a.Model.Name = DefaultModel
	}
	if a.Model.Temperature == 0 {
		a.Model.Temperature = DefaultTemperature
	}
	if a.Model.MaxTokens == 0 {
		a.Model.MaxTokens = DefaultMaxTokens
	}
	if a.ClientType == "" {
		a.ClientType = DefaultClientType
	}
	if a.Speech.Language == "" {
		a.Speech.Language = DefaultLanguage
	}
	if a.SilenceTimeoutMs == 0 {
		a.SilenceTimeoutMs = DefaultSilenceTimeoutMs
	}
	if a.Voice.Speed == 0 {
		a.Voice.Speed = tts.DefaultSpeed
	}
	if a.Voice.Volume == 0 {
		a.Voice.Volume = tts.DefaultVolume
	}
	if a.Voice.StyleDegree == 0 {
		a.Voice.StyleDegree = tts.DefaultStyleDegree
	}
}

// Validate reports every problem with the agent at once.
func (a *Agent) Validate() error {
	var errs []error
	if a.Name == "" {
		errs = append(errs, errors.New("agent name must not be empty"))
	}
	if a.SystemPrompt == "" {
		errs = append(errs, errors.New("agent system_prompt must not be empty"))
	}
	if a.Model.Temperature < 0 || a.Model.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature %.2f out of range [0.0, 2.0]", a.Model.Temperature))
	}
	if a.Model.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("max_tokens %d must not be negative", a.Model.MaxTokens))
	}
	if a.SilenceTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("silence_timeout_ms %d must not be negative", a.SilenceTimeoutMs))
	}
	if a.ConfirmationWindowMs < 0 {
		errs = append(errs, fmt.Errorf("confirmation_window_ms %d must not be negative", a.ConfirmationWindowMs))
	}
	switch a.ClientType {
	case "", "browser", "twilio", "telnyx":
	default:
		errs = append(errs, fmt.Errorf("unknown client_type %q", a.ClientType))
	}
	if _, err := a.VoiceConfig(); err != nil {
		errs = append(errs, fmt.Errorf("voice: %w", err))
	}
	return errors.Join(errs...)
}

// VoiceConfig builds the TTS voice configuration from the agent's voice
// fields, applying defaults for unset tuning values.
func (a *Agent) VoiceConfig() (tts.VoiceConfig, error) {
	v := a.Voice
	if v.Speed == 0 {
		v.Speed = tts.DefaultSpeed
	}
	if v.Volume == 0 {
		v.Volume = tts.DefaultVolume
	}
	if v.StyleDegree == 0 {
		v.StyleDegree = tts.DefaultStyleDegree
	}
	return tts.NewVoiceConfig(v.Name, v.Speed, v.Pitch, v.Volume, v.Style, v.StyleDegree, v.Provider)
}

// Clone returns a deep copy. Mutating the copy never affects the original.
func (a *Agent) Clone() *Agent {
	c := *a
	if a.StyleOverrides != nil {
		c.StyleOverrides = make(map[string]string, len(a.StyleOverrides))
		for k, v := range a.StyleOverrides {
			c.StyleOverrides[k] = v
		}
	}
	if a.ContextData != nil {
		c.ContextData = make(map[string]string, len(a.ContextData))
		for k, v := range a.ContextData {
			c.ContextData[k] = v
		}
	}
	if a.DynamicVars != nil {
		c.DynamicVars = make(map[string]string, len(a.DynamicVars))
		for k, v := range a.DynamicVars {
			c.DynamicVars[k] = v
		}
	}
	c.Tools = append([]string(nil), a.Tools...)
	c.EndCallPhrases = append([]string(nil), a.EndCallPhrases...)
	c.TransferPhrases = append([]string(nil), a.TransferPhrases...)
	c.Speech.Keywords = append([]types.KeywordBoost(nil), a.Speech.Keywords...)
	return &c
}
