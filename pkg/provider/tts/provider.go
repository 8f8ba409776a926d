// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs or OpenAI
// TTS) and presents a uniform interface. The primary entry point is
// SynthesizeStream, which returns a channel of raw audio bytes as they become
// available — enabling low-latency pipelining between LLM sentence output and
// the transport.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/voxloop-ai/voxloop/pkg/audio"
)

// ErrNotSupported is returned for optional capabilities a provider lacks,
// such as SSML input or voice cloning.
var ErrNotSupported = errors.New("tts: not supported")

// Voice is a catalogue entry returned by ListVoices.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Language is the voice's primary BCP-47 language tag, when reported.
	Language string

	// Styles lists the speaking styles the voice supports, when reported.
	Styles []string

	// Metadata holds provider-specific voice attributes (gender, age, accent).
	Metadata map[string]string
}

// Request bundles a complete synthesis call for callers outside the pipeline
// (voice preview endpoints, greeting synthesis).
type Request struct {
	// Text is the content to synthesize. Interpreted as SSML when SSML is true.
	Text string

	// SSML marks Text as SSML markup rather than plain text.
	SSML bool

	// Voice is the voice configuration to speak with.
	Voice VoiceConfig

	// Format is the desired output audio format.
	Format audio.Format
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use; multiple calls may
// synthesize in parallel.
type Provider interface {
	// Synthesize converts text into a complete audio clip in the requested
	// format. Used for greetings and previews where the clip is small and
	// streaming buys nothing.
	Synthesize(ctx context.Context, text string, voice VoiceConfig, format audio.Format) ([]byte, error)

	// SynthesizeStream converts text into audio incrementally, returning a
	// read-only channel of raw audio chunks in the requested format. The
	// channel is closed by the implementation when synthesis completes or
	// ctx is cancelled; callers must drain it. Errors after the stream opens
	// are signalled by closing the channel early — callers check ctx.Err()
	// to distinguish cancellation.
	SynthesizeStream(ctx context.Context, text string, voice VoiceConfig, format audio.Format) (<-chan []byte, error)

	// SynthesizeSSML renders SSML markup. Providers without SSML support
	// return ErrNotSupported.
	SynthesizeSSML(ctx context.Context, ssml string, voice VoiceConfig, format audio.Format) ([]byte, error)

	// SynthesizeRequest is the request-object form of Synthesize, used by the
	// HTTP surface where the parameters arrive already bundled.
	SynthesizeRequest(ctx context.Context, req Request) ([]byte, error)

	// ListVoices returns the voices available from this provider, optionally
	// filtered by language ("" = all). The list reflects the provider's
	// current catalogue and may change between calls.
	ListVoices(ctx context.Context, language string) ([]Voice, error)

	// VoiceStyles returns the speaking styles the given voice supports.
	// Providers without style metadata return an empty slice.
	VoiceStyles(ctx context.Context, voiceID string) ([]string, error)

	// Close releases provider resources (connection pools, open sockets).
	// Calling Close more than once is safe.
	Close() error
}
