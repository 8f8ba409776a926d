// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram or
// Google Speech-to-Text) and exposes a uniform streaming interface. The
// central abstraction is SessionHandle: once opened, a session accepts raw
// audio and emits two streams of Transcript values — low-latency partials for
// barge-in detection and authoritative finals for the conversation.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package stt

import (
	"context"
	"errors"

	"github.com/voxloop-ai/voxloop/pkg/audio"
	"github.com/voxloop-ai/voxloop/pkg/types"
)

// ErrNotSupported is returned for optional capabilities a provider lacks,
// such as mid-session keyword updates.
var ErrNotSupported = errors.New("stt: not supported")

// StreamConfig describes the audio format and recognition hints for a new STT
// session. All fields must be compatible with what the underlying provider
// supports; see each provider's documentation for valid ranges.
type StreamConfig struct {
	// Format is the inbound audio format. Telephony calls arrive as 8 kHz
	// μ-law, browser calls as 24 kHz PCM16.
	Format audio.Format

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider auto-detect, if supported.
	Language string

	// InterimResults asks the provider for partial transcripts. Partials
	// drive barge-in detection; disabling them reduces provider traffic when
	// the agent never needs early interrupts.
	InterimResults bool

	// Keywords is a list of vocabulary hints that increase recognition
	// probability for agent-specific terms (product names, local places).
	Keywords []types.KeywordBoost
}

// SessionHandle represents an open STT streaming session. It is an interface
// so that test code can provide mock implementations without a live provider
// connection.
//
// Callers must call Close when the session is no longer needed. Failing to do
// so may leak goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw audio bytes to the provider for
	// transcription. The chunk must match the format agreed in StreamConfig.
	// Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel that emits low-latency interim
	// Transcript values as the provider makes preliminary guesses. They feed
	// barge-in detection and must not enter the conversation history.
	// The channel is closed when the session ends.
	Partials() <-chan types.Transcript

	// Finals returns a read-only channel that emits authoritative Transcript
	// values once the provider has committed to a recognition result. These
	// are the values that reach the LLM and the transcript store.
	// The channel is closed when the session ends.
	Finals() <-chan types.Transcript

	// SetKeywords replaces the active keyword boost list without restarting
	// the session. Providers that do not support mid-session keyword updates
	// return ErrNotSupported. Changes take effect on a best-effort basis;
	// already-buffered audio frames may still use the previous keyword set.
	SetKeywords(keywords []types.KeywordBoost) error

	// Close terminates the session, flushes any pending audio, and releases
	// all associated resources. After Close returns, the Partials and Finals
	// channels will be closed. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use; multiple sessions may be
// open simultaneously, one per active call.
type Provider interface {
	// StartStream opens a new streaming transcription session with the given
	// audio format and recognition configuration. The returned SessionHandle
	// is ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unsupported configuration, or ctx already
	// cancelled). The caller owns the SessionHandle and must call Close.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)

	// Transcribe performs one-shot recognition of a complete utterance. Used
	// outside the real-time path; the pipeline always streams.
	Transcribe(ctx context.Context, audioData []byte, format audio.Format, language string) (types.Transcript, error)

	// Close releases provider-wide resources such as pooled connections.
	// Open sessions are closed. Calling Close more than once is safe.
	Close() error
}
