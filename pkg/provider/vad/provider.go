// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a chunk-level speech scorer (e.g., Silero VAD or a plain
// energy detector) and surfaces it as a stateful, per-stream session. Each
// session maintains its own internal state (model recurrence, smoothing
// history) so that multiple concurrent audio streams can be scored
// independently.
//
// VAD is synchronous by design: ProcessChunk returns immediately with a
// speech probability, making it suitable for low-latency pipeline stages that
// gate STT input. Turning probabilities into speech onset and offset events
// is the pipeline's job, not the engine's.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import (
	"errors"
	"fmt"
)

// ErrUnsupportedRate is returned when a session is requested for a sample
// rate the engine has no model window for.
var ErrUnsupportedRate = errors.New("vad: unsupported sample rate")

// Canonical detection parameters. Engines score chunks; these defaults drive
// the onset/offset state machine built on top of the scores.
const (
	// DefaultSpeechThreshold is the probability above which a chunk counts
	// toward speech onset.
	DefaultSpeechThreshold = 0.5

	// DefaultSilenceThreshold is the probability below which a chunk counts
	// as silence. Scores between the two thresholds extend the current state.
	DefaultSilenceThreshold = 0.35

	// DefaultMinSpeechFrames is the number of over-threshold chunks required
	// before speech onset is confirmed.
	DefaultMinSpeechFrames = 3

	// ChunkDurationMs is the approximate duration of one model window. Both
	// 256 samples at 8 kHz and 512 samples at 16 kHz come out at 32 ms.
	ChunkDurationMs = 32
)

// ChunkSamples returns the exact model window size in samples for the given
// sample rate. Chunks passed to ProcessChunk must be exactly this long.
func ChunkSamples(sampleRate int) (int, error) {
	switch sampleRate {
	case 8000:
		return 256, nil
	case 16000, 24000:
		return 512, nil
	default:
		return 0, fmt.Errorf("%w: %d Hz", ErrUnsupportedRate, sampleRate)
	}
}

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// chunks passed to ProcessChunk. Supported values: 8000, 16000, 24000.
	SampleRate int
}

// Validate reports whether the configuration can back a session.
func (c Config) Validate() error {
	_, err := ChunkSamples(c.SampleRate)
	return err
}

// SessionHandle represents an active VAD session for a single audio stream.
// It is an interface so that test code can supply mock implementations
// without a live engine. Each session maintains its own scoring state; Reset
// clears this state without closing the session.
//
// A SessionHandle should not be shared between goroutines unless the
// implementation explicitly guarantees concurrent safety.
type SessionHandle interface {
	// ProcessChunk scores a single audio chunk and returns the speech
	// probability in [0, 1]. The chunk must be float32 samples in [-1, 1],
	// exactly ChunkSamples(cfg.SampleRate) long. Returns an error if the
	// chunk size is wrong or if the engine encounters an internal failure.
	//
	// This method is called synchronously in the audio pipeline loop; it
	// must not block beyond the model inference itself.
	ProcessChunk(samples []float32) (float64, error)

	// Reset clears all accumulated scoring state (model recurrence, context
	// windows) without closing the session. Use this when the audio stream
	// is interrupted or restarted so stale state from the previous segment
	// does not affect subsequent chunks.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// ProcessChunk must return an error. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The
	// session is immediately ready to accept chunks.
	//
	// Returns an error if the configuration is invalid or if the engine
	// cannot allocate resources for the session.
	NewSession(cfg Config) (SessionHandle, error)

	// Close releases engine-wide resources such as a shared model runtime.
	// Sessions created by the engine must be closed first. Calling Close
	// more than once is safe.
	Close() error
}
