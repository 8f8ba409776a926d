// Package energy provides an RMS-energy-backed vad.Engine.
//
// It scores chunks by their root-mean-square amplitude instead of a neural
// model, trading accuracy for zero native dependencies. It is the fallback
// engine for deployments without the ONNX Runtime library and the default
// engine in tests that need deterministic, audio-driven probabilities.
package energy

import (
	"errors"
	"fmt"
	"math"

	"github.com/voxloop-ai/voxloop/pkg/provider/vad"
)

// defaultGain maps RMS amplitude (samples in [-1, 1]) to a probability.
// Conversational speech sits around RMS 0.05-0.3, line noise well under
// 0.01; a gain of 10 places speech above the 0.5 onset threshold and noise
// below the 0.35 silence threshold.
const defaultGain = 10.0

// Compile-time assertion that Engine implements vad.Engine.
var _ vad.Engine = (*Engine)(nil)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithGain overrides the RMS-to-probability gain. Defaults to 10.
func WithGain(gain float64) Option {
	return func(e *Engine) {
		e.gain = gain
	}
}

// Engine creates RMS scoring sessions. It is safe for concurrent use.
type Engine struct {
	gain float64
}

// New creates an energy Engine.
func New(opts ...Option) *Engine {
	e := &Engine{gain: defaultGain}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession creates a scoring session for one audio stream.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	window, err := vad.ChunkSamples(cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	return &session{window: window, gain: e.gain}, nil
}

// Close is a no-op; the engine holds no resources.
func (e *Engine) Close() error { return nil }

type session struct {
	window int
	gain   float64
	closed bool
}

// ProcessChunk returns the chunk's RMS amplitude scaled by the gain and
// clamped to [0, 1].
func (s *session) ProcessChunk(samples []float32) (float64, error) {
	if s.closed {
		return 0, errors.New("energy: session is closed")
	}
	if len(samples) != s.window {
		return 0, fmt.Errorf("energy: chunk has %d samples, want exactly %d", len(samples), s.window)
	}

	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	rms := math.Sqrt(sum / float64(len(samples)))

	prob := rms * s.gain
	if prob > 1 {
		prob = 1
	}
	return prob, nil
}

// Reset is a no-op; RMS scoring keeps no state between chunks.
func (s *session) Reset() {}

// Close marks the session closed.
func (s *session) Close() error {
	s.closed = true
	return nil
}
