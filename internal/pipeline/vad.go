package pipeline

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxloop-ai/voxloop/internal/frame"
	"github.com/voxloop-ai/voxloop/pkg/audio"
	"github.com/voxloop-ai/voxloop/pkg/provider/vad"
)

// DefaultSilenceTimeoutMs is how long the caller must stay silent after
// speech before the turn is considered over, when the agent does not set its
// own timeout.
const DefaultSilenceTimeoutMs = 800

// DetectTurnEnd reports whether accumulated silence closes the caller's turn:
// true exactly when silenceMs >= thresholdMs >= 0.
func DetectTurnEnd(silenceMs, thresholdMs int) bool {
	return thresholdMs >= 0 && silenceMs >= thresholdMs
}

// VADProcessor scores inbound audio for voice activity and emits
// UserStartedSpeaking / UserStoppedSpeaking system frames around each caller
// turn. All audio frames pass through unchanged so the STT processor behind
// it still receives them.
//
// Audio bytes are buffered and drained in exact model windows (256 samples at
// 8 kHz, 512 at 16/24 kHz, PCM16). Each window is scored by the VAD engine;
// a two-threshold state machine with a confirmation window turns the scores
// into onset and offset events. Scoring failures count the window as silence
// and the stream continues.
type VADProcessor struct {
	*Base

	engine  vad.Engine
	session vad.SessionHandle
	format  audio.Format

	speechThreshold  float64
	silenceThreshold float64
	minSpeechFrames  int
	silenceTimeoutMs int
	confirmWindow    time.Duration
	detectTurnEnd    func(silenceMs, thresholdMs int) bool

	// Per-stream detection state. Touched only on the dispatch goroutine, so
	// it needs no locking.
	buf           []byte
	sampleRate    int
	chunkSamples  int
	speaking      bool
	speechFrames  int
	silenceFrames int
	firstSpeechAt time.Time
}

// VADOption configures a [VADProcessor].
type VADOption func(*VADProcessor)

// WithSilenceTimeout sets how many milliseconds of silence end a turn.
func WithSilenceTimeout(ms int) VADOption {
	return func(p *VADProcessor) {
		if ms >= 0 {
			p.silenceTimeoutMs = ms
		}
	}
}

// WithConfirmationWindow delays the speech-onset event until the window has
// elapsed since the first voiced chunk, filtering out coughs and key clicks.
// Zero confirms as soon as enough voiced chunks arrive.
func WithConfirmationWindow(d time.Duration) VADOption {
	return func(p *VADProcessor) {
		if d >= 0 {
			p.confirmWindow = d
		}
	}
}

// WithDetectionThresholds overrides the onset and offset probability
// thresholds. Scores between the two extend the current state.
func WithDetectionThresholds(speech, silence float64) VADOption {
	return func(p *VADProcessor) {
		p.speechThreshold = speech
		p.silenceThreshold = silence
	}
}

// WithMinSpeechFrames sets how many voiced chunks are required before onset.
func WithMinSpeechFrames(n int) VADOption {
	return func(p *VADProcessor) {
		if n > 0 {
			p.minSpeechFrames = n
		}
	}
}

// WithTurnEndDetector replaces [DetectTurnEnd], mainly for tests.
func WithTurnEndDetector(fn func(silenceMs, thresholdMs int) bool) VADOption {
	return func(p *VADProcessor) {
		if fn != nil {
			p.detectTurnEnd = fn
		}
	}
}

// NewVAD builds a VAD processor for streams in the given format.
func NewVAD(engine vad.Engine, format audio.Format, opts ...VADOption) *VADProcessor {
	p := &VADProcessor{
		engine:           engine,
		format:           format,
		speechThreshold:  vad.DefaultSpeechThreshold,
		silenceThreshold: vad.DefaultSilenceThreshold,
		minSpeechFrames:  vad.DefaultMinSpeechFrames,
		silenceTimeoutMs: DefaultSilenceTimeoutMs,
		detectTurnEnd:    DetectTurnEnd,
	}
	p.Base = NewBase("vad", p)
	for _, o := range opts {
		o(p)
	}
	return p
}

var _ Processor = (*VADProcessor)(nil)

// Start opens the scoring session for the stream's sample rate and spawns
// the dispatch goroutine.
func (p *VADProcessor) Start(ctx context.Context) error {
	if err := p.openSession(p.format.SampleRate); err != nil {
		return fmt.Errorf("vad: %w", err)
	}
	return p.Base.Start(ctx)
}

// Stop halts dispatch and closes the scoring session.
func (p *VADProcessor) Stop() error {
	err := p.Base.Stop()
	if p.session != nil {
		if cerr := p.session.Close(); cerr != nil {
			slog.Warn("vad: session close failed", "err", cerr)
		}
		p.session = nil
	}
	return err
}

// HandleFrame analyses audio frames and passes everything through.
func (p *VADProcessor) HandleFrame(_ context.Context, f frame.Frame, dir frame.Direction) error {
	if dir != frame.Downstream {
		return p.PushFrame(f, dir)
	}
	if af, ok := f.(*frame.AudioFrame); ok {
		p.analyze(af)
	}
	return p.PushFrame(f, dir)
}

// openSession (re)creates the scoring session for the given sample rate and
// resets all detection state.
func (p *VADProcessor) openSession(sampleRate int) error {
	samples, err := vad.ChunkSamples(sampleRate)
	if err != nil {
		return err
	}
	if p.session != nil {
		if cerr := p.session.Close(); cerr != nil {
			slog.Warn("vad: stale session close failed", "err", cerr)
		}
	}
	session, err := p.engine.NewSession(vad.Config{SampleRate: sampleRate})
	if err != nil {
		return err
	}
	p.session = session
	p.sampleRate = sampleRate
	p.chunkSamples = samples
	p.buf = p.buf[:0]
	p.resetDetection()
	return nil
}

func (p *VADProcessor) resetDetection() {
	p.speaking = false
	p.speechFrames = 0
	p.silenceFrames = 0
	p.firstSpeechAt = time.Time{}
}

// analyze buffers the frame's bytes and scores every complete model window.
// Partial tails stay buffered for the next frame.
func (p *VADProcessor) analyze(f *frame.AudioFrame) {
	if f.SampleRate != p.sampleRate {
		if err := p.openSession(f.SampleRate); err != nil {
			slog.Warn("vad: unsupported stream rate, frame not analysed",
				"sample_rate", f.SampleRate, "err", err)
			return
		}
		slog.Info("vad: stream rate changed", "sample_rate", f.SampleRate)
	}

	p.buf = append(p.buf, f.Data...)
	chunkBytes := p.chunkSamples * 2
	for len(p.buf) >= chunkBytes {
		chunk := p.buf[:chunkBytes]
		p.buf = p.buf[chunkBytes:]
		p.scoreChunk(chunk, f.TraceID())
	}
}

// scoreChunk converts one PCM16 window to float32 samples, scores it, and
// advances the onset/offset state machine.
func (p *VADProcessor) scoreChunk(chunk []byte, traceID string) {
	samples := make([]float32, p.chunkSamples)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(chunk[i*2:]))
		samples[i] = float32(s) / 32768
	}

	confidence, err := p.session.ProcessChunk(samples)
	if err != nil {
		slog.Warn("vad: inference failed, scoring chunk as silence", "err", err)
		confidence = 0
	}

	switch {
	case confidence > p.speechThreshold:
		p.speechFrames++
		p.silenceFrames = 0
		if p.speaking {
			return
		}
		if p.firstSpeechAt.IsZero() {
			p.firstSpeechAt = time.Now()
		}
		if p.speechFrames < p.minSpeechFrames {
			return
		}
		if p.confirmWindow > 0 && time.Since(p.firstSpeechAt) < p.confirmWindow {
			return
		}
		p.speaking = true
		slog.Debug("vad: speech onset", "speech_frames", p.speechFrames)
		ev := frame.NewUserStartedSpeaking()
		ev.SetTraceID(traceID)
		p.PushFrame(ev, frame.Downstream)

	case confidence < p.silenceThreshold:
		if !p.speaking {
			// A nascent onset that never confirmed; forget it.
			p.speechFrames = 0
			p.firstSpeechAt = time.Time{}
			return
		}
		p.silenceFrames++
		silenceMs := p.silenceFrames * vad.ChunkDurationMs
		if !p.detectTurnEnd(silenceMs, p.silenceTimeoutMs) {
			return
		}
		slog.Debug("vad: turn end", "silence_ms", silenceMs)
		p.resetDetection()
		ev := frame.NewUserStoppedSpeaking()
		ev.SetTraceID(traceID)
		p.PushFrame(ev, frame.Downstream)
	}
	// Scores between the thresholds extend whichever state we are in.
}
