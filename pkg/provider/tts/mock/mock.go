// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify
// that the correct VoiceConfig, format and text are passed to the TTS
// backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")},
//	    ListVoicesResult: []tts.Voice{{ID: "v1", Name: "Alice"}},
//	}
//	ch, _ := p.SynthesizeStream(ctx, "hello", voice, format)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/voxloop-ai/voxloop/pkg/audio"
	"github.com/voxloop-ai/voxloop/pkg/provider/tts"
)

// SynthesizeCall records a single synthesis invocation (streaming or not).
type SynthesizeCall struct {
	// Ctx is the context passed in.
	Ctx context.Context
	// Text is the text (or SSML) passed in.
	Text string
	// Voice is the VoiceConfig passed in.
	Voice tts.VoiceConfig
	// Format is the requested output format.
	Format audio.Format
	// SSML marks SynthesizeSSML invocations.
	SSML bool
	// Streaming marks SynthesizeStream invocations.
	Streaming bool
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeResult is returned by Synthesize, SynthesizeSSML and
	// SynthesizeRequest.
	SynthesizeResult []byte

	// SynthesizeChunks is the sequence of audio byte slices emitted on the
	// channel returned by SynthesizeStream.
	SynthesizeChunks [][]byte

	// ChunkDelay, when non-zero, is inserted before each streamed chunk so
	// tests can observe overlap (or its absence) between syntheses.
	ChunkDelay time.Duration

	// SynthesizeErr, if non-nil, is returned as the error from every
	// synthesis method.
	SynthesizeErr error

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.Voice

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// VoiceStylesResult is returned by VoiceStyles.
	VoiceStylesResult []string

	// --- Call records (read after test) ---

	// SynthesizeCalls records every synthesis invocation in order.
	SynthesizeCalls []SynthesizeCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Synthesize records the call and returns SynthesizeResult, SynthesizeErr.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceConfig, format audio.Format) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice, Format: format})
	return p.SynthesizeResult, p.SynthesizeErr
}

// SynthesizeStream records the call and returns a channel emitting
// SynthesizeChunks. If SynthesizeErr is set, it returns nil, SynthesizeErr.
func (p *Provider) SynthesizeStream(ctx context.Context, text string, voice tts.VoiceConfig, format audio.Format) (<-chan []byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice, Format: format, Streaming: true})
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([][]byte, len(p.SynthesizeChunks))
	copy(chunks, p.SynthesizeChunks)
	delay := p.ChunkDelay
	p.mu.Unlock()

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
			}
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// SynthesizeSSML records the call and returns SynthesizeResult, SynthesizeErr.
func (p *Provider) SynthesizeSSML(ctx context.Context, ssml string, voice tts.VoiceConfig, format audio.Format) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: ssml, Voice: voice, Format: format, SSML: true})
	return p.SynthesizeResult, p.SynthesizeErr
}

// SynthesizeRequest records the call and returns SynthesizeResult, SynthesizeErr.
func (p *Provider) SynthesizeRequest(ctx context.Context, req tts.Request) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: req.Text, Voice: req.Voice, Format: req.Format, SSML: req.SSML})
	return p.SynthesizeResult, p.SynthesizeErr
}

// ListVoices returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context, _ string) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ListVoicesResult, p.ListVoicesErr
}

// VoiceStyles returns VoiceStylesResult.
func (p *Provider) VoiceStyles(_ context.Context, _ string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.VoiceStylesResult, nil
}

// Close records the call.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCallCount++
	return nil
}

// SynthesizeCallCount returns the number of synthesis invocations. Thread-safe.
func (p *Provider) SynthesizeCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.CloseCallCount = 0
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
