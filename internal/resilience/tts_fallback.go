package resilience

import (
	"context"
	"errors"

	"github.com/voxloop-ai/voxloop/pkg/audio"
	"github.com/voxloop-ai/voxloop/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across
// multiple TTS backends. Each backend has its own circuit breaker. Voice
// identity differs between backends, so deployments that fall back across
// vendors should configure comparable voices; the session keeps speaking
// either way.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred
// backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.Kind == "" {
		cfg.Kind = "tts"
	}
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS backend as a fallback.
func (f *TTSFallback) AddFallback(name string, backend tts.Provider) {
	f.group.AddFallback(name, backend)
}

// BreakerStates reports the circuit-breaker state per backend name.
func (f *TTSFallback) BreakerStates() map[string]State {
	return f.group.States()
}

// Synthesize renders text to a complete clip using the first healthy
// backend.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceConfig, format audio.Format) ([]byte, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, text, voice, format)
	})
}

// SynthesizeStream opens a synthesis stream against the first healthy
// backend. Only stream setup is covered by failover; mid-stream errors close
// the channel and are the caller's responsibility.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text string, voice tts.VoiceConfig, format audio.Format) (<-chan []byte, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (<-chan []byte, error) {
		return p.SynthesizeStream(ctx, text, voice, format)
	})
}

// SynthesizeSSML renders SSML markup using the first healthy backend that
// supports it.
func (f *TTSFallback) SynthesizeSSML(ctx context.Context, ssml string, voice tts.VoiceConfig, format audio.Format) ([]byte, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]byte, error) {
		return p.SynthesizeSSML(ctx, ssml, voice, format)
	})
}

// SynthesizeRequest handles the request-object form against the first
// healthy backend.
func (f *TTSFallback) SynthesizeRequest(ctx context.Context, req tts.Request) ([]byte, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]byte, error) {
		return p.SynthesizeRequest(ctx, req)
	})
}

// ListVoices returns available voices from the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context, language string) ([]tts.Voice, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]tts.Voice, error) {
		return p.ListVoices(ctx, language)
	})
}

// VoiceStyles returns the styles of voiceID from the first healthy backend.
func (f *TTSFallback) VoiceStyles(ctx context.Context, voiceID string) ([]string, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]string, error) {
		return p.VoiceStyles(ctx, voiceID)
	})
}

// Close releases every backend. All backends are closed even when earlier
// ones fail; the errors are joined.
func (f *TTSFallback) Close() error {
	var errs []error
	for i := range f.group.entries {
		if err := f.group.entries[i].value.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
