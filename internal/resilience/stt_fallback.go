package resilience

import (
	"context"
	"errors"

	"github.com/voxloop-ai/voxloop/pkg/audio"
	"github.com/voxloop-ai/voxloop/pkg/provider/stt"
	"github.com/voxloop-ai/voxloop/pkg/types"
)

// STTFallback implements [stt.Provider] with automatic failover across
// multiple STT backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT backend as a fallback.
func (f *STTFallback) AddFallback(name string, backend stt.Provider) {
	f.group.AddFallback(name, backend)
}

// BreakerStates reports the circuit-breaker state per backend name.
func (f *STTFallback) BreakerStates() map[string]State {
	return f.group.States()
}

// StartStream opens a streaming transcription session against the first
// healthy backend. Only session establishment is covered by failover; a
// session that dies mid-call surfaces through its Finals channel closing.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

// Transcribe performs one-shot recognition against the first healthy
// backend.
func (f *STTFallback) Transcribe(ctx context.Context, audioData []byte, format audio.Format, language string) (types.Transcript, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (types.Transcript, error) {
		return p.Transcribe(ctx, audioData, format, language)
	})
}

// Close releases every backend. All backends are closed even when earlier
// ones fail; the errors are joined.
func (f *STTFallback) Close() error {
	var errs []error
	for i := range f.group.entries {
		if err := f.group.entries[i].value.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
