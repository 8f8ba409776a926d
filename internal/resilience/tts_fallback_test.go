package resilience

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/voxloop-ai/voxloop/pkg/audio"
	"github.com/voxloop-ai/voxloop/pkg/provider/tts"
	ttsmock "github.com/voxloop-ai/voxloop/pkg/provider/tts/mock"
)

func TestTTSFallback_Synthesize_PrimarySuccess(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeResult: []byte("primary-pcm")}
	secondary := &ttsmock.Provider{SynthesizeResult: []byte("fallback-pcm")}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	out, err := fb.Synthesize(context.Background(), "hello",
		tts.VoiceConfig{Name: "ada"}, audio.ForBrowser())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(out, []byte("primary-pcm")) {
		t.Fatalf("audio = %q, want primary-pcm", out)
	}
	if primary.SynthesizeCallCount() != 1 {
		t.Fatalf("primary called %d times, want 1", primary.SynthesizeCallCount())
	}
	if secondary.SynthesizeCallCount() != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.SynthesizeCallCount())
	}
}

func TestTTSFallback_Synthesize_Failover(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{SynthesizeResult: []byte("fallback-pcm")}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	out, err := fb.Synthesize(context.Background(), "hello",
		tts.VoiceConfig{Name: "ada"}, audio.ForBrowser())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(out, []byte("fallback-pcm")) {
		t.Fatalf("audio = %q, want fallback-pcm", out)
	}
}

func TestTTSFallback_SynthesizeStream_Failover(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{
		SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")},
	}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	ch, err := fb.SynthesizeStream(context.Background(), "hello",
		tts.VoiceConfig{Name: "ada"}, audio.ForBrowser())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var chunks [][]byte
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if !bytes.Equal(chunks[0], []byte("audio1")) {
		t.Fatalf("chunk[0] = %q, want audio1", chunks[0])
	}
}

func TestTTSFallback_Synthesize_AllFail(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{SynthesizeErr: errors.New("secondary down")}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Synthesize(context.Background(), "hello",
		tts.VoiceConfig{Name: "ada"}, audio.ForBrowser())
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTTSFallback_ListVoices_Failover(t *testing.T) {
	primary := &ttsmock.Provider{ListVoicesErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{
		ListVoicesResult: []tts.Voice{{ID: "v1", Name: "ada"}},
	}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	voices, err := fb.ListVoices(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 1 || voices[0].Name != "ada" {
		t.Fatalf("voices = %v, want one voice named ada", voices)
	}
}

func TestTTSFallback_Close_ClosesAllBackends(t *testing.T) {
	primary := &ttsmock.Provider{}
	secondary := &ttsmock.Provider{}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	if err := fb.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.CloseCallCount != 1 {
		t.Errorf("primary Close called %d times, want 1", primary.CloseCallCount)
	}
	if secondary.CloseCallCount != 1 {
		t.Errorf("secondary Close called %d times, want 1", secondary.CloseCallCount)
	}
}
