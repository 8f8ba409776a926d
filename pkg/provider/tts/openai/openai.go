// Package openai provides a TTS provider backed by the OpenAI speech API.
//
// The speech endpoint renders 24 kHz mono PCM; requests for other formats are
// transcoded locally, so the adapter can feed telephony calls (8 kHz μ-law)
// as well as browser sessions. SSML input is not supported.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voxloop-ai/voxloop/pkg/audio"
	"github.com/voxloop-ai/voxloop/pkg/provider"
	"github.com/voxloop-ai/voxloop/pkg/provider/tts"
)

const (
	defaultAPIURL = "https://api.openai.com"
	defaultModel  = "gpt-4o-mini-tts"
	providerTag   = "openai"

	// streamChunkSize is the read granularity for streamed responses.
	streamChunkSize = 4096
)

// nativeFormat is what the speech endpoint emits for response_format "pcm".
var nativeFormat = audio.Format{SampleRate: 24000, Channels: 1, BitsPerSample: 16, Encoding: audio.EncodingPCM}

// catalogue lists the voices the speech endpoint accepts. OpenAI exposes no
// discovery API for them.
var catalogue = []string{
	"alloy", "ash", "ballad", "coral", "echo",
	"fable", "nova", "onyx", "sage", "shimmer",
}

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the OpenAI TTS Provider.
type Option func(*Provider)

// WithModel sets the speech model (e.g. "gpt-4o-mini-tts", "tts-1").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithAPIURL overrides the API base URL. Intended for tests.
func WithAPIURL(u string) Option {
	return func(p *Provider) {
		p.apiURL = strings.TrimSuffix(u, "/")
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider backed by the OpenAI speech API.
type Provider struct {
	apiKey     string
	model      string
	apiURL     string
	httpClient *http.Client
}

// New creates a new OpenAI TTS Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		apiURL:     defaultAPIURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// speechRequest is the POST /v1/audio/speech body.
type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
	Instructions   string  `json:"instructions,omitempty"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceConfig, format audio.Format) ([]byte, error) {
	const op = "synthesize"

	resp, err := p.speak(ctx, op, text, voice)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	clip, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.NewPortError(providerTag, op, true, err)
	}
	out, err := convertClip(clip, format)
	if err != nil {
		return nil, provider.NewPortError(providerTag, op, false, err)
	}
	return out, nil
}

// SynthesizeStream implements tts.Provider. The speech endpoint streams its
// response body, so chunks are emitted as they arrive. Each chunk is
// transcoded independently; a sample split across reads is carried over to
// the next chunk.
func (p *Provider) SynthesizeStream(ctx context.Context, text string, voice tts.VoiceConfig, format audio.Format) (<-chan []byte, error) {
	const op = "synthesize_stream"

	resp, err := p.speak(ctx, op, text, voice)
	if err != nil {
		return nil, err
	}

	audioCh := make(chan []byte, 64)
	go func() {
		defer close(audioCh)
		defer resp.Body.Close()

		var remainder []byte
		buf := make([]byte, streamChunkSize)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				block := append(remainder, buf[:n]...)
				keep := len(block) &^ 1
				remainder = append([]byte(nil), block[keep:]...)
				if keep > 0 {
					out, cerr := convertClip(block[:keep], format)
					if cerr == nil && len(out) > 0 {
						select {
						case audioCh <- out:
						case <-ctx.Done():
							return
						}
					}
				}
			}
			if err != nil {
				return
			}
		}
	}()

	return audioCh, nil
}

// SynthesizeSSML implements tts.Provider. The speech API takes plain text
// only; style steering goes through VoiceConfig.Style instead.
func (p *Provider) SynthesizeSSML(ctx context.Context, ssml string, voice tts.VoiceConfig, format audio.Format) ([]byte, error) {
	return nil, fmt.Errorf("openai: ssml synthesis: %w", tts.ErrNotSupported)
}

// SynthesizeRequest implements tts.Provider.
func (p *Provider) SynthesizeRequest(ctx context.Context, req tts.Request) ([]byte, error) {
	if req.SSML {
		return p.SynthesizeSSML(ctx, req.Text, req.Voice, req.Format)
	}
	return p.Synthesize(ctx, req.Text, req.Voice, req.Format)
}

// ListVoices implements tts.Provider. OpenAI voices are multilingual and
// carry no language metadata, so the language filter does not restrict the
// catalogue.
func (p *Provider) ListVoices(ctx context.Context, language string) ([]tts.Voice, error) {
	voices := make([]tts.Voice, 0, len(catalogue))
	for _, name := range catalogue {
		voices = append(voices, tts.Voice{
			ID:       name,
			Name:     name,
			Provider: providerTag,
		})
	}
	return voices, nil
}

// VoiceStyles implements tts.Provider. Style steering is free-form prompt
// text on this API, not a discrete list.
func (p *Provider) VoiceStyles(_ context.Context, _ string) ([]string, error) {
	return nil, nil
}

// Close implements tts.Provider.
func (p *Provider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// speak issues the speech request and returns the raw response, status
// checked but body unread.
func (p *Provider) speak(ctx context.Context, op, text string, voice tts.VoiceConfig) (*http.Response, error) {
	if voice.Name == "" {
		return nil, provider.NewPortError(providerTag, op, false,
			errors.New("voice name must not be empty"))
	}

	sr := speechRequest{
		Model:          p.model,
		Input:          text,
		Voice:          voice.Name,
		ResponseFormat: "pcm",
		Instructions:   voice.Style,
	}
	if voice.Speed != 0 && voice.Speed != tts.DefaultSpeed {
		sr.Speed = voice.Speed
	}
	body, err := json.Marshal(sr)
	if err != nil {
		return nil, provider.NewPortError(providerTag, op, false, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, provider.NewPortError(providerTag, op, false, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, provider.NewPortError(providerTag, op, true, err)
	}
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, provider.NewPortError(providerTag, op, retryable,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody))))
	}
	return resp, nil
}

// convertClip transcodes native endpoint output into the requested format.
// A zero format means the caller wants the native 24 kHz PCM.
func convertClip(clip []byte, format audio.Format) ([]byte, error) {
	if format.SampleRate == 0 {
		return clip, nil
	}
	if format.Encoding == nativeFormat.Encoding && format.SampleRate == nativeFormat.SampleRate {
		return clip, nil
	}
	if format.Channels == 0 {
		format.Channels = 1
	}
	return audio.Transcode(clip, nativeFormat, format)
}
