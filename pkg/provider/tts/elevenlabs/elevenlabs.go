// Package elevenlabs provides a TTS provider backed by the ElevenLabs API.
//
// Short clips (greetings, previews) go through the plain HTTP endpoint;
// SynthesizeStream uses the stream-input WebSocket so the first audio chunk
// arrives before the full clip is rendered. SSML input is not supported.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/voxloop-ai/voxloop/pkg/audio"
	"github.com/voxloop-ai/voxloop/pkg/provider"
	"github.com/voxloop-ai/voxloop/pkg/provider/tts"
)

const (
	defaultAPIURL    = "https://api.elevenlabs.io"
	defaultStreamURL = "wss://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	providerTag      = "elevenlabs"

	// ElevenLabs voice_settings defaults.
	defaultStability  = 0.5
	defaultSimilarity = 0.75

	// ElevenLabs accepts speaking rates in [0.7, 1.2].
	minSpeed = 0.7
	maxSpeed = 1.2
)

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g. "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithAPIURL overrides the HTTP API base URL. Intended for tests.
func WithAPIURL(u string) Option {
	return func(p *Provider) {
		p.apiURL = strings.TrimSuffix(u, "/")
	}
}

// WithStreamURL overrides the WebSocket base URL. Intended for tests.
func WithStreamURL(u string) Option {
	return func(p *Provider) {
		p.streamURL = strings.TrimSuffix(u, "/")
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider backed by the ElevenLabs API.
type Provider struct {
	apiKey     string
	model      string
	apiURL     string
	streamURL  string
	httpClient *http.Client
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		apiURL:     defaultAPIURL,
		streamURL:  defaultStreamURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// synthesisRequest is the POST /v1/text-to-speech/{voice} body.
type synthesisRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// streamInit opens a stream-input session. ElevenLabs requires the first
// message to carry a non-empty text value and the API key.
type streamInit struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// streamText carries one text fragment. An empty Text closes the input side
// and flushes any buffered audio.
type streamText struct {
	Text string `json:"text"`
}

// streamEvent is a server message on the stream-input socket.
type streamEvent struct {
	Audio   string `json:"audio"` // base64-encoded audio
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// Synthesize implements tts.Provider using the non-streaming HTTP endpoint.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceConfig, format audio.Format) ([]byte, error) {
	const op = "synthesize"

	if voice.Name == "" {
		return nil, provider.NewPortError(providerTag, op, false,
			errors.New("voice name must not be empty"))
	}
	outFmt, err := outputFormatParam(format)
	if err != nil {
		return nil, provider.NewPortError(providerTag, op, false, err)
	}

	body, err := json.Marshal(synthesisRequest{
		Text:          text,
		ModelID:       p.model,
		VoiceSettings: settingsFor(voice),
	})
	if err != nil {
		return nil, provider.NewPortError(providerTag, op, false, err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s",
		p.apiURL, url.PathEscape(voice.Name), url.QueryEscape(outFmt))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, provider.NewPortError(providerTag, op, false, err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, provider.NewPortError(providerTag, op, true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, provider.NewPortError(providerTag, op, retryable,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody))))
	}

	clip, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.NewPortError(providerTag, op, true, err)
	}
	return clip, nil
}

// SynthesizeStream implements tts.Provider. It opens a stream-input
// WebSocket, sends the full text followed by a flush, and emits decoded audio
// chunks as the server renders them. The returned channel is closed when the
// server marks the synthesis final, on read error, or when ctx is cancelled.
func (p *Provider) SynthesizeStream(ctx context.Context, text string, voice tts.VoiceConfig, format audio.Format) (<-chan []byte, error) {
	const op = "synthesize_stream"

	if voice.Name == "" {
		return nil, provider.NewPortError(providerTag, op, false,
			errors.New("voice name must not be empty"))
	}
	outFmt, err := outputFormatParam(format)
	if err != nil {
		return nil, provider.NewPortError(providerTag, op, false, err)
	}

	conn, _, err := websocket.Dial(ctx, p.streamEndpoint(voice.Name, outFmt), nil)
	if err != nil {
		return nil, provider.NewPortError(providerTag, op, true, err)
	}

	// Handshake, text, and flush are all known up front. ElevenLabs wants a
	// single space as the opening text value.
	frames := [][]byte{
		mustJSON(streamInit{Text: " ", VoiceSettings: settingsFor(voice), XiAPIKey: p.apiKey}),
		mustJSON(streamText{Text: text}),
		mustJSON(streamText{Text: ""}),
	}
	for _, frame := range frames {
		if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
			conn.Close(websocket.StatusInternalError, "handshake write failed")
			return nil, provider.NewPortError(providerTag, op, true, err)
		}
	}

	audioCh := make(chan []byte, 64)
	go func() {
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "synthesis complete")

		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var ev streamEvent
			if err := json.Unmarshal(msg, &ev); err != nil {
				continue
			}
			if ev.Audio != "" {
				chunk, err := base64.StdEncoding.DecodeString(ev.Audio)
				if err == nil {
					select {
					case audioCh <- chunk:
					case <-ctx.Done():
						return
					}
				}
			}
			if ev.IsFinal {
				return
			}
		}
	}()

	return audioCh, nil
}

// SynthesizeSSML implements tts.Provider. ElevenLabs takes plain text only.
func (p *Provider) SynthesizeSSML(ctx context.Context, ssml string, voice tts.VoiceConfig, format audio.Format) ([]byte, error) {
	return nil, fmt.Errorf("elevenlabs: ssml synthesis: %w", tts.ErrNotSupported)
}

// SynthesizeRequest implements tts.Provider.
func (p *Provider) SynthesizeRequest(ctx context.Context, req tts.Request) ([]byte, error) {
	if req.SSML {
		return p.SynthesizeSSML(ctx, req.Text, req.Voice, req.Format)
	}
	return p.Synthesize(ctx, req.Text, req.Voice, req.Format)
}

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []catalogueVoice `json:"voices"`
}

// catalogueVoice is a single voice entry from the ElevenLabs API.
type catalogueVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// ListVoices implements tts.Provider. Language filtering matches the voice's
// "language" label when ElevenLabs reports one; voices without the label are
// only returned for an empty filter.
func (p *Provider) ListVoices(ctx context.Context, language string) ([]tts.Voice, error) {
	const op = "list_voices"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+"/v1/voices", nil)
	if err != nil {
		return nil, provider.NewPortError(providerTag, op, false, err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, provider.NewPortError(providerTag, op, true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, provider.NewPortError(providerTag, op, retryable,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody))))
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, provider.NewPortError(providerTag, op, false, err)
	}

	voices := make([]tts.Voice, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		lang := v.Labels["language"]
		if language != "" && !strings.EqualFold(lang, language) {
			continue
		}
		voices = append(voices, tts.Voice{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: providerTag,
			Language: lang,
			Metadata: meta,
		})
	}
	return voices, nil
}

// VoiceStyles implements tts.Provider. ElevenLabs voices carry label metadata
// rather than discrete speaking styles.
func (p *Provider) VoiceStyles(_ context.Context, _ string) ([]string, error) {
	return nil, nil
}

// Close implements tts.Provider.
func (p *Provider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// streamEndpoint builds the stream-input WebSocket URL for a voice.
func (p *Provider) streamEndpoint(voiceID, outputFormat string) string {
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s",
		p.streamURL, url.PathEscape(voiceID), url.QueryEscape(p.model), url.QueryEscape(outputFormat))
}

// outputFormatParam maps an audio.Format onto an ElevenLabs output_format
// value such as "pcm_16000" or "ulaw_8000".
func outputFormatParam(format audio.Format) (string, error) {
	if format.SampleRate == 0 {
		format = audio.ForBrowser()
	}
	switch format.Encoding {
	case audio.EncodingPCM:
		return fmt.Sprintf("pcm_%d", format.SampleRate), nil
	case audio.EncodingMulaw:
		return fmt.Sprintf("ulaw_%d", format.SampleRate), nil
	case audio.EncodingAlaw:
		return fmt.Sprintf("alaw_%d", format.SampleRate), nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", format.Encoding)
	}
}

// settingsFor maps prosody tuning onto ElevenLabs voice_settings. Only the
// speed control has an ElevenLabs equivalent; pitch and volume are ignored.
func settingsFor(voice tts.VoiceConfig) *voiceSettings {
	vs := &voiceSettings{
		Stability:       defaultStability,
		SimilarityBoost: defaultSimilarity,
	}
	if voice.Speed != 0 && voice.Speed != tts.DefaultSpeed {
		vs.Speed = clampSpeed(voice.Speed)
	}
	return vs
}

// clampSpeed bounds a speaking rate to the range ElevenLabs accepts.
func clampSpeed(s float64) float64 {
	switch {
	case s < minSpeed:
		return minSpeed
	case s > maxSpeed:
		return maxSpeed
	}
	return s
}

// mustJSON marshals a value that cannot fail (plain structs, no cycles).
func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
