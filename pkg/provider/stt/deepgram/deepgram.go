// Package deepgram provides a Deepgram-backed STT provider.
//
// Streaming sessions use the realtime WebSocket API and emit partial and
// final transcripts on separate channels. One-shot Transcribe calls post the
// complete utterance to the pre-recorded REST endpoint. Both paths share the
// same listen parameters (model, language, encoding, sample rate).
//
// Usage:
//
//	p, err := deepgram.New(apiKey, deepgram.WithModel("nova-3"))
//	handle, err := p.StartStream(ctx, stt.StreamConfig{
//		Format:         audio.ForTelephony(),
//		InterimResults: true,
//	})
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxloop-ai/voxloop/pkg/audio"
	"github.com/voxloop-ai/voxloop/pkg/provider"
	"github.com/voxloop-ai/voxloop/pkg/provider/stt"
	"github.com/voxloop-ai/voxloop/pkg/types"
)

const (
	defaultStreamURL = "wss://api.deepgram.com/v1/listen"
	defaultBatchURL  = "https://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"
	providerTag      = "deepgram"

	// closeGrace bounds how long Close waits for Deepgram to flush final
	// results after the CloseStream message.
	closeGrace = 3 * time.Second
)

// defaultFormat is assumed when a caller leaves StreamConfig.Format zero.
var defaultFormat = audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16, Encoding: audio.EncodingPCM}

// Compile-time assertions that the exported types satisfy the stt ports.
var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.SessionHandle = (*session)(nil)
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default BCP-47 language code for recognition
// (e.g., "en", "de-DE"). A non-empty StreamConfig.Language wins over it.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithStreamURL overrides the realtime WebSocket endpoint. Intended for tests.
func WithStreamURL(rawURL string) Option {
	return func(p *Provider) {
		p.streamURL = rawURL
	}
}

// WithBatchURL overrides the pre-recorded REST endpoint. Intended for tests.
func WithBatchURL(rawURL string) Option {
	return func(p *Provider) {
		p.batchURL = rawURL
	}
}

// WithHTTPClient overrides the client used for pre-recorded requests. The
// default has a 30 s timeout, sized for minute-long utterances.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// Provider implements stt.Provider backed by the Deepgram listen API. It is
// safe for concurrent use; each StartStream call owns its own connection.
type Provider struct {
	apiKey     string
	model      string
	language   string
	streamURL  string
	batchURL   string
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		streamURL:  defaultStreamURL,
		batchURL:   defaultBatchURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram. The
// session accepts audio in cfg.Format and emits transcripts until Close.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildStreamURL(cfg)
	if err != nil {
		return nil, provider.NewPortError(providerTag, "start_stream", false, err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, provider.NewPortError(providerTag, "start_stream", true, err)
	}

	sess := &session{
		conn:     conn,
		partials: make(chan types.Transcript, 64),
		finals:   make(chan types.Transcript, 64),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// Transcribe performs one-shot recognition via the pre-recorded endpoint.
// The result is always a final transcript.
func (p *Provider) Transcribe(ctx context.Context, audioData []byte, format audio.Format, language string) (types.Transcript, error) {
	reqURL, err := p.buildBatchURL(format, language)
	if err != nil {
		return types.Transcript{}, provider.NewPortError(providerTag, "transcribe", false, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(audioData))
	if err != nil {
		return types.Transcript{}, provider.NewPortError(providerTag, "transcribe", false, err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return types.Transcript{}, provider.NewPortError(providerTag, "transcribe", true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return types.Transcript{}, provider.NewPortError(providerTag, "transcribe", retryable,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var br batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return types.Transcript{}, provider.NewPortError(providerTag, "transcribe", false, err)
	}
	alt, ok := br.firstAlternative()
	if !ok {
		return types.Transcript{}, provider.NewPortError(providerTag, "transcribe", false,
			errors.New("response has no recognition alternatives"))
	}
	return alt.toTranscript(true), nil
}

// Close releases pooled HTTP connections. Streaming sessions hold their own
// connections and are closed individually. Calling Close more than once is
// safe.
func (p *Provider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// listenQuery assembles the recognition parameters shared by the streaming
// and pre-recorded endpoints.
func (p *Provider) listenQuery(format audio.Format, language string) (url.Values, error) {
	if format.SampleRate == 0 {
		format = defaultFormat
	}
	if format.Channels == 0 {
		format.Channels = 1
	}
	enc, err := encodingParam(format.Encoding)
	if err != nil {
		return nil, err
	}

	lang := language
	if lang == "" {
		lang = p.language
	}

	q := url.Values{}
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("encoding", enc)
	q.Set("sample_rate", strconv.Itoa(format.SampleRate))
	q.Set("channels", strconv.Itoa(format.Channels))
	return q, nil
}

// buildStreamURL constructs the streaming endpoint URL for the given config.
func (p *Provider) buildStreamURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.streamURL)
	if err != nil {
		return "", err
	}
	q, err := p.listenQuery(cfg.Format, cfg.Language)
	if err != nil {
		return "", err
	}
	q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	for _, kw := range cfg.Keywords {
		// Deepgram keyword format: word:boost (e.g., "Invisalign:5")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// buildBatchURL constructs the pre-recorded endpoint URL.
func (p *Provider) buildBatchURL(format audio.Format, language string) (string, error) {
	u, err := url.Parse(p.batchURL)
	if err != nil {
		return "", err
	}
	q, err := p.listenQuery(format, language)
	if err != nil {
		return "", err
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// encodingParam maps an audio encoding to the Deepgram encoding parameter.
// Raw audio requires an explicit encoding; Deepgram cannot sniff it.
func encodingParam(e audio.Encoding) (string, error) {
	switch e {
	case audio.EncodingPCM:
		return "linear16", nil
	case audio.EncodingMulaw:
		return "mulaw", nil
	case audio.EncodingAlaw:
		return "alaw", nil
	default:
		return "", fmt.Errorf("unsupported audio encoding %q", e)
	}
}

// ---- session ----

// streamResponse is the JSON envelope Deepgram sends for a streaming Results
// event.
type streamResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`
}

// batchResponse is the JSON envelope of a pre-recorded transcription.
type batchResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []alternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// firstAlternative returns the top hypothesis of the first channel.
func (r batchResponse) firstAlternative() (alternative, bool) {
	if len(r.Results.Channels) == 0 || len(r.Results.Channels[0].Alternatives) == 0 {
		return alternative{}, false
	}
	return r.Results.Channels[0].Alternatives[0], true
}

// alternative is the recognition hypothesis shape shared by both envelopes.
type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Words      []struct {
		Word       string  `json:"word"`
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Confidence float64 `json:"confidence"`
	} `json:"words"`
}

// toTranscript converts the hypothesis into the shared transcript type.
func (a alternative) toTranscript(isFinal bool) types.Transcript {
	words := make([]types.WordDetail, 0, len(a.Words))
	for _, w := range a.Words {
		words = append(words, types.WordDetail{
			Word:       w.Word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
		})
	}
	return types.Transcript{
		Text:       a.Transcript,
		IsFinal:    isFinal,
		Confidence: a.Confidence,
		Words:      words,
	}
}

// session is a live Deepgram streaming session. It implements
// stt.SessionHandle.
type session struct {
	conn     *websocket.Conn
	partials chan types.Transcript
	finals   chan types.Transcript
	audio    chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues an audio chunk for delivery to Deepgram. It never blocks:
// the queue holds several seconds of telephony audio, so a full queue means
// the connection has stalled and an error is returned instead.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("deepgram: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("deepgram: session is closed")
	default:
		return errors.New("deepgram: audio queue full, connection stalled")
	}
}

// Partials returns the channel of interim transcripts.
func (s *session) Partials() <-chan types.Transcript { return s.partials }

// Finals returns the channel of final transcripts.
func (s *session) Finals() <-chan types.Transcript { return s.finals }

// SetKeywords is not supported. Deepgram fixes keyword boosts at stream
// start; callers that need a new keyword set must open a new session.
func (s *session) SetKeywords(keywords []types.KeywordBoost) error {
	return fmt.Errorf("deepgram: mid-session keyword update: %w", stt.ErrNotSupported)
}

// Close terminates the session. It asks Deepgram to flush buffered audio
// into final results, then waits up to closeGrace for the loops to drain
// before dropping the connection.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)

		ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
		defer cancel()
		_ = s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))

		drained := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-ctx.Done():
		}
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages to
// Deepgram.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Flush whatever is still queued before exiting.
			for {
				select {
				case chunk := <-s.audio:
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages from Deepgram and dispatches them to the
// partials and finals channels.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancellation.
			return
		}

		t, ok := parseStreamResult(msg)
		if !ok {
			continue
		}

		if t.IsFinal {
			select {
			case s.finals <- t:
			case <-s.done:
			}
		} else {
			select {
			case s.partials <- t:
			case <-s.done:
			}
		}
	}
}

// parseStreamResult parses a raw streaming message into a Transcript.
// Returns (zero, false) for messages that should be ignored, such as
// Metadata events and empty alternative lists.
func parseStreamResult(data []byte) (types.Transcript, bool) {
	var resp streamResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return types.Transcript{}, false
	}
	if resp.Type != "Results" {
		return types.Transcript{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return types.Transcript{}, false
	}
	return resp.Channel.Alternatives[0].toTranscript(resp.IsFinal), true
}
