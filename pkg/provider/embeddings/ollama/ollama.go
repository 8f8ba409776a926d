// Package ollama provides an embeddings provider backed by a local Ollama
// server, using its native /api/embed endpoint over plain net/http. It is the
// zero-API-key path for knowledge-base retrieval: point it at a running
// Ollama with a model such as nomic-embed-text and the knowledge store works
// fully offline.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/voxloop-ai/voxloop/pkg/provider/embeddings"
)

// DefaultBaseURL is where a locally running Ollama listens.
const DefaultBaseURL = "http://localhost:11434"

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements [embeddings.Provider] against an Ollama server.
//
// Vector width resolution: an explicit WithDimensions wins, then a built-in
// table of common embedding models, and as a last resort a one-text probe
// request against the live server. A failed probe is retried on the next
// Dimensions call rather than cached.
type Provider struct {
	baseURL   string
	model     string
	keepAlive string
	client    *http.Client

	mu   sync.Mutex
	dims int
}

type config struct {
	timeout    time.Duration
	keepAlive  time.Duration
	dimensions int
}

// Option configures the provider.
type Option func(*config)

// WithTimeout bounds each embed request. Zero or negative means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithDimensions pre-sets the vector width, skipping both the model table and
// the probe request.
func WithDimensions(dims int) Option {
	return func(c *config) { c.dimensions = dims }
}

// WithKeepAlive asks Ollama to keep the embedding model loaded for the given
// duration after each request. Pinning the model avoids a cold load in the
// middle of a call when the knowledge base is queried.
func WithKeepAlive(d time.Duration) Option {
	return func(c *config) { c.keepAlive = d }
}

// New constructs the provider. An empty baseURL selects [DefaultBaseURL];
// model is required because Ollama has no default embedding model.
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	client := &http.Client{}
	if cfg.timeout > 0 {
		client.Timeout = cfg.timeout
	}

	p := &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  client,
		dims:    cfg.dimensions,
	}
	if cfg.keepAlive > 0 {
		p.keepAlive = cfg.keepAlive.String()
	}
	if p.dims == 0 {
		p.dims = knownWidth(model)
	}
	return p, nil
}

type apiRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	KeepAlive string   `json:"keep_alive,omitempty"`
}

type apiResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error"`
}

// Embed computes the vector for one text. Model-specific prompt prefixes such
// as nomic's "query: " are the caller's responsibility.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.post(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch computes vectors for all texts in one request. The result is
// ordered like the input; no partial results are returned on error.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.post(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: expected %d embeddings, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

// Dimensions reports the vector width, probing the live server once for
// models the built-in table does not know. Returns 0 while the server is
// unreachable; the probe is retried on the next call.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dims != 0 {
		return p.dims
	}
	vecs, err := p.post(context.Background(), []string{"probe"})
	if err != nil {
		return 0
	}
	p.dims = len(vecs[0])
	return p.dims
}

// ModelID returns the Ollama model name supplied at construction time.
func (p *Provider) ModelID() string {
	return p.model
}

func (p *Provider) post(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(apiRequest{
		Model:     p.model,
		Input:     texts,
		KeepAlive: p.keepAlive,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var result apiResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		// Ollama reports failures as {"error": "..."} with a non-200 status.
		if result.Error != "" {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, result.Error)
		}
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embeddings in response")
	}
	return result.Embeddings, nil
}

// knownWidth returns the output width of common Ollama embedding models, or 0
// when the model must be probed.
func knownWidth(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "nomic-embed-text"):
		return 768
	case strings.Contains(lower, "mxbai-embed-large"):
		return 1024
	case strings.Contains(lower, "all-minilm"):
		return 384
	default:
		return 0
	}
}
