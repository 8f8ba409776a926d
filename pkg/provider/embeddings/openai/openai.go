// Package openai provides an embeddings provider backed by the OpenAI API.
// It powers knowledge-base indexing and query embedding when the operator
// configures `embeddings: {name: openai}`.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/voxloop-ai/voxloop/pkg/provider/embeddings"
)

// DefaultModel is used when no model is configured.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements [embeddings.Provider] on the OpenAI embeddings API.
type Provider struct {
	client oai.Client
	model  string
	dims   int // 0 means the model's native width
}

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	dimensions   int
}

// Option configures the provider.
type Option func(*config)

// WithBaseURL points the client at an OpenAI-compatible gateway.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout bounds each embeddings request.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithDimensions asks the API to truncate vectors to the given width, which
// text-embedding-3 models support natively. Use it to match the width of an
// existing knowledge-base column instead of re-indexing.
func WithDimensions(n int) Option {
	return func(c *config) { c.dimensions = n }
}

// New constructs the provider. An empty model selects [DefaultModel].
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.dimensions < 0 {
		return nil, fmt.Errorf("openai embeddings: dimensions must be positive, got %d", cfg.dimensions)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		dims:   cfg.dimensions,
	}, nil
}

// Embed computes the vector for one text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.request(ctx, oai.EmbeddingNewParamsInputUnion{
		OfString: param.NewOpt(text),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}
	return toFloat32(resp.Data[0].Embedding), nil
}

// EmbedBatch computes vectors for all texts in one API call. The result is
// ordered like the input regardless of how the API orders its response.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := p.request(ctx, oai.EmbeddingNewParamsInputUnion{
		OfArrayOfStrings: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed batch: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	result := make([][]float32, len(texts))
	for _, e := range resp.Data {
		if int(e.Index) >= len(texts) {
			return nil, fmt.Errorf("openai embeddings: unexpected index %d", e.Index)
		}
		result[e.Index] = toFloat32(e.Embedding)
	}
	return result, nil
}

func (p *Provider) request(ctx context.Context, input oai.EmbeddingNewParamsInputUnion) (*oai.CreateEmbeddingResponse, error) {
	params := oai.EmbeddingNewParams{
		Model: p.model,
		Input: input,
	}
	if p.dims > 0 {
		params.Dimensions = param.NewOpt(int64(p.dims))
	}
	return p.client.Embeddings.New(ctx, params)
}

// Dimensions reports the vector width: the configured truncation if any,
// otherwise the model's native width.
func (p *Provider) Dimensions() int {
	if p.dims > 0 {
		return p.dims
	}
	return nativeDimensions(p.model)
}

// ModelID returns the configured model identifier.
func (p *Provider) ModelID() string {
	return p.model
}

// nativeDimensions maps known OpenAI embedding models to their full vector
// width. Unknown models assume 1536, the width of both the ada-002 and
// 3-small generations.
func nativeDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "text-embedding-3-large"):
		return 3072
	default:
		return 1536
	}
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
