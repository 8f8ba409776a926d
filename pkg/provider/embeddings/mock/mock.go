// Package mock provides a test double for the embeddings.Provider interface.
// Set static results for the common case, or EmbedFunc when a test needs
// per-text vectors:
//
//	p := &mock.Provider{EmbedResult: []float32{1, 0}, DimensionsValue: 2}
//	vec, _ := p.Embed(ctx, "store hours")
package mock

import (
	"context"
	"sync"

	"github.com/voxloop-ai/voxloop/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider is a mock implementation of embeddings.Provider. The zero value is
// usable; all methods are safe for concurrent use.
type Provider struct {
	// EmbedFunc, when set, computes the vector per text and takes precedence
	// over EmbedResult/EmbedErr. EmbedBatch also routes through it.
	EmbedFunc func(text string) ([]float32, error)

	// EmbedResult is returned by Embed when EmbedFunc is unset.
	EmbedResult []float32

	// EmbedErr, when non-nil, is returned by Embed and EmbedBatch.
	EmbedErr error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	mu sync.Mutex

	// EmbedCalls holds the text of every Embed call in order.
	EmbedCalls []string

	// BatchCalls holds a copy of the texts of every EmbedBatch call in order.
	BatchCalls [][]string
}

// Embed records the text and returns the configured vector.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	p.mu.Unlock()
	return p.vectorFor(text)
}

// EmbedBatch records the texts and returns one configured vector per text.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	cp := make([]string, len(texts))
	copy(cp, texts)
	p.mu.Lock()
	p.BatchCalls = append(p.BatchCalls, cp)
	p.mu.Unlock()

	result := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.vectorFor(text)
		if err != nil {
			return nil, err
		}
		result[i] = vec
	}
	return result, nil
}

func (p *Provider) vectorFor(text string) ([]float32, error) {
	if p.EmbedFunc != nil {
		return p.EmbedFunc(text)
	}
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	return p.EmbedResult, nil
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int { return p.DimensionsValue }

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string { return p.ModelIDValue }

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
	p.BatchCalls = nil
}
