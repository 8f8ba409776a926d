// Package embeddings defines the Provider interface for text-embedding
// backends. Vectors from a provider index knowledge-base snippets and embed
// caller utterances for similarity retrieval at prompt-build time, so all
// vectors that meet in one similarity computation must come from the same
// provider instance.
package embeddings

import "context"

// Provider maps text to dense float32 vectors. Every vector a single
// instance produces has the same length, reported by Dimensions.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed computes the vector for one text. Text goes to the model
	// verbatim; any prompt prefix the model expects (such as "query: " for
	// retrieval-tuned models) is the caller's responsibility.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes vectors for all texts in one backend call.
	// result[i] corresponds to texts[i]. On error no partial results are
	// returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions reports the vector length, constant for the lifetime of
	// the instance. It must match the width of the vector column the
	// knowledge store was created with.
	Dimensions() int

	// ModelID names the underlying model, for logs and for pinning one
	// model per knowledge base.
	ModelID() string
}
