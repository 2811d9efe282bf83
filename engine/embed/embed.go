// Package embed is the embedding-provider boundary: it turns free text into
// fixed-length dense vectors. The same client (and model version) must be
// used at sync time and query time; vectors from different model versions are
// not comparable.
package embed

import "context"

// Client converts text into embeddings of a fixed dimensionality.
type Client interface {
	// Embed returns the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one embedding per input text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Model identifies the embedding model version. Recorded alongside every
	// stored vector.
	Model() string
	// Dims is the provider's configured output dimensionality. Must match the
	// dimensionality configured on the vector index.
	Dims() int
}
