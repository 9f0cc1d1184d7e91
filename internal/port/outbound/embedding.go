// Package outbound defines the outbound ports of the gateway core: the
// embedding provider, the sandbox driver, the audit sink, the credential
// store, and the catalog/session stores. Adapters implement these.
package outbound

import "context"

// EmbeddingProvider turns text into a fixed-dimension vector. The default
// adapter is deterministic and local; a model-backed HTTP client satisfies
// the same contract.
type EmbeddingProvider interface {
	// Embed returns a vector of exactly Dimensions() components. The
	// embedding service L2-normalizes the result before use.
	Embed(ctx context.Context, text string) ([]float64, error)

	// Model returns the identifier stored with every produced embedding.
	Model() string

	// Dimensions returns the vector dimension the provider produces.
	Dimensions() int
}
