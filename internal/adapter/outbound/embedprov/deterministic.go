// Package embedprov provides embedding providers. Deterministic is the
// default: a local, hash-seeded generator that gives self-consistent
// vectors without an external model. A model-backed HTTP client can be
// swapped in behind the same port.
package embedprov

import (
	"context"
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"

	"github.com/Tool-Gate/Toolgate/internal/port/outbound"
)

// DefaultDimensions is the vector dimension when none is configured.
const DefaultDimensions = 384

// Deterministic produces pseudo-random vectors seeded by a stable hash of
// the input text: the same text always yields the same vector. Safe for
// concurrent use.
type Deterministic struct {
	model      string
	dimensions int
}

// NewDeterministic builds a provider tagged with the given model id.
func NewDeterministic(model string, dimensions int) *Deterministic {
	if model == "" {
		model = "deterministic-v1"
	}
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Deterministic{model: model, dimensions: dimensions}
}

// Embed returns the raw vector for text, components in [-1, 1). The
// embedding service L2-normalizes provider output before caching it.
func (p *Deterministic) Embed(_ context.Context, text string) ([]float64, error) {
	seed := xxhash.Sum64String(text)
	// Two independent streams seed the PCG state.
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	v := make([]float64, p.dimensions)
	for i := range v {
		v[i] = rng.Float64()*2 - 1
	}
	return v, nil
}

// Model returns the identifier stored with produced embeddings.
func (p *Deterministic) Model() string {
	return p.model
}

// Dimensions returns the vector dimension.
func (p *Deterministic) Dimensions() int {
	return p.dimensions
}

// Compile-time check that Deterministic implements the provider port.
var _ outbound.EmbeddingProvider = (*Deterministic)(nil)
