// Package embedding defines the vector value type produced by the embedding
// service and the similarity math the router ranks with.
package embedding

import (
	"fmt"
	"math"
)

// Embedding is a fixed-dimension, L2-normalized vector tagged with the model
// identifier that produced it.
type Embedding struct {
	// Vector holds the normalized components.
	Vector []float64 `json:"vector"`
	// Model is the identifier of the model that generated the vector.
	Model string `json:"model"`
}

// Dimension returns the vector length.
func (e Embedding) Dimension() int {
	return len(e.Vector)
}

// DimensionMismatchError reports a similarity computation across vectors of
// different lengths.
type DimensionMismatchError struct {
	// Want is the dimension of the first operand.
	Want int
	// Got is the dimension of the second operand.
	Got int
}

// Error implements the error interface.
func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: %d vs %d", e.Want, e.Got)
}

// Code returns the stable error code for the boundary.
func (e *DimensionMismatchError) Code() string {
	return "DIMENSION_MISMATCH"
}

// Normalize scales v to unit L2 norm in place and returns it. A zero vector
// is returned unchanged since it has no direction to preserve.
func Normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] /= norm
	}
	return v
}

// Cosine returns the cosine similarity of a and b in [-1, 1].
// Inputs must share length; a zero vector yields similarity 0.
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{Want: len(a), Got: len(b)}
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Float error can push the ratio infinitesimally outside [-1, 1].
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return sim, nil
}
