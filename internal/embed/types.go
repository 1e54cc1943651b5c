// Package embed generates the vector embeddings that back similarity
// search. An Embedder is treated as an opaque function text -> vector by
// the rest of the engine; this package owns everything about how that
// function is actually served: a local Ollama model over HTTP, or a
// deterministic hash-based stand-in for tests and offline operation.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	MinBatchSize     = 1
	MaxBatchSize     = 256
	DefaultBatchSize = 32

	// DefaultWarmTimeout is used once the model is known to be loaded.
	DefaultWarmTimeout = 15 * time.Second

	// DefaultColdTimeout is used for the first call, or any call after
	// ModelUnloadThreshold has elapsed since the last one.
	DefaultColdTimeout = 30 * time.Second

	// ModelUnloadThreshold is how long Ollama keeps a model resident in
	// memory after its last use before unloading it back to disk.
	ModelUnloadThreshold = 5 * time.Minute

	DefaultMaxRetries = 3
)

// DefaultDimensions is the embedding dimension of the bundled default
// embedding model.
const DefaultDimensions = 768

// StaticDimensions is the embedding dimension produced by StaticEmbedder.
const StaticDimensions = 256

// Embedder generates vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
	Available(ctx context.Context) bool
	Close() error
}

// normalizeVector normalizes a vector to unit length, returning it
// unchanged if it has zero magnitude.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
