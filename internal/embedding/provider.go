// Package embedding maps ticket text to fixed-dimension vectors and compares
// them. Providers are opaque; wrappers add caching, rate limiting and metrics.
package embedding

import (
	"context"
	"errors"
)

// Provider turns text into an embedding vector. A provider must return vectors
// of the same dimension on every call and must return an error rather than a
// made-up vector when it cannot produce one.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Name() string
}

// ErrEmptyEmbedding is returned when a provider answers without a vector.
var ErrEmptyEmbedding = errors.New("provider returned an empty embedding")
