package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// DefaultHashingDimensions is the vector size used by NewHashingProvider when
// no dimension is given.
const DefaultHashingDimensions = 256

// HashingProvider is a local feature-hashing embedder. Unigrams and bigrams of
// the input are hashed into a fixed number of buckets with a sign bit and the
// result is L2-normalized. It needs no network access and is deterministic,
// which makes it the fallback when no remote provider is configured.
type HashingProvider struct {
	dimensions int
}

// NewHashingProvider creates a hashing provider with the given dimension.
func NewHashingProvider(dimensions int) *HashingProvider {
	if dimensions <= 0 {
		dimensions = DefaultHashingDimensions
	}
	return &HashingProvider{dimensions: dimensions}
}

// Name returns the provider name
func (p *HashingProvider) Name() string {
	return "hashing"
}

// Dimension returns the vector dimension
func (p *HashingProvider) Dimension() int {
	return p.dimensions
}

// Embed hashes the whitespace-separated terms of text into a vector.
// Text without terms embeds to the zero vector.
func (p *HashingProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float64, p.dimensions)
	terms := strings.Fields(text)
	for i, term := range terms {
		p.add(vec, term, 1.0)
		if i > 0 {
			p.add(vec, terms[i-1]+" "+term, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

func (p *HashingProvider) add(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(p.dimensions))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}
