// Package embed defines the embedding capability the knowledge base is
// parametrized by, plus the built-in providers. The engine never depends
// on a specific provider; swapping in a real model is a construction-time
// choice.
package embed

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"

	"kbserve/src/internal/config"
)

// Embedder converts text into a fixed-dimension float vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// FromConfig builds the configured provider.
func FromConfig(cfg *config.EmbeddingsConfig) (Embedder, error) {
	switch cfg.Provider {
	case "", "hash":
		return NewHashEmbedder(cfg.Dimension), nil
	case "openai":
		return NewOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
}

// HashEmbedder is a deterministic stand-in for a semantic model: it
// expands a SHA-256 digest of the text to the configured dimension and
// normalizes to unit length. Identical text always yields the identical
// vector; there is no semantic similarity beyond exact match.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{dim: dim}
}

func (e *HashEmbedder) Dimension() int {
	return e.dim
}

func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	if text == "" {
		return vec, nil
	}

	hash := sha256.Sum256([]byte(text))

	for i := range vec {
		hashIdx := i % len(hash)
		byteIdx := (i / len(hash)) % len(hash)
		combined := hash[hashIdx] ^ hash[byteIdx]
		vec[i] = (float32(combined)/255.0)*2.0 - 1.0
	}

	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = float32(math.Sqrt(float64(norm)))
		for i := range vec {
			vec[i] /= norm
		}
	}

	return vec, nil
}
