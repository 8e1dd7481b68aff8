package local

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"podsearch/internal/domain"
)

// DefaultDimension is the vector size used when none is configured.
const DefaultDimension = 256

// Embedder is a deterministic in-process feature-hashing embedder.
// Each word token is hashed into a fixed-size vector with a hash-derived
// sign, and the result is L2-normalized. No network, no model files;
// identical text always maps to an identical vector, which makes it the
// cost-free default and the provider used by tests.
type Embedder struct {
	dimension    int
	tokenPattern *regexp.Regexp
}

func NewEmbedder(dimension int) (*Embedder, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid local embedder dimension %d", dimension)
	}
	return &Embedder{
		dimension:    dimension,
		tokenPattern: regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`),
	}, nil
}

// Name returns the logical provider/model identifier stored in the index.
func (e *Embedder) Name() string { return "local/hash-v1" }

// Dimension returns the dimensionality of the produced vectors.
func (e *Embedder) Dimension() int { return e.dimension }

// Embed computes the hashed bag-of-words embedding for the given text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float64, e.dimension)
	tokens := e.tokenPattern.FindAllString(strings.ToLower(text), -1)
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dimension))
		if sum>>63 == 0 {
			vec[idx]++
		} else {
			vec[idx]--
		}
	}
	norm := 0.0
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

// EmbedBatch embeds texts in input order, one vector per input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	vecs := make([][]float64, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}
	return vecs, nil
}

var _ domain.Embedder = (*Embedder)(nil)
