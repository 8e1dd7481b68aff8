package query

import (
	"context"
	"strings"

	"podsearch/internal/domain"
	"podsearch/internal/logger"
)

// Engine embeds a query string and retrieves the top-K most similar
// chunks from the vector index. Read-only: the embedding call is its
// only externally visible effect.
type Engine struct {
	embedder domain.Embedder
	index    domain.VectorIndex
	defaultK int
	maxK     int
	log      *logger.Logger
}

func NewEngine(embedder domain.Embedder, index domain.VectorIndex, defaultK, maxK int, log *logger.Logger) *Engine {
	return &Engine{embedder: embedder, index: index, defaultK: defaultK, maxK: maxK, log: log}
}

// Search validates inputs, embeds the query and returns shaped results
// in descending similarity order. k == 0 selects the configured default;
// a negative or over-limit k is a validation error. Validation happens
// before the embedding call so bad requests never cost a provider call.
func (e *Engine) Search(ctx context.Context, text string, k int, podcastFilter string) ([]domain.QueryResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptyQuery
	}
	if k == 0 {
		k = e.defaultK
	}
	if k < 0 || k > e.maxK {
		return nil, domain.ErrInvalidTopK
	}

	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	hits, err := e.index.Search(vec, k, podcastFilter)
	if err != nil {
		return nil, err
	}

	results := make([]domain.QueryResult, len(hits))
	for i, h := range hits {
		results[i] = domain.QueryResult{
			ChunkText:    h.Record.Text,
			PodcastTitle: h.Record.PodcastTitle,
			Score:        h.Score,
		}
	}
	e.log.Debug("query served", "k", k, "filter", podcastFilter, "results", len(results))
	return results, nil
}
