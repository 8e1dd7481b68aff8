package query

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podsearch/internal/domain"
	"podsearch/internal/embedding/local"
	"podsearch/internal/index"
	"podsearch/internal/logger"
)

func newTestEngine(t *testing.T) (*Engine, domain.Embedder, *index.Index) {
	t.Helper()
	emb, err := local.NewEmbedder(64)
	require.NoError(t, err)
	idx, err := index.Open(filepath.Join(t.TempDir(), "index.db"), emb.Name(), emb.Dimension(), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return NewEngine(emb, idx, 10, 50, logger.NewNop()), emb, idx
}

func seed(t *testing.T, emb domain.Embedder, idx *index.Index, source string, texts ...string) {
	t.Helper()
	vecs, err := emb.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	records := make([]domain.Record, len(texts))
	for i, text := range texts {
		records[i] = domain.Record{SourceID: source, Ordinal: i, PodcastTitle: source, Text: text, Vector: vecs[i]}
	}
	require.NoError(t, idx.ReplaceSource(source, records, "fp-"+source))
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	e, _, _ := newTestEngine(t)
	for _, q := range []string{"", "   ", "\t\n"} {
		_, err := e.Search(context.Background(), q, 5, "")
		require.ErrorIs(t, err, domain.ErrEmptyQuery)
	}
}

func TestSearchRejectsOutOfRangeK(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.Search(context.Background(), "hello", -1, "")
	require.ErrorIs(t, err, domain.ErrInvalidTopK)
	_, err = e.Search(context.Background(), "hello", 51, "")
	require.ErrorIs(t, err, domain.ErrInvalidTopK)
}

func TestSearchUsesDefaultK(t *testing.T) {
	e, emb, idx := newTestEngine(t)
	texts := make([]string, 15)
	for i := range texts {
		texts[i] = "episode transcript segment about technology"
	}
	seed(t, emb, idx, "Show", texts...)

	results, err := e.Search(context.Background(), "technology", 0, "")
	require.NoError(t, err)
	assert.Len(t, results, 10)
}

func TestSearchShapesResults(t *testing.T) {
	e, emb, idx := newTestEngine(t)
	seed(t, emb, idx, "EpisodeA", "hello world")

	results, err := e.Search(context.Background(), "hello", 1, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "EpisodeA", results[0].PodcastTitle)
	assert.Contains(t, results[0].ChunkText, "hello world")
	assert.Greater(t, results[0].Score, 0.0)
}

func TestSearchAppliesPodcastFilter(t *testing.T) {
	e, emb, idx := newTestEngine(t)
	seed(t, emb, idx, "Cooking", "how to cook pasta perfectly")
	seed(t, emb, idx, "Physics", "how to cook up a quantum experiment")

	results, err := e.Search(context.Background(), "cook", 10, "Physics")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "Physics", r.PodcastTitle)
	}
}

func TestSearchReturnsAllWhenKExceedsCandidates(t *testing.T) {
	e, emb, idx := newTestEngine(t)
	seed(t, emb, idx, "Show", "first chunk text", "second chunk text", "third chunk text")

	results, err := e.Search(context.Background(), "chunk text", 10, "")
	require.NoError(t, err)
	assert.Len(t, results, 3)
}
