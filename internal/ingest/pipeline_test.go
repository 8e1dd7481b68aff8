package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podsearch/internal/chunker"
	"podsearch/internal/domain"
	"podsearch/internal/embedding/local"
	"podsearch/internal/index"
	"podsearch/internal/logger"
)

func newTestPipeline(t *testing.T, emb domain.Embedder) (*Pipeline, *index.Index) {
	t.Helper()
	idx, err := index.Open(filepath.Join(t.TempDir(), "index.db"), emb.Name(), emb.Dimension(), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	ch, err := chunker.NewWordChunker(5)
	require.NoError(t, err)
	return NewPipeline(ch, emb, idx, logger.NewNop()), idx
}

func writeTranscript(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestRunIndexesNewSources(t *testing.T) {
	emb, err := local.NewEmbedder(64)
	require.NoError(t, err)
	p, idx := newTestPipeline(t, emb)

	dir := t.TempDir()
	writeTranscript(t, dir, "EpisodeA.txt", "hello world")
	writeTranscript(t, dir, "EpisodeB.txt", strings.Repeat("word ", 12))

	report, err := p.Run(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, report.Indexed, 2)
	assert.Empty(t, report.Failed)
	assert.NotEmpty(t, report.RunID)

	// EpisodeA: 2 words -> 1 chunk; EpisodeB: 12 words -> 3 chunks of <=5.
	assert.Equal(t, 4, idx.Len())

	vec, err := emb.Embed(context.Background(), "hello")
	require.NoError(t, err)
	results, err := idx.Search(vec, 1, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "EpisodeA", results[0].Record.PodcastTitle)
	assert.Contains(t, results[0].Record.Text, "hello world")
}

func TestRunIsIdempotent(t *testing.T) {
	emb, err := local.NewEmbedder(64)
	require.NoError(t, err)
	p, idx := newTestPipeline(t, emb)

	dir := t.TempDir()
	writeTranscript(t, dir, "EpisodeA.txt", "some transcript content here")

	first, err := p.Run(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, first.Indexed, 1)
	countAfterFirst := idx.Len()

	second, err := p.Run(context.Background(), dir)
	require.NoError(t, err)
	assert.Empty(t, second.Indexed)
	assert.Equal(t, []string{"EpisodeA"}, second.Skipped)
	assert.Equal(t, countAfterFirst, idx.Len())
}

func TestRunReplacesEditedSource(t *testing.T) {
	emb, err := local.NewEmbedder(64)
	require.NoError(t, err)
	p, idx := newTestPipeline(t, emb)

	dir := t.TempDir()
	writeTranscript(t, dir, "EpisodeA.txt", "original content about gardening")
	_, err = p.Run(context.Background(), dir)
	require.NoError(t, err)

	writeTranscript(t, dir, "EpisodeA.txt", "replacement content about astronomy")
	report, err := p.Run(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, report.Indexed, 1)

	vec, err := emb.Embed(context.Background(), "gardening astronomy content")
	require.NoError(t, err)
	results, err := idx.Search(vec, 10, "")
	require.NoError(t, err)
	for _, r := range results {
		assert.NotContains(t, r.Record.Text, "original")
	}
}

func TestRunIsolatesEmbeddingFailures(t *testing.T) {
	inner, err := local.NewEmbedder(64)
	require.NoError(t, err)
	p, idx := newTestPipeline(t, &flakyEmbedder{inner: inner, marker: "unreachable"})

	dir := t.TempDir()
	writeTranscript(t, dir, "BadEpisode.txt", "this transcript is unreachable for embedding")
	writeTranscript(t, dir, "GoodEpisode.txt", "this transcript embeds fine")

	report, err := p.Run(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, report.Failed, 1)
	assert.Equal(t, "BadEpisode", report.Failed[0].SourceID)
	assert.Equal(t, StageEmbedding, report.Failed[0].Stage)
	assert.Contains(t, report.Failed[0].Error, "timeout")

	require.Len(t, report.Indexed, 1)
	assert.Equal(t, "GoodEpisode", report.Indexed[0].SourceID)
	assert.Equal(t, 1, idx.Len())
}

func TestRunDetectsSourceIDCollision(t *testing.T) {
	emb, err := local.NewEmbedder(64)
	require.NoError(t, err)

	idx, err := index.Open(filepath.Join(t.TempDir(), "index.db"), emb.Name(), emb.Dimension(), logger.NewNop())
	require.NoError(t, err)
	defer idx.Close()
	ch, err := chunker.NewWordChunker(5)
	require.NoError(t, err)
	p := NewPipeline(ch, emb, idx, logger.NewNop())

	dir := t.TempDir()
	writeTranscript(t, dir, "Episode.txt", "content one")
	writeTranscript(t, dir, "Episode.TXT", "content two")

	report, err := p.Run(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, report.Failed, 2)
	for _, f := range report.Failed {
		assert.Equal(t, domain.ErrSourceCollision.Error(), f.Error)
	}
	assert.Equal(t, 0, idx.Len())
}

func TestRunIgnoresNonTxtFiles(t *testing.T) {
	emb, err := local.NewEmbedder(64)
	require.NoError(t, err)
	p, idx := newTestPipeline(t, emb)

	dir := t.TempDir()
	writeTranscript(t, dir, "notes.md", "should not be ingested")
	writeTranscript(t, dir, "Episode.txt", "should be ingested")

	report, err := p.Run(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, report.Indexed, 1)
	assert.Equal(t, "Episode", report.Indexed[0].SourceID)
	assert.Equal(t, 1, idx.Len())
}

// flakyEmbedder fails any batch whose text mentions the marker word,
// mimicking a provider that times out on specific content.
type flakyEmbedder struct {
	inner  domain.Embedder
	marker string
}

func (f *flakyEmbedder) Name() string   { return f.inner.Name() }
func (f *flakyEmbedder) Dimension() int { return f.inner.Dimension() }

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	for _, t := range texts {
		if strings.Contains(t, f.marker) {
			return nil, fmt.Errorf("%w: timeout after retries", domain.ErrRetryable)
		}
	}
	return f.inner.EmbedBatch(ctx, texts)
}
