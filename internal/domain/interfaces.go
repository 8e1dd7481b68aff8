package domain

import "context"

// Embedder converts free text into a fixed-dimension numeric vector.
// Implementations declare their dimensionality and a stable name so the
// index can reject vectors produced by a different provider.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
	// EmbedBatch returns exactly one vector per input, in input order.
	// A failure on any item fails the whole batch.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// Chunker splits transcript text into ordered bounded-size chunks.
type Chunker interface {
	Split(sourceID, text string) ([]Chunk, error)
}

// VectorIndex persists embedding records and supports similarity search.
// Writers are mutually exclusive; readers never observe a source in a
// half-replaced state.
type VectorIndex interface {
	Insert(records []Record) error
	RemoveSource(sourceID string) error
	ReplaceSource(sourceID string, records []Record, fingerprint string) error
	Search(vector []float64, topK int, podcastFilter string) ([]SearchResult, error)
	Fingerprint(sourceID string) (string, bool)
	EmbedderName() string
	Dimension() int
	Len() int
	Close() error
}
