package domain

import "time"

// Source represents a single transcript file loaded into the system.
// The ID is derived from the filename and doubles as the podcast title.
type Source struct {
	ID          string
	Title       string
	Path        string
	Content     string
	Fingerprint string
	IngestedAt  time.Time
}

// Chunk is a bounded-size contiguous slice of a source transcript,
// the unit of retrieval. Ordinal positions are 0-based and define the
// reconstructable order within the source.
type Chunk struct {
	SourceID string
	Ordinal  int
	Text     string
	Words    int
}

// Record is the unit stored in the vector index: a chunk together with
// its embedding vector and the metadata needed to display a result.
type Record struct {
	SourceID     string
	Ordinal      int
	PodcastTitle string
	Text         string
	Vector       []float64
}

// SearchResult pairs an indexed record with its similarity score.
type SearchResult struct {
	Record Record
	Score  float64
}

// QueryResult is the shaped result returned to API callers.
type QueryResult struct {
	ChunkText    string  `json:"chunk_text"`
	PodcastTitle string  `json:"podcast_title"`
	Score        float64 `json:"score"`
}
