package chunker

import (
	"strings"

	"podsearch/internal/domain"
)

// WordChunker splits transcript text into chunks of at most chunkSize
// whitespace-delimited words. Splitting is deterministic, so re-ingestion
// of unchanged text always reproduces the same chunk sequence.
type WordChunker struct {
	chunkSize int
}

func NewWordChunker(chunkSize int) (*WordChunker, error) {
	if chunkSize <= 0 {
		return nil, domain.ErrInvalidChunkSize
	}
	return &WordChunker{chunkSize: chunkSize}, nil
}

// Split breaks text into ordered chunks. Empty or whitespace-only input
// yields zero chunks. The last chunk may hold fewer than chunkSize words.
func (c *WordChunker) Split(sourceID, text string) ([]domain.Chunk, error) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil
	}
	chunks := make([]domain.Chunk, 0, (len(words)+c.chunkSize-1)/c.chunkSize)
	for start := 0; start < len(words); start += c.chunkSize {
		end := start + c.chunkSize
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, domain.Chunk{
			SourceID: sourceID,
			Ordinal:  len(chunks),
			Text:     strings.Join(words[start:end], " "),
			Words:    end - start,
		})
	}
	return chunks, nil
}
