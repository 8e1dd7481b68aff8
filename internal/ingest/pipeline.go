package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"podsearch/internal/domain"
	"podsearch/internal/logger"
)

// Stage labels used in failure classification.
const (
	StageRead      = "read"
	StageChunk     = "chunk"
	StageEmbedding = "embedding"
	StageIndex     = "index"
)

// SourceReport describes one successfully indexed source.
type SourceReport struct {
	SourceID     string `json:"source_id"`
	PodcastTitle string `json:"podcast_title"`
	Chunks       int    `json:"chunks"`
}

// Failure describes one source that could not be indexed, with the
// pipeline stage that failed.
type Failure struct {
	SourceID string `json:"source_id"`
	Stage    string `json:"stage"`
	Error    string `json:"error"`
}

// Report summarizes a single ingestion run.
type Report struct {
	RunID   string         `json:"run_id"`
	Indexed []SourceReport `json:"indexed"`
	Skipped []string       `json:"skipped"`
	Failed  []Failure      `json:"failed"`
}

// Pipeline walks a transcript directory and drives each source through
// chunking, embedding and indexing. One source failing never aborts the
// rest of the batch.
type Pipeline struct {
	chunker  domain.Chunker
	embedder domain.Embedder
	index    domain.VectorIndex
	log      *logger.Logger
}

func NewPipeline(chunker domain.Chunker, embedder domain.Embedder, index domain.VectorIndex, log *logger.Logger) *Pipeline {
	return &Pipeline{chunker: chunker, embedder: embedder, index: index, log: log}
}

// Run ingests every .txt file in dir. Sources whose content fingerprint
// matches the indexed version are skipped, so re-running over an
// unchanged directory is a no-op.
func (p *Pipeline) Run(ctx context.Context, dir string) (*Report, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading transcript directory: %w", err)
	}

	report := &Report{
		RunID:   uuid.NewString(),
		Indexed: []SourceReport{},
		Skipped: []string{},
		Failed:  []Failure{},
	}
	log := p.log.With("run_id", report.RunID)

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".txt") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)

	// Filename-derived source ids must be unique across the directory.
	seen := make(map[string]string, len(files))
	collided := make(map[string]bool)
	for _, name := range files {
		id := sourceID(name)
		if prev, ok := seen[id]; ok {
			collided[id] = true
			log.Error("source id collision", "id", id, "files", []string{prev, name})
		}
		seen[id] = name
	}

	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		id := sourceID(name)
		if collided[id] {
			report.Failed = append(report.Failed, Failure{
				SourceID: id, Stage: StageRead, Error: domain.ErrSourceCollision.Error(),
			})
			continue
		}
		p.ingestOne(ctx, log, dir, name, id, report)
	}

	log.Info("ingestion run complete",
		"indexed", len(report.Indexed), "skipped", len(report.Skipped), "failed", len(report.Failed))
	return report, nil
}

func (p *Pipeline) ingestOne(ctx context.Context, log *logger.Logger, dir, name, id string, report *Report) {
	fail := func(stage string, err error) {
		log.Warn("source ingestion failed", "source", id, "stage", stage, "error", err.Error())
		report.Failed = append(report.Failed, Failure{SourceID: id, Stage: stage, Error: err.Error()})
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		fail(StageRead, err)
		return
	}
	fp := fingerprint(data)
	if stored, ok := p.index.Fingerprint(id); ok && stored == fp {
		log.Debug("source unchanged, skipping", "source", id)
		report.Skipped = append(report.Skipped, id)
		return
	}

	chunks, err := p.chunker.Split(id, string(data))
	if err != nil {
		fail(StageChunk, err)
		return
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		fail(StageEmbedding, err)
		return
	}

	records := make([]domain.Record, len(chunks))
	for i, c := range chunks {
		records[i] = domain.Record{
			SourceID:     c.SourceID,
			Ordinal:      c.Ordinal,
			PodcastTitle: id,
			Text:         c.Text,
			Vector:       vectors[i],
		}
	}
	if err := p.index.ReplaceSource(id, records, fp); err != nil {
		fail(StageIndex, err)
		return
	}

	log.Info("source indexed", "source", id, "chunks", len(records))
	report.Indexed = append(report.Indexed, SourceReport{SourceID: id, PodcastTitle: id, Chunks: len(records)})
}

// sourceID derives the stable source identifier, which doubles as the
// podcast title, from the transcript filename.
func sourceID(filename string) string {
	return strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
}

func fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
