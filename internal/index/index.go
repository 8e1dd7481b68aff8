package index

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"podsearch/internal/domain"
	"podsearch/internal/logger"
)

// Index stores embedding records durably in SQLite and keeps the full
// record set in memory for brute-force cosine search. All vectors are
// L2-normalized by the providers, so similarity is a plain dot product.
//
// Concurrency follows a single-writer/multi-reader discipline: Search
// takes a read lock, every mutation takes the write lock and commits the
// SQLite transaction before swapping the in-memory state, so a reader
// never observes a source mid-replacement.
type Index struct {
	mu           sync.RWMutex
	db           *sql.DB
	path         string
	embedderName string
	dimension    int
	records      []domain.Record
	fingerprints map[string]string
	log          *logger.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sources (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	ingested_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS chunks (
	source_id     TEXT NOT NULL,
	ordinal       INTEGER NOT NULL,
	seq           INTEGER NOT NULL,
	podcast_title TEXT NOT NULL,
	text          TEXT NOT NULL,
	embedding     BLOB NOT NULL,
	PRIMARY KEY (source_id, ordinal)
);
`

// Open loads the index at path, creating it if absent. The stored
// embedder name and dimension must match the active provider; opening an
// index built by a different provider fails with a configuration error.
// An unreadable database is backed aside and replaced with a fresh one,
// since the index can always be rebuilt from the transcript directory.
func Open(path, embedderName string, dimension int, log *logger.Logger) (*Index, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid index dimension %d", dimension)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	idx, err := open(path, embedderName, dimension, log)
	if err == nil {
		return idx, nil
	}
	if errors.Is(err, domain.ErrProviderMismatch) || errors.Is(err, domain.ErrDimensionMismatch) {
		return nil, err
	}

	// Corrupt or unreadable storage: recoverable, not fatal.
	backup := fmt.Sprintf("%s.corrupt.%d", path, time.Now().Unix())
	log.Warn("index storage unreadable, starting fresh",
		"path", path, "backup", backup, "error", fmt.Sprintf("%v: %v", domain.ErrCorruptIndex, err))
	if renameErr := os.Rename(path, backup); renameErr != nil && !os.IsNotExist(renameErr) {
		return nil, fmt.Errorf("moving corrupt index aside: %w", renameErr)
	}
	for _, sidecar := range []string{path + "-wal", path + "-shm"} {
		if rmErr := os.Remove(sidecar); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("removing stale sidecar: %w", rmErr)
		}
	}
	return open(path, embedderName, dimension, log)
}

func open(path, embedderName string, dimension int, log *logger.Logger) (*Index, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening index database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	idx := &Index{
		db:           db,
		path:         path,
		embedderName: embedderName,
		dimension:    dimension,
		fingerprints: make(map[string]string),
		log:          log,
	}
	if err := idx.checkMeta(); err != nil {
		db.Close()
		return nil, err
	}
	if err := idx.load(); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("index opened", "path", path, "records", len(idx.records),
		"embedder", embedderName, "dimension", dimension)
	return idx, nil
}

func (x *Index) checkMeta() error {
	var name string
	err := x.db.QueryRow(`SELECT value FROM meta WHERE key = 'embedder'`).Scan(&name)
	switch {
	case err == sql.ErrNoRows:
		_, err = x.db.Exec(`INSERT INTO meta (key, value) VALUES ('embedder', ?), ('dimension', ?)`,
			x.embedderName, strconv.Itoa(x.dimension))
		if err != nil {
			return fmt.Errorf("writing index meta: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("reading index meta: %w", err)
	}
	if name != x.embedderName {
		return domain.ErrProviderMismatch
	}
	var dimStr string
	if err := x.db.QueryRow(`SELECT value FROM meta WHERE key = 'dimension'`).Scan(&dimStr); err != nil {
		return fmt.Errorf("reading index meta: %w", err)
	}
	if dim, err := strconv.Atoi(dimStr); err != nil || dim != x.dimension {
		return domain.ErrDimensionMismatch
	}
	return nil
}

func (x *Index) load() error {
	rows, err := x.db.Query(`SELECT source_id, ordinal, podcast_title, text, embedding FROM chunks ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("loading chunks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r domain.Record
		var blob []byte
		if err := rows.Scan(&r.SourceID, &r.Ordinal, &r.PodcastTitle, &r.Text, &blob); err != nil {
			return fmt.Errorf("scanning chunk: %w", err)
		}
		r.Vector = bytesToVector(blob)
		if len(r.Vector) != x.dimension {
			return domain.ErrDimensionMismatch
		}
		x.records = append(x.records, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating chunks: %w", err)
	}

	srcRows, err := x.db.Query(`SELECT id, fingerprint FROM sources`)
	if err != nil {
		return fmt.Errorf("loading sources: %w", err)
	}
	defer srcRows.Close()
	for srcRows.Next() {
		var id, fp string
		if err := srcRows.Scan(&id, &fp); err != nil {
			return fmt.Errorf("scanning source: %w", err)
		}
		x.fingerprints[id] = fp
	}
	return srcRows.Err()
}

// Close flushes and closes the underlying storage.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.db.Close()
}

// EmbedderName returns the provider the index was built with.
func (x *Index) EmbedderName() string { return x.embedderName }

// Dimension returns the stored vector dimensionality.
func (x *Index) Dimension() int { return x.dimension }

// Len returns the number of stored records.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records)
}

// Fingerprint returns the recorded content fingerprint for a source.
func (x *Index) Fingerprint(sourceID string) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	fp, ok := x.fingerprints[sourceID]
	return fp, ok
}

func (x *Index) validate(records []domain.Record) error {
	for _, r := range records {
		if len(r.Vector) != x.dimension {
			return domain.ErrDimensionMismatch
		}
	}
	return nil
}

// Insert adds records. A record whose (source id, ordinal) key already
// exists replaces the older one (last-write-wins).
func (x *Index) Insert(records []domain.Record) error {
	if err := x.validate(records); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	tx, err := x.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()
	seq, err := x.nextSeq(tx)
	if err != nil {
		return err
	}
	for i, r := range records {
		if _, err := tx.Exec(`
			INSERT INTO chunks (source_id, ordinal, seq, podcast_title, text, embedding)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(source_id, ordinal) DO UPDATE SET
				seq = excluded.seq,
				podcast_title = excluded.podcast_title,
				text = excluded.text,
				embedding = excluded.embedding
		`, r.SourceID, r.Ordinal, seq+int64(i), r.PodcastTitle, r.Text, vectorToBytes(r.Vector)); err != nil {
			return fmt.Errorf("inserting chunk %s/%d: %w", r.SourceID, r.Ordinal, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing insert: %w", err)
	}

	x.applyInsert(records)
	return nil
}

type chunkKey struct {
	sourceID string
	ordinal  int
}

// applyInsert updates the in-memory set: drop records superseded by an
// incoming key, then append the new records in order.
func (x *Index) applyInsert(records []domain.Record) {
	keys := make(map[chunkKey]struct{}, len(records))
	for _, r := range records {
		keys[chunkKey{r.SourceID, r.Ordinal}] = struct{}{}
	}
	kept := x.records[:0]
	for _, r := range x.records {
		if _, dup := keys[chunkKey{r.SourceID, r.Ordinal}]; !dup {
			kept = append(kept, r)
		}
	}
	x.records = append(kept, records...)
}

// RemoveSource purges every record belonging to a source.
func (x *Index) RemoveSource(sourceID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	tx, err := x.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM chunks WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("deleting chunks for %s: %w", sourceID, err)
	}
	if _, err := tx.Exec(`DELETE FROM sources WHERE id = ?`, sourceID); err != nil {
		return fmt.Errorf("deleting source %s: %w", sourceID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing removal: %w", err)
	}

	x.dropSource(sourceID)
	delete(x.fingerprints, sourceID)
	return nil
}

// ReplaceSource atomically swaps a source's chunk set for a new one and
// records its content fingerprint. Concurrent readers see either the old
// set or the new set, never an empty in-between state.
func (x *Index) ReplaceSource(sourceID string, records []domain.Record, fingerprint string) error {
	if err := x.validate(records); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	tx, err := x.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM chunks WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("deleting old chunks for %s: %w", sourceID, err)
	}
	seq, err := x.nextSeq(tx)
	if err != nil {
		return err
	}
	for i, r := range records {
		if _, err := tx.Exec(`
			INSERT INTO chunks (source_id, ordinal, seq, podcast_title, text, embedding)
			VALUES (?, ?, ?, ?, ?, ?)
		`, r.SourceID, r.Ordinal, seq+int64(i), r.PodcastTitle, r.Text, vectorToBytes(r.Vector)); err != nil {
			return fmt.Errorf("inserting chunk %s/%d: %w", r.SourceID, r.Ordinal, err)
		}
	}
	title := sourceID
	if len(records) > 0 {
		title = records[0].PodcastTitle
	}
	if _, err := tx.Exec(`
		INSERT INTO sources (id, title, fingerprint, ingested_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			fingerprint = excluded.fingerprint,
			ingested_at = excluded.ingested_at
	`, sourceID, title, fingerprint, time.Now().UTC()); err != nil {
		return fmt.Errorf("recording source %s: %w", sourceID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing replacement: %w", err)
	}

	x.dropSource(sourceID)
	x.records = append(x.records, records...)
	x.fingerprints[sourceID] = fingerprint
	return nil
}

func (x *Index) dropSource(sourceID string) {
	kept := x.records[:0]
	for _, r := range x.records {
		if r.SourceID != sourceID {
			kept = append(kept, r)
		}
	}
	x.records = kept
}

func (x *Index) nextSeq(tx *sql.Tx) (int64, error) {
	var seq sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(seq) FROM chunks`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("reading sequence: %w", err)
	}
	return seq.Int64 + 1, nil
}

// Search returns up to topK records ranked by descending cosine
// similarity. podcastFilter, when non-empty, restricts the candidate set
// before the top-k selection. Ties break by insertion order, so repeated
// identical queries against an unchanged index return identical results.
func (x *Index) Search(vector []float64, topK int, podcastFilter string) ([]domain.SearchResult, error) {
	if topK <= 0 {
		return nil, domain.ErrInvalidTopK
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(vector) != x.dimension {
		return nil, domain.ErrDimensionMismatch
	}

	type scored struct {
		pos   int
		score float64
	}
	candidates := make([]scored, 0, len(x.records))
	for i, r := range x.records {
		if podcastFilter != "" && r.PodcastTitle != podcastFilter {
			continue
		}
		candidates = append(candidates, scored{pos: i, score: dot(r.Vector, vector)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].pos < candidates[j].pos
	})
	if topK > len(candidates) {
		topK = len(candidates)
	}
	results := make([]domain.SearchResult, 0, topK)
	for _, c := range candidates[:topK] {
		results = append(results, domain.SearchResult{Record: x.records[c.pos], Score: c.score})
	}
	return results, nil
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

var _ domain.VectorIndex = (*Index)(nil)
