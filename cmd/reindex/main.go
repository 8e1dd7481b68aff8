package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"podsearch/internal/chunker"
	"podsearch/internal/config"
	"podsearch/internal/domain"
	"podsearch/internal/embedding/local"
	"podsearch/internal/embedding/openai"
	"podsearch/internal/index"
	"podsearch/internal/ingest"
	"podsearch/internal/logger"
	"podsearch/internal/query"
)

// reindex rebuilds the vector index from the transcript directory and
// optionally runs an ad-hoc query against the result. With -rebuild the
// existing index storage is dropped first, which is also the recovery
// path for corrupt storage.
func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", "config.yaml", "Path to config YAML")
	dir := flag.String("dir", "", "Transcript directory (overrides config)")
	rebuild := flag.Bool("rebuild", false, "Drop existing index storage and rebuild from scratch")
	queryText := flag.String("query", "", "Optional query to run after indexing")
	topK := flag.Int("k", 0, "Result count for -query (0 uses the configured default)")
	podcast := flag.String("podcast", "", "Optional podcast title filter for -query")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *dir != "" {
		cfg.TranscriptsDir = *dir
	}

	lg, err := logger.New(cfg.Logging.Mode, cfg.Logging.File)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer lg.Sync()

	if *rebuild {
		for _, p := range []string{cfg.IndexPath, cfg.IndexPath + "-wal", cfg.IndexPath + "-shm"} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				lg.Error("failed to drop index storage", "path", p, "error", err.Error())
				return
			}
		}
		lg.Info("index storage dropped", "path", cfg.IndexPath)
	}

	emb, err := buildEmbedder(cfg)
	if err != nil {
		lg.Error("embedder init failed", "error", err.Error())
		return
	}
	ch, err := chunker.NewWordChunker(cfg.ChunkSize)
	if err != nil {
		lg.Error("chunker init failed", "error", err.Error())
		return
	}
	idx, err := index.Open(cfg.IndexPath, emb.Name(), emb.Dimension(), lg)
	if err != nil {
		lg.Error("index init failed", "error", err.Error())
		return
	}
	defer idx.Close()

	ctx := context.Background()
	report, err := ingest.NewPipeline(ch, emb, idx, lg).Run(ctx, cfg.TranscriptsDir)
	if err != nil {
		lg.Error("ingestion failed", "error", err.Error())
		return
	}
	fmt.Printf("indexed %d, skipped %d, failed %d (%d records total)\n",
		len(report.Indexed), len(report.Skipped), len(report.Failed), idx.Len())
	for _, f := range report.Failed {
		fmt.Printf("  failed %s at %s: %s\n", f.SourceID, f.Stage, f.Error)
	}

	if *queryText == "" {
		return
	}
	engine := query.NewEngine(emb, idx, cfg.Query.DefaultTopK, cfg.Query.MaxTopK, lg)
	results, err := engine.Search(ctx, *queryText, *topK, *podcast)
	if err != nil {
		lg.Error("query failed", "error", err.Error())
		return
	}
	for i, r := range results {
		fmt.Printf("%2d. [%.4f] %s: %s\n", i+1, r.Score, r.PodcastTitle, truncate(r.ChunkText, 160))
	}
}

// truncate shortens a preview to at most max runes, never splitting a
// multi-byte character.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

func buildEmbedder(cfg *config.AppConfig) (domain.Embedder, error) {
	switch cfg.Embedder.Type {
	case "local", "":
		dim := local.DefaultDimension
		if cfg.Embedder.Local != nil {
			dim = cfg.Embedder.Local.Dimension
		}
		return local.NewEmbedder(dim)
	case "openai":
		o := cfg.Embedder.OpenAI
		if o == nil {
			return nil, fmt.Errorf("openai embedder config missing")
		}
		return openai.NewClient(openai.Config{
			BaseURL:    o.BaseURL,
			APIKeyEnv:  o.APIKeyEnv,
			Model:      o.Model,
			Dimension:  o.Dimension,
			Timeout:    time.Duration(o.TimeoutSecs) * time.Second,
			MaxRetries: uint64(o.MaxRetries),
		})
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}
}
