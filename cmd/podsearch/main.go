package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
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
	"podsearch/internal/server"
)

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", "config.yaml", "Path to config YAML")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	lg, err := logger.New(cfg.Logging.Mode, cfg.Logging.File)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer lg.Sync()

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

	pipeline := ingest.NewPipeline(ch, emb, idx, lg)
	engine := query.NewEngine(emb, idx, cfg.Query.DefaultTopK, cfg.Query.MaxTopK, lg)
	srv := server.New(engine, pipeline, cfg.TranscriptsDir, lg)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler()}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		lg.Info("server listening", "addr", addr, "embedder", emb.Name(), "records", idx.Len())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("server error", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("shutdown incomplete", "error", err.Error())
	}
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
