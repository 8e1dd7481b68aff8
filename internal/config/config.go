package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// OpenAIEmbedderConfig holds configuration for the remote
// OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	Dimension   int    `yaml:"dimension"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries"`
}

// LocalEmbedderConfig holds configuration for the in-process embedder.
type LocalEmbedderConfig struct {
	Dimension int `yaml:"dimension"`
}

// EmbedderConfig selects and configures the embedding provider.
type EmbedderConfig struct {
	Type   string                `yaml:"type"`
	OpenAI *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
	Local  *LocalEmbedderConfig  `yaml:"local,omitempty"`
}

// QueryConfig bounds result counts.
type QueryConfig struct {
	DefaultTopK int `yaml:"default_top_k"`
	MaxTopK     int `yaml:"max_top_k"`
}

// LoggingConfig configures structured log output.
type LoggingConfig struct {
	Mode string `yaml:"mode"`
	File string `yaml:"file"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Server         ServerConfig   `yaml:"server"`
	TranscriptsDir string         `yaml:"transcripts_dir"`
	IndexPath      string         `yaml:"index_path"`
	ChunkSize      int            `yaml:"chunk_size"`
	Embedder       EmbedderConfig `yaml:"embedder"`
	Query          QueryConfig    `yaml:"query"`
	Logging        LoggingConfig  `yaml:"logging"`
}

// Load reads a config from the specified path. If the file does not
// exist, defaults are returned.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.TranscriptsDir == "" {
		cfg.TranscriptsDir = "transcripts"
	}
	if cfg.IndexPath == "" {
		cfg.IndexPath = "index_storage/index.db"
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 2000
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "local"
	}
	if cfg.Embedder.Type == "local" && cfg.Embedder.Local == nil {
		cfg.Embedder.Local = &LocalEmbedderConfig{}
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		o := cfg.Embedder.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "text-embedding-3-small"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
		if o.MaxRetries == 0 {
			o.MaxRetries = 4
		}
	}
	if cfg.Embedder.Local != nil && cfg.Embedder.Local.Dimension == 0 {
		cfg.Embedder.Local.Dimension = 256
	}
	if cfg.Query.DefaultTopK == 0 {
		cfg.Query.DefaultTopK = 10
	}
	if cfg.Query.MaxTopK == 0 {
		cfg.Query.MaxTopK = 100
	}
	if cfg.Logging.Mode == "" {
		cfg.Logging.Mode = "dev"
	}
}

func validate(cfg *AppConfig) error {
	if cfg.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.Query.DefaultTopK <= 0 || cfg.Query.MaxTopK <= 0 {
		return fmt.Errorf("top_k bounds must be positive")
	}
	if cfg.Query.DefaultTopK > cfg.Query.MaxTopK {
		return fmt.Errorf("default_top_k %d exceeds max_top_k %d", cfg.Query.DefaultTopK, cfg.Query.MaxTopK)
	}
	switch cfg.Embedder.Type {
	case "local", "openai":
	default:
		return fmt.Errorf("unknown embedder type %q", cfg.Embedder.Type)
	}
	return nil
}
