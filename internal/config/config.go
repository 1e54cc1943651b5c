// Package config loads and validates the engine's configuration: a YAML
// file layered under environment-variable overrides, following the same
// defaults-then-file-then-env precedence chain used throughout the corpus
// this engine is built from.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/localdocs/docengine/internal/embed"
	"github.com/localdocs/docengine/internal/logging"
	"github.com/localdocs/docengine/internal/reranker"
)

// EngineVersion is the current indexing schema version. Bump this whenever
// a change to chunking, fingerprinting, or the vector store's row shape
// would make an existing index inconsistent with freshly indexed content.
const EngineVersion = 1

// Config is the engine's complete configuration.
type Config struct {
	// EmbeddingModel is the model identifier persisted alongside the index
	// so a later run can detect a model change.
	EmbeddingModel string `yaml:"embedding_model" json:"embedding_model"`

	// EngineVersion is the schema version this binary implements.
	EngineVersion int `yaml:"engine_version" json:"engine_version"`

	// LastIndexedVersion is the EngineVersion the on-disk index was built
	// with. LastIndexedVersion < EngineVersion means the engine is in a
	// "needs reindex" state; the engine does not auto-purge on this
	// condition, only exposes it (see Config.NeedsReindex).
	LastIndexedVersion int `yaml:"last_indexed_version" json:"last_indexed_version"`

	// Features gates optional behavior (e.g. "query_expansion", "rerank")
	// without requiring a schema change to add a new toggle.
	Features map[string]bool `yaml:"features" json:"features"`

	DataRoot   string           `yaml:"data_root" json:"data_root"`
	HTTP       HTTPConfig       `yaml:"http" json:"http"`
	Sync       SyncConfig       `yaml:"sync" json:"sync"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Reranker   RerankerConfig   `yaml:"reranker" json:"reranker"`
	Logging    logging.Config   `yaml:"logging" json:"logging"`
}

// HTTPConfig configures the external HTTP surface.
type HTTPConfig struct {
	BindAddress string `yaml:"bind_address" json:"bind_address"`
}

// SyncConfig configures the sync engine's worker pool and default
// schedule interval.
type SyncConfig struct {
	WorkerPoolSize         int `yaml:"worker_pool_size" json:"worker_pool_size"`
	DefaultIntervalMinutes int `yaml:"default_interval_minutes" json:"default_interval_minutes"`
}

// SearchConfig configures chunking and the search pipeline's defaults.
type SearchConfig struct {
	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
	MaxResults   int `yaml:"max_results" json:"max_results"`
	VectorLimit  int `yaml:"vector_limit" json:"vector_limit"`
	RRFConstant  int `yaml:"rrf_constant" json:"rrf_constant"`

	ExpandQueryByDefault bool `yaml:"expand_query_by_default" json:"expand_query_by_default"`
	RerankByDefault      bool `yaml:"rerank_by_default" json:"rerank_by_default"`
}

// EmbeddingsConfig configures the embedding backend.
type EmbeddingsConfig struct {
	Host       string `yaml:"host" json:"host"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
}

// RerankerConfig configures the optional cross-encoder rerank service.
type RerankerConfig struct {
	Enabled         bool   `yaml:"enabled" json:"enabled"`
	Endpoint        string `yaml:"endpoint" json:"endpoint"`
	Model           string `yaml:"model" json:"model"`
	TimeoutSeconds  int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	SkipHealthCheck bool   `yaml:"skip_health_check" json:"skip_health_check"`
}

// NewConfig returns a Config with sensible defaults.
func NewConfig() *Config {
	defaultRoot := defaultDataRoot()
	return &Config{
		EmbeddingModel:     embed.DefaultOllamaModel,
		EngineVersion:      EngineVersion,
		LastIndexedVersion: 0,
		Features:           map[string]bool{},
		DataRoot:           defaultRoot,
		HTTP: HTTPConfig{
			BindAddress: "127.0.0.1:3002",
		},
		Sync: SyncConfig{
			WorkerPoolSize:         2,
			DefaultIntervalMinutes: 30,
		},
		Search: SearchConfig{
			ChunkSize:            2000,
			ChunkOverlap:         200,
			MaxResults:           20,
			VectorLimit:          20,
			RRFConstant:          60,
			ExpandQueryByDefault: true,
			RerankByDefault:      true,
		},
		Embeddings: EmbeddingsConfig{
			Host:       embed.DefaultOllamaHost,
			Model:      embed.DefaultOllamaModel,
			Dimensions: 0,
			BatchSize:  embed.DefaultBatchSize,
		},
		Reranker: RerankerConfig{
			Enabled:        false,
			Endpoint:       "http://localhost:9659",
			Model:          "ms-marco-MiniLM-L-6-v2",
			TimeoutSeconds: 10,
		},
		Logging: logging.DefaultConfig(),
	}
}

func defaultDataRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".docengine")
	}
	return filepath.Join(home, ".docengine")
}

// GetUserConfigDir returns ~/.config/docengine.
func GetUserConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "docengine")
	}
	return filepath.Join(home, ".config", "docengine")
}

// GetUserConfigPath returns ~/.config/docengine/config.yaml.
func GetUserConfigPath() string {
	return filepath.Join(GetUserConfigDir(), "config.yaml")
}

// UserConfigExists reports whether the user-level config file exists.
func UserConfigExists() bool {
	_, err := os.Stat(GetUserConfigPath())
	return err == nil
}

func loadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read user config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse user config %s: %w", path, err)
	}
	return &cfg, nil
}

// Load builds the final Config: defaults, then the user config
// (~/.config/docengine/config.yaml), then a project-local .docengine.yaml
// in dir (if present), then DOCENGINE_* environment overrides, then
// validation.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".docengine.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}
	ymlPath := filepath.Join(dir, ".docengine.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith overlays non-zero fields from other onto c.
func (c *Config) mergeWith(other *Config) {
	if other.EmbeddingModel != "" {
		c.EmbeddingModel = other.EmbeddingModel
	}
	if other.EngineVersion != 0 {
		c.EngineVersion = other.EngineVersion
	}
	if other.LastIndexedVersion != 0 {
		c.LastIndexedVersion = other.LastIndexedVersion
	}
	for k, v := range other.Features {
		c.Features[k] = v
	}
	if other.DataRoot != "" {
		c.DataRoot = other.DataRoot
	}
	if other.HTTP.BindAddress != "" {
		c.HTTP.BindAddress = other.HTTP.BindAddress
	}
	if other.Sync.WorkerPoolSize != 0 {
		c.Sync.WorkerPoolSize = other.Sync.WorkerPoolSize
	}
	if other.Sync.DefaultIntervalMinutes != 0 {
		c.Sync.DefaultIntervalMinutes = other.Sync.DefaultIntervalMinutes
	}
	if other.Search.ChunkSize != 0 {
		c.Search.ChunkSize = other.Search.ChunkSize
	}
	if other.Search.ChunkOverlap != 0 {
		c.Search.ChunkOverlap = other.Search.ChunkOverlap
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.VectorLimit != 0 {
		c.Search.VectorLimit = other.Search.VectorLimit
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Embeddings.Host != "" {
		c.Embeddings.Host = other.Embeddings.Host
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Reranker.Endpoint != "" {
		c.Reranker.Endpoint = other.Reranker.Endpoint
		c.Reranker.Enabled = true
	}
	if other.Reranker.Model != "" {
		c.Reranker.Model = other.Reranker.Model
	}
	if other.Reranker.TimeoutSeconds != 0 {
		c.Reranker.TimeoutSeconds = other.Reranker.TimeoutSeconds
	}
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.FilePath != "" {
		c.Logging.FilePath = other.Logging.FilePath
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DOCENGINE_DATA_ROOT"); v != "" {
		c.DataRoot = v
	}
	if v := os.Getenv("DOCENGINE_HTTP_BIND_ADDRESS"); v != "" {
		c.HTTP.BindAddress = v
	}
	if v := os.Getenv("DOCENGINE_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
		c.EmbeddingModel = v
	}
	if v := os.Getenv("DOCENGINE_OLLAMA_HOST"); v != "" {
		c.Embeddings.Host = v
	}
	if v := os.Getenv("DOCENGINE_RERANKER_ENDPOINT"); v != "" {
		c.Reranker.Endpoint = v
		c.Reranker.Enabled = true
	}
	if v := os.Getenv("DOCENGINE_RERANKER_ENABLED"); v != "" {
		c.Reranker.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("DOCENGINE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DOCENGINE_SYNC_WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Sync.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("DOCENGINE_RRF_CONSTANT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.RRFConstant = n
		}
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.EngineVersion < 1 {
		return fmt.Errorf("engine_version must be >= 1, got %d", c.EngineVersion)
	}
	if c.LastIndexedVersion < 0 {
		return fmt.Errorf("last_indexed_version must be non-negative, got %d", c.LastIndexedVersion)
	}
	if c.EmbeddingModel == "" {
		return fmt.Errorf("embedding_model must not be empty")
	}
	if c.DataRoot == "" {
		return fmt.Errorf("data_root must not be empty")
	}
	if c.Sync.WorkerPoolSize < 1 {
		return fmt.Errorf("sync.worker_pool_size must be >= 1, got %d", c.Sync.WorkerPoolSize)
	}
	if c.Search.ChunkSize <= 0 {
		return fmt.Errorf("search.chunk_size must be positive, got %d", c.Search.ChunkSize)
	}
	if c.Search.MaxResults < 0 {
		return fmt.Errorf("search.max_results must be non-negative, got %d", c.Search.MaxResults)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	return nil
}

// NeedsReindex reports whether the on-disk index predates the engine's
// current schema version and so requires a full rebuild.
func (c *Config) NeedsReindex() bool {
	return c.LastIndexedVersion < c.EngineVersion
}

// ChunkSizeAndOverlap adapts Search into a chunker.Config-shaped pair for callers
// that construct an Indexer.
func (c *Config) ChunkSizeAndOverlap() (int, int) {
	return c.Search.ChunkSize, c.Search.ChunkOverlap
}

// OllamaConfig adapts Embeddings into embed.OllamaConfig.
func (c *Config) OllamaConfig() embed.OllamaConfig {
	return embed.OllamaConfig{
		Host:       c.Embeddings.Host,
		Model:      c.Embeddings.Model,
		Dimensions: c.Embeddings.Dimensions,
		BatchSize:  c.Embeddings.BatchSize,
	}
}

// RerankerHTTPConfig adapts Reranker into reranker.HTTPConfig.
func (c *Config) RerankerHTTPConfig() reranker.HTTPConfig {
	return reranker.HTTPConfig{
		Endpoint:        c.Reranker.Endpoint,
		Model:           c.Reranker.Model,
		Timeout:         time.Duration(c.Reranker.TimeoutSeconds) * time.Second,
		SkipHealthCheck: c.Reranker.SkipHealthCheck,
	}
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadUserConfig loads the user-level config file, if any.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}
