package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectConfigName is the per-project config file looked up by Load.
const ProjectConfigName = "assistchat.yaml"

// Config represents the complete AssistChat configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Indexing   IndexingConfig   `yaml:"indexing" json:"indexing"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Reranker   RerankerConfig   `yaml:"reranker" json:"reranker"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// PathsConfig locates the data the commands read and write.
type PathsConfig struct {
	// IndexDir holds the snapshot triple and its manifest.
	IndexDir string `yaml:"index_dir" json:"index_dir"`
	// ChunksFile is the JSONL written by `chunk` and read by `build`.
	ChunksFile string `yaml:"chunks_file" json:"chunks_file"`
	// TelemetryDB records queries and feedback. Empty disables telemetry.
	TelemetryDB string `yaml:"telemetry_db" json:"telemetry_db"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Normalize  bool   `yaml:"normalize" json:"normalize"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`

	// Ollama settings (default provider)
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`

	// OpenAI-compatible settings
	OpenAIBaseURL     string  `yaml:"openai_base_url" json:"openai_base_url"`
	APIKeyEnv         string  `yaml:"api_key_env" json:"api_key_env"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`

	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// Workers is the number of concurrent embedding batches during build.
	Workers   int `yaml:"workers" json:"workers"`
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// IndexingConfig selects the index backends written by `build`.
type IndexingConfig struct {
	IndexType      string `yaml:"index_type" json:"index_type"`
	LexicalBackend string `yaml:"lexical_backend" json:"lexical_backend"`
	HNSWM          int    `yaml:"hnsw_m" json:"hnsw_m"`
	HNSWEfSearch   int    `yaml:"hnsw_ef_search" json:"hnsw_ef_search"`
}

// RetrievalConfig configures hybrid retrieval.
type RetrievalConfig struct {
	DenseTopK  int `yaml:"dense_top_k" json:"dense_top_k"`
	SparseTopK int `yaml:"sparse_top_k" json:"sparse_top_k"`
	FinalTopK  int `yaml:"final_top_k" json:"final_top_k"`
	// RRFK is the Reciprocal Rank Fusion smoothing constant.
	RRFK int `yaml:"rrf_k" json:"rrf_k"`
}

// RerankerConfig configures the pairwise scorer.
type RerankerConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	Model      string        `yaml:"model" json:"model"`
	Endpoint   string        `yaml:"endpoint" json:"endpoint"`
	BatchSize  int           `yaml:"batch_size" json:"batch_size"`
	Candidates int           `yaml:"candidates" json:"candidates"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// ChunkingConfig configures the sentence chunker. Sizes are in characters.
type ChunkingConfig struct {
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	Overlap   int `yaml:"overlap" json:"overlap"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host         string        `yaml:"host" json:"host"`
	Port         int           `yaml:"port" json:"port"`
	CORSOrigins  []string      `yaml:"cors_origins" json:"cors_origins"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// LoggingConfig configures the log file.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	Dir       string `yaml:"dir" json:"dir"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			IndexDir:    filepath.Join("data", "indices"),
			ChunksFile:  filepath.Join("data", "chunks.jsonl"),
			TelemetryDB: filepath.Join("data", "telemetry.db"),
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Model:      "sentence-transformers/paraphrase-multilingual-mpnet-base-v2",
			Normalize:  true,
			Dimensions: 768,
			APIKeyEnv:  "OPENAI_API_KEY",
			BatchSize:  32,
			Workers:    min(runtime.NumCPU(), 4),
			CacheSize:  1000,
		},
		Indexing: IndexingConfig{
			IndexType:      "Flat",
			LexicalBackend: "sqlite",
			HNSWM:          16,
			HNSWEfSearch:   64,
		},
		Retrieval: RetrievalConfig{
			DenseTopK:  10,
			SparseTopK: 10,
			FinalTopK:  5,
			RRFK:       60,
		},
		Reranker: RerankerConfig{
			Enabled:    true,
			Model:      "cross-encoder/mmarco-mMiniLMv2-L12-H384-v1",
			Endpoint:   "http://localhost:9659",
			BatchSize:  32,
			Candidates: 10,
			Timeout:    5 * time.Second,
		},
		Chunking: ChunkingConfig{
			ChunkSize: 500,
			Overlap:   50,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8001,
			CORSOrigins:  []string{"http://localhost:3000"},
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/assistchat/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/assistchat/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "assistchat", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "assistchat", "config.yaml")
	}
	return filepath.Join(home, ".config", "assistchat", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load loads configuration for the project in dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/assistchat/config.yaml)
//  3. Project config (assistchat.yaml in dir)
//  4. Environment variables (ASSISTCHAT_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if err := cfg.loadFromDir(dir); err != nil {
		return nil, err
	}

	return cfg.finish()
}

// LoadFile loads defaults, then path, then environment overrides. It is
// used when --config names a file explicitly; the user config is skipped.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	return cfg.finish()
}

func (c *Config) finish() (*Config, error) {
	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// loadFromDir loads assistchat.yaml or assistchat.yml from dir if present.
func (c *Config) loadFromDir(dir string) error {
	yamlPath := filepath.Join(dir, ProjectConfigName)
	if fileExists(yamlPath) {
		return c.loadYAML(yamlPath)
	}
	ymlPath := filepath.Join(dir, strings.TrimSuffix(ProjectConfigName, ".yaml")+".yml")
	if fileExists(ymlPath) {
		return c.loadYAML(ymlPath)
	}
	return nil
}

// loadYAML decodes path on top of the current values. Keys absent from the
// file keep their current value, so an explicit `enabled: false` is honored
// and an omitted one is not.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies ASSISTCHAT_* environment variable overrides.
// Unparseable values are ignored.
func (c *Config) applyEnvOverrides() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}

	setString("ASSISTCHAT_INDEX_DIR", &c.Paths.IndexDir)
	setString("ASSISTCHAT_CHUNKS_FILE", &c.Paths.ChunksFile)
	setString("ASSISTCHAT_TELEMETRY_DB", &c.Paths.TelemetryDB)

	setString("ASSISTCHAT_EMBEDDINGS_PROVIDER", &c.Embeddings.Provider)
	// ASSISTCHAT_EMBEDDER is an alias for ASSISTCHAT_EMBEDDINGS_PROVIDER
	setString("ASSISTCHAT_EMBEDDER", &c.Embeddings.Provider)
	setString("ASSISTCHAT_EMBEDDINGS_MODEL", &c.Embeddings.Model)
	setString("ASSISTCHAT_OLLAMA_HOST", &c.Embeddings.OllamaHost)
	setString("ASSISTCHAT_OPENAI_BASE_URL", &c.Embeddings.OpenAIBaseURL)
	setInt("ASSISTCHAT_EMBED_WORKERS", &c.Embeddings.Workers)

	setString("ASSISTCHAT_INDEX_TYPE", &c.Indexing.IndexType)
	setString("ASSISTCHAT_LEXICAL_BACKEND", &c.Indexing.LexicalBackend)

	setInt("ASSISTCHAT_DENSE_TOP_K", &c.Retrieval.DenseTopK)
	setInt("ASSISTCHAT_SPARSE_TOP_K", &c.Retrieval.SparseTopK)
	setInt("ASSISTCHAT_FINAL_TOP_K", &c.Retrieval.FinalTopK)
	setInt("ASSISTCHAT_RRF_K", &c.Retrieval.RRFK)

	setBool("ASSISTCHAT_RERANKER_ENABLED", &c.Reranker.Enabled)
	setString("ASSISTCHAT_RERANKER_MODEL", &c.Reranker.Model)
	setString("ASSISTCHAT_RERANKER_ENDPOINT", &c.Reranker.Endpoint)
	if v := os.Getenv("ASSISTCHAT_RERANKER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Reranker.Timeout = d
		}
	}

	setString("ASSISTCHAT_HOST", &c.Server.Host)
	setInt("ASSISTCHAT_PORT", &c.Server.Port)
	if v := os.Getenv("ASSISTCHAT_CORS_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.Server.CORSOrigins = origins
	}

	setString("ASSISTCHAT_LOG_LEVEL", &c.Logging.Level)
	setString("ASSISTCHAT_LOG_DIR", &c.Logging.Dir)
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	validProviders := map[string]bool{"ollama": true, "openai": true, "static": true}
	if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
		return fmt.Errorf("embeddings.provider must be 'ollama', 'openai', or 'static', got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions < 0 {
		return fmt.Errorf("embeddings.dimensions must be non-negative, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}
	if c.Embeddings.RequestsPerSecond < 0 {
		return fmt.Errorf("embeddings.requests_per_second must be non-negative, got %g", c.Embeddings.RequestsPerSecond)
	}

	validIndexTypes := map[string]bool{"flat": true, "hnsw": true}
	if !validIndexTypes[strings.ToLower(c.Indexing.IndexType)] {
		return fmt.Errorf("indexing.index_type must be 'Flat' or 'HNSW', got %q", c.Indexing.IndexType)
	}
	validBackends := map[string]bool{"memory": true, "bleve": true, "sqlite": true}
	if !validBackends[strings.ToLower(c.Indexing.LexicalBackend)] {
		return fmt.Errorf("indexing.lexical_backend must be 'memory', 'bleve', or 'sqlite', got %q", c.Indexing.LexicalBackend)
	}

	for name, v := range map[string]int{
		"retrieval.dense_top_k":  c.Retrieval.DenseTopK,
		"retrieval.sparse_top_k": c.Retrieval.SparseTopK,
		"retrieval.final_top_k":  c.Retrieval.FinalTopK,
		"retrieval.rrf_k":        c.Retrieval.RRFK,
		"reranker.batch_size":    c.Reranker.BatchSize,
		"reranker.candidates":    c.Reranker.Candidates,
		"chunking.chunk_size":    c.Chunking.ChunkSize,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}

	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.overlap must be in [0, chunk_size), got %d", c.Chunking.Overlap)
	}
	if c.Reranker.Timeout < 0 {
		return fmt.Errorf("reranker.timeout must be non-negative, got %s", c.Reranker.Timeout)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %q", c.Logging.Level)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
