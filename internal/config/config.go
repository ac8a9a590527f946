package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config file names, in lookup order within a directory.
const (
	ProjectYAMLName = ".nexus.yaml"
	ProjectYMLName  = ".nexus.yml"
	TOMLName        = "nexus.config.toml"
	UserYAMLName    = "config.yaml"
)

// Config represents the complete nexus configuration.
type Config struct {
	Index      IndexConfig      `yaml:"index" toml:"index" json:"index"`
	Search     SearchConfig     `yaml:"search" toml:"search" json:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" toml:"embeddings" json:"embeddings"`
	Watch      WatchConfig      `yaml:"watch" toml:"watch" json:"watch"`
	Storage    StorageConfig    `yaml:"storage" toml:"storage" json:"storage"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging" json:"logging"`
}

// IndexConfig controls discovery, skip policy and the indexing pipeline.
type IndexConfig struct {
	// SkipExtensions are file extensions (without dot) never indexed.
	SkipExtensions []string `yaml:"skip_extensions" toml:"skip_extensions" json:"skip_extensions"`
	// SkipFiles are path components or name substrings never indexed (e.g., node_modules).
	SkipFiles []string `yaml:"skip_files" toml:"skip_files" json:"skip_files"`
	// SkipHidden skips dot-files and dot-directories.
	SkipHidden bool `yaml:"skip_hidden" toml:"skip_hidden" json:"skip_hidden"`
	// SkipImages disables OCR of standalone images.
	SkipImages bool `yaml:"skip_images" toml:"skip_images" json:"skip_images"`
	// RespectGitignore applies .gitignore rules during discovery.
	RespectGitignore bool `yaml:"respect_gitignore" toml:"respect_gitignore" json:"respect_gitignore"`
	// MaxFileMB is the size limit above which files are skipped.
	MaxFileMB int `yaml:"max_file_mb" toml:"max_file_mb" json:"max_file_mb"`
	// MaxChunks is the per-document chunk ceiling.
	MaxChunks int `yaml:"max_chunks" toml:"max_chunks" json:"max_chunks"`
	// ChunkSize is the target chunk length in characters.
	ChunkSize int `yaml:"chunk_size" toml:"chunk_size" json:"chunk_size"`
	// ChunkOverlap is the sliding-window overlap in characters.
	ChunkOverlap int `yaml:"chunk_overlap" toml:"chunk_overlap" json:"chunk_overlap"`
	// Workers is the extraction/chunking parallelism (0 = NumCPU).
	Workers int `yaml:"workers" toml:"workers" json:"workers"`
	// BatchSize is the embedding batch size before backpressure adjustments.
	BatchSize int `yaml:"batch_size" toml:"batch_size" json:"batch_size"`
	// MaxMemoryMB is the resident memory ceiling (0 = 75% of system memory).
	MaxMemoryMB int `yaml:"max_memory_mb" toml:"max_memory_mb" json:"max_memory_mb"`
}

// SearchConfig configures query defaults and fusion.
type SearchConfig struct {
	// DefaultMode is semantic, lexical or hybrid.
	DefaultMode string `yaml:"default_mode" toml:"default_mode" json:"default_mode"`
	// ResultsCount is the default result limit.
	ResultsCount int `yaml:"results_count" toml:"results_count" json:"results_count"`
	// RRFConstant is the k in 1/(k+rank).
	RRFConstant int `yaml:"rrf_constant" toml:"rrf_constant" json:"rrf_constant"`
	// CandidateMultiplier sizes each hybrid candidate pool as limit*multiplier (2-4).
	CandidateMultiplier int `yaml:"candidate_multiplier" toml:"candidate_multiplier" json:"candidate_multiplier"`
	// RecordQueries keeps local query statistics in the store (nexus stats).
	RecordQueries bool `yaml:"record_queries" toml:"record_queries" json:"record_queries"`
}

// EmbeddingsConfig selects and tunes the embedding backend.
type EmbeddingsConfig struct {
	// Provider is "static", "ollama" or empty for auto-detection.
	Provider string `yaml:"provider" toml:"provider" json:"provider"`
	// Model is the Ollama model name.
	Model string `yaml:"model" toml:"model" json:"model"`
	// OllamaHost is the Ollama base URL.
	OllamaHost string `yaml:"ollama_host" toml:"ollama_host" json:"ollama_host"`
	// Timeout is the per-request timeout (duration string).
	Timeout string `yaml:"timeout" toml:"timeout" json:"timeout"`
	// MaxRetries bounds retries of a failed batch.
	MaxRetries int `yaml:"max_retries" toml:"max_retries" json:"max_retries"`
	// CacheSize is the query embedding LRU size.
	CacheSize int `yaml:"cache_size" toml:"cache_size" json:"cache_size"`
	// GPU enables GPU offload when the backend supports it.
	GPU bool `yaml:"gpu" toml:"gpu" json:"gpu"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	// Debounce is the coalescing window (duration string).
	Debounce string `yaml:"debounce" toml:"debounce" json:"debounce"`
	// IgnorePatterns are glob patterns ignored by the watcher.
	IgnorePatterns []string `yaml:"ignore_patterns" toml:"ignore_patterns" json:"ignore_patterns"`
}

// StorageConfig locates the store root and picks the lexical engine.
type StorageConfig struct {
	// Path is the store root directory.
	Path string `yaml:"path" toml:"path" json:"path"`
	// LexicalBackend is "sqlite" or "bleve". It applies to new stores.
	LexicalBackend string `yaml:"lexical_backend" toml:"lexical_backend" json:"lexical_backend"`
}

// LoggingConfig configures file logging.
type LoggingConfig struct {
	Level     string `yaml:"level" toml:"level" json:"level"`
	FilePath  string `yaml:"file_path" toml:"file_path" json:"file_path"`
	MaxSizeMB int    `yaml:"max_size_mb" toml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" toml:"max_files" json:"max_files"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Index: IndexConfig{
			SkipExtensions:   []string{"exe", "dll", "so", "o", "pyc", "class", "dylib", "a", "bin"},
			SkipFiles:        []string{"node_modules", ".git", "target", "__pycache__"},
			SkipHidden:       true,
			SkipImages:       false,
			RespectGitignore: false,
			MaxFileMB:        50,
			MaxChunks:        500,
			ChunkSize:        1500,
			ChunkOverlap:     150,
			Workers:          runtime.NumCPU(),
			BatchSize:        32,
			MaxMemoryMB:      0,
		},
		Search: SearchConfig{
			DefaultMode:         "hybrid",
			ResultsCount:        5,
			RRFConstant:         60,
			CandidateMultiplier: 3,
			RecordQueries:       true,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "",
			Model:      "nomic-embed-text",
			OllamaHost: "http://localhost:11434",
			Timeout:    "60s",
			MaxRetries: 3,
			CacheSize:  1000,
			GPU:        false,
		},
		Watch: WatchConfig{
			Debounce:       "2s",
			IgnorePatterns: []string{"*.tmp", "*.swp", "*~", ".#*", "*.lock"},
		},
		Storage: StorageConfig{
			Path:           DefaultStorePath(),
			LexicalBackend: "sqlite",
		},
		Logging: LoggingConfig{
			Level:     "info",
			FilePath:  "",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// DefaultStorePath returns $XDG_DATA_HOME/nexus or ~/.local/share/nexus.
func DefaultStorePath() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "nexus")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "nexus")
	}
	return filepath.Join(home, ".local", "share", "nexus")
}

// GetUserConfigDir returns $XDG_CONFIG_HOME/nexus or ~/.config/nexus.
func GetUserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "nexus")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "nexus")
	}
	return filepath.Join(home, ".config", "nexus")
}

// GetUserConfigPath returns the default user config file path.
func GetUserConfigPath() string {
	return filepath.Join(GetUserConfigDir(), UserYAMLName)
}

// Load loads configuration for the given working directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/nexus/config.yaml or nexus.config.toml)
//  3. Project config (.nexus.yaml, .nexus.yml or nexus.config.toml in dir)
//  4. Environment variables (NEXUS_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	userDir := GetUserConfigDir()
	if _, err := cfg.loadFirst(
		filepath.Join(userDir, UserYAMLName),
		filepath.Join(userDir, TOMLName),
	); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}

	if dir != "" {
		if _, err := cfg.loadFirst(
			filepath.Join(dir, ProjectYAMLName),
			filepath.Join(dir, ProjectYMLName),
			filepath.Join(dir, TOMLName),
		); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SourcePath returns the config file Load would read from dir, or the user
// config path when no project file is present. Empty if none exists.
func SourcePath(dir string) string {
	for _, p := range []string{
		filepath.Join(dir, ProjectYAMLName),
		filepath.Join(dir, ProjectYMLName),
		filepath.Join(dir, TOMLName),
		filepath.Join(GetUserConfigDir(), UserYAMLName),
		filepath.Join(GetUserConfigDir(), TOMLName),
	} {
		if fileExists(p) {
			return p
		}
	}
	return ""
}

// loadFirst decodes the first existing file among paths over c.
// Returns the path loaded, or "" when none exists.
func (c *Config) loadFirst(paths ...string) (string, error) {
	for _, p := range paths {
		if !fileExists(p) {
			continue
		}
		if err := c.LoadFile(p); err != nil {
			return "", err
		}
		return p, nil
	}
	return "", nil
}

// LoadFile decodes a YAML or TOML file over the current values.
// Keys absent from the file keep their current value.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		return nil
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("NEXUS_STORE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("NEXUS_LEXICAL_BACKEND"); v != "" {
		c.Storage.LexicalBackend = v
	}
	if v := os.Getenv("NEXUS_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("NEXUS_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("NEXUS_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("NEXUS_GPU"); v != "" {
		c.Embeddings.GPU = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("NEXUS_SEARCH_MODE"); v != "" {
		c.Search.DefaultMode = v
	}
	if v := os.Getenv("NEXUS_RECORD_QUERIES"); v != "" {
		c.Search.RecordQueries = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("NEXUS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("NEXUS_MAX_FILE_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Index.MaxFileMB = n
		}
	}
	if v := os.Getenv("NEXUS_MAX_MEMORY_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Index.MaxMemoryMB = n
		}
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Index.MaxFileMB <= 0 {
		return fmt.Errorf("index.max_file_mb must be positive, got %d", c.Index.MaxFileMB)
	}
	if c.Index.MaxChunks <= 0 {
		return fmt.Errorf("index.max_chunks must be positive, got %d", c.Index.MaxChunks)
	}
	if c.Index.ChunkSize <= 0 {
		return fmt.Errorf("index.chunk_size must be positive, got %d", c.Index.ChunkSize)
	}
	if c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize {
		return fmt.Errorf("index.chunk_overlap must be in [0, chunk_size), got %d", c.Index.ChunkOverlap)
	}
	if c.Index.BatchSize <= 0 {
		return fmt.Errorf("index.batch_size must be positive, got %d", c.Index.BatchSize)
	}
	if c.Index.MaxMemoryMB < 0 {
		return fmt.Errorf("index.max_memory_mb must be non-negative, got %d", c.Index.MaxMemoryMB)
	}
	if c.Index.Workers < 0 {
		return fmt.Errorf("index.workers must be non-negative, got %d", c.Index.Workers)
	}

	switch strings.ToLower(c.Search.DefaultMode) {
	case "semantic", "vector", "lexical", "keyword", "hybrid":
	default:
		return fmt.Errorf("search.default_mode must be 'semantic', 'lexical' or 'hybrid', got %s", c.Search.DefaultMode)
	}
	if c.Search.ResultsCount <= 0 {
		return fmt.Errorf("search.results_count must be positive, got %d", c.Search.ResultsCount)
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.CandidateMultiplier < 2 || c.Search.CandidateMultiplier > 4 {
		return fmt.Errorf("search.candidate_multiplier must be between 2 and 4, got %d", c.Search.CandidateMultiplier)
	}

	if c.Embeddings.Provider != "" {
		switch strings.ToLower(c.Embeddings.Provider) {
		case "static", "ollama":
		default:
			return fmt.Errorf("embeddings.provider must be 'static', 'ollama', or empty (auto-detect), got %s", c.Embeddings.Provider)
		}
	}
	if _, err := time.ParseDuration(c.Embeddings.Timeout); err != nil {
		return fmt.Errorf("embeddings.timeout: %w", err)
	}
	if c.Embeddings.MaxRetries < 0 {
		return fmt.Errorf("embeddings.max_retries must be non-negative, got %d", c.Embeddings.MaxRetries)
	}

	if _, err := time.ParseDuration(c.Watch.Debounce); err != nil {
		return fmt.Errorf("watch.debounce: %w", err)
	}

	switch strings.ToLower(c.Storage.LexicalBackend) {
	case "bleve", "sqlite":
	default:
		return fmt.Errorf("storage.lexical_backend must be 'bleve' or 'sqlite', got %s", c.Storage.LexicalBackend)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path must not be empty")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// EmbedTimeout returns the parsed embedding timeout.
func (c *Config) EmbedTimeout() time.Duration {
	d, err := time.ParseDuration(c.Embeddings.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// DebounceWindow returns the parsed watch debounce window.
func (c *Config) DebounceWindow() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// Write encodes the configuration as YAML or TOML based on the extension.
func (c *Config) Write(path string) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		data, err = toml.Marshal(c)
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
