package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Vector store backends.
const (
	BackendQdrant  = "qdrant"
	BackendChromem = "chromem"
)

// DefaultConfigFile is read when CONFIG_FILE is not set and the file exists.
const DefaultConfigFile = "docsync.yaml"

// Config holds all configuration for the application.
type Config struct {
	DocsPath     string `koanf:"docs_path"`
	EmailsPath   string `koanf:"emails_path"`
	StateDBPath  string `koanf:"state_db_path"`
	OCRCachePath string `koanf:"ocr_cache_path"`

	VectorBackend    string `koanf:"vector_backend"`
	QdrantURL        string `koanf:"qdrant_url"`
	QdrantAPIKey     string `koanf:"qdrant_api_key"`
	QdrantCollection string `koanf:"qdrant_collection"`
	ChromemPath      string `koanf:"chromem_path"`

	EmbeddingBaseURL   string  `koanf:"embedding_base_url"`
	EmbeddingModelName string  `koanf:"embedding_model_name"`
	EmbeddingAPIKey    string  `koanf:"embedding_api_key"`
	EmbeddingDimension int     `koanf:"embedding_dimension"` // 0 = ask the model at startup
	EmbeddingBatchSize int     `koanf:"embedding_batch_size"`
	EmbeddingRPS       float64 `koanf:"embedding_rps"` // 0 = unlimited
	EmbeddingCacheSize int     `koanf:"embedding_cache_size"`
	EmbeddingAutoload  bool    `koanf:"embedding_autoload"` // ask a llama.cpp router to load the model

	ChunkSize     int    `koanf:"chunk_size"`
	ChunkOverlap  int    `koanf:"chunk_overlap"`
	ChunkLanguage string `koanf:"chunk_language"`

	OCREnabled  bool   `koanf:"ocr_enabled"`
	OCRLang     string `koanf:"ocr_lang"`
	OCRMinChars int    `koanf:"ocr_min_chars"`
	OCRDPI      int    `koanf:"ocr_dpi"`

	MarkdownPlainText bool     `koanf:"markdown_plain_text"`
	ExcludePatterns   []string `koanf:"exclude_patterns"`

	ScanWorkers int           `koanf:"scan_workers"`
	SettleDelay time.Duration `koanf:"settle_delay"`
	Watch       bool          `koanf:"watch"`
	HTTPAddr    string        `koanf:"http_addr"`
	CORSOrigins []string      `koanf:"cors_allowed_origins"`

	LogLevelName string     `koanf:"log_level"`
	LogFormat    string     `koanf:"log_format"`
	LogLevel     slog.Level `koanf:"-"`
}

// envKeys lists the environment variables read into Config.
var envKeys = map[string]struct{}{
	"DOCS_PATH": {}, "EMAILS_PATH": {}, "STATE_DB_PATH": {}, "OCR_CACHE_PATH": {},
	"VECTOR_BACKEND": {}, "QDRANT_URL": {}, "QDRANT_API_KEY": {}, "QDRANT_COLLECTION": {}, "CHROMEM_PATH": {},
	"EMBEDDING_BASE_URL": {}, "EMBEDDING_MODEL_NAME": {}, "EMBEDDING_API_KEY": {}, "EMBEDDING_DIMENSION": {},
	"EMBEDDING_BATCH_SIZE": {}, "EMBEDDING_RPS": {}, "EMBEDDING_CACHE_SIZE": {}, "EMBEDDING_AUTOLOAD": {},
	"CHUNK_SIZE": {}, "CHUNK_OVERLAP": {}, "CHUNK_LANGUAGE": {},
	"OCR_ENABLED": {}, "OCR_LANG": {}, "OCR_MIN_CHARS": {}, "OCR_DPI": {},
	"MARKDOWN_PLAIN_TEXT": {}, "EXCLUDE_PATTERNS": {},
	"SCAN_WORKERS": {}, "SETTLE_DELAY": {}, "WATCH": {}, "HTTP_ADDR": {}, "CORS_ALLOWED_ORIGINS": {},
	"LOG_LEVEL": {}, "LOG_FORMAT": {},
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		StateDBPath:        "./data/state.db",
		VectorBackend:      BackendQdrant,
		QdrantURL:          "http://localhost:6333",
		QdrantCollection:   "documents",
		ChromemPath:        "./data/chromem",
		EmbeddingBaseURL:   "http://localhost:8081",
		EmbeddingModelName: "granite-embedding-278m-multilingual",
		EmbeddingAPIKey:    "dummy-key",
		EmbeddingBatchSize: 32,
		EmbeddingCacheSize: 4096,
		ChunkSize:          1000,
		ChunkOverlap:       200,
		ChunkLanguage:      "english",
		OCREnabled:         true,
		OCRLang:            "eng",
		OCRMinChars:        10,
		OCRDPI:             300,
		ScanWorkers:        1,
		SettleDelay:        500 * time.Millisecond,
		Watch:              true,
		CORSOrigins:        []string{"*"},
		LogLevelName:       "info",
		LogFormat:          "text",
	}
}

// Load reads configuration and returns a Config struct.
// Sources, lowest precedence first: defaults, YAML file (CONFIG_FILE or ./docsync.yaml),
// environment variables. If a .env file exists in the current directory or a parent,
// it is loaded into the environment first; variables already set take precedence.
func Load() (*Config, error) {
	loadDotEnv()

	k := koanf.New(".")
	cfg := Default()

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = DefaultConfigFile
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	} else if os.Getenv("CONFIG_FILE") != "" {
		return nil, fmt.Errorf("config file %s does not exist", path)
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.UnmarshalWithConf("", cfg, unmarshalConf(cfg)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// unmarshalConf decodes durations from strings and splits comma-separated
// environment values (EXCLUDE_PATTERNS, CORS_ALLOWED_ORIGINS) into lists.
func unmarshalConf(cfg *Config) koanf.UnmarshalConf {
	return koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result:           cfg,
			WeaklyTypedInput: true,
			TagName:          "koanf",
		},
	}
}

// envKey maps a known, non-empty environment variable to its config key.
// Unknown or empty variables are skipped.
func envKey(name string) string {
	if _, ok := envKeys[name]; !ok {
		return ""
	}
	if os.Getenv(name) == "" {
		return ""
	}
	return strings.ToLower(name)
}

// loadDotEnv loads .env from the working directory or the closest parent that has one.
func loadDotEnv() {
	wd, err := os.Getwd()
	if err != nil {
		return
	}
	dir := wd
	for i := 0; i < 5; i++ { // Limit search depth
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

// finalize derives dependent values, validates, and creates the data directory.
func (c *Config) finalize() error {
	if err := c.LogLevel.UnmarshalText([]byte(c.LogLevelName)); err != nil {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error: %w", err)
	}
	if c.OCRCachePath == "" {
		c.OCRCachePath = filepath.Join(filepath.Dir(c.StateDBPath), "cache")
	}
	c.ExcludePatterns = cleanList(c.ExcludePatterns)
	c.CORSOrigins = cleanList(c.CORSOrigins)

	if err := c.Validate(); err != nil {
		return err
	}

	abs, err := filepath.Abs(c.DocsPath)
	if err != nil {
		return fmt.Errorf("DOCS_PATH: %w", err)
	}
	c.DocsPath = abs
	if c.EmailsPath != "" {
		if c.EmailsPath, err = filepath.Abs(c.EmailsPath); err != nil {
			return fmt.Errorf("EMAILS_PATH: %w", err)
		}
	}

	dataDir := filepath.Dir(c.StateDBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

// Validate checks that the configuration contains usable values.
func (c *Config) Validate() error {
	if c.DocsPath == "" {
		return fmt.Errorf("DOCS_PATH is required")
	}
	info, err := os.Stat(c.DocsPath)
	if err != nil {
		return fmt.Errorf("DOCS_PATH: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("DOCS_PATH %s is not a directory", c.DocsPath)
	}
	if c.EmailsPath != "" {
		info, err := os.Stat(c.EmailsPath)
		if err != nil {
			return fmt.Errorf("EMAILS_PATH: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("EMAILS_PATH %s is not a directory", c.EmailsPath)
		}
	}

	switch c.VectorBackend {
	case BackendQdrant:
		if c.QdrantURL == "" {
			return fmt.Errorf("QDRANT_URL is required for the qdrant backend")
		}
	case BackendChromem:
		if c.ChromemPath == "" {
			return fmt.Errorf("CHROMEM_PATH is required for the chromem backend")
		}
	default:
		return fmt.Errorf("invalid VECTOR_BACKEND %q: must be qdrant or chromem", c.VectorBackend)
	}
	if c.QdrantCollection == "" {
		return fmt.Errorf("QDRANT_COLLECTION is required")
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be greater than 0")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE)")
	}
	if c.EmbeddingBatchSize <= 0 {
		return fmt.Errorf("EMBEDDING_BATCH_SIZE must be greater than 0")
	}
	if c.EmbeddingDimension < 0 {
		return fmt.Errorf("EMBEDDING_DIMENSION must not be negative")
	}
	if c.EmbeddingRPS < 0 {
		return fmt.Errorf("EMBEDDING_RPS must not be negative")
	}
	if c.ScanWorkers <= 0 {
		return fmt.Errorf("SCAN_WORKERS must be greater than 0")
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("SETTLE_DELAY must not be negative")
	}
	if c.OCRDPI <= 0 {
		return fmt.Errorf("OCR_DPI must be greater than 0")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json")
	}
	return nil
}

// cleanList trims list entries and drops empty ones, so "a, b," reads as [a b].
func cleanList(in []string) []string {
	out := in[:0]
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
