package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for key := range envKeys {
		t.Setenv(key, "")
	}
	t.Setenv("CONFIG_FILE", "")
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setupEnv    func(*testing.T)
		wantErr     bool
		checkConfig func(*testing.T, *Config)
	}{
		{
			name: "defaults with only DOCS_PATH",
			setupEnv: func(t *testing.T) {
				t.Setenv("DOCS_PATH", t.TempDir())
				t.Setenv("STATE_DB_PATH", filepath.Join(t.TempDir(), "state.db"))
			},
			checkConfig: func(t *testing.T, cfg *Config) {
				if cfg.ChunkSize != 1000 || cfg.ChunkOverlap != 200 {
					t.Errorf("chunking = %d/%d, want 1000/200", cfg.ChunkSize, cfg.ChunkOverlap)
				}
				if cfg.OCRMinChars != 10 {
					t.Errorf("OCRMinChars = %d, want 10", cfg.OCRMinChars)
				}
				if cfg.SettleDelay != 500*time.Millisecond {
					t.Errorf("SettleDelay = %v, want 500ms", cfg.SettleDelay)
				}
				if cfg.VectorBackend != BackendQdrant {
					t.Errorf("VectorBackend = %q, want qdrant", cfg.VectorBackend)
				}
				if cfg.LogLevel != slog.LevelInfo {
					t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
				}
				wantCache := filepath.Join(filepath.Dir(cfg.StateDBPath), "cache")
				if cfg.OCRCachePath != wantCache {
					t.Errorf("OCRCachePath = %q, want %q", cfg.OCRCachePath, wantCache)
				}
				if !filepath.IsAbs(cfg.DocsPath) {
					t.Errorf("DocsPath %q is not absolute", cfg.DocsPath)
				}
			},
		},
		{
			name: "env overrides",
			setupEnv: func(t *testing.T) {
				t.Setenv("DOCS_PATH", t.TempDir())
				t.Setenv("STATE_DB_PATH", filepath.Join(t.TempDir(), "state.db"))
				t.Setenv("CHUNK_SIZE", "500")
				t.Setenv("CHUNK_OVERLAP", "50")
				t.Setenv("SETTLE_DELAY", "2s")
				t.Setenv("OCR_ENABLED", "false")
				t.Setenv("EMBEDDING_AUTOLOAD", "true")
				t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000")
				t.Setenv("EXCLUDE_PATTERNS", "**/*.tmp,drafts/**")
				t.Setenv("VECTOR_BACKEND", "chromem")
				t.Setenv("LOG_LEVEL", "debug")
			},
			checkConfig: func(t *testing.T, cfg *Config) {
				if cfg.ChunkSize != 500 || cfg.ChunkOverlap != 50 {
					t.Errorf("chunking = %d/%d, want 500/50", cfg.ChunkSize, cfg.ChunkOverlap)
				}
				if cfg.SettleDelay != 2*time.Second {
					t.Errorf("SettleDelay = %v, want 2s", cfg.SettleDelay)
				}
				if cfg.OCREnabled {
					t.Error("OCREnabled = true, want false")
				}
				if !cfg.EmbeddingAutoload {
					t.Error("EmbeddingAutoload = false, want true")
				}
				if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[0] != "http://localhost:3000" {
					t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
				}
				if len(cfg.ExcludePatterns) != 2 || cfg.ExcludePatterns[1] != "drafts/**" {
					t.Errorf("ExcludePatterns = %v", cfg.ExcludePatterns)
				}
				if cfg.VectorBackend != BackendChromem {
					t.Errorf("VectorBackend = %q, want chromem", cfg.VectorBackend)
				}
				if cfg.LogLevel != slog.LevelDebug {
					t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
				}
			},
		},
		{
			name: "yaml file with env precedence",
			setupEnv: func(t *testing.T) {
				dir := t.TempDir()
				path := filepath.Join(dir, "docsync.yaml")
				content := "docs_path: " + t.TempDir() + "\n" +
					"state_db_path: " + filepath.Join(dir, "state.db") + "\n" +
					"chunk_size: 300\n" +
					"chunk_overlap: 30\n" +
					"qdrant_collection: from-file\n"
				if err := os.WriteFile(path, []byte(content), 0644); err != nil {
					t.Fatal(err)
				}
				t.Setenv("CONFIG_FILE", path)
				t.Setenv("QDRANT_COLLECTION", "from-env")
			},
			checkConfig: func(t *testing.T, cfg *Config) {
				if cfg.ChunkSize != 300 {
					t.Errorf("ChunkSize = %d, want 300", cfg.ChunkSize)
				}
				if cfg.QdrantCollection != "from-env" {
					t.Errorf("QdrantCollection = %q, want from-env", cfg.QdrantCollection)
				}
			},
		},
		{
			name: "second root from EMAILS_PATH",
			setupEnv: func(t *testing.T) {
				t.Setenv("DOCS_PATH", t.TempDir())
				t.Setenv("EMAILS_PATH", t.TempDir())
				t.Setenv("STATE_DB_PATH", filepath.Join(t.TempDir(), "state.db"))
			},
			checkConfig: func(t *testing.T, cfg *Config) {
				if cfg.EmailsPath == "" || !filepath.IsAbs(cfg.EmailsPath) {
					t.Errorf("EmailsPath = %q, want an absolute path", cfg.EmailsPath)
				}
			},
		},
		{
			name: "EMAILS_PATH does not exist",
			setupEnv: func(t *testing.T) {
				t.Setenv("DOCS_PATH", t.TempDir())
				t.Setenv("EMAILS_PATH", filepath.Join(t.TempDir(), "nope"))
				t.Setenv("STATE_DB_PATH", filepath.Join(t.TempDir(), "state.db"))
			},
			wantErr: true,
		},
		{
			name: "missing DOCS_PATH",
			setupEnv: func(t *testing.T) {
				t.Setenv("STATE_DB_PATH", filepath.Join(t.TempDir(), "state.db"))
			},
			wantErr: true,
		},
		{
			name: "DOCS_PATH does not exist",
			setupEnv: func(t *testing.T) {
				t.Setenv("DOCS_PATH", filepath.Join(t.TempDir(), "nope"))
				t.Setenv("STATE_DB_PATH", filepath.Join(t.TempDir(), "state.db"))
			},
			wantErr: true,
		},
		{
			name: "overlap not smaller than size",
			setupEnv: func(t *testing.T) {
				t.Setenv("DOCS_PATH", t.TempDir())
				t.Setenv("STATE_DB_PATH", filepath.Join(t.TempDir(), "state.db"))
				t.Setenv("CHUNK_SIZE", "100")
				t.Setenv("CHUNK_OVERLAP", "100")
			},
			wantErr: true,
		},
		{
			name: "invalid backend",
			setupEnv: func(t *testing.T) {
				t.Setenv("DOCS_PATH", t.TempDir())
				t.Setenv("STATE_DB_PATH", filepath.Join(t.TempDir(), "state.db"))
				t.Setenv("VECTOR_BACKEND", "milvus")
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			setupEnv: func(t *testing.T) {
				t.Setenv("DOCS_PATH", t.TempDir())
				t.Setenv("STATE_DB_PATH", filepath.Join(t.TempDir(), "state.db"))
				t.Setenv("LOG_LEVEL", "chatty")
			},
			wantErr: true,
		},
		{
			name: "missing explicit config file",
			setupEnv: func(t *testing.T) {
				t.Setenv("DOCS_PATH", t.TempDir())
				t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			tt.setupEnv(t)

			cfg, err := Load()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.checkConfig != nil && cfg != nil {
				tt.checkConfig(t, cfg)
			}
		})
	}
}

func TestLoad_ListValues(t *testing.T) {
	tests := []struct {
		name         string
		env          map[string]string
		yaml         string
		wantExcludes []string
		wantOrigins  []string
	}{
		{
			name:         "defaults",
			wantExcludes: nil,
			wantOrigins:  []string{"*"},
		},
		{
			name: "comma separated env values are split",
			env: map[string]string{
				"EXCLUDE_PATTERNS":     "**/*.tmp,drafts/**,~$*",
				"CORS_ALLOWED_ORIGINS": "http://a.test,http://b.test",
			},
			wantExcludes: []string{"**/*.tmp", "drafts/**", "~$*"},
			wantOrigins:  []string{"http://a.test", "http://b.test"},
		},
		{
			name:         "single env value",
			env:          map[string]string{"EXCLUDE_PATTERNS": "drafts/**"},
			wantExcludes: []string{"drafts/**"},
			wantOrigins:  []string{"*"},
		},
		{
			name:         "spaces and empty entries are dropped",
			env:          map[string]string{"EXCLUDE_PATTERNS": " **/*.tmp , drafts/**,, "},
			wantExcludes: []string{"**/*.tmp", "drafts/**"},
			wantOrigins:  []string{"*"},
		},
		{
			name:         "yaml lists stay lists",
			yaml:         "exclude_patterns:\n  - \"**/*.bak\"\n  - \"archive/**\"\ncors_allowed_origins:\n  - http://c.test\n",
			wantExcludes: []string{"**/*.bak", "archive/**"},
			wantOrigins:  []string{"http://c.test"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("DOCS_PATH", t.TempDir())
			t.Setenv("STATE_DB_PATH", filepath.Join(t.TempDir(), "state.db"))
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if tt.yaml != "" {
				path := filepath.Join(t.TempDir(), "docsync.yaml")
				if err := os.WriteFile(path, []byte(tt.yaml), 0644); err != nil {
					t.Fatal(err)
				}
				t.Setenv("CONFIG_FILE", path)
			}

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if !slices.Equal(cfg.ExcludePatterns, tt.wantExcludes) {
				t.Errorf("ExcludePatterns = %q, want %q", cfg.ExcludePatterns, tt.wantExcludes)
			}
			if !slices.Equal(cfg.CORSOrigins, tt.wantOrigins) {
				t.Errorf("CORSOrigins = %q, want %q", cfg.CORSOrigins, tt.wantOrigins)
			}
		})
	}
}

func TestEnvKey(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "10")
	t.Setenv("CHUNK_OVERLAP", "")
	t.Setenv("UNRELATED_VAR", "x")

	if got := envKey("CHUNK_SIZE"); got != "chunk_size" {
		t.Errorf("envKey(CHUNK_SIZE) = %q", got)
	}
	if got := envKey("CHUNK_OVERLAP"); got != "" {
		t.Errorf("empty variable should be skipped, got %q", got)
	}
	if got := envKey("UNRELATED_VAR"); got != "" {
		t.Errorf("unknown variable should be skipped, got %q", got)
	}
}
