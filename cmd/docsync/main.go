// Command docsync keeps a vector index in sync with a folder of documents.
// It is configured through environment variables, an optional .env file and
// an optional YAML file (CONFIG_FILE or ./docsync.yaml).
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"docsync/internal/config"
	"docsync/internal/extract"
	"docsync/internal/handlers"
	"docsync/internal/http"
	"docsync/internal/indexer"
	"docsync/internal/llm"
	"docsync/internal/ocrcache"
	"docsync/internal/storage"
	"docsync/internal/vault"
	"docsync/internal/vectorstore"
	"docsync/internal/watcher"
)

func main() {
	// Load configuration first (needed for log level)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.Debug("Logging configured", "level", cfg.LogLevel.String(), "format", cfg.LogFormat)

	if err := run(cfg); err != nil {
		slog.Error("docsync stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// One engine per state database.
	lock := flock.New(cfg.StateDBPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("another docsync instance holds %s", lock.Path())
	}
	defer func() {
		_ = lock.Unlock()
	}()

	db, err := storage.New(cfg.StateDBPath)
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()
	if err := storage.Migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	state := storage.NewStateRepo(db)
	slog.Info("State store initialized", "path", cfg.StateDBPath)

	cache := ocrcache.New(cfg.OCRCachePath)

	var ocr extract.OCR
	if cfg.OCREnabled {
		if err := extract.CheckTools(); err != nil {
			slog.Warn("OCR disabled", "error", err)
		} else {
			ocr = extract.NewTesseractOCR(cfg.OCRLang, cfg.OCRDPI)
			slog.Info("OCR enabled", "lang", cfg.OCRLang, "dpi", cfg.OCRDPI, "cache", cfg.OCRCachePath)
		}
	}

	registry := extract.NewDefaultRegistry(extract.Options{
		Root:              cfg.DocsPath,
		OCR:               ocr,
		Cache:             cache,
		OCRMinChars:       cfg.OCRMinChars,
		MarkdownPlainText: cfg.MarkdownPlainText,
	})

	docsManager, err := vault.NewManager(cfg.DocsPath, registry, cfg.ExcludePatterns)
	if err != nil {
		return fmt.Errorf("initializing document root: %w", err)
	}
	roots := []vault.Root{{Name: "docs", Manager: docsManager}}
	if cfg.EmailsPath != "" {
		emailsManager, err := vault.NewManager(cfg.EmailsPath, registry, cfg.ExcludePatterns)
		if err != nil {
			return fmt.Errorf("initializing emails root: %w", err)
		}
		roots = append(roots, vault.Root{Name: "emails", Manager: emailsManager})
	}
	vaults, err := vault.NewSet(roots...)
	if err != nil {
		return fmt.Errorf("initializing roots: %w", err)
	}
	slog.Info("Watching document roots", "paths", vaults.Roots(), "extensions", registry.Extensions())

	if cfg.EmbeddingAutoload {
		slog.Info("Loading embedding model", "model", cfg.EmbeddingModelName)
		if err := llm.NewModelLoader(cfg.EmbeddingBaseURL).EnsureLoaded(ctx, cfg.EmbeddingModelName); err != nil {
			return fmt.Errorf("loading embedding model: %w", err)
		}
	}

	client := llm.NewEmbeddingsClient(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModelName, cfg.EmbeddingDimension)
	cached := llm.NewCachedEmbedder(
		llm.NewRateLimitedEmbedder(client, cfg.EmbeddingRPS),
		cfg.EmbeddingModelName,
		cfg.EmbeddingCacheSize,
	)
	embedder := llm.Embedder(cached)

	// Fail fast if the embedding service is unreachable or reports the wrong size.
	dim, err := embedder.Dimension(ctx)
	if err != nil {
		return fmt.Errorf("validating embedding client: %w", err)
	}
	slog.Info("Embedding client validated", "model", cfg.EmbeddingModelName, "vector_size", dim)

	store, closeStore, err := openVectorStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.EnsureCollection(ctx, cfg.QdrantCollection, dim); err != nil {
		return fmt.Errorf("ensuring collection %s: %w", cfg.QdrantCollection, err)
	}
	slog.Info("Vector collection ready", "backend", cfg.VectorBackend, "collection", cfg.QdrantCollection, "vector_size", dim)

	splitter, err := indexer.NewPunktSplitter(cfg.ChunkLanguage)
	if err != nil {
		return err
	}
	chunker, err := indexer.NewSentenceChunker(splitter, cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return err
	}

	pipeline := indexer.NewPipeline(vaults, registry, chunker, embedder, store, state, cache, indexer.Options{
		Collection:  cfg.QdrantCollection,
		BatchSize:   cfg.EmbeddingBatchSize,
		SettleDelay: cfg.SettleDelay,
		Workers:     cfg.ScanWorkers,
	})

	reconcile := handlers.NewReconcileHandler(ctx, pipeline, cancel)

	var server *nethttp.Server
	if cfg.HTTPAddr != "" {
		status := handlers.NewStatusHandler(pipeline, state, store, cfg.QdrantCollection, reconcile).
			WithRoots(vaults.Roots()).
			WithCaches(cached, cache.Root())
		router := http.NewRouter(&http.Deps{
			Health:    handlers.NewHealthHandler(store, state, cfg.QdrantCollection),
			Status:    status,
			Reconcile: reconcile,
			Search:    handlers.NewSearchHandler(embedder, store, cfg.QdrantCollection),
			Chunks:    handlers.NewChunksHandler(store, cfg.QdrantCollection),

			AllowedOrigins: cfg.CORSOrigins,
		})
		server = &nethttp.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("Starting API server", "addr", cfg.HTTPAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
				cancel(fmt.Errorf("API server: %w", err))
			}
		}()
	}

	err = serve(ctx, cfg, vaults, pipeline, reconcile, server != nil)

	if server != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("API server shutdown", "error", err)
		}
	}
	reconcile.Wait()

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	if errors.Is(err, context.Canceled) {
		slog.Info("Shutting down")
		return nil
	}
	return err
}

// serve runs the initial reconciliation and then follows filesystem events
// until ctx ends. Without watching it returns after the scan unless the API
// server should keep running.
func serve(ctx context.Context, cfg *config.Config, vaults *vault.Set, pipeline *indexer.Pipeline, reconcile *handlers.ReconcileHandler, keepAlive bool) error {
	var (
		w        *watcher.Group
		watchErr = make(chan error, 1)
	)
	if cfg.Watch {
		// Watch before scanning so changes made during the scan are not lost.
		var filters []watcher.PathFilter
		for _, m := range vaults.Managers() {
			filters = append(filters, m)
		}
		var err error
		w, err = watcher.NewGroup(filters...)
		if err != nil {
			return err
		}
		go func() {
			watchErr <- w.Start(ctx)
		}()
		go func() {
			for err := range w.Errors() {
				slog.Warn("Watcher error", "error", err)
			}
		}()
	}

	stats, err := reconcile.Run(ctx)
	if err != nil {
		if errors.Is(err, indexer.ErrStateStore) || ctx.Err() != nil {
			return err
		}
		slog.Error("Initial reconciliation failed", "error", err)
	} else {
		slog.Info("Initial reconciliation finished",
			"indexed", stats.Indexed, "unchanged", stats.Unchanged, "removed", stats.Removed, "failed", stats.Failed)
	}

	if w != nil {
		if err := pipeline.Run(ctx, w.Events()); err != nil {
			return err
		}
		// Events only close once Start has returned.
		if err := <-watchErr; err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("watcher stopped: %w", err)
		}
		return ctx.Err()
	}
	if keepAlive {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

// openVectorStore returns the configured backend and its release func.
func openVectorStore(cfg *config.Config) (vectorstore.VectorStore, func(), error) {
	switch cfg.VectorBackend {
	case config.BackendChromem:
		store, err := vectorstore.NewChromemStore(cfg.ChromemPath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening chromem store: %w", err)
		}
		return store, func() {}, nil
	default:
		store, err := vectorstore.NewQdrantStore(cfg.QdrantURL, cfg.QdrantAPIKey)
		if err != nil {
			return nil, nil, fmt.Errorf("creating Qdrant client: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	}
}
