package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"sync"
	"time"

	"docsync/internal/contextutil"
	"docsync/internal/extract"
	"docsync/internal/llm"
	"docsync/internal/storage"
	"docsync/internal/vault"
	"docsync/internal/vectorstore"
)

// DefaultBatchSize is the number of chunks sent to the embedder per request.
const DefaultBatchSize = 32

// PageSource extracts pages from supported files.
type PageSource interface {
	Supports(path string) bool
	Extract(ctx context.Context, absPath string) (iter.Seq2[extract.Page, error], error)
}

// Chunker splits page text into passages.
type Chunker interface {
	Chunk(text string) []Chunk
}

// PageCache is the per-document OCR cache evicted on removal.
type PageCache interface {
	Evict(relPath string) error
	EvictTree(relDir string) error
}

// Options configures a Pipeline.
type Options struct {
	Collection  string
	BatchSize   int
	SettleDelay time.Duration
	Workers     int
}

// Pipeline keeps the vector store in sync with the documents under its roots.
// Work on a single path is serialized. Every index mutation goes through
// gatewayMu: embedding for indexing, vector store writes and state writes.
// Read-only callers such as search use the clients directly.
type Pipeline struct {
	vault    *vault.Set
	source   PageSource
	chunker  Chunker
	embedder llm.Embedder
	store    vectorstore.VectorStore
	state    storage.StateStore
	cache    PageCache

	collection  string
	batchSize   int
	settleDelay time.Duration
	workers     int

	locks     *pathLocks
	gatewayMu sync.Mutex
	stats     Stats
}

// NewPipeline creates a new sync pipeline. cache may be nil.
func NewPipeline(
	roots *vault.Set,
	source PageSource,
	chunker Chunker,
	embedder llm.Embedder,
	store vectorstore.VectorStore,
	state storage.StateStore,
	cache PageCache,
	opts Options,
) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Pipeline{
		vault:       roots,
		source:      source,
		chunker:     chunker,
		embedder:    embedder,
		store:       store,
		state:       state,
		cache:       cache,
		collection:  opts.Collection,
		batchSize:   opts.BatchSize,
		settleDelay: opts.SettleDelay,
		workers:     opts.Workers,
		locks:       newPathLocks(),
	}
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() StatsSnapshot {
	return p.stats.Snapshot()
}

// outcome is what processing a single file did.
type outcome int

const (
	outcomeIgnored outcome = iota
	outcomeUnchanged
	outcomeIndexed
	outcomeRemoved
)

// Process brings the index up to date for one file. Unsupported and excluded
// files are ignored. A file whose stored modification time matches is skipped
// without extraction. A file that no longer exists is removed.
func (p *Pipeline) Process(ctx context.Context, absPath string) error {
	_, err := p.process(ctx, absPath)
	return err
}

func (p *Pipeline) process(ctx context.Context, absPath string) (outcome, error) {
	rel, err := p.vault.RelPath(absPath)
	if err != nil {
		return outcomeIgnored, nil
	}
	if !p.vault.Accepts(absPath) {
		return outcomeIgnored, nil
	}

	unlock := p.locks.Lock(rel)
	defer unlock()

	ctx = contextutil.WithAttrs(ctx, "source", rel)
	logger := contextutil.LoggerFromContext(ctx)

	info, err := os.Stat(absPath)
	if errors.Is(err, fs.ErrNotExist) {
		logger.DebugContext(ctx, "file vanished before processing")
		if err := p.removeLocked(ctx, rel); err != nil {
			return outcomeIgnored, err
		}
		return outcomeRemoved, nil
	}
	if err != nil {
		return outcomeIgnored, fmt.Errorf("stat %s: %w", absPath, err)
	}
	if !info.Mode().IsRegular() {
		return outcomeIgnored, nil
	}
	modTime := info.ModTime()

	stored, err := p.state.Get(ctx, rel)
	switch {
	case err == nil && stored.UnixNano() == modTime.UnixNano():
		logger.DebugContext(ctx, "skipping unchanged file")
		p.stats.skipped()
		return outcomeUnchanged, nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return outcomeIgnored, stateErr("get", rel, err)
	}

	if err := p.index(ctx, rel, absPath, modTime); err != nil {
		if !errors.Is(err, ErrStateStore) {
			p.stats.failed()
		}
		return outcomeIgnored, err
	}
	return outcomeIndexed, nil
}

// pendingChunk is a chunk with the page it came from.
type pendingChunk struct {
	page    int
	chunk   Chunk
	ocrUsed bool
}

// index runs extract, chunk, embed, replace and state write for one file.
// State is only written after the vector store holds the new points.
func (p *Pipeline) index(ctx context.Context, rel, absPath string, modTime time.Time) error {
	logger := contextutil.LoggerFromContext(ctx)
	start := time.Now()

	pages, err := p.source.Extract(extract.WithDocumentKey(ctx, rel), absPath)
	if errors.Is(err, extract.ErrNotApplicable) {
		return nil
	}
	if err != nil {
		logger.ErrorContext(ctx, "extraction failed", "stage", "extract", "error", err)
		return fmt.Errorf("extract %s: %w", rel, err)
	}

	var (
		pending   []pendingChunk
		ocrPages  int
		ocrFailed []int
	)
	for page, err := range pages {
		if err != nil {
			logger.ErrorContext(ctx, "extraction failed", "stage", "extract", "error", err)
			return fmt.Errorf("extract %s: %w", rel, err)
		}
		if page.OCRUsed {
			ocrPages++
		}
		if page.OCRFailed {
			ocrFailed = append(ocrFailed, page.Index)
		}
		for _, c := range p.chunker.Chunk(page.Text) {
			pending = append(pending, pendingChunk{page: page.Index, chunk: c, ocrUsed: page.OCRUsed})
		}
	}

	texts := make([]string, len(pending))
	for i, pc := range pending {
		texts[i] = pc.chunk.Text
	}

	p.gatewayMu.Lock()
	defer p.gatewayMu.Unlock()

	vectors, err := p.embed(ctx, texts)
	if err != nil {
		logger.ErrorContext(ctx, "embedding failed", "stage", "embed", "error", err)
		return fmt.Errorf("embed %s: %w", rel, err)
	}

	points := make([]vectorstore.Point, len(pending))
	for i, pc := range pending {
		points[i] = vectorstore.Point{
			ID:  PointID(rel, pc.page, pc.chunk.Index),
			Vec: vectors[i],
			Meta: map[string]any{
				vectorstore.PayloadSource:     rel,
				vectorstore.PayloadPage:       pc.page,
				vectorstore.PayloadChunkIndex: pc.chunk.Index,
				vectorstore.PayloadText:       pc.chunk.Text,
				vectorstore.PayloadOCRUsed:    pc.ocrUsed,
			},
		}
	}

	if err := p.store.DeleteBySource(ctx, p.collection, rel); err != nil {
		logger.ErrorContext(ctx, "deleting old points failed", "stage", "delete", "error", err)
		return fmt.Errorf("delete old points for %s: %w", rel, err)
	}
	if err := p.store.Upsert(ctx, p.collection, points); err != nil {
		logger.ErrorContext(ctx, "upsert failed", "stage", "upsert", "error", err)
		return fmt.Errorf("upsert %s: %w", rel, err)
	}
	// Incomplete OCR leaves the state unrecorded so the next scan retries the file.
	if len(ocrFailed) > 0 {
		logger.WarnContext(ctx, "indexed without text for some pages, will retry",
			"stage", "ocr", "pages", ocrFailed)
	} else if err := p.state.Set(ctx, rel, modTime); err != nil {
		logger.ErrorContext(ctx, "state write failed", "stage", "state", "error", err)
		return stateErr("set", rel, err)
	}

	p.stats.indexed(texts, ocrPages)
	logger.InfoContext(ctx, "indexed document",
		"chunks", len(points), "ocr_pages", ocrPages, "duration", time.Since(start))
	return nil
}

// embed embeds texts in batches of batchSize.
func (p *Pipeline) embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.batchSize {
		end := min(start+p.batchSize, len(texts))
		vecs, err := p.embedder.EmbedTexts(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedding count mismatch: expected %d, got %d", end-start, len(vecs))
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Remove deletes every point and the state entry of one document and evicts
// its OCR cache.
func (p *Pipeline) Remove(ctx context.Context, relPath string) error {
	unlock := p.locks.Lock(relPath)
	defer unlock()
	return p.removeLocked(contextutil.WithAttrs(ctx, "source", relPath), relPath)
}

func (p *Pipeline) removeLocked(ctx context.Context, rel string) error {
	logger := contextutil.LoggerFromContext(ctx)

	p.gatewayMu.Lock()
	defer p.gatewayMu.Unlock()

	if err := p.store.DeleteBySource(ctx, p.collection, rel); err != nil {
		logger.ErrorContext(ctx, "deleting points failed", "stage", "delete", "error", err)
		return fmt.Errorf("delete points for %s: %w", rel, err)
	}
	if err := p.state.Delete(ctx, rel); err != nil {
		logger.ErrorContext(ctx, "state delete failed", "stage", "state", "error", err)
		return stateErr("delete", rel, err)
	}
	if p.cache != nil {
		if err := p.cache.Evict(rel); err != nil {
			logger.WarnContext(ctx, "failed to evict OCR cache", "error", err)
		}
	}

	p.stats.removed()
	logger.InfoContext(ctx, "removed document")
	return nil
}

// RemoveTree removes every tracked document under relDir.
func (p *Pipeline) RemoveTree(ctx context.Context, relDir string) error {
	paths, err := p.state.List(ctx)
	if err != nil {
		return stateErr("list", relDir, err)
	}

	prefix := relDir + "/"
	var errs []error
	for _, path := range paths {
		if len(path) <= len(prefix) || path[:len(prefix)] != prefix {
			continue
		}
		if err := p.Remove(ctx, path); err != nil {
			if errors.Is(err, ErrStateStore) {
				return err
			}
			errs = append(errs, err)
		}
	}

	if p.cache != nil {
		if err := p.cache.EvictTree(relDir); err != nil {
			contextutil.LoggerFromContext(ctx).WarnContext(ctx, "failed to evict OCR cache tree", "dir", relDir, "error", err)
		}
	}
	return errors.Join(errs...)
}

// Move re-indexes a renamed document under its new path.
func (p *Pipeline) Move(ctx context.Context, oldAbs, newAbs string) error {
	if oldRel, err := p.vault.RelPath(oldAbs); err == nil {
		if err := p.Remove(ctx, oldRel); err != nil {
			return err
		}
	}
	return p.Process(ctx, newAbs)
}

// processDir processes every accepted file under a directory.
func (p *Pipeline) processDir(ctx context.Context, absDir string) error {
	files, err := p.vault.ScanDir(ctx, absDir)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", absDir, err)
	}
	var errs []error
	for _, f := range files {
		if err := p.Process(ctx, f.AbsPath); err != nil {
			if errors.Is(err, ErrStateStore) {
				return err
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
