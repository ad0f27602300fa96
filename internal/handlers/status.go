package handlers

import (
	"context"
	"net/http"
	"time"

	"docsync/internal/contextutil"
	"docsync/internal/indexer"
)

// StatsSource exposes pipeline counters.
type StatsSource interface {
	Stats() indexer.StatsSnapshot
}

// Counter counts stored items.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// PointCounter counts points in a vector collection.
type PointCounter interface {
	Count(ctx context.Context, collection string) (int, error)
}

// EntryCounter reports how many entries an in-memory cache holds.
type EntryCounter interface {
	Len() int
}

// StatusHandler reports index size, pipeline counters and the last reconciliation.
type StatusHandler struct {
	stats      StatsSource
	state      Counter
	points     PointCounter
	collection string
	reconcile  *ReconcileHandler
	started    time.Time

	roots        []string
	embedCache   EntryCounter
	ocrCacheRoot string
}

// NewStatusHandler creates a StatusHandler. reconcile may be nil.
func NewStatusHandler(stats StatsSource, state Counter, points PointCounter, collection string, reconcile *ReconcileHandler) *StatusHandler {
	return &StatusHandler{
		stats:      stats,
		state:      state,
		points:     points,
		collection: collection,
		reconcile:  reconcile,
		started:    time.Now(),
	}
}

// WithRoots lists the watched directories in the response.
func (h *StatusHandler) WithRoots(roots []string) *StatusHandler {
	h.roots = roots
	return h
}

// WithCaches adds the embedding cache size and OCR cache location to the
// response. embeddings may be nil.
func (h *StatusHandler) WithCaches(embeddings EntryCounter, ocrCacheRoot string) *StatusHandler {
	h.embedCache = embeddings
	h.ocrCacheRoot = ocrCacheRoot
	return h
}

// CacheStatus describes the caches in front of the embedder and OCR.
type CacheStatus struct {
	EmbeddingEntries int    `json:"embedding_entries"`
	OCRCacheRoot     string `json:"ocr_cache_root,omitempty"`
}

// StatusResponse represents the status endpoint body.
type StatusResponse struct {
	Documents     int                   `json:"documents"`
	Points        int                   `json:"points"`
	Collection    string                `json:"collection"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	Pipeline      indexer.StatsSnapshot `json:"pipeline"`
	Reconcile     *ReconcileStatus      `json:"reconcile,omitempty"`
	Roots         []string              `json:"roots,omitempty"`
	Caches        *CacheStatus          `json:"caches,omitempty"`
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	docs, err := h.state.Count(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to count tracked documents", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read state store")
		return
	}
	points, err := h.points.Count(ctx, h.collection)
	if err != nil {
		logger.ErrorContext(ctx, "failed to count points", "error", err)
		writeError(w, http.StatusServiceUnavailable, "vector store unavailable")
		return
	}

	resp := StatusResponse{
		Documents:     docs,
		Points:        points,
		Collection:    h.collection,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Pipeline:      h.stats.Stats(),
		Roots:         h.roots,
	}
	if h.reconcile != nil {
		st := h.reconcile.Status()
		resp.Reconcile = &st
	}
	if h.embedCache != nil || h.ocrCacheRoot != "" {
		resp.Caches = &CacheStatus{OCRCacheRoot: h.ocrCacheRoot}
		if h.embedCache != nil {
			resp.Caches.EmbeddingEntries = h.embedCache.Len()
		}
	}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		logger.ErrorContext(ctx, "failed to encode status response", "error", err)
	}
}
