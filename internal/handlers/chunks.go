package handlers

import (
	"cmp"
	"net/http"
	"slices"
	"strconv"

	"docsync/internal/contextutil"
	"docsync/internal/vectorstore"
)

const (
	defaultChunkLimit = 1000
	maxChunkLimit     = 10000
)

// ChunksHandler lists the stored chunks of one document.
type ChunksHandler struct {
	vectorStore vectorstore.VectorStore
	collection  string
}

// NewChunksHandler creates a new ChunksHandler.
func NewChunksHandler(vectorStore vectorstore.VectorStore, collection string) *ChunksHandler {
	return &ChunksHandler{vectorStore: vectorStore, collection: collection}
}

// ChunksResponse represents the chunks endpoint body.
type ChunksResponse struct {
	Source string      `json:"source"`
	Chunks []SearchHit `json:"chunks"`
}

// ServeHTTP handles GET /api/chunks?source=&limit=. Chunks are returned in
// reading order (page, then chunk index).
func (h *ChunksHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	source := r.URL.Query().Get("source")
	if source == "" {
		writeError(w, http.StatusBadRequest, "query parameter source is required")
		return
	}

	limit := defaultChunkLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxChunkLimit {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 10000")
			return
		}
		limit = n
	}

	results, err := h.vectorStore.ListBySource(ctx, h.collection, source, limit)
	if err != nil {
		logger.ErrorContext(ctx, "listing chunks failed", "source", source, "error", err)
		writeError(w, http.StatusServiceUnavailable, "vector store unavailable")
		return
	}

	chunks := make([]SearchHit, 0, len(results))
	for _, res := range results {
		chunks = append(chunks, toHit(res))
	}
	slices.SortFunc(chunks, func(a, b SearchHit) int {
		return cmp.Or(cmp.Compare(a.Page, b.Page), cmp.Compare(a.ChunkIndex, b.ChunkIndex))
	})

	if err := writeJSON(w, http.StatusOK, ChunksResponse{Source: source, Chunks: chunks}); err != nil {
		logger.ErrorContext(ctx, "failed to encode chunks response", "error", err)
	}
}
