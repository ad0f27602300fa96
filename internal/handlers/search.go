package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"docsync/internal/contextutil"
	"docsync/internal/llm"
	"docsync/internal/vectorstore"
)

const (
	defaultSearchK = 5
	maxSearchK     = 50
)

// SearchHandler embeds a query and returns the nearest chunks.
type SearchHandler struct {
	embedder    llm.Embedder
	vectorStore vectorstore.VectorStore
	collection  string
}

// NewSearchHandler creates a new SearchHandler.
func NewSearchHandler(embedder llm.Embedder, vectorStore vectorstore.VectorStore, collection string) *SearchHandler {
	return &SearchHandler{embedder: embedder, vectorStore: vectorStore, collection: collection}
}

// SearchHit is one matching chunk.
type SearchHit struct {
	ID         string  `json:"id"`
	Score      float32 `json:"score"`
	Source     string  `json:"source"`
	Page       int64   `json:"page"`
	ChunkIndex int64   `json:"chunk_index"`
	Text       string  `json:"text"`
	OCRUsed    bool    `json:"ocr_used"`
}

// SearchResponse represents the search endpoint body.
type SearchResponse struct {
	Query   string      `json:"query"`
	Results []SearchHit `json:"results"`
}

// ServeHTTP handles GET /api/search?q=&source=&k=.
func (h *SearchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}

	k := defaultSearchK
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxSearchK {
			writeError(w, http.StatusBadRequest, "k must be an integer between 1 and 50")
			return
		}
		k = n
	}

	var filters map[string]any
	if source := r.URL.Query().Get("source"); source != "" {
		filters = map[string]any{vectorstore.PayloadSource: source}
	}

	vecs, err := h.embedder.EmbedTexts(ctx, []string{q})
	if err != nil {
		logger.ErrorContext(ctx, "failed to embed query", "error", err)
		writeError(w, http.StatusBadGateway, "embedding service unavailable")
		return
	}
	if len(vecs) != 1 {
		writeError(w, http.StatusBadGateway, "embedding service returned no vector")
		return
	}

	results, err := h.vectorStore.Search(ctx, h.collection, vecs[0], k, filters)
	if err != nil {
		logger.ErrorContext(ctx, "vector search failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "vector store unavailable")
		return
	}

	hits := make([]SearchHit, 0, len(results))
	for _, res := range results {
		hits = append(hits, toHit(res))
	}

	if err := writeJSON(w, http.StatusOK, SearchResponse{Query: q, Results: hits}); err != nil {
		logger.ErrorContext(ctx, "failed to encode search response", "error", err)
	}
}

func toHit(res vectorstore.SearchResult) SearchHit {
	hit := SearchHit{ID: res.PointID, Score: res.Score}
	hit.Source, _ = res.Meta[vectorstore.PayloadSource].(string)
	hit.Page, _ = res.Meta[vectorstore.PayloadPage].(int64)
	hit.ChunkIndex, _ = res.Meta[vectorstore.PayloadChunkIndex].(int64)
	hit.Text, _ = res.Meta[vectorstore.PayloadText].(string)
	hit.OCRUsed, _ = res.Meta[vectorstore.PayloadOCRUsed].(bool)
	return hit
}
