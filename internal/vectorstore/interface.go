package vectorstore

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_vector_store.go -package=mocks docsync/internal/vectorstore VectorStore

import "context"

// Payload keys stored with every point.
const (
	PayloadSource     = "source"
	PayloadPage       = "page"
	PayloadChunkIndex = "chunk_index"
	PayloadText       = "text"
	PayloadOCRUsed    = "ocr_used"
)

// Point represents a vector point with metadata.
type Point struct {
	ID   string
	Vec  []float32
	Meta map[string]any
}

// SearchResult represents a search result from vector search.
// Integer payload values are int64, booleans are bool.
type SearchResult struct {
	PointID string
	Score   float32
	Meta    map[string]any
}

// VectorStore defines the interface for vector storage operations.
type VectorStore interface {
	// EnsureCollection creates the collection with cosine distance if it is missing,
	// otherwise validates its vector size.
	EnsureCollection(ctx context.Context, collection string, vectorSize int) error

	// CollectionExists reports whether the collection exists.
	CollectionExists(ctx context.Context, collection string) (bool, error)

	// Upsert inserts or updates points in the collection.
	Upsert(ctx context.Context, collection string, points []Point) error

	// DeleteBySource removes every point whose source payload equals source.
	// Deleting a source with no points is not an error.
	DeleteBySource(ctx context.Context, collection string, source string) error

	// ListBySource returns up to limit points of one source, without scores.
	ListBySource(ctx context.Context, collection string, source string, limit int) ([]SearchResult, error)

	// Search performs a similarity search with optional exact-match payload filters.
	Search(ctx context.Context, collection string, query []float32, k int, filters map[string]any) ([]SearchResult, error)

	// Count returns the number of points in the collection.
	Count(ctx context.Context, collection string) (int, error)
}
