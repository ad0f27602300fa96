package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"

	"docsync/internal/contextutil"
)

var errNoEmbeddingFunc = errors.New("chromem collections only accept precomputed embeddings")

// Typed payload keys; chromem stores metadata as strings.
var (
	intPayloadKeys  = map[string]bool{PayloadPage: true, PayloadChunkIndex: true}
	boolPayloadKeys = map[string]bool{PayloadOCRUsed: true}
)

// ChromemStore implements VectorStore with an embedded chromem-go database.
// It needs no external service; with a path the data is persisted to disk.
type ChromemStore struct {
	db *chromem.DB

	mu   sync.Mutex
	dims map[string]int
}

// NewChromemStore opens a persistent database at path, or an in-memory one when path is empty.
func NewChromemStore(path string) (*ChromemStore, error) {
	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem database: %w", err)
		}
	}
	return &ChromemStore{db: db, dims: make(map[string]int)}, nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

func (s *ChromemStore) collection(name string) (*chromem.Collection, error) {
	c := s.db.GetCollection(name, noEmbedding)
	if c == nil {
		return nil, fmt.Errorf("collection %q does not exist", name)
	}
	return c, nil
}

// EnsureCollection creates the collection if needed. For a non-empty existing
// collection the vector size is checked with a test query.
func (s *ChromemStore) EnsureCollection(ctx context.Context, collection string, vectorSize int) error {
	logger := contextutil.LoggerFromContext(ctx)

	if vectorSize <= 0 {
		return fmt.Errorf("vector size must be greater than 0")
	}

	c := s.db.GetCollection(collection, noEmbedding)
	if c == nil {
		var err error
		c, err = s.db.CreateCollection(collection, map[string]string{"vector_size": strconv.Itoa(vectorSize)}, noEmbedding)
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
		logger.InfoContext(ctx, "collection created", "collection", collection, "vector_size", vectorSize)
	} else if c.Count() > 0 {
		if _, err := c.QueryEmbedding(ctx, unitVector(vectorSize), 1, nil, nil); err != nil {
			return fmt.Errorf("collection vector size mismatch: expected %d: %w", vectorSize, err)
		}
		logger.InfoContext(ctx, "collection validated", "collection", collection, "vector_size", vectorSize)
	}

	s.mu.Lock()
	s.dims[collection] = vectorSize
	s.mu.Unlock()
	return nil
}

// CollectionExists checks if a collection exists.
func (s *ChromemStore) CollectionExists(_ context.Context, collection string) (bool, error) {
	return s.db.GetCollection(collection, noEmbedding) != nil, nil
}

// Upsert adds documents; an existing ID is overwritten.
func (s *ChromemStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	c, err := s.collection(collection)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, len(points))
	for _, p := range points {
		content, _ := p.Meta[PayloadText].(string)
		docs = append(docs, chromem.Document{
			ID:        p.ID,
			Metadata:  toMetadata(p.Meta),
			Embedding: p.Vec,
			Content:   content,
		})
	}

	if err := c.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	contextutil.LoggerFromContext(ctx).DebugContext(ctx, "upserted points", "collection", collection, "count", len(points))
	return nil
}

// DeleteBySource removes all documents whose source metadata matches.
func (s *ChromemStore) DeleteBySource(ctx context.Context, collection string, source string) error {
	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, map[string]string{PayloadSource: source}, nil); err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

// ListBySource returns the documents of one source.
func (s *ChromemStore) ListBySource(ctx context.Context, collection string, source string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than 0")
	}

	s.mu.Lock()
	dim := s.dims[collection]
	s.mu.Unlock()
	if dim == 0 {
		return nil, fmt.Errorf("collection %q has not been ensured", collection)
	}

	results, err := s.query(ctx, collection, unitVector(dim), limit, map[string]string{PayloadSource: source})
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Score = 0
	}
	return results, nil
}

// Search performs a cosine similarity search with optional exact-match filters.
func (s *ChromemStore) Search(ctx context.Context, collection string, query []float32, k int, filters map[string]any) ([]SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be greater than 0")
	}
	var where map[string]string
	if len(filters) > 0 {
		where = toMetadata(filters)
	}
	return s.query(ctx, collection, query, k, where)
}

func (s *ChromemStore) query(ctx context.Context, collection string, query []float32, n int, where map[string]string) ([]SearchResult, error) {
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	// chromem rejects n larger than the collection.
	if count := c.Count(); count == 0 {
		return []SearchResult{}, nil
	} else if n > count {
		n = count
	}

	res, err := c.QueryEmbedding(ctx, query, n, where, nil)
	// A concurrent delete can shrink the collection after it was counted.
	for err != nil && n > c.Count() {
		if n = c.Count(); n == 0 {
			return []SearchResult{}, nil
		}
		res, err = c.QueryEmbedding(ctx, query, n, where, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	results := make([]SearchResult, 0, len(res))
	for _, r := range res {
		results = append(results, SearchResult{
			PointID: r.ID,
			Score:   r.Similarity,
			Meta:    fromMetadata(r.Metadata),
		})
	}
	return results, nil
}

// Count returns the number of documents in the collection.
func (s *ChromemStore) Count(_ context.Context, collection string) (int, error) {
	c, err := s.collection(collection)
	if err != nil {
		return 0, err
	}
	return c.Count(), nil
}

func unitVector(dim int) []float32 {
	v := make([]float32, dim)
	v[0] = 1
	return v
}

func toMetadata(meta map[string]any) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		switch val := v.(type) {
		case string:
			out[k] = val
		case bool:
			out[k] = strconv.FormatBool(val)
		case int:
			out[k] = strconv.Itoa(val)
		case int64:
			out[k] = strconv.FormatInt(val, 10)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

func fromMetadata(meta map[string]string) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		switch {
		case intPayloadKeys[k]:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				out[k] = n
				continue
			}
		case boolPayloadKeys[k]:
			if b, err := strconv.ParseBool(v); err == nil {
				out[k] = b
				continue
			}
		}
		out[k] = v
	}
	return out
}
