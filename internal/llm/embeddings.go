package llm

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_embedder.go -package=mocks docsync/internal/llm Embedder

import (
	"context"
	"fmt"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// dimensionSample is embedded once to learn the model's vector size.
const dimensionSample = "dimension check"

// Embedder computes embedding vectors for texts.
type Embedder interface {
	// EmbedTexts returns one vector per input text, in input order.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns the vector size produced by the model.
	Dimension(ctx context.Context) (int, error)
}

// EmbeddingsClient calls an OpenAI-compatible /v1/embeddings endpoint
// (llama.cpp, Ollama, vLLM or OpenAI itself).
type EmbeddingsClient struct {
	BaseURL string
	Model   string
	// ExpectedSize validates every returned vector. Zero means it is discovered on first use.
	ExpectedSize int

	client *openai.Client
	mu     sync.Mutex
}

// NewEmbeddingsClient creates a new embeddings client.
// baseURL may be given with or without the trailing /v1.
func NewEmbeddingsClient(baseURL, apiKey, model string, expectedSize int) *EmbeddingsClient {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = apiBaseURL(baseURL)
	return &EmbeddingsClient{
		BaseURL:      baseURL,
		Model:        model,
		ExpectedSize: expectedSize,
		client:       openai.NewClientWithConfig(cfg),
	}
}

func apiBaseURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(u, "/v1") {
		u += "/v1"
	}
	return u
}

// EmbedTexts generates embeddings for the given texts in one request.
// All vectors are validated against the expected size.
func (c *EmbeddingsClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("empty input array")
	}

	vectors, err := c.embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	want, err := c.Dimension(ctx)
	if err != nil {
		return nil, err
	}
	for i, vec := range vectors {
		if len(vec) != want {
			return nil, fmt.Errorf("embedding %d has size %d, expected %d", i, len(vec), want)
		}
	}
	return vectors, nil
}

// Dimension returns ExpectedSize, probing the model when it is unset.
func (c *EmbeddingsClient) Dimension(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ExpectedSize > 0 {
		return c.ExpectedSize, nil
	}
	vectors, err := c.embed(ctx, []string{dimensionSample})
	if err != nil {
		return 0, fmt.Errorf("probing embedding dimension: %w", err)
	}
	if len(vectors[0]) == 0 {
		return 0, fmt.Errorf("probing embedding dimension: model returned an empty vector")
	}
	c.ExpectedSize = len(vectors[0])
	return c.ExpectedSize, nil
}

func (c *EmbeddingsClient) embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.Model),
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings request failed: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	result := make([][]float32, len(texts))
	for i, data := range resp.Data {
		idx := data.Index
		if idx < 0 || idx >= len(texts) || result[idx] != nil {
			// Servers that omit index report 0 for every item; fall back to order.
			idx = i
		}
		result[idx] = data.Embedding
	}
	return result, nil
}
