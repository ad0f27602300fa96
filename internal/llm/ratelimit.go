package llm

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// throttleBackoff is how long requests pause after the server answers 429.
const throttleBackoff = 5 * time.Second

// RateLimitedEmbedder bounds the request rate to the embedding server and
// backs off after it reports throttling.
type RateLimitedEmbedder struct {
	inner   Embedder
	limiter *rate.Limiter

	mu      sync.Mutex
	retryAt time.Time
}

// NewRateLimitedEmbedder wraps inner with a token bucket of rps requests per
// second. rps <= 0 returns inner unchanged.
func NewRateLimitedEmbedder(inner Embedder, rps float64) Embedder {
	if rps <= 0 {
		return inner
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedEmbedder{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// EmbedTexts waits for a token, then delegates.
func (r *RateLimitedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	vectors, err := r.inner.EmbedTexts(ctx, texts)
	if isThrottled(err) {
		r.mu.Lock()
		r.retryAt = time.Now().Add(throttleBackoff)
		r.mu.Unlock()
	}
	return vectors, err
}

// Dimension passes through; a dimension lookup counts against the limit.
func (r *RateLimitedEmbedder) Dimension(ctx context.Context) (int, error) {
	if err := r.wait(ctx); err != nil {
		return 0, err
	}
	return r.inner.Dimension(ctx)
}

func (r *RateLimitedEmbedder) wait(ctx context.Context) error {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if d := time.Until(retryAt); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return r.limiter.Wait(ctx)
}

func isThrottled(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}
