package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"docsync/internal/contextutil"
	"docsync/internal/vectorstore"
)

var errCollectionMissing = errors.New("collection does not exist")

// HealthHandler reports whether the stores the sync engine writes to are usable.
type HealthHandler struct {
	vectorStore vectorstore.VectorStore
	state       Counter
	collection  string
	timeout     time.Duration
}

// NewHealthHandler creates a new HealthHandler. state may be nil.
func NewHealthHandler(vectorStore vectorstore.VectorStore, state Counter, collection string) *HealthHandler {
	return &HealthHandler{
		vectorStore: vectorStore,
		state:       state,
		collection:  collection,
		timeout:     5 * time.Second,
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	// "healthy" or "unhealthy"
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Issues    []string          `json:"issues,omitempty"`
}

// healthCheck is one named dependency check.
type healthCheck struct {
	name  string
	issue string
	check func(ctx context.Context) error
}

// ServeHTTP runs every check. Returns 200 OK if all pass, 503 otherwise.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodGet {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	checks := make(map[string]string)
	var issues []string
	for _, c := range h.checks() {
		if err := c.check(checkCtx); err != nil {
			logger.WarnContext(ctx, "health check failed", "check", c.name, "error", err)
			checks[c.name] = "error"
			issues = append(issues, c.issue)
			continue
		}
		checks[c.name] = "ok"
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		Issues:    issues,
	}
	httpStatus := http.StatusOK
	if len(issues) > 0 {
		response.Status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}
	if err := writeJSON(w, httpStatus, response); err != nil {
		logger.ErrorContext(ctx, "failed to encode health response", "error", err)
	}
}

func (h *HealthHandler) checks() []healthCheck {
	checks := []healthCheck{{
		name:  "vector_store",
		issue: "vector_store_unavailable",
		check: func(ctx context.Context) error {
			exists, err := h.vectorStore.CollectionExists(ctx, h.collection)
			if err != nil {
				return err
			}
			if !exists {
				return errCollectionMissing
			}
			return nil
		},
	}}
	if h.state != nil {
		checks = append(checks, healthCheck{
			name:  "state_store",
			issue: "state_store_unavailable",
			check: func(ctx context.Context) error {
				_, err := h.state.Count(ctx)
				return err
			},
		})
	}
	return checks
}
