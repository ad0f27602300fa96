package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"docsync/internal/contextutil"
	"docsync/internal/indexer"
)

// ErrReconcileRunning is returned when a reconciliation is already in progress.
var ErrReconcileRunning = errors.New("reconciliation already running")

// Reconciler runs a full reconciliation scan.
type Reconciler interface {
	Reconcile(ctx context.Context) (indexer.ReconcileStats, error)
}

// ReconcileStatus describes the most recent reconciliation.
type ReconcileStatus struct {
	Running    bool                    `json:"running"`
	StartedAt  *time.Time              `json:"started_at,omitempty"`
	FinishedAt *time.Time              `json:"finished_at,omitempty"`
	Stats      *indexer.ReconcileStats `json:"stats,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

// ReconcileHandler starts reconciliation scans, one at a time, and remembers
// the outcome of the last one.
type ReconcileHandler struct {
	base       context.Context
	reconciler Reconciler
	onFatal    func(error)

	mu   sync.Mutex
	last ReconcileStatus
	wg   sync.WaitGroup
}

// NewReconcileHandler creates a ReconcileHandler. Background runs started over
// HTTP live as long as base, not as long as the request. onFatal, if set,
// receives state store failures from background runs.
func NewReconcileHandler(base context.Context, reconciler Reconciler, onFatal func(error)) *ReconcileHandler {
	return &ReconcileHandler{base: base, reconciler: reconciler, onFatal: onFatal}
}

// ReconcileResponse represents the response from the reconcile endpoint.
type ReconcileResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Run reconciles synchronously and records the result.
func (h *ReconcileHandler) Run(ctx context.Context) (indexer.ReconcileStats, error) {
	if !h.begin() {
		return indexer.ReconcileStats{}, ErrReconcileRunning
	}
	stats, err := h.reconciler.Reconcile(ctx)
	h.finish(stats, err)
	return stats, err
}

// Status returns the last recorded reconciliation.
func (h *ReconcileHandler) Status() ReconcileStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// Wait blocks until background runs have finished.
func (h *ReconcileHandler) Wait() {
	h.wg.Wait()
}

func (h *ReconcileHandler) begin() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last.Running {
		return false
	}
	now := time.Now().UTC()
	h.last = ReconcileStatus{Running: true, StartedAt: &now}
	return true
}

func (h *ReconcileHandler) finish(stats indexer.ReconcileStats, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now().UTC()
	h.last.Running = false
	h.last.FinishedAt = &now
	if err != nil {
		h.last.Error = err.Error()
		return
	}
	h.last.Stats = &stats
}

// ServeHTTP starts a reconciliation in the background and returns 202
// Accepted, or 409 Conflict if one is already running.
func (h *ReconcileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodPost {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if !h.begin() {
		writeError(w, http.StatusConflict, ErrReconcileRunning.Error())
		return
	}

	logger.InfoContext(ctx, "reconciliation triggered via API")

	// Keep the request's logger but follow the process lifetime.
	runCtx := contextutil.WithLogger(h.base, logger)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		stats, err := h.reconciler.Reconcile(runCtx)
		h.finish(stats, err)
		if err != nil {
			logger.ErrorContext(runCtx, "reconciliation failed", "error", err)
			if errors.Is(err, indexer.ErrStateStore) && h.onFatal != nil {
				h.onFatal(err)
			}
		}
	}()

	_ = writeJSON(w, http.StatusAccepted, ReconcileResponse{
		Message: "Reconciliation started. Check /api/status for progress.",
		Status:  "accepted",
	})
}
