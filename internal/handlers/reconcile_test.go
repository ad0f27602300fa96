package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"docsync/internal/indexer"
)

// fakeReconciler blocks until release is closed, then returns stats and err.
// With untilDone it instead blocks until ctx is cancelled.
type fakeReconciler struct {
	release   chan struct{}
	untilDone bool
	stats     indexer.ReconcileStats
	err       error

	mu    sync.Mutex
	calls int
}

func (f *fakeReconciler) Reconcile(ctx context.Context) (indexer.ReconcileStats, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.untilDone {
		<-ctx.Done()
		return indexer.ReconcileStats{}, ctx.Err()
	}
	if f.release != nil {
		<-f.release
	}
	return f.stats, f.err
}

func TestReconcileHandler_ServeHTTP(t *testing.T) {
	rec := &fakeReconciler{release: make(chan struct{}), stats: indexer.ReconcileStats{Scanned: 3, Indexed: 2}}
	handler := NewReconcileHandler(context.Background(), rec, nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/reconcile", nil))
	if w.Code != http.StatusAccepted {
		t.Fatalf("first request status = %d, want 202", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/reconcile", nil))
	if w.Code != http.StatusConflict {
		t.Errorf("second request status = %d, want 409", w.Code)
	}
	if !handler.Status().Running {
		t.Error("Status().Running = false while reconciling")
	}

	close(rec.release)
	handler.Wait()

	st := handler.Status()
	if st.Running || st.Stats == nil || st.Stats.Indexed != 2 || st.FinishedAt == nil {
		t.Errorf("Status() after run = %+v", st)
	}
	if rec.calls != 1 {
		t.Errorf("Reconcile called %d times, want 1", rec.calls)
	}
}

func TestReconcileHandler_BackgroundRunFollowsBaseContext(t *testing.T) {
	base, shutdown := context.WithCancel(context.Background())
	defer shutdown()
	handler := NewReconcileHandler(base, &fakeReconciler{untilDone: true}, nil)

	reqCtx, endRequest := context.WithCancel(context.Background())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/reconcile", nil).WithContext(reqCtx))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}

	// The run outlives the request.
	endRequest()
	time.Sleep(20 * time.Millisecond)
	if !handler.Status().Running {
		t.Fatal("reconciliation stopped when the request ended")
	}

	shutdown()
	done := make(chan struct{})
	go func() {
		handler.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not return after the base context was cancelled")
	}
	if got := handler.Status().Error; !strings.Contains(got, context.Canceled.Error()) {
		t.Errorf("Status().Error = %q, want context canceled", got)
	}
}

func TestReconcileHandler_MethodNotAllowed(t *testing.T) {
	handler := NewReconcileHandler(context.Background(), &fakeReconciler{}, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/reconcile", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestReconcileHandler_FatalError(t *testing.T) {
	rec := &fakeReconciler{err: fmt.Errorf("%w: disk full", indexer.ErrStateStore)}
	var got error
	handler := NewReconcileHandler(context.Background(), rec, func(err error) { got = err })

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/reconcile", nil))
	handler.Wait()

	if !errors.Is(got, indexer.ErrStateStore) {
		t.Errorf("onFatal got %v, want ErrStateStore", got)
	}
	if handler.Status().Error == "" {
		t.Error("Status().Error is empty after failure")
	}
}

func TestReconcileHandler_Run(t *testing.T) {
	rec := &fakeReconciler{stats: indexer.ReconcileStats{Scanned: 1}}
	handler := NewReconcileHandler(context.Background(), rec, nil)

	stats, err := handler.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.Scanned != 1 {
		t.Errorf("Scanned = %d, want 1", stats.Scanned)
	}

	handler.begin()
	if _, err := handler.Run(context.Background()); !errors.Is(err, ErrReconcileRunning) {
		t.Errorf("Run() while running error = %v, want ErrReconcileRunning", err)
	}
}
