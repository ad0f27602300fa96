package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"docsync/internal/contextutil"
)

// ReconcileStats summarizes one reconciliation scan.
type ReconcileStats struct {
	Scanned   int           `json:"scanned"`
	Indexed   int           `json:"indexed"`
	Unchanged int           `json:"unchanged"`
	Removed   int           `json:"removed"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Reconcile brings every root in line with the index: new and changed
// files are processed by up to Workers goroutines, then tracked paths whose
// files are gone or no longer accepted are removed. Per-file errors are
// counted and logged; a state store failure aborts the scan.
func (p *Pipeline) Reconcile(ctx context.Context) (ReconcileStats, error) {
	logger := contextutil.LoggerFromContext(ctx)
	start := time.Now()
	var stats ReconcileStats

	files, err := p.vault.ScanAll(ctx)
	if err != nil {
		return stats, fmt.Errorf("scanning %s: %w", strings.Join(p.vault.Roots(), ", "), err)
	}
	stats.Scanned = len(files)
	logger.InfoContext(ctx, "reconciliation started", "files", len(files), "workers", p.workers)

	var indexed, unchanged, removed, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, f := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := p.process(gctx, f.AbsPath)
			switch {
			case errors.Is(err, ErrStateStore):
				return err
			case err != nil:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				logger.ErrorContext(gctx, "failed to index file", "source", f.RelPath, "error", err)
			case out == outcomeIndexed:
				indexed.Add(1)
			case out == outcomeUnchanged:
				unchanged.Add(1)
			case out == outcomeRemoved:
				removed.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	tracked, err := p.state.List(ctx)
	if err != nil {
		return stats, stateErr("list", "", err)
	}
	for _, rel := range tracked {
		if abs, err := p.vault.AbsPath(rel); err == nil {
			if _, err := os.Stat(abs); err == nil && p.vault.Accepts(abs) {
				continue
			}
		}
		if err := p.Remove(ctx, rel); err != nil {
			if errors.Is(err, ErrStateStore) {
				return stats, err
			}
			failed.Add(1)
			logger.ErrorContext(ctx, "failed to remove stale document", "source", rel, "error", err)
			continue
		}
		removed.Add(1)
	}

	stats.Indexed = int(indexed.Load())
	stats.Unchanged = int(unchanged.Load())
	stats.Removed = int(removed.Load())
	stats.Failed = int(failed.Load())
	stats.Duration = time.Since(start)

	logger.InfoContext(ctx, "reconciliation completed",
		"scanned", stats.Scanned, "indexed", stats.Indexed, "unchanged", stats.Unchanged,
		"removed", stats.Removed, "failed", stats.Failed, "duration", stats.Duration)
	return stats, nil
}
