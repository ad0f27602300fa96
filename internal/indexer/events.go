package indexer

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"docsync/internal/contextutil"
	"docsync/internal/watcher"
)

// HandleEvent applies one watcher event to the index.
func (p *Pipeline) HandleEvent(ctx context.Context, ev watcher.Event) error {
	switch ev.Op {
	case watcher.OpCreate, watcher.OpModify:
		if ev.IsDir {
			return p.processDir(ctx, ev.Path)
		}
		if err := p.settle(ctx); err != nil {
			return err
		}
		return p.Process(ctx, ev.Path)

	case watcher.OpDelete:
		return p.removePath(ctx, ev.Path, ev.IsDir)

	case watcher.OpRename:
		if ev.Path == "" {
			return p.removePath(ctx, ev.OldPath, ev.IsDir)
		}
		if ev.IsDir {
			if err := p.removePath(ctx, ev.OldPath, true); err != nil {
				return err
			}
			return p.processDir(ctx, ev.Path)
		}
		if err := p.settle(ctx); err != nil {
			return err
		}
		return p.Move(ctx, ev.OldPath, ev.Path)
	}
	return nil
}

// removePath removes a path that no longer exists. Supported documents are
// removed directly. Other paths with an extension are files the index never
// held and are ignored. Anything else is treated as a directory.
func (p *Pipeline) removePath(ctx context.Context, absPath string, isDir bool) error {
	rel, err := p.vault.RelPath(absPath)
	if err != nil {
		return nil
	}
	switch {
	case isDir:
		return p.RemoveTree(ctx, rel)
	case p.source.Supports(absPath):
		return p.Remove(ctx, rel)
	case filepath.Ext(absPath) != "":
		return nil
	}
	return p.RemoveTree(ctx, rel)
}

// settle waits for writers to finish before a file is read.
func (p *Pipeline) settle(ctx context.Context) error {
	if p.settleDelay <= 0 {
		return nil
	}
	t := time.NewTimer(p.settleDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run handles events in arrival order until ctx is done or events is closed.
// Only state store failures and context cancellation end it early.
func (p *Pipeline) Run(ctx context.Context, events <-chan watcher.Event) error {
	logger := contextutil.LoggerFromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			err := p.HandleEvent(ctx, ev)
			switch {
			case err == nil:
			case errors.Is(err, ErrStateStore):
				return err
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				logger.ErrorContext(ctx, "failed to handle event",
					"op", ev.Op.String(), "path", ev.Path, "old_path", ev.OldPath, "error", err)
			}
		}
	}
}
