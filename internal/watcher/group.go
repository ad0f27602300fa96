package watcher

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Group runs one Watcher per root and merges their output.
type Group struct {
	watchers []*Watcher
	events   chan Event
	errors   chan error
}

// NewGroup creates a watcher for each filter. Start must be called to begin.
func NewGroup(filters ...PathFilter) (*Group, error) {
	if len(filters) == 0 {
		return nil, errors.New("no roots to watch")
	}
	g := &Group{
		events: make(chan Event, 256),
		errors: make(chan error, 10),
	}
	for _, f := range filters {
		w, err := New(f)
		if err != nil {
			for _, started := range g.watchers {
				_ = started.Stop()
			}
			return nil, err
		}
		g.watchers = append(g.watchers, w)
	}
	return g, nil
}

// Events returns the merged event channel. It is closed when Start returns.
func (g *Group) Events() <-chan Event {
	return g.events
}

// Errors returns merged non-fatal errors. It is closed when Start returns.
func (g *Group) Errors() <-chan error {
	return g.errors
}

// Start runs every watcher until ctx is cancelled. If one watcher fails the
// others are stopped and its error is returned. It blocks.
func (g *Group) Start(ctx context.Context) error {
	eg, gctx := errgroup.WithContext(ctx)
	var forwarders sync.WaitGroup

	for _, w := range g.watchers {
		eg.Go(func() error {
			return w.Start(gctx)
		})

		forwarders.Add(2)
		go func() {
			defer forwarders.Done()
			for ev := range w.Events() {
				select {
				case g.events <- ev:
				case <-gctx.Done():
				}
			}
		}()
		go func() {
			defer forwarders.Done()
			for err := range w.Errors() {
				select {
				case g.errors <- err:
				default:
				}
			}
		}()
	}

	err := eg.Wait()
	forwarders.Wait()
	close(g.events)
	close(g.errors)
	return err
}
