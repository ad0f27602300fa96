package indexer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPathLocks_SerializesSamePath(t *testing.T) {
	locks := newPathLocks()
	var active, maxActive atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("a.md")
			defer unlock()
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	if maxActive.Load() != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxActive.Load())
	}
	if locks.size() != 0 {
		t.Errorf("lock table has %d entries after release, want 0", locks.size())
	}
}

func TestPathLocks_DifferentPathsDoNotBlock(t *testing.T) {
	locks := newPathLocks()
	unlockA := locks.Lock("a.md")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locks.Lock("b.md")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b.md blocked behind a.md")
	}
}
