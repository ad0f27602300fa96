package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsync/internal/vault"
)

type extFilter map[string]bool

func (f extFilter) Supports(path string) bool {
	return f[strings.ToLower(filepath.Ext(path))]
}

func TestOperation_String(t *testing.T) {
	tests := []struct {
		op   Operation
		want string
	}{
		{OpCreate, "CREATE"},
		{OpModify, "MODIFY"},
		{OpDelete, "DELETE"},
		{OpRename, "RENAME"},
		{Operation(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.op.String())
	}
}

func TestHidden(t *testing.T) {
	assert.True(t, hidden(".git"))
	assert.True(t, hidden("a/.cache/b"))
	assert.False(t, hidden("a/b.md"))
}

// startWatcher runs a watcher over a fresh root and returns it with the root.
func startWatcher(t *testing.T, excludes ...string) (*Watcher, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".hidden"), 0755))

	manager, err := vault.NewManager(root, extFilter{".md": true, ".pdf": true}, excludes)
	require.NoError(t, err)

	w, err := New(manager)
	require.NoError(t, err)
	w.renameWindow = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the initial recursive add time to complete.
	time.Sleep(100 * time.Millisecond)
	return w, root
}

// waitFor returns the first event satisfying match, failing after a timeout.
func waitFor(t *testing.T, w *Watcher, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-w.Events():
			require.True(t, ok, "event channel closed")
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return Event{}
		}
	}
}

// assertNoEvent fails if an event satisfying match arrives within d.
func assertNoEvent(t *testing.T, w *Watcher, d time.Duration, match func(Event) bool) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case ev := <-w.Events():
			if match(ev) {
				t.Fatalf("unexpected event %+v", ev)
			}
		case <-deadline:
			return
		}
	}
}

func TestWatcher_CreateAndModify(t *testing.T) {
	w, root := startWatcher(t)
	path := filepath.Join(root, "sub", "a.md")

	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))
	ev := waitFor(t, w, func(e Event) bool { return e.Path == path })
	assert.Contains(t, []Operation{OpCreate, OpModify}, ev.Op)
	assert.False(t, ev.IsDir)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(" world")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ev = waitFor(t, w, func(e Event) bool { return e.Path == path && e.Op == OpModify })
	assert.Equal(t, OpModify, ev.Op)
}

func TestWatcher_IgnoresUnsupportedAndExcluded(t *testing.T) {
	w, root := startWatcher(t, "drafts/**")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "drafts"), 0755))

	require.NoError(t, os.WriteFile(filepath.Join(root, "image.png"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden", "a.md"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "drafts", "b.md"), []byte("x"), 0644))

	assertNoEvent(t, w, 300*time.Millisecond, func(e Event) bool {
		return !e.IsDir && e.Op != OpDelete
	})
}

func TestWatcher_NewDirectoryIsWatched(t *testing.T) {
	w, root := startWatcher(t)
	dir := filepath.Join(root, "newdir")

	require.NoError(t, os.Mkdir(dir, 0755))
	ev := waitFor(t, w, func(e Event) bool { return e.Path == dir })
	assert.Equal(t, OpCreate, ev.Op)
	assert.True(t, ev.IsDir)

	path := filepath.Join(dir, "c.md")
	require.NoError(t, os.WriteFile(path, []byte("inside"), 0644))
	waitFor(t, w, func(e Event) bool { return e.Path == path })
}

func TestWatcher_Delete(t *testing.T) {
	w, root := startWatcher(t)
	path := filepath.Join(root, "gone.md")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	waitFor(t, w, func(e Event) bool { return e.Path == path })

	require.NoError(t, os.Remove(path))
	ev := waitFor(t, w, func(e Event) bool { return e.Op == OpDelete })
	assert.Equal(t, path, ev.Path)
}

func TestWatcher_DeleteDirectory(t *testing.T) {
	w, root := startWatcher(t)
	dir := filepath.Join(root, "sub")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("x"), 0644))
	waitFor(t, w, func(e Event) bool { return e.Path == filepath.Join(dir, "a.md") })

	require.NoError(t, os.RemoveAll(dir))
	ev := waitFor(t, w, func(e Event) bool { return e.Op == OpDelete && e.Path == dir })
	assert.True(t, ev.IsDir, "deleted directory is reported as a directory")
}

func TestWatcher_DeleteUnsupportedFileIsDropped(t *testing.T) {
	w, root := startWatcher(t)
	lockFile := filepath.Join(root, "~$report.docx")
	swap := filepath.Join(root, ".a.md.swp")
	require.NoError(t, os.WriteFile(lockFile, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(swap, []byte("x"), 0644))
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.Remove(lockFile))
	require.NoError(t, os.Remove(swap))
	assertNoEvent(t, w, 300*time.Millisecond, func(e Event) bool {
		return e.Op == OpDelete || e.Op == OpRename
	})
}

func TestWatcher_RenameWithinRoot(t *testing.T) {
	w, root := startWatcher(t)
	oldPath := filepath.Join(root, "old.md")
	newPath := filepath.Join(root, "sub", "new.md")
	require.NoError(t, os.WriteFile(oldPath, []byte("x"), 0644))
	waitFor(t, w, func(e Event) bool { return e.Path == oldPath })

	require.NoError(t, os.Rename(oldPath, newPath))
	ev := waitFor(t, w, func(e Event) bool { return e.Op == OpRename })
	assert.Equal(t, oldPath, ev.OldPath)
	assert.Equal(t, newPath, ev.Path)
}

func TestWatcher_RenameOutOfRoot(t *testing.T) {
	w, root := startWatcher(t)
	oldPath := filepath.Join(root, "leaving.md")
	require.NoError(t, os.WriteFile(oldPath, []byte("x"), 0644))
	waitFor(t, w, func(e Event) bool { return e.Path == oldPath })

	outside := filepath.Join(t.TempDir(), "leaving.md")
	require.NoError(t, os.Rename(oldPath, outside))
	ev := waitFor(t, w, func(e Event) bool { return e.Op == OpRename })
	assert.Equal(t, oldPath, ev.OldPath)
	assert.Empty(t, ev.Path)
}

func TestWatcher_StopClosesEvents(t *testing.T) {
	root := t.TempDir()
	manager, err := vault.NewManager(root, extFilter{".md": true}, nil)
	require.NoError(t, err)
	w, err := New(manager)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	_, ok := <-w.Events()
	assert.False(t, ok)
}
