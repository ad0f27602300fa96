package vault

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// FileFilter decides whether a file type can be indexed.
type FileFilter interface {
	Supports(path string) bool
}

// Manager owns the watched root: path translation, exclusion rules and scanning.
type Manager struct {
	root     string
	filter   FileFilter
	excludes []string
}

// NewManager creates a manager for root. Exclude patterns use doublestar glob
// syntax and are matched against both the relative path and the base name.
func NewManager(root string, filter FileFilter, excludes []string) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %s: %w", root, err)
	}
	for _, p := range excludes {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	return &Manager{root: filepath.Clean(abs), filter: filter, excludes: excludes}, nil
}

// Root returns the absolute watched root.
func (m *Manager) Root() string {
	return m.root
}

// AbsPath returns the absolute path for a slash-separated relative path.
func (m *Manager) AbsPath(relPath string) string {
	return filepath.Join(m.root, filepath.FromSlash(relPath))
}

// RelPath returns the slash-separated path of absPath relative to the root.
// Paths outside the root are an error.
func (m *Manager) RelPath(absPath string) (string, error) {
	rel, err := filepath.Rel(m.root, absPath)
	if err != nil {
		return "", fmt.Errorf("path %s is not under %s: %w", absPath, m.root, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is not under %s", absPath, m.root)
	}
	return filepath.ToSlash(rel), nil
}

// Excluded reports whether a relative path matches an exclude pattern or lies
// under a hidden directory.
func (m *Manager) Excluded(relPath string) bool {
	parts := strings.Split(relPath, "/")
	for _, dir := range parts[:len(parts)-1] {
		if strings.HasPrefix(dir, ".") {
			return true
		}
	}

	base := path.Base(relPath)
	for _, p := range m.excludes {
		if ok, _ := doublestar.Match(p, relPath); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, base); ok {
			return true
		}
	}
	return false
}

// Accepts reports whether absPath is a file the engine should index:
// under the root, not excluded, and of a supported type.
func (m *Manager) Accepts(absPath string) bool {
	rel, err := m.RelPath(absPath)
	if err != nil {
		return false
	}
	return !m.Excluded(rel) && m.filter.Supports(absPath)
}
