// Package ocrcache persists OCR text per document page so recognition runs once
// per page and file version.
//
// Layout: <root>/<rel dir>/<file name>.ocr/page00001.cache, pages 1-based.
// A .stamp file next to the pages holds the source modification time and size;
// pages are only served while the stamp matches the source file.
package ocrcache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	dirSuffix = ".ocr"
	stampName = ".stamp"
)

// ErrInvalidPath is returned for relative paths that escape the cache root.
var ErrInvalidPath = errors.New("invalid cache path")

// Cache is a filesystem page cache rooted at a directory.
// Callers serialize access per document; different documents never share a directory.
type Cache struct {
	root string
}

// New creates a Cache rooted at root. The directory is created lazily.
func New(root string) *Cache {
	return &Cache{root: root}
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}

// DocumentDir returns the cache directory for a document identified by its
// slash-separated path relative to the watched root.
func (c *Cache) DocumentDir(relPath string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(relPath))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, relPath)
	}
	return filepath.Join(c.root, clean+dirSuffix), nil
}

func pageFile(page int) string {
	return fmt.Sprintf("page%05d.cache", page)
}

func stampFor(info fs.FileInfo) string {
	return strconv.FormatInt(info.ModTime().UnixNano(), 10) + " " + strconv.FormatInt(info.Size(), 10)
}

// Validate compares the document's stamp with the source file info. A missing
// or different stamp evicts every cached page and records the new stamp.
func (c *Cache) Validate(relPath string, info fs.FileInfo) error {
	dir, err := c.DocumentDir(relPath)
	if err != nil {
		return err
	}
	want := stampFor(info)

	got, err := os.ReadFile(filepath.Join(dir, stampName))
	if err == nil && string(got) == want {
		return nil
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading cache stamp: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("evicting stale cache: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, stampName), []byte(want))
}

// Get returns the cached text for a 1-based page number.
func (c *Cache) Get(relPath string, page int) (string, bool, error) {
	dir, err := c.DocumentDir(relPath)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(filepath.Join(dir, pageFile(page)))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading cached page: %w", err)
	}
	return string(data), true, nil
}

// Put stores the text for a 1-based page number.
func (c *Cache) Put(relPath string, page int, text string) error {
	dir, err := c.DocumentDir(relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, pageFile(page)), []byte(text))
}

// Evict removes every cached page of a document. Evicting an uncached document is a no-op.
func (c *Cache) Evict(relPath string) error {
	dir, err := c.DocumentDir(relPath)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("evicting cache: %w", err)
	}
	return nil
}

// EvictTree removes cached pages for every document under a directory.
func (c *Cache) EvictTree(relDir string) error {
	clean := filepath.Clean(filepath.FromSlash(relDir))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, relDir)
	}
	if err := os.RemoveAll(filepath.Join(c.root, clean)); err != nil {
		return fmt.Errorf("evicting cache tree: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("closing cache file: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("renaming cache file: %w", err)
	}
	return nil
}
