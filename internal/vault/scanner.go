package vault

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"docsync/internal/contextutil"
)

// ScannedFile represents an indexable file found during a scan.
type ScannedFile struct {
	RelPath string    // Relative path from the root with forward slashes (e.g., "reports/q1.pdf")
	AbsPath string    // Absolute file path
	ModTime time.Time // Modification time at scan
	Size    int64
}

// ScanAll walks the root and returns every accepted file.
// Unreadable entries are logged and skipped.
func (m *Manager) ScanAll(ctx context.Context) ([]ScannedFile, error) {
	return m.ScanDir(ctx, m.root)
}

// ScanDir walks one directory under the root.
func (m *Manager) ScanDir(ctx context.Context, dir string) ([]ScannedFile, error) {
	logger := contextutil.LoggerFromContext(ctx)
	var scannedFiles []ScannedFile

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == dir {
				return err
			}
			logger.WarnContext(ctx, "skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			// Hidden directories (.git, .obsidian, ...) are never indexed
			if path != m.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !m.Accepts(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// Removed while walking
			return nil
		}
		rel, _ := m.RelPath(path)
		scannedFiles = append(scannedFiles, ScannedFile{
			RelPath: rel,
			AbsPath: path,
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return scannedFiles, err
	}

	return scannedFiles, nil
}
