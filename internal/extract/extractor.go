// Package extract turns supported document files into page-sized units of text.
package extract

import (
	"context"
	"errors"
	"iter"
	"path/filepath"
	"slices"
	"strings"

	"docsync/internal/ocrcache"
)

// uploadArtifactPrefix marks temporary files written by in-progress uploads.
const uploadArtifactPrefix = ".sftpgo-upload"

// ErrNotApplicable is returned when no extractor accepts a path.
var ErrNotApplicable = errors.New("no extractor for file")

// Page is one extracted unit of text: a PDF page, a Word page or a worksheet.
type Page struct {
	Index   int
	Text    string
	OCRUsed bool
	// OCRFailed marks a page that needed OCR but recognition failed. Text
	// holds whatever the text layer had, possibly nothing.
	OCRFailed bool
}

// Extractor lazily yields the pages of one document.
// A yielded error means the whole document could not be read; iteration stops after it.
// Failures confined to a single page are logged by the extractor and the page is
// skipped, except failed OCR which is reported through Page.OCRFailed.
type Extractor interface {
	Pages(ctx context.Context, absPath string) iter.Seq2[Page, error]
}

type documentKeyType struct{}

// WithDocumentKey returns a copy of ctx naming the document being extracted.
// Extractors use the key for per-document caches instead of deriving one from the path.
func WithDocumentKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, documentKeyType{}, key)
}

// DocumentKey returns the key set by WithDocumentKey.
func DocumentKey(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(documentKeyType{}).(string)
	return key, ok && key != ""
}

// Registry dispatches paths to extractors by file extension.
type Registry struct {
	byExt map[string]Extractor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string]Extractor)}
}

// Register associates a file extension (with leading dot, any case) with an extractor.
func (r *Registry) Register(ext string, e Extractor) {
	r.byExt[strings.ToLower(ext)] = e
}

// Extensions returns the registered extensions, sorted.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// Supports reports whether path has a registered extension and is not an upload artifact.
func (r *Registry) Supports(path string) bool {
	_, ok := r.lookup(path)
	return ok
}

func (r *Registry) lookup(path string) (Extractor, bool) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, uploadArtifactPrefix) {
		return nil, false
	}
	e, ok := r.byExt[strings.ToLower(filepath.Ext(base))]
	return e, ok
}

// Extract returns the page sequence for absPath, or ErrNotApplicable.
func (r *Registry) Extract(ctx context.Context, absPath string) (iter.Seq2[Page, error], error) {
	e, ok := r.lookup(absPath)
	if !ok {
		return nil, ErrNotApplicable
	}
	return e.Pages(ctx, absPath), nil
}

// Options configures the default registry.
type Options struct {
	// Root keys OCR cache entries when the context carries no document key.
	Root string
	// OCR is the fallback engine for image-only PDF pages. Nil disables OCR.
	OCR         OCR
	Cache       *ocrcache.Cache
	OCRMinChars int
	// MarkdownPlainText strips Markdown syntax before indexing.
	MarkdownPlainText bool
}

// NewDefaultRegistry registers the built-in extractors for PDF, Word,
// Excel, Markdown and plain text.
func NewDefaultRegistry(opts Options) *Registry {
	r := NewRegistry()

	pdfx := NewPDFExtractor(PDFOptions{
		OCR:      opts.OCR,
		Cache:    opts.Cache,
		Root:     opts.Root,
		MinChars: opts.OCRMinChars,
	})
	r.Register(".pdf", pdfx)

	docx := NewDocxExtractor()
	r.Register(".docx", docx)
	r.Register(".docm", docx)

	xlsx := NewXlsxExtractor()
	r.Register(".xlsx", xlsx)
	r.Register(".xlsm", xlsx)

	txt := NewTextExtractor(opts.MarkdownPlainText)
	r.Register(".md", txt)
	r.Register(".txt", txt)

	return r
}
