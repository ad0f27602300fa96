package extract

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"docsync/internal/contextutil"
	"docsync/internal/ocrcache"
)

// DefaultOCRMinChars is the page text length below which OCR is attempted.
const DefaultOCRMinChars = 10

// pdfDocument is the subset of a PDF reader the extractor needs. Pages are 1-based.
type pdfDocument interface {
	NumPage() int
	PageText(page int) (string, error)
	Close() error
}

type pdfOpener func(path string) (pdfDocument, error)

// PDFExtractor yields one Page per PDF page, falling back to OCR for pages
// without a usable text layer.
type PDFExtractor struct {
	open     pdfOpener
	ocr      OCR
	cache    *ocrcache.Cache
	root     string
	minChars int
}

// PDFOptions configures a PDFExtractor.
type PDFOptions struct {
	// OCR is used for pages below MinChars. Nil disables the fallback.
	OCR OCR
	// Cache stores OCR results. Nil disables caching.
	Cache *ocrcache.Cache
	// Root is the watched root; cache entries are keyed by the path relative to it.
	Root     string
	MinChars int
}

// NewPDFExtractor creates a PDF extractor backed by github.com/ledongthuc/pdf.
func NewPDFExtractor(opts PDFOptions) *PDFExtractor {
	return newPDFExtractor(openLedongthuc, opts)
}

func newPDFExtractor(open pdfOpener, opts PDFOptions) *PDFExtractor {
	minChars := opts.MinChars
	if minChars <= 0 {
		minChars = DefaultOCRMinChars
	}
	return &PDFExtractor{
		open:     open,
		ocr:      opts.OCR,
		cache:    opts.Cache,
		root:     opts.Root,
		minChars: minChars,
	}
}

// Pages implements Extractor.
func (e *PDFExtractor) Pages(ctx context.Context, absPath string) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		logger := contextutil.LoggerFromContext(ctx)

		doc, err := e.open(absPath)
		if err != nil {
			yield(Page{}, fmt.Errorf("opening pdf: %w", err))
			return
		}
		defer func() {
			_ = doc.Close()
		}()

		cacheChecked := false
		for n := 1; n <= doc.NumPage(); n++ {
			if err := ctx.Err(); err != nil {
				yield(Page{}, err)
				return
			}

			text, err := doc.PageText(n)
			if err != nil {
				logger.WarnContext(ctx, "pdf page text extraction failed", "page", n, "error", err)
				text = ""
			}
			text = strings.TrimSpace(text)

			page := Page{Index: n - 1, Text: text}
			if utf8.RuneCountInString(text) < e.minChars && e.ocr != nil {
				if !cacheChecked {
					e.validateCache(ctx, absPath)
					cacheChecked = true
				}
				if recognized, ok := e.recognize(ctx, absPath, n); ok {
					page.Text = recognized
					page.OCRUsed = true
				} else {
					page.OCRFailed = true
				}
			}

			if page.Text == "" && !page.OCRFailed {
				logger.DebugContext(ctx, "skipping empty pdf page", "page", n)
				continue
			}
			if !yield(page, nil) {
				return
			}
		}
	}
}

// validateCache drops cached OCR pages written for an older version of the file.
func (e *PDFExtractor) validateCache(ctx context.Context, absPath string) {
	if e.cache == nil {
		return
	}
	info, err := os.Stat(absPath)
	if err == nil {
		err = e.cache.Validate(e.relPath(ctx, absPath), info)
	}
	if err != nil {
		contextutil.LoggerFromContext(ctx).WarnContext(ctx, "ocr cache validation failed", "error", err)
	}
}

// recognize returns OCR text for a page, consulting the cache first.
// Failures are logged and not cached so the page is retried on the next run.
func (e *PDFExtractor) recognize(ctx context.Context, absPath string, page int) (string, bool) {
	logger := contextutil.LoggerFromContext(ctx)
	rel := e.relPath(ctx, absPath)

	if e.cache != nil {
		text, ok, err := e.cache.Get(rel, page)
		if err != nil {
			logger.WarnContext(ctx, "ocr cache read failed", "page", page, "error", err)
		} else if ok {
			logger.DebugContext(ctx, "ocr cache hit", "page", page)
			return text, true
		}
	}

	text, err := e.ocr.RecognizePage(ctx, absPath, page)
	if err != nil {
		logger.ErrorContext(ctx, "ocr failed", "stage", "ocr", "page", page, "error", err)
		return "", false
	}

	if e.cache != nil {
		if err := e.cache.Put(rel, page, text); err != nil {
			logger.WarnContext(ctx, "ocr cache write failed", "page", page, "error", err)
		}
	}
	return text, true
}

// relPath returns the OCR cache key for absPath: the document key carried by
// ctx when set, otherwise the path relative to the configured root.
func (e *PDFExtractor) relPath(ctx context.Context, absPath string) string {
	if key, ok := DocumentKey(ctx); ok {
		return key
	}
	if e.root != "" {
		if rel, err := filepath.Rel(e.root, absPath); err == nil {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(filepath.Base(absPath))
}

// ledongthucDoc adapts github.com/ledongthuc/pdf to pdfDocument.
type ledongthucDoc struct {
	f *os.File
	r *pdf.Reader
}

func openLedongthuc(path string) (doc pdfDocument, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	return &ledongthucDoc{f: f, r: r}, nil
}

func (d *ledongthucDoc) NumPage() int {
	return d.r.NumPage()
}

// PageText recovers from parser panics on malformed content streams.
func (d *ledongthucDoc) PageText(page int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed page %d: %v", page, r)
		}
	}()
	p := d.r.Page(page)
	if p.V.IsNull() {
		return "", nil
	}
	return p.GetPlainText(nil)
}

func (d *ledongthucDoc) Close() error {
	return d.f.Close()
}
