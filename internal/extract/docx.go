package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
)

const wordDocumentPart = "word/document.xml"

// DocxExtractor reads Word Open XML documents (.docx, .docm).
// Paragraphs are grouped into pages at explicit or last-rendered page breaks;
// each page becomes one Page with its paragraphs joined by newlines.
type DocxExtractor struct{}

// NewDocxExtractor creates a Word extractor.
func NewDocxExtractor() *DocxExtractor {
	return &DocxExtractor{}
}

// Pages implements Extractor.
func (e *DocxExtractor) Pages(ctx context.Context, absPath string) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		zr, err := zip.OpenReader(absPath)
		if err != nil {
			yield(Page{}, fmt.Errorf("opening docx: %w", err))
			return
		}
		defer func() {
			_ = zr.Close()
		}()

		var part *zip.File
		for _, f := range zr.File {
			if f.Name == wordDocumentPart {
				part = f
				break
			}
		}
		if part == nil {
			yield(Page{}, fmt.Errorf("opening docx: %s not found", wordDocumentPart))
			return
		}

		rc, err := part.Open()
		if err != nil {
			yield(Page{}, fmt.Errorf("opening %s: %w", wordDocumentPart, err))
			return
		}
		defer func() {
			_ = rc.Close()
		}()

		for page, err := range wordPages(ctx, rc) {
			if !yield(page, err) || err != nil {
				return
			}
		}
	}
}

// wordPages streams document.xml and yields non-empty pages.
func wordPages(ctx context.Context, r io.Reader) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		dec := xml.NewDecoder(r)

		var (
			index  int
			paras  []string
			para   strings.Builder
			inText bool
		)

		flushPara := func() {
			if text := strings.TrimSpace(para.String()); text != "" {
				paras = append(paras, text)
			}
			para.Reset()
		}
		// emit closes the current page; it returns false when the consumer stopped.
		emit := func() bool {
			text := strings.Join(paras, "\n")
			paras = paras[:0]
			p := Page{Index: index, Text: text}
			index++
			if text == "" {
				return true
			}
			return yield(p, nil)
		}

		for {
			if err := ctx.Err(); err != nil {
				yield(Page{}, err)
				return
			}
			tok, err := dec.Token()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				yield(Page{}, fmt.Errorf("parsing %s: %w", wordDocumentPart, err))
				return
			}

			switch t := tok.(type) {
			case xml.StartElement:
				switch t.Name.Local {
				case "t":
					inText = true
				case "tab":
					para.WriteByte(' ')
				case "br", "cr":
					if t.Name.Local == "br" && attr(t, "type") == "page" {
						if !breakPage(para.String(), paras, flushPara, emit) {
							return
						}
					} else {
						para.WriteByte('\n')
					}
				case "lastRenderedPageBreak":
					if !breakPage(para.String(), paras, flushPara, emit) {
						return
					}
				}
			case xml.EndElement:
				switch t.Name.Local {
				case "t":
					inText = false
				case "p":
					flushPara()
				}
			case xml.CharData:
				if inText {
					para.Write(t)
				}
			}
		}

		flushPara()
		emit()
	}
}

// breakPage starts a new page unless nothing has been collected since the last
// break, so a hard break followed by its rendered marker counts once.
func breakPage(pending string, paras []string, flushPara func(), emit func() bool) bool {
	if strings.TrimSpace(pending) == "" && len(paras) == 0 {
		return true
	}
	flushPara()
	return emit()
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
