package extract

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	gmtext "github.com/yuin/goldmark/text"
	"golang.org/x/text/encoding/unicode"
)

// TextExtractor reads plain text and Markdown files as a single Page.
// Invalid UTF-8 is replaced and a leading byte order mark is dropped.
type TextExtractor struct {
	plain  bool
	parser goldmark.Markdown
}

// NewTextExtractor creates a text extractor. With plainMarkdown set, Markdown
// is rendered to plain text (syntax removed) before indexing.
func NewTextExtractor(plainMarkdown bool) *TextExtractor {
	e := &TextExtractor{plain: plainMarkdown}
	if plainMarkdown {
		e.parser = goldmark.New(goldmark.WithExtensions(extension.Table))
	}
	return e
}

// Pages implements Extractor.
func (e *TextExtractor) Pages(_ context.Context, absPath string) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		raw, err := os.ReadFile(absPath)
		if err != nil {
			yield(Page{}, fmt.Errorf("reading file: %w", err))
			return
		}

		content, err := decodeUTF8(raw)
		if err != nil {
			yield(Page{}, fmt.Errorf("decoding file: %w", err))
			return
		}

		if e.plain && strings.EqualFold(filepath.Ext(absPath), ".md") {
			content = e.markdownToText([]byte(content))
		}

		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		yield(Page{Index: 0, Text: content}, nil)
	}
}

// decodeUTF8 strips a UTF-8 BOM and replaces invalid sequences with U+FFFD.
func decodeUTF8(raw []byte) (string, error) {
	out, err := unicode.UTF8BOM.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(out), "\uFFFD"), nil
}

// markdownToText walks the goldmark AST and keeps only readable text:
// headings, paragraphs, list items, code and table rows become lines.
func (e *TextExtractor) markdownToText(content []byte) string {
	doc := e.parser.Parser().Parse(gmtext.NewReader(content))

	var b strings.Builder
	newline := func() {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			switch n.(type) {
			case *ast.Heading, *ast.Paragraph, *ast.TextBlock:
				newline()
			}
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Heading, *ast.Paragraph, *ast.ListItem, *ast.Blockquote:
			newline()
		case *ast.Text:
			b.Write(node.Segment.Value(content))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(node.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			newline()
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				line := lines.At(i)
				b.Write(line.Value(content))
			}
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			b.Write(node.URL(content))
			return ast.WalkSkipChildren, nil
		case *east.TableHeader, *east.TableRow:
			newline()
			b.WriteString(tableRowText(n, content))
			b.WriteByte('\n')
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	return b.String()
}

// tableRowText formats a table row as pipe-separated cell text.
func tableRowText(row ast.Node, content []byte) string {
	var cells []string
	for c := row.FirstChild(); c != nil; c = c.NextSibling() {
		cells = append(cells, strings.TrimSpace(nodeText(c, content)))
	}
	return strings.Join(cells, " | ")
}

func nodeText(n ast.Node, content []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := node.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(content))
		case *ast.String:
			b.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}
