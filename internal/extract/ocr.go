package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrOCRToolNotFound is returned when pdftoppm or tesseract is not installed.
var ErrOCRToolNotFound = errors.New("pdftoppm and tesseract are required for OCR")

// OCR recognizes the text of one rendered PDF page. Pages are 1-based.
type OCR interface {
	RecognizePage(ctx context.Context, pdfPath string, page int) (string, error)
}

// CommandRunner executes external commands.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes the command and returns its stdout.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// TesseractOCR renders a page with pdftoppm and recognizes it with tesseract.
type TesseractOCR struct {
	runner CommandRunner
	lang   string
	dpi    int
}

// NewTesseractOCR creates an OCR engine using the system tools.
func NewTesseractOCR(lang string, dpi int) *TesseractOCR {
	return NewTesseractOCRWithRunner(ExecRunner{}, lang, dpi)
}

// NewTesseractOCRWithRunner creates an OCR engine with a custom command runner.
func NewTesseractOCRWithRunner(runner CommandRunner, lang string, dpi int) *TesseractOCR {
	if lang == "" {
		lang = "eng"
	}
	if dpi <= 0 {
		dpi = 300
	}
	return &TesseractOCR{runner: runner, lang: lang, dpi: dpi}
}

// CheckTools verifies the OCR binaries are on PATH.
func CheckTools() error {
	for _, tool := range []string{"pdftoppm", "tesseract"} {
		if _, err := exec.LookPath(tool); err != nil {
			return fmt.Errorf("%w: %s not found", ErrOCRToolNotFound, tool)
		}
	}
	return nil
}

// RecognizePage renders page to a temporary PNG and returns the recognized text.
func (o *TesseractOCR) RecognizePage(ctx context.Context, pdfPath string, page int) (string, error) {
	dir, err := os.MkdirTemp("", "docsync-ocr-")
	if err != nil {
		return "", fmt.Errorf("creating render directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(dir)
	}()

	prefix := filepath.Join(dir, "page")
	n := strconv.Itoa(page)
	if _, err := o.runner.Run(ctx, "pdftoppm",
		"-f", n, "-l", n,
		"-r", strconv.Itoa(o.dpi),
		"-png", "-singlefile",
		pdfPath, prefix,
	); err != nil {
		return "", fmt.Errorf("rendering page %d: %w", page, err)
	}

	out, err := o.runner.Run(ctx, "tesseract", prefix+".png", "stdout", "-l", o.lang)
	if err != nil {
		return "", fmt.Errorf("recognizing page %d: %w", page, err)
	}
	return strings.TrimSpace(string(out)), nil
}
