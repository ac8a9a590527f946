package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
)

// OCR recognizes text in raster inputs.
type OCR interface {
	// RecognizeImage returns the text found in an image file.
	RecognizeImage(ctx context.Context, path string) (string, error)
	// RecognizePDFPage rasterizes page i (0-based) of a PDF and recognizes it.
	RecognizePDFPage(ctx context.Context, path string, i int) (string, error)
}

// NoOCR is used when OCR is disabled. Every call fails with ErrOCRUnavailable.
type NoOCR struct{}

func (NoOCR) RecognizeImage(context.Context, string) (string, error) {
	return "", ocrUnavailable("ocr disabled")
}

func (NoOCR) RecognizePDFPage(context.Context, string, int) (string, error) {
	return "", ocrUnavailable("ocr disabled")
}

// CommandOCR shells out to tesseract, and to pdftoppm for PDF pages.
type CommandOCR struct {
	Tesseract string // Binary name or path (default "tesseract")
	PDFToPPM  string // Binary name or path (default "pdftoppm")
	Language  string // tesseract -l value (default "eng")

	lookPath func(string) (string, error)
}

// NewCommandOCR returns a CommandOCR with default binaries.
func NewCommandOCR() *CommandOCR {
	return &CommandOCR{Tesseract: "tesseract", PDFToPPM: "pdftoppm", Language: "eng"}
}

// Available reports whether tesseract can be found.
func (c *CommandOCR) Available() bool {
	_, err := c.find(c.Tesseract)
	return err == nil
}

// RecognizeImage runs tesseract on the image and returns stdout.
func (c *CommandOCR) RecognizeImage(ctx context.Context, path string) (string, error) {
	bin, err := c.find(c.Tesseract)
	if err != nil {
		return "", err
	}
	lang := c.Language
	if lang == "" {
		lang = "eng"
	}
	out, err := run(ctx, bin, path, "stdout", "-l", lang)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// RecognizePDFPage renders one page to PNG in a temp dir, then OCRs it.
func (c *CommandOCR) RecognizePDFPage(ctx context.Context, path string, i int) (string, error) {
	bin, err := c.find(c.PDFToPPM)
	if err != nil {
		return "", err
	}
	dir, err := os.MkdirTemp("", "nexus-ocr-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	page := strconv.Itoa(i + 1)
	prefix := filepath.Join(dir, "page")
	if _, err := run(ctx, bin, "-f", page, "-l", page, "-r", "300", "-png", "-singlefile", path, prefix); err != nil {
		return "", fmt.Errorf("pdftoppm: %w", err)
	}
	return c.RecognizeImage(ctx, prefix+".png")
}

func (c *CommandOCR) find(name string) (string, error) {
	look := c.lookPath
	if look == nil {
		look = exec.LookPath
	}
	p, err := look(name)
	if err != nil {
		return "", ocrUnavailable(name + " not found in PATH")
	}
	return p, nil
}

func run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

func ocrUnavailable(msg string) error {
	return nexuserrors.New(nexuserrors.ErrCodeOCRUnavailable, msg, nil).
		WithSuggestion("install tesseract and poppler-utils to index scanned documents")
}
