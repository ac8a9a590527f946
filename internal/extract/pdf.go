package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
)

// pageSource reads the text layer of one page. Implemented by the PDF
// reader and by test fakes.
type pageSource interface {
	NumPage() int
	PageText(i int) (string, error)
	Close() error
}

// pdfFile adapts ledongthuc/pdf to pageSource.
type pdfFile struct {
	f *os.File
	r *pdf.Reader
}

func openPDF(path string) (_ *pdfFile, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("open pdf: malformed file: %v", r)
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return &pdfFile{f: f, r: r}, nil
}

func (p *pdfFile) NumPage() int {
	return p.r.NumPage()
}

// PageText returns the plain text of page i (0-based). The parser panics on
// some malformed content streams, so panics become errors.
func (p *pdfFile) PageText(i int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf page %d: malformed content: %v", i+1, r)
		}
	}()
	page := p.r.Page(i + 1)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}

func (p *pdfFile) Close() error {
	return p.f.Close()
}

// pdfPages yields PDF pages, falling back to OCR for pages with no text layer.
type pdfPages struct {
	path string
	src  pageSource
	ocr  OCR

	mu     sync.Mutex
	closed bool
}

func newPDFPages(path string, src pageSource, ocr OCR) *pdfPages {
	if ocr == nil {
		ocr = NoOCR{}
	}
	return &pdfPages{path: path, src: src, ocr: ocr}
}

func (p *pdfPages) PageCount() int {
	return p.src.NumPage()
}

func (p *pdfPages) Page(ctx context.Context, i int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", fmt.Errorf("pdf %s is closed", p.path)
	}
	if i < 0 || i >= p.src.NumPage() {
		return "", fmt.Errorf("page %d out of range [0,%d)", i, p.src.NumPage())
	}

	text, err := p.src.PageText(i)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) != "" {
		return text, nil
	}

	ocrText, err := p.ocr.RecognizePDFPage(ctx, p.path, i)
	if err != nil {
		// A page without text and without OCR is empty, not a failure.
		slog.Debug("pdf_page_ocr_failed",
			slog.String("path", p.path),
			slog.Int("page", i),
			slog.String("error", err.Error()))
		return "", nil
	}
	return ocrText, nil
}

func (p *pdfPages) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.src.Close()
}
