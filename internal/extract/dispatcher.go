package extract

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
)

var errBinary = errors.New("binary content")

// Dispatcher routes files to the extractor for their type.
type Dispatcher struct {
	ocr     OCR
	openPDF func(path string) (pageSource, error)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithOCR sets the OCR engine used for images and text-less PDF pages.
func WithOCR(o OCR) Option {
	return func(d *Dispatcher) {
		if o != nil {
			d.ocr = o
		}
	}
}

// NewDispatcher creates a Dispatcher. Without WithOCR, image files are
// unsupported and PDF pages without a text layer come back empty.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		ocr: NoOCR{},
		openPDF: func(path string) (pageSource, error) {
			return openPDF(path)
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open extracts path. Paginated formats return a Document with Pages set;
// the caller must Close it. Unsupported content fails with an error
// matching ErrUnsupportedType, anything else with ErrExtraction.
func (d *Dispatcher) Open(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	typ, mime, err := DetectType(path)
	if err != nil {
		return nil, nexuserrors.ExtractionError(path, err)
	}
	doc := &Document{Path: path, Type: typ, MIME: mime}

	switch typ {
	case TypeText:
		text, err := readText(path)
		if errors.Is(err, errBinary) {
			return nil, unsupported(path, "binary content")
		}
		if err != nil {
			return nil, nexuserrors.ExtractionError(path, err)
		}
		doc.Text = text

	case TypeHTML:
		raw, err := readText(path)
		if err != nil {
			return nil, nexuserrors.ExtractionError(path, err)
		}
		doc.Text = stripHTML(raw)

	case TypeDOCX:
		text, err := readDOCX(path)
		if err != nil {
			return nil, nexuserrors.ExtractionError(path, err)
		}
		doc.Text = text

	case TypePDF:
		src, err := d.openPDF(path)
		if err != nil {
			return nil, nexuserrors.ExtractionError(path, err)
		}
		doc.Pages = newPDFPages(path, src, d.ocr)

	case TypeImage:
		text, err := d.ocr.RecognizeImage(ctx, path)
		if errors.Is(err, nexuserrors.ErrOCRUnavailable) {
			return nil, unsupported(path, "image without OCR engine")
		}
		if err != nil {
			return nil, nexuserrors.ExtractionError(path, err)
		}
		doc.Text = text

	default:
		return nil, unsupported(path, mime)
	}

	slog.Debug("file_extracted",
		slog.String("path", path),
		slog.String("type", string(typ)),
		slog.Bool("paged", doc.IsPaged()))
	return doc, nil
}

func unsupported(path, what string) error {
	what = strings.TrimSpace(what)
	if what == "" {
		what = "unknown type"
	}
	return nexuserrors.New(nexuserrors.ErrCodeUnsupportedType, "unsupported file type: "+what, nil).
		WithDetail("path", path)
}
