package extract

import (
	"context"
)

// Type is the extraction route chosen for a file.
type Type string

const (
	TypeText    Type = "text"
	TypeHTML    Type = "html"
	TypeDOCX    Type = "docx"
	TypePDF     Type = "pdf"
	TypeImage   Type = "image"
	TypeUnknown Type = "unknown"
)

// Document is the result of opening a file for extraction. Exactly one of
// Text or Pages is meaningful: simple formats fill Text, paginated formats
// set Pages and leave Text empty.
type Document struct {
	Path  string
	Type  Type
	MIME  string
	Text  string
	Pages Paged
}

// IsPaged reports whether the document yields text page by page.
func (d *Document) IsPaged() bool {
	return d.Pages != nil
}

// Close releases the page source, if any.
func (d *Document) Close() error {
	if d.Pages == nil {
		return nil
	}
	return d.Pages.Close()
}

// Paged is a lazy, restartable sequence of page texts. Pages are indexed
// from 0 and may be requested in any order; callers resume from a
// checkpoint by starting at the next index.
type Paged interface {
	PageCount() int
	Page(ctx context.Context, i int) (string, error)
	Close() error
}
