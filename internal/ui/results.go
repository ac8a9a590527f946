package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/Aman-CERP/nexus/internal/search"
	"github.com/Aman-CERP/nexus/internal/state"
	"github.com/Aman-CERP/nexus/internal/store"
)

// ResultsRenderer prints search responses and explain output.
type ResultsRenderer struct {
	out    io.Writer
	styles Styles
}

// NewResultsRenderer creates a results renderer.
func NewResultsRenderer(out io.Writer, noColor bool) *ResultsRenderer {
	return &ResultsRenderer{out: out, styles: GetStyles(noColor)}
}

// Render writes one numbered entry per result, warnings first.
func (r *ResultsRenderer) Render(resp *search.Response) error {
	var b strings.Builder
	for _, w := range resp.Warnings {
		b.WriteString(r.styles.Warning.Render("warning: "+w) + "\n")
	}
	if len(resp.Results) == 0 {
		b.WriteString(r.styles.Label.Render(fmt.Sprintf("No results for %q (%s)", resp.Query, resp.Mode)) + "\n")
		_, err := io.WriteString(r.out, b.String())
		return err
	}

	for i, res := range resp.Results {
		loc := res.FilePath
		if res.Page > 0 {
			loc += fmt.Sprintf(" p.%d", res.Page)
		}
		fmt.Fprintf(&b, "%2d. %s %s\n", i+1,
			r.styles.Path.Render(loc),
			r.styles.Score.Render(fmt.Sprintf("[%s %.4f #%d]", res.Source, res.Score, res.ChunkIndex)))
		if res.Snippet != "" {
			b.WriteString("    " + oneLine(res.Snippet) + "\n")
		}
	}
	_, err := io.WriteString(r.out, b.String())
	return err
}

// RenderJSON outputs the response as JSON.
func (r *ResultsRenderer) RenderJSON(resp *search.Response) error {
	return writeJSON(r.out, resp)
}

// ExplainInfo is what the explain command shows for one document.
type ExplainInfo struct {
	Record *state.FileRecord `json:"record,omitempty"`
	Chunks []store.Hit       `json:"chunks"`
}

// RenderExplain writes a document's record and its stored chunks.
func (r *ResultsRenderer) RenderExplain(info ExplainInfo) error {
	var b strings.Builder
	if rec := info.Record; rec != nil {
		b.WriteString(r.styles.Header.Render(rec.Path) + "\n")
		fmt.Fprintf(&b, "  %s %s\n", r.styles.Label.Render("doc_id:     "), rec.DocID)
		fmt.Fprintf(&b, "  %s %s\n", r.styles.Label.Render("fingerprint:"), rec.Fingerprint)
		fmt.Fprintf(&b, "  %s %s\n", r.styles.Label.Render("size:       "), FormatBytes(rec.Size))
		fmt.Fprintf(&b, "  %s %d\n", r.styles.Label.Render("chunks:     "), rec.ChunkCount)
		fmt.Fprintf(&b, "  %s %s\n", r.styles.Label.Render("indexed at: "), rec.IndexedAt.Format("2006-01-02 15:04:05"))
	}
	for _, c := range info.Chunks {
		head := fmt.Sprintf("chunk %d", c.ChunkIndex)
		if c.Page > 0 {
			head += fmt.Sprintf(" (page %d)", c.Page)
		}
		b.WriteString("\n" + r.styles.Value.Render(head) + "\n")
		b.WriteString(r.styles.Dim.Render(c.Snippet) + "\n")
	}
	_, err := io.WriteString(r.out, b.String())
	return err
}

// RenderExplainJSON outputs explain data as JSON.
func (r *ResultsRenderer) RenderExplainJSON(info ExplainInfo) error {
	return writeJSON(r.out, info)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
