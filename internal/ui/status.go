package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// StatusInfo describes a store for display.
type StatusInfo struct {
	StorePath        string    `json:"store_path"`
	TrackedFiles     int       `json:"tracked_files"`
	VectorEmbeddings int       `json:"vector_embeddings"`
	LexicalDocuments int       `json:"lexical_documents"`
	LexicalBackend   string    `json:"lexical_backend"`
	EmbeddingModel   string    `json:"embedding_model"`
	Dimensions       int       `json:"dimensions"`
	StoreBytes       int64     `json:"store_bytes"`
	LastIndexed      time.Time `json:"last_indexed,omitzero"`
}

type statusRow struct {
	label string
	value string
}

// StatusRenderer displays store status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render writes status as labelled lines.
func (r *StatusRenderer) Render(info StatusInfo) error {
	rows := []statusRow{
		{"Tracked files", fmt.Sprintf("%d", info.TrackedFiles)},
		{"Vector entries", fmt.Sprintf("%d", info.VectorEmbeddings)},
		{"Lexical entries", fmt.Sprintf("%d", info.LexicalDocuments)},
		{"Lexical backend", info.LexicalBackend},
		{"Embedding model", fmt.Sprintf("%s (%d dims)", info.EmbeddingModel, info.Dimensions)},
		{"Store size", FormatBytes(info.StoreBytes)},
	}
	if !info.LastIndexed.IsZero() {
		rows = append(rows, statusRow{"Last indexed", formatTime(info.LastIndexed, time.Now())})
	}

	if _, err := fmt.Fprintf(r.out, "%s\n", r.styles.Header.Render("Store: "+info.StorePath)); err != nil {
		return err
	}
	for _, row := range rows {
		label := row.label + ":"
		pad := strings.Repeat(" ", max(16-len(label), 0))
		if _, err := fmt.Fprintf(r.out, "  %s%s %s\n",
			r.styles.Label.Render(label), pad, r.styles.Value.Render(row.value)); err != nil {
			return err
		}
	}
	if info.VectorEmbeddings != info.LexicalDocuments {
		_, err := fmt.Fprintln(r.out, r.styles.Warning.Render("  vector and lexical entry counts differ; re-run index to repair"))
		return err
	}
	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	return writeJSON(r.out, info)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatTime formats t relative to now.
func formatTime(t, now time.Time) string {
	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day") + " ago"
	default:
		return t.Format("2006-01-02 15:04")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
