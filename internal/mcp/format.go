package mcp

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Aman-CERP/nexus/internal/index"
	"github.com/Aman-CERP/nexus/internal/search"
	"github.com/Aman-CERP/nexus/internal/store"
)

// FormatSearchResults formats a search response as markdown.
func FormatSearchResults(resp *search.Response) string {
	if resp == nil {
		return "No results"
	}

	var sb strings.Builder
	for _, w := range resp.Warnings {
		fmt.Fprintf(&sb, "> **Warning:** %s\n\n", w)
	}
	if len(resp.Results) == 0 {
		fmt.Fprintf(&sb, "No results found for \"%s\" (%s)", resp.Query, resp.Mode)
		return sb.String()
	}

	fmt.Fprintf(&sb, "## Search Results for \"%s\"\n\n", resp.Query)
	fmt.Fprintf(&sb, "Found %d result", len(resp.Results))
	if len(resp.Results) != 1 {
		sb.WriteString("s")
	}
	fmt.Fprintf(&sb, " (%s)\n\n", resp.Mode)

	for i, r := range resp.Results {
		formatResult(&sb, i+1, r)
	}
	return sb.String()
}

func formatResult(sb *strings.Builder, n int, r search.Result) {
	fmt.Fprintf(sb, "### %d. %s", n, filepath.Base(r.FilePath))
	if r.Page > 0 {
		fmt.Fprintf(sb, " (page %d)", r.Page)
	}
	sb.WriteString("\n\n")
	fmt.Fprintf(sb, "**Path:** `%s` | **Score:** %.4f | **Source:** %s | **Chunk:** %d\n\n",
		r.FilePath, r.Score, r.Source, r.ChunkIndex)
	fmt.Fprintf(sb, "**Document:** `%s`\n\n", documentURI(r.DocID))
	if r.Snippet != "" {
		sb.WriteString("```\n")
		sb.WriteString(strings.TrimRight(r.Snippet, "\n"))
		sb.WriteString("\n```\n\n")
	}
}

// FormatIndexProgress summarizes an indexing run as markdown.
func FormatIndexProgress(path string, p *index.IndexProgress) string {
	if p == nil {
		return fmt.Sprintf("Indexing of `%s` finished", path)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Indexed `%s`\n\n", path)
	fmt.Fprintf(&sb, "- Files indexed: %d\n", p.FilesIndexed)
	fmt.Fprintf(&sb, "- Files unchanged: %d\n", p.FilesUnchanged)
	fmt.Fprintf(&sb, "- Files skipped: %d\n", p.FilesSkipped)
	if p.FilesRemoved > 0 {
		fmt.Fprintf(&sb, "- Files removed: %d\n", p.FilesRemoved)
	}
	fmt.Fprintf(&sb, "- Chunks indexed: %d\n", p.ChunksIndexed)
	fmt.Fprintf(&sb, "- Duration: %s\n", p.Duration.Round(time.Millisecond))

	if len(p.Errors) > 0 {
		fmt.Fprintf(&sb, "\n### Errors (%d)\n\n", len(p.Errors))
		for _, e := range p.Errors {
			fmt.Fprintf(&sb, "- `%s` %s: %s\n", e.Path, e.Kind, e.Message)
		}
	}
	return sb.String()
}

// formatDocument renders the stored chunks of a document in order.
func formatDocument(chunks []store.Hit) string {
	var sb strings.Builder
	for i, c := range chunks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		if c.Page > 0 {
			fmt.Fprintf(&sb, "[page %d, chunk %d]\n", c.Page, c.ChunkIndex)
		} else {
			fmt.Fprintf(&sb, "[chunk %d]\n", c.ChunkIndex)
		}
		sb.WriteString(c.Snippet)
	}
	return sb.String()
}
