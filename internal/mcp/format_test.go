package mcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/nexus/internal/index"
	"github.com/Aman-CERP/nexus/internal/search"
)

func TestFormatSearchResults_NoResults(t *testing.T) {
	got := FormatSearchResults(&search.Response{Query: "zebra", Mode: search.ModeLexical})

	assert.Equal(t, "No results found for \"zebra\" (lexical)", got)
}

func TestFormatSearchResults_Results(t *testing.T) {
	// Given: one paged result and one plain result
	resp := &search.Response{
		Query: "deposit",
		Mode:  search.ModeHybrid,
		Results: []search.Result{
			{DocID: "a", FilePath: "/d/report.pdf", Page: 3, Score: 2.0 / 61, Source: search.SourceBoth, Snippet: "the deposit\n"},
			{DocID: "b", ChunkIndex: 2, FilePath: "/d/notes.txt", Score: 1.0 / 62, Source: search.SourceLexical},
		},
	}

	// When: it is formatted
	got := FormatSearchResults(resp)

	// Then: each result gets a heading, metadata and snippet block
	assert.Contains(t, got, "Found 2 results (hybrid)")
	assert.Contains(t, got, "### 1. report.pdf (page 3)")
	assert.Contains(t, got, "**Score:** 0.0328 | **Source:** both | **Chunk:** 0")
	assert.Contains(t, got, "```\nthe deposit\n```")
	assert.Contains(t, got, "### 2. notes.txt\n")
	assert.Contains(t, got, "`nexus://documents/b`")
}

func TestFormatSearchResults_Nil(t *testing.T) {
	assert.Equal(t, "No results", FormatSearchResults(nil))
}

func TestFormatIndexProgress(t *testing.T) {
	p := &index.IndexProgress{
		FilesIndexed:   3,
		FilesUnchanged: 1,
		FilesRemoved:   2,
		ChunksIndexed:  9,
		Duration:       1234567 * time.Microsecond,
		Errors:         []index.FileError{{Path: "/d/x.pdf", Kind: "ExtractionError", Message: "bad"}},
	}

	got := FormatIndexProgress("/d", p)

	assert.Contains(t, got, "## Indexed `/d`")
	assert.Contains(t, got, "- Files indexed: 3\n")
	assert.Contains(t, got, "- Files removed: 2\n")
	assert.Contains(t, got, "- Duration: 1.235s\n")
	assert.Contains(t, got, "- `/d/x.pdf` ExtractionError: bad")
}

func TestFormatIndexProgress_Nil(t *testing.T) {
	assert.Equal(t, "Indexing of `/d` finished", FormatIndexProgress("/d", nil))
}
