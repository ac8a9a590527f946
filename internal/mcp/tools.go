package mcp

import (
	"github.com/Aman-CERP/nexus/internal/index"
	"github.com/Aman-CERP/nexus/internal/search"
)

// DefaultSearchLimit is used when a search call sets no limit.
const DefaultSearchLimit = 10

// MaxSearchLimit caps the limit a client may request.
const MaxSearchLimit = 100

// IndexDirectoryInput defines the input schema for the index_directory tool.
type IndexDirectoryInput struct {
	Path        string `json:"path" jsonschema:"directory or file to index"`
	GPU         bool   `json:"gpu,omitempty" jsonschema:"ask the embedding server to run on the GPU"`
	MaxFileMB   int    `json:"max_file_mb,omitempty" jsonschema:"skip files larger than this many MiB, default from config"`
	MaxMemoryMB *int   `json:"max_memory_mb,omitempty" jsonschema:"resident memory ceiling in MiB, default 75% of system memory"`
}

// IndexDirectoryOutput defines the output schema for the index_directory tool.
type IndexDirectoryOutput struct {
	FilesIndexed     int               `json:"files_indexed"`
	FilesSkipped     int               `json:"files_skipped"`
	FilesUnchanged   int               `json:"files_unchanged"`
	FilesRemoved     int               `json:"files_removed"`
	ChunksIndexed    int               `json:"chunks_indexed"`
	EmbeddingsStored int               `json:"embeddings_stored"`
	Errors           []index.FileError `json:"errors,omitempty"`
	DurationMS       int64             `json:"duration_ms"`
}

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"the search query to execute"`
	Mode  string `json:"mode,omitempty" jsonschema:"semantic, lexical or hybrid, default hybrid"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Query    string          `json:"query"`
	Mode     string          `json:"mode"`
	Results  []search.Result `json:"results"`
	Warnings []string        `json:"warnings,omitempty"`
}

// StatusInput defines the input schema for the get_status tool (no parameters).
type StatusInput struct{}

// StatusOutput defines the output schema for the get_status tool.
type StatusOutput struct {
	StorePath        string `json:"store_path"`
	TrackedFiles     int    `json:"tracked_files"`
	VectorEmbeddings int    `json:"vector_embeddings"`
	LexicalDocuments int    `json:"lexical_documents"`
	LexicalBackend   string `json:"lexical_backend"`
	EmbeddingModel   string `json:"embedding_model"`
	Dimensions       int    `json:"dimensions"`
	Consistent       bool   `json:"consistent" jsonschema:"true when vector and lexical entry counts agree"`
}

func progressOutput(p *index.IndexProgress) IndexDirectoryOutput {
	if p == nil {
		return IndexDirectoryOutput{}
	}
	return IndexDirectoryOutput{
		FilesIndexed:     p.FilesIndexed,
		FilesSkipped:     p.FilesSkipped,
		FilesUnchanged:   p.FilesUnchanged,
		FilesRemoved:     p.FilesRemoved,
		ChunksIndexed:    p.ChunksIndexed,
		EmbeddingsStored: p.EmbeddingsStored,
		Errors:           p.Errors,
		DurationMS:       p.Duration.Milliseconds(),
	}
}
