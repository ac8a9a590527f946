package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Persisted file names under the store root.
const (
	VectorFileName = "vectors.hnsw"
	BleveDirName   = "lexical.bleve"
	SQLiteFileName = "lexical.db"
)

// Entry is one chunk of a document as written to a store.
type Entry struct {
	DocID      string
	ChunkIndex int
	FilePath   string
	Page       int
	Text       string
	Vector     []float32 // Only used by the vector store
}

// Key returns the entry's identity within a store.
func (e Entry) Key() string {
	return EntryKey(e.DocID, e.ChunkIndex)
}

// Hit is a ranked search result.
type Hit struct {
	DocID      string  `json:"doc_id"`
	ChunkIndex int     `json:"chunk_index"`
	FilePath   string  `json:"file_path"`
	Page       int     `json:"page"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet"`
}

// EntryKey joins a doc_id and chunk index into a store key.
func EntryKey(docID string, chunkIndex int) string {
	return docID + "#" + strconv.Itoa(chunkIndex)
}

// ParseEntryKey splits a key built by EntryKey.
func ParseEntryKey(key string) (docID string, chunkIndex int, err error) {
	i := strings.LastIndexByte(key, '#')
	if i < 0 {
		return "", 0, fmt.Errorf("malformed entry key %q", key)
	}
	n, err := strconv.Atoi(key[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed entry key %q: %w", key, err)
	}
	return key[:i], n, nil
}

// VectorStore is an approximate nearest-neighbour index over chunk
// embeddings.
type VectorStore interface {
	// Upsert writes entries for docID. An entry with the same
	// (doc_id, chunk_index) replaces the existing one; other entries of the
	// document are left alone.
	Upsert(ctx context.Context, docID string, entries []Entry) error

	// Delete removes every entry of docID. Unknown ids are a no-op.
	Delete(ctx context.Context, docID string) error

	// Search returns up to k entries nearest to vector, best first.
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)

	// Count returns the number of live entries.
	Count() int

	// DocCount returns the number of entries stored for docID.
	DocCount(docID string) int

	// Dimensions returns the vector width, 0 while empty and unconfigured.
	Dimensions() int

	Save(path string) error
	Load(path string) error
	Close() error
}

// LexicalStore is a BM25 full-text index over chunk text.
type LexicalStore interface {
	// Upsert writes entries for docID with the same replacement rule as
	// VectorStore.Upsert.
	Upsert(ctx context.Context, docID string, entries []Entry) error

	// Delete removes every entry of docID. Unknown ids are a no-op.
	Delete(ctx context.Context, docID string) error

	// Search returns up to k entries matching query, best first. Higher
	// scores are better.
	Search(ctx context.Context, query string, k int) ([]Hit, error)

	// Chunks returns the entries of docID ordered by chunk index.
	Chunks(ctx context.Context, docID string) ([]Hit, error)

	// Count returns the number of entries.
	Count() int

	Close() error
}
