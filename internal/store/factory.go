package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LexicalBackend selects the LexicalStore implementation.
type LexicalBackend string

const (
	// BackendSQLite uses an SQLite FTS5 database (default). Several
	// handles, in one process or many, may open it at once.
	BackendSQLite LexicalBackend = "sqlite"

	// BackendBleve uses a bleve v2 index directory. Only one handle may
	// hold it open.
	BackendBleve LexicalBackend = "bleve"
)

// NewLexicalStore opens the lexical index of the given backend under root.
// An empty root opens an in-memory index.
func NewLexicalStore(root string, backend string) (LexicalStore, error) {
	switch LexicalBackend(strings.ToLower(backend)) {
	case BackendSQLite, "":
		return NewSQLiteStore(LexicalPath(root, BackendSQLite))
	case BackendBleve:
		return NewBleveStore(LexicalPath(root, BackendBleve))
	default:
		return nil, fmt.Errorf("unknown lexical backend: %s (valid options: bleve, sqlite)", backend)
	}
}

// ExistingBackend returns the backend whose index already exists under
// root. ok is false when neither or both exist.
func ExistingBackend(root string) (backend LexicalBackend, ok bool) {
	if root == "" {
		return "", false
	}
	_, sqliteErr := os.Stat(LexicalPath(root, BackendSQLite))
	_, bleveErr := os.Stat(LexicalPath(root, BackendBleve))
	switch {
	case sqliteErr == nil && bleveErr != nil:
		return BackendSQLite, true
	case bleveErr == nil && sqliteErr != nil:
		return BackendBleve, true
	default:
		return "", false
	}
}

// LexicalPath returns where backend keeps its index under root, "" for an
// empty root.
func LexicalPath(root string, backend LexicalBackend) string {
	if root == "" {
		return ""
	}
	if backend == BackendSQLite {
		return filepath.Join(root, SQLiteFileName)
	}
	return filepath.Join(root, BleveDirName)
}

// VectorPath returns the vector index file under root, "" for an empty root.
func VectorPath(root string) string {
	if root == "" {
		return ""
	}
	return filepath.Join(root, VectorFileName)
}
