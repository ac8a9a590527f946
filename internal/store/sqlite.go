package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteStore implements LexicalStore with SQLite FTS5. The fts table holds
// pre-tokenized text; the entries table holds identity and the original
// text, joined on rowid.
type SQLiteStore struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	stopWords map[string]struct{}
	closed    bool
}

var _ LexicalStore = (*SQLiteStore)(nil)

// validateSQLiteIntegrity checks an existing database before it is opened.
// A missing file is valid.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// NewSQLiteStore opens or creates the FTS5 index at path. An empty path
// creates an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		if err := validateSQLiteIntegrity(path); err != nil {
			slog.Warn("lexical_index_corrupted", slog.String("path", path), slog.String("error", err.Error()))
			for _, p := range []string{path, path + "-wal", path + "-shm"} {
				if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
					return nil, fmt.Errorf("remove corrupted index: %w", err)
				}
			}
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single connection: one writer, and :memory: stays one database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: path, stopWords: BuildStopWordMap(EnglishStopWords)}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS entries (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		key         TEXT NOT NULL UNIQUE,
		doc_id      TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		path        TEXT NOT NULL,
		page        INTEGER NOT NULL,
		body        TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_doc ON entries(doc_id, chunk_index);

	CREATE VIRTUAL TABLE IF NOT EXISTS fts USING fts5(
		content,
		tokenize='unicode61'
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`)
	return err
}

// Upsert writes entries in one transaction, replacing same-key entries.
func (s *SQLiteStore) Upsert(ctx context.Context, docID string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("lexical index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range entries {
		key := EntryKey(docID, e.ChunkIndex)
		// FTS5 has no REPLACE; drop the old row pair first.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM fts WHERE rowid IN (SELECT id FROM entries WHERE key = ?)`, key); err != nil {
			return fmt.Errorf("failed to replace %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key); err != nil {
			return fmt.Errorf("failed to replace %s: %w", key, err)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO entries (key, doc_id, chunk_index, path, page, body) VALUES (?, ?, ?, ?, ?, ?)`,
			key, docID, e.ChunkIndex, e.FilePath, e.Page, e.Text)
		if err != nil {
			return fmt.Errorf("failed to insert %s: %w", key, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read row id: %w", err)
		}
		content := strings.Join(Terms(e.Text, s.stopWords), " ")
		if _, err := tx.ExecContext(ctx, `INSERT INTO fts (rowid, content) VALUES (?, ?)`, id, content); err != nil {
			return fmt.Errorf("failed to index %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// Delete removes every entry of docID.
func (s *SQLiteStore) Delete(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("lexical index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM fts WHERE rowid IN (SELECT id FROM entries WHERE doc_id = ?)`, docID); err != nil {
		return fmt.Errorf("failed to delete from fts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("failed to delete entries: %w", err)
	}
	return tx.Commit()
}

// Search ranks entries with bm25(). bm25 is negative with lower meaning
// better, so the score is negated to make higher better.
func (s *SQLiteStore) Search(ctx context.Context, queryStr string, k int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}
	terms := Terms(queryStr, s.stopWords)
	if k <= 0 || len(terms) == 0 {
		return []Hit{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.doc_id, e.chunk_index, e.path, e.page, e.body, bm25(fts) AS score
		FROM fts JOIN entries e ON e.id = fts.rowid
		WHERE fts MATCH ?
		ORDER BY score, e.doc_id, e.chunk_index
		LIMIT ?`, matchExpr(terms), k)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var body string
		if err := rows.Scan(&h.DocID, &h.ChunkIndex, &h.FilePath, &h.Page, &body, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		h.Score = -h.Score
		h.Snippet = Snippet(body, terms)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// matchExpr ORs quoted terms so any term matches, as the bleve backend does.
func matchExpr(terms []string) string {
	seen := make(map[string]bool, len(terms))
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		if seen[t] {
			continue
		}
		seen[t] = true
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// Chunks returns the entries of docID ordered by chunk index.
func (s *SQLiteStore) Chunks(ctx context.Context, docID string) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, chunk_index, path, page, body FROM entries WHERE doc_id = ? ORDER BY chunk_index`, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks of %s: %w", docID, err)
	}
	defer func() { _ = rows.Close() }()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.DocID, &h.ChunkIndex, &h.FilePath, &h.Page, &h.Snippet); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Count returns the number of entries.
func (s *SQLiteStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Close checkpoints the WAL and closes the database. Safe to call more
// than once.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}
