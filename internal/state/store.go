package state

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
)

// FileName is the bookkeeping database under the store root.
const FileName = "state.db"

const schemaVersion = 1

// Store persists FileRecords and Checkpoints in SQLite.
// Every mutation runs in its own transaction.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	policy Policy
	closed bool
}

// Open opens or creates the state database at path. An empty path opens an
// in-memory database.
func Open(path string, policy Policy) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, stateErr("create state directory", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, stateErr("open state database", err)
	}
	// One connection: the orchestrator is the only writer, and :memory:
	// databases are per-connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = FULL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, stateErr("set pragma", err)
		}
	}

	s := &Store{db: db, path: path, policy: policy}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, stateErr("initialize schema", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS files (
		path        TEXT PRIMARY KEY,
		mtime       INTEGER NOT NULL,
		size        INTEGER NOT NULL,
		fingerprint TEXT NOT NULL,
		doc_id      TEXT NOT NULL UNIQUE,
		chunk_count INTEGER NOT NULL,
		indexed_at  INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS checkpoints (
		doc_id      TEXT PRIMARY KEY,
		path        TEXT NOT NULL,
		last_page   INTEGER NOT NULL,
		total_pages INTEGER NOT NULL,
		next_chunk  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_path ON checkpoints(path);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, schemaVersion)
	return err
}

// Policy returns the exclusion policy used by Classify.
func (s *Store) Policy() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// SetPolicy replaces the exclusion policy for later classifications.
func (s *Store) SetPolicy(p Policy) {
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
}

// Path returns the database file path, or "" for in-memory stores.
func (s *Store) Path() string {
	return s.path
}

// Lookup returns the record for path, or nil when the file was never committed.
func (s *Store) Lookup(ctx context.Context, path string) (*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT path, mtime, size, fingerprint, doc_id, chunk_count, indexed_at
		FROM files WHERE path = ?`, path)
	rec, err := scanRecord(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, stateErr("lookup "+path, err)
	}
	return rec, nil
}

// LookupDocID returns the record owning docID, or nil.
func (s *Store) LookupDocID(ctx context.Context, docID string) (*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT path, mtime, size, fingerprint, doc_id, chunk_count, indexed_at
		FROM files WHERE doc_id = ?`, docID)
	rec, err := scanRecord(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, stateErr("lookup doc "+docID, err)
	}
	return rec, nil
}

// Classify decides what the orchestrator must do with a candidate.
// The fingerprint alone decides Unchanged; a differing mtime with an equal
// fingerprint is still Unchanged, and an equal mtime with a differing
// fingerprint is Changed.
func (s *Store) Classify(ctx context.Context, c Candidate) (Classification, error) {
	if reason, skip := s.Policy().Check(c.Path, c.Size); skip {
		return Classification{Verdict: Skip, Reason: reason}, nil
	}

	rec, err := s.Lookup(ctx, c.Path)
	if err != nil {
		return Classification{}, err
	}
	if rec == nil {
		return Classification{Verdict: New}, nil
	}

	if rec.Fingerprint == c.Fingerprint {
		if !rec.ModTime.Equal(c.ModTime) {
			slog.Debug("mtime_changed_content_same", slog.String("path", c.Path))
		}
		return Classification{Verdict: Unchanged, Record: rec}, nil
	}
	return Classification{Verdict: Changed, OldDocID: rec.DocID, Record: rec}, nil
}

// Commit records a fully persisted file version, replacing any previous
// record for the same path, and drops the document's checkpoint.
func (s *Store) Commit(ctx context.Context, rec FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if rec.IndexedAt.IsZero() {
		rec.IndexedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stateErr("begin commit", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO files (path, mtime, size, fingerprint, doc_id, chunk_count, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			mtime = excluded.mtime,
			size = excluded.size,
			fingerprint = excluded.fingerprint,
			doc_id = excluded.doc_id,
			chunk_count = excluded.chunk_count,
			indexed_at = excluded.indexed_at`,
		rec.Path, rec.ModTime.UnixNano(), rec.Size, rec.Fingerprint,
		rec.DocID, rec.ChunkCount, rec.IndexedAt.UnixNano()); err != nil {
		return stateErr("commit "+rec.Path, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE doc_id = ?`, rec.DocID); err != nil {
		return stateErr("clear checkpoint", err)
	}
	if err := tx.Commit(); err != nil {
		return stateErr("commit transaction", err)
	}
	return nil
}

// Remove deletes the record and checkpoint for docID. Removing an unknown
// id is not an error.
func (s *Store) Remove(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stateErr("begin remove", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE doc_id = ?`, docID); err != nil {
		return stateErr("remove "+docID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE doc_id = ?`, docID); err != nil {
		return stateErr("remove checkpoint "+docID, err)
	}
	if err := tx.Commit(); err != nil {
		return stateErr("commit transaction", err)
	}
	return nil
}

// SaveCheckpoint upserts the checkpoint for cp.DocID.
func (s *Store) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (doc_id, path, last_page, total_pages, next_chunk, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			path = excluded.path,
			last_page = excluded.last_page,
			total_pages = excluded.total_pages,
			next_chunk = excluded.next_chunk,
			updated_at = excluded.updated_at`,
		cp.DocID, cp.Path, cp.LastPage, cp.TotalPages, cp.NextChunk, cp.UpdatedAt.UnixNano())
	if err != nil {
		return stateErr("save checkpoint "+cp.DocID, err)
	}
	return nil
}

// LoadCheckpoint returns the checkpoint for docID, or nil.
func (s *Store) LoadCheckpoint(ctx context.Context, docID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT doc_id, path, last_page, total_pages, next_chunk, updated_at
		FROM checkpoints WHERE doc_id = ?`, docID)
	cp, err := scanCheckpoint(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, stateErr("load checkpoint "+docID, err)
	}
	return cp, nil
}

// ClearCheckpoint deletes the checkpoint for docID.
func (s *Store) ClearCheckpoint(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE doc_id = ?`, docID); err != nil {
		return stateErr("clear checkpoint "+docID, err)
	}
	return nil
}

// Checkpoints returns every open checkpoint, ordered by path.
func (s *Store) Checkpoints(ctx context.Context) ([]Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, path, last_page, total_pages, next_chunk, updated_at
		FROM checkpoints ORDER BY path, doc_id`)
	if err != nil {
		return nil, stateErr("list checkpoints", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, stateErr("scan checkpoint", err)
		}
		out = append(out, *cp)
	}
	return out, rows.Err()
}

// Records returns every committed record, ordered by path.
func (s *Store) Records(ctx context.Context) ([]FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT path, mtime, size, fingerprint, doc_id, chunk_count, indexed_at
		FROM files ORDER BY path`)
	if err != nil {
		return nil, stateErr("list records", err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, stateErr("scan record", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Count returns the number of committed records.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&n); err != nil {
		return 0, stateErr("count records", err)
	}
	return n, nil
}

// Close checkpoints the WAL and closes the database. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

func (s *Store) checkOpen() error {
	if s.closed {
		return stateErr("use store", fmt.Errorf("state store is closed"))
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*FileRecord, error) {
	var rec FileRecord
	var mtime, indexedAt int64
	if err := row.Scan(&rec.Path, &mtime, &rec.Size, &rec.Fingerprint,
		&rec.DocID, &rec.ChunkCount, &indexedAt); err != nil {
		return nil, err
	}
	rec.ModTime = time.Unix(0, mtime)
	rec.IndexedAt = time.Unix(0, indexedAt)
	return &rec, nil
}

func scanCheckpoint(row scanner) (*Checkpoint, error) {
	var cp Checkpoint
	var updated int64
	if err := row.Scan(&cp.DocID, &cp.Path, &cp.LastPage, &cp.TotalPages,
		&cp.NextChunk, &updated); err != nil {
		return nil, err
	}
	cp.UpdatedAt = time.Unix(0, updated)
	return &cp, nil
}

func stateErr(op string, err error) error {
	return nexuserrors.New(nexuserrors.ErrCodeStateStoreFailure, fmt.Sprintf("state store: %s: %v", op, err), err)
}
