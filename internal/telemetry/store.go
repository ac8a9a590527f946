package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// FileName is the metrics database inside a store root.
const FileName = "metrics.db"

// Number of zero-result queries kept on disk.
const zeroResultsKept = 100

// DayCounts are the totals of one local calendar day.
type DayCounts struct {
	Date        string `json:"date"`
	Queries     int64  `json:"queries"`
	ZeroResults int64  `json:"zero_results"`
	Degraded    int64  `json:"degraded"`
}

// NamedCount is a per-day count of a mode or latency bucket.
type NamedCount struct {
	Date  string
	Name  string
	Count int64
}

// ZeroResultQuery is a search that returned nothing.
type ZeroResultQuery struct {
	Query string    `json:"query"`
	Mode  string    `json:"mode"`
	At    time.Time `json:"at"`
}

// TermCount represents a term and its frequency count.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Batch is a set of increments written in one transaction.
type Batch struct {
	Days        []DayCounts
	Modes       []NamedCount
	Latencies   []NamedCount
	Terms       map[string]int64
	ZeroResults []ZeroResultQuery
}

// Snapshot is the query statistics of a date range.
type Snapshot struct {
	From                string                  `json:"from"`
	To                  string                  `json:"to"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	DegradedCount       int64                   `json:"degraded_count"`
	ModeCounts          map[string]int64        `json:"mode_counts"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []ZeroResultQuery       `json:"zero_result_queries"`
}

// ZeroResultPercentage returns the percentage of zero-result queries.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// Store persists query statistics in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the metrics database at path. An empty path
// opens an in-memory database.
func OpenStore(path string) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create metrics directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metrics database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS query_daily (
		date TEXT PRIMARY KEY,
		queries INTEGER NOT NULL DEFAULT 0,
		zero_results INTEGER NOT NULL DEFAULT 0,
		degraded INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS query_mode_stats (
		date TEXT NOT NULL,
		mode TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, mode)
	);

	CREATE TABLE IF NOT EXISTS query_latency_stats (
		date TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);

	CREATE TABLE IF NOT EXISTS query_terms (
		term TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 1,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

	-- Most recent zeroResultsKept entries only
	CREATE TABLE IF NOT EXISTS zero_result_queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		mode TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create metrics schema: %w", err)
	}
	return nil
}

// Save adds the batch to the stored totals.
func (s *Store) Save(ctx context.Context, b Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, d := range b.Days {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_daily (date, queries, zero_results, degraded)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(date) DO UPDATE SET
				queries = queries + excluded.queries,
				zero_results = zero_results + excluded.zero_results,
				degraded = degraded + excluded.degraded
		`, d.Date, d.Queries, d.ZeroResults, d.Degraded); err != nil {
			return fmt.Errorf("upsert daily counts: %w", err)
		}
	}
	if err := upsertNamed(ctx, tx, "query_mode_stats", "mode", b.Modes); err != nil {
		return err
	}
	if err := upsertNamed(ctx, tx, "query_latency_stats", "bucket", b.Latencies); err != nil {
		return err
	}

	for term, n := range b.Terms {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_terms (term, count, last_seen)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(term) DO UPDATE SET
				count = count + excluded.count,
				last_seen = CURRENT_TIMESTAMP
		`, term, n); err != nil {
			return fmt.Errorf("upsert term count: %w", err)
		}
	}

	if len(b.ZeroResults) > 0 {
		for _, z := range b.ZeroResults {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO zero_result_queries (query, mode, timestamp) VALUES (?, ?, ?)`,
				z.Query, z.Mode, z.At.UnixNano()); err != nil {
				return fmt.Errorf("insert zero-result query: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM zero_result_queries
			WHERE id NOT IN (SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?)
		`, zeroResultsKept); err != nil {
			return fmt.Errorf("trim zero-result queries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// upsertNamed adds per-day counts to a (date, column, count) table.
func upsertNamed(ctx context.Context, tx *sql.Tx, table, column string, counts []NamedCount) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (date, %s, count) VALUES (?, ?, ?)
		ON CONFLICT(date, %s) DO UPDATE SET count = count + excluded.count
	`, table, column, column)
	for _, c := range counts {
		if _, err := tx.ExecContext(ctx, query, c.Date, c.Name, c.Count); err != nil {
			return fmt.Errorf("upsert %s: %w", table, err)
		}
	}
	return nil
}

// Load returns the statistics of the days days ending at now. days <= 0
// selects 7. Terms and zero-result queries are not dated by day and cover
// all time.
func (s *Store) Load(ctx context.Context, days int, now time.Time) (*Snapshot, error) {
	if days <= 0 {
		days = 7
	}
	now = now.Local()
	snap := &Snapshot{
		From:                now.AddDate(0, 0, -(days - 1)).Format(time.DateOnly),
		To:                  now.Format(time.DateOnly),
		ModeCounts:          map[string]int64{},
		LatencyDistribution: map[LatencyBucket]int64{},
		TopTerms:            []TermCount{},
		ZeroResultQueries:   []ZeroResultQuery{},
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(queries), 0), COALESCE(SUM(zero_results), 0), COALESCE(SUM(degraded), 0)
		FROM query_daily WHERE date >= ? AND date <= ?
	`, snap.From, snap.To).Scan(&snap.TotalQueries, &snap.ZeroResultCount, &snap.DegradedCount)
	if err != nil {
		return nil, fmt.Errorf("query daily counts: %w", err)
	}

	if err := s.sumNamed(ctx, "query_mode_stats", "mode", snap.From, snap.To, func(name string, n int64) {
		snap.ModeCounts[name] = n
	}); err != nil {
		return nil, err
	}
	if err := s.sumNamed(ctx, "query_latency_stats", "bucket", snap.From, snap.To, func(name string, n int64) {
		snap.LatencyDistribution[LatencyBucket(name)] = n
	}); err != nil {
		return nil, err
	}

	if snap.TopTerms, err = s.topTerms(ctx, 10); err != nil {
		return nil, err
	}
	if snap.ZeroResultQueries, err = s.zeroResults(ctx, 10); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Store) sumNamed(ctx context.Context, table, column, from, to string, fn func(string, int64)) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, SUM(count) FROM %s
		WHERE date >= ? AND date <= ?
		GROUP BY %s
	`, column, table, column), from, to)
	if err != nil {
		return fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var n int64
		if err := rows.Scan(&name, &n); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		fn(name, n)
	}
	return rows.Err()
}

func (s *Store) topTerms(ctx context.Context, limit int) ([]TermCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT term, count FROM query_terms ORDER BY count DESC, term ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	terms := []TermCount{}
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

func (s *Store) zeroResults(ctx context.Context, limit int) ([]ZeroResultQuery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT query, mode, timestamp FROM zero_result_queries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer rows.Close()

	queries := []ZeroResultQuery{}
	for rows.Next() {
		var z ZeroResultQuery
		var at int64
		if err := rows.Scan(&z.Query, &z.Mode, &at); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		z.At = time.Unix(0, at)
		queries = append(queries, z)
	}
	return queries, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
