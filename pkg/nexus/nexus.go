// Package nexus is the public entry point: a handle on one store root that
// indexes directories and answers searches against them.
//
// Handles carry all their state; several may be open in one process as
// long as at most one of them indexes a given store root at a time.
package nexus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/nexus/internal/chunk"
	"github.com/Aman-CERP/nexus/internal/config"
	"github.com/Aman-CERP/nexus/internal/embed"
	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
	"github.com/Aman-CERP/nexus/internal/extract"
	"github.com/Aman-CERP/nexus/internal/index"
	"github.com/Aman-CERP/nexus/internal/search"
	"github.com/Aman-CERP/nexus/internal/state"
	"github.com/Aman-CERP/nexus/internal/store"
	"github.com/Aman-CERP/nexus/internal/telemetry"
)

// Library is an open store root.
type Library struct {
	root string
	cfg  *config.Config

	records  *state.Store
	vectors  *store.HNSWStore
	lexical  store.LexicalStore
	embedder embed.Embedder
	engine   *search.Engine

	metricsStore *telemetry.Store
	metrics      *telemetry.QueryMetrics // nil when search.record_queries is off

	mu     sync.Mutex
	closed bool
}

// IndexOptions overrides configuration for one IndexDirectory call.
type IndexOptions struct {
	GPU         bool
	MaxFileMB   int  // 0 keeps the configured limit
	MaxMemoryMB *int // nil keeps the configured ceiling
	Events      chan<- index.Event
}

// Status summarizes the store.
type Status struct {
	StorePath        string    `json:"store_path"`
	VectorEmbeddings int       `json:"vector_embeddings"`
	LexicalDocuments int       `json:"lexical_documents"`
	TrackedFiles     int       `json:"tracked_files"`
	LexicalBackend   string    `json:"lexical_backend"`
	EmbeddingModel   string    `json:"embedding_model"`
	Dimensions       int       `json:"dimensions"`
	LastIndexed      time.Time `json:"last_indexed,omitzero"`
}

// Open opens or creates the store under storeRoot. An empty storeRoot
// uses cfg.Storage.Path. A nil cfg loads the configuration for the
// working directory.
func Open(ctx context.Context, storeRoot string, cfg *config.Config) (*Library, error) {
	if cfg == nil {
		var err error
		if cfg, err = config.Load("."); err != nil {
			return nil, err
		}
	}
	if storeRoot == "" {
		storeRoot = cfg.Storage.Path
	}
	root, err := filepath.Abs(storeRoot)
	if err != nil {
		return nil, nexuserrors.New(nexuserrors.ErrCodeInvalidPath, fmt.Sprintf("invalid store path %q", storeRoot), err)
	}

	l := &Library{root: root, cfg: cfg}
	if err := l.open(ctx); err != nil {
		_ = l.closeStores()
		return nil, err
	}
	slog.Debug("library_opened",
		slog.String("store", root),
		slog.String("lexical_backend", l.lexicalBackend()),
		slog.String("embedder", l.embedder.ModelName()))
	return l, nil
}

func (l *Library) open(ctx context.Context) error {
	var err error
	if l.records, err = state.Open(filepath.Join(l.root, state.FileName), state.PolicyFromConfig(l.cfg.Index)); err != nil {
		return err
	}
	if l.vectors, err = store.OpenHNSWStore(store.VectorPath(l.root), store.HNSWConfig{}); err != nil {
		return nexuserrors.New(nexuserrors.ErrCodeCorruptIndex, "open vector index: "+err.Error(), err)
	}
	if l.lexical, err = store.NewLexicalStore(l.root, l.lexicalBackend()); err != nil {
		if nexuserrors.GetCode(err) != "" {
			return err
		}
		return nexuserrors.New(nexuserrors.ErrCodeCorruptIndex, "open lexical index: "+err.Error(), err)
	}
	if l.embedder, err = embed.NewEmbedder(ctx, l.cfg.Embeddings, l.cfg.Embeddings.GPU); err != nil {
		return err
	}

	queries := embed.NewCachedEmbedder(l.embedder, l.cfg.Embeddings.CacheSize)
	if l.engine, err = search.NewEngine(l.vectors, l.lexical, queries, search.ConfigFrom(l.cfg.Search)); err != nil {
		return err
	}

	if l.cfg.Search.RecordQueries {
		if l.metricsStore, err = telemetry.OpenStore(filepath.Join(l.root, telemetry.FileName)); err != nil {
			return nexuserrors.New(nexuserrors.ErrCodeStoreRead, "open metrics: "+err.Error(), err)
		}
		l.metrics = telemetry.NewQueryMetrics(l.metricsStore, telemetry.DefaultConfig())
	}
	return nil
}

// lexicalBackend is the backend of the existing index, or the configured
// one for a new store.
func (l *Library) lexicalBackend() string {
	if existing, ok := store.ExistingBackend(l.root); ok {
		return string(existing)
	}
	if l.cfg.Storage.LexicalBackend == "" {
		return string(store.BackendSQLite)
	}
	return strings.ToLower(l.cfg.Storage.LexicalBackend)
}

// StorePath returns the absolute store root.
func (l *Library) StorePath() string {
	return l.root
}

// Config returns the configuration the handle was opened with.
func (l *Library) Config() *config.Config {
	return l.cfg
}

func (l *Library) checkOpen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("library is closed")
	}
	return nil
}

// runSettings applies the per-call overrides to the configured policy and
// run config.
func (l *Library) runSettings(opts IndexOptions) (state.Policy, index.Config) {
	policy := state.PolicyFromConfig(l.cfg.Index)
	if opts.MaxFileMB > 0 {
		policy.MaxFileBytes = int64(opts.MaxFileMB) << 20
	}
	cfg := index.ConfigFrom(l.cfg)
	if opts.MaxMemoryMB != nil {
		cfg.MaxMemoryMB = *opts.MaxMemoryMB
	}
	return policy, cfg
}

// orchestrator builds an indexing run over the handle's stores. The
// policy reaches the StateStore only once the run holds the writer lock.
func (l *Library) orchestrator(ctx context.Context, opts IndexOptions) (*index.Orchestrator, func(), error) {
	policy, cfg := l.runSettings(opts)

	embedder, release := l.embedder, func() {}
	if opts.GPU && !l.cfg.Embeddings.GPU {
		e, err := embed.NewEmbedder(ctx, l.cfg.Embeddings, true)
		if err != nil {
			return nil, nil, err
		}
		embedder = e
		release = func() {
			if err := e.Close(); err != nil {
				slog.Debug("embedder_close_failed", slog.String("error", err.Error()))
			}
		}
	}

	var extractOpts []extract.Option
	if !l.cfg.Index.SkipImages {
		if ocr := extract.NewCommandOCR(); ocr.Available() {
			extractOpts = append(extractOpts, extract.WithOCR(ocr))
		}
	}

	o, err := index.New(index.Dependencies{
		State:     l.records,
		Vectors:   l.vectors,
		Lexical:   l.lexical,
		Embedder:  embedder,
		Extractor: extract.NewDispatcher(extractOpts...),
		Chunker: chunk.New(chunk.Options{
			Size:      l.cfg.Index.ChunkSize,
			Overlap:   l.cfg.Index.ChunkOverlap,
			MaxChunks: l.cfg.Index.MaxChunks,
		}),
		StoreRoot: l.root,
		Policy:    &policy,
	}, cfg)
	if err != nil {
		release()
		return nil, nil, err
	}
	return o, release, nil
}

// IndexDirectory indexes every file under path. Progress goes to
// opts.Events when set. Recoverable per-file failures are listed in the
// returned progress; a fatal store failure is returned as the error.
func (l *Library) IndexDirectory(ctx context.Context, path string, opts IndexOptions) (*index.IndexProgress, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	o, release, err := l.orchestrator(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer release()
	return o.Run(ctx, path, opts.Events)
}

// IndexFile indexes a single file.
func (l *Library) IndexFile(ctx context.Context, path string) (*index.IndexProgress, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	o, release, err := l.orchestrator(ctx, IndexOptions{})
	if err != nil {
		return nil, err
	}
	defer release()
	return o.IndexFile(ctx, path)
}

// RemoveFile drops a file from the store. It reports whether the file had
// been indexed.
func (l *Library) RemoveFile(ctx context.Context, path string) (bool, error) {
	if err := l.checkOpen(); err != nil {
		return false, err
	}
	o, release, err := l.orchestrator(ctx, IndexOptions{})
	if err != nil {
		return false, err
	}
	defer release()
	return o.RemoveFile(ctx, path)
}

// Search queries the store. mode is semantic, lexical or hybrid.
func (l *Library) Search(ctx context.Context, query string, mode search.Mode, limit int) (*search.Response, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := l.engine.Search(ctx, query, mode, limit)
	if err != nil {
		return nil, err
	}
	if l.metrics != nil {
		l.metrics.Record(telemetry.QueryEvent{
			Query:       resp.Query,
			Mode:        resp.Mode.String(),
			ResultCount: len(resp.Results),
			Degraded:    len(resp.Warnings) > 0,
			Latency:     time.Since(start),
			Timestamp:   start,
		})
	}
	return resp, nil
}

// QueryStats returns the recorded query statistics of the last days days.
// It fails with a config error when recording is off.
func (l *Library) QueryStats(ctx context.Context, days int) (*telemetry.Snapshot, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	if l.metrics == nil {
		return nil, nexuserrors.New(nexuserrors.ErrCodeConfigInvalid, "query statistics are disabled", nil).
			WithSuggestion("Set search.record_queries: true in the config file")
	}
	snap, err := l.metrics.Snapshot(ctx, days)
	if err != nil {
		return nil, nexuserrors.New(nexuserrors.ErrCodeStoreRead, "read query statistics: "+err.Error(), err)
	}
	return snap, nil
}

// Status reports entry counts.
func (l *Library) Status(ctx context.Context) (Status, error) {
	if err := l.checkOpen(); err != nil {
		return Status{}, err
	}
	records, err := l.records.Records(ctx)
	if err != nil {
		return Status{}, err
	}
	var last time.Time
	for _, r := range records {
		if r.IndexedAt.After(last) {
			last = r.IndexedAt
		}
	}
	dims := l.vectors.Dimensions()
	if dims == 0 {
		dims = l.embedder.Dimensions()
	}
	return Status{
		StorePath:        l.root,
		VectorEmbeddings: l.vectors.Count(),
		LexicalDocuments: l.lexical.Count(),
		TrackedFiles:     len(records),
		LexicalBackend:   l.lexicalBackend(),
		EmbeddingModel:   l.embedder.ModelName(),
		Dimensions:       dims,
		LastIndexed:      last,
	}, nil
}

// DiscoverOptions returns the discovery rules an indexing run applies,
// with the store root excluded.
func (l *Library) DiscoverOptions() index.DiscoverOptions {
	cfg := index.ConfigFrom(l.cfg)
	return index.DiscoverOptions{
		Policy:           state.PolicyFromConfig(l.cfg.Index),
		IgnorePatterns:   cfg.IgnorePatterns,
		RespectGitignore: cfg.RespectGitignore,
		Exclude:          []string{l.root},
	}
}

// Explain returns the stored chunks and bookkeeping record of a document.
// ref is a doc_id or a file path.
func (l *Library) Explain(ctx context.Context, ref string) ([]store.Hit, *state.FileRecord, error) {
	if err := l.checkOpen(); err != nil {
		return nil, nil, err
	}

	rec, err := l.records.LookupDocID(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	if rec == nil {
		if abs, absErr := filepath.Abs(ref); absErr == nil {
			if rec, err = l.records.Lookup(ctx, abs); err != nil {
				return nil, nil, err
			}
		}
	}
	docID := ref
	if rec != nil {
		docID = rec.DocID
	}

	chunks, err := l.lexical.Chunks(ctx, docID)
	if err != nil {
		return nil, nil, nexuserrors.New(nexuserrors.ErrCodeStoreRead, "read chunks: "+err.Error(), err)
	}
	if rec == nil && len(chunks) == 0 {
		return nil, nil, nexuserrors.New(nexuserrors.ErrCodeFileNotFound, "document not found: "+ref, nil).
			WithSuggestion("Pass a doc_id from search results or the path of an indexed file")
	}
	return chunks, rec, nil
}

// Close releases every store. Indexing runs persist as they go, so there
// is nothing left to flush.
func (l *Library) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	return l.closeStores()
}

func (l *Library) closeStores() error {
	var errs []error
	if l.metrics != nil {
		errs = append(errs, l.metrics.Close(context.Background()))
	}
	if l.metricsStore != nil {
		errs = append(errs, l.metricsStore.Close())
	}
	if l.embedder != nil {
		errs = append(errs, l.embedder.Close())
	}
	if l.lexical != nil {
		errs = append(errs, l.lexical.Close())
	}
	if l.vectors != nil {
		errs = append(errs, l.vectors.Close())
	}
	if l.records != nil {
		errs = append(errs, l.records.Close())
	}
	return errors.Join(errs...)
}
