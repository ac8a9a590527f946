package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/nexus/internal/chunk"
	"github.com/Aman-CERP/nexus/internal/config"
	"github.com/Aman-CERP/nexus/internal/embed"
	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
	"github.com/Aman-CERP/nexus/internal/extract"
	"github.com/Aman-CERP/nexus/internal/state"
	"github.com/Aman-CERP/nexus/internal/store"
)

// commitBatch is how many finished files share one vector index save and
// StateStore flush.
const commitBatch = 16

// Extractor opens files for text extraction.
type Extractor interface {
	Open(ctx context.Context, path string) (*extract.Document, error)
}

// Dependencies are the collaborators of an Orchestrator.
type Dependencies struct {
	State    *state.Store       // required
	Vectors  store.VectorStore  // required
	Lexical  store.LexicalStore // required
	Embedder embed.Embedder     // required

	// Extractor defaults to an extract.Dispatcher without OCR.
	Extractor Extractor

	// Chunker defaults to chunk.New with default options.
	Chunker *chunk.Chunker

	// StoreRoot holds the writer lock and the vector index file. Empty
	// keeps the vector index in memory and locks within the process only.
	StoreRoot string

	// Memory defaults to a monitor built from Config.MaxMemoryMB.
	Memory *MemoryMonitor

	// Policy replaces the State policy once the writer lock is held. Nil
	// keeps the policy State already has.
	Policy *state.Policy
}

// Config tunes a run.
type Config struct {
	Workers          int // Parallel extraction and chunking; 0 = NumCPU
	BatchSize        int // Chunks per embedding call; 0 = embed.DefaultBatchSize
	MaxMemoryMB      int // Resident memory ceiling; 0 = 75% of system memory
	RespectGitignore bool
	IgnorePatterns   []string
	EmitterOptions   []EmitterOption
}

// ConfigFrom builds a Config from the loaded configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Workers:          cfg.Index.Workers,
		BatchSize:        cfg.Index.BatchSize,
		MaxMemoryMB:      cfg.Index.MaxMemoryMB,
		RespectGitignore: cfg.Index.RespectGitignore,
		IgnorePatterns:   cfg.Watch.IgnorePatterns,
	}
}

// Orchestrator indexes directories into the stores. It is the single
// writer of the stores it was given; concurrent runs fail with
// ErrIndexLocked.
type Orchestrator struct {
	records   *state.Store
	vectors   store.VectorStore
	lexical   store.LexicalStore
	embedder  embed.Embedder
	extractor Extractor
	chunker   *chunk.Chunker
	memory    *MemoryMonitor
	policy    *state.Policy
	cfg       Config

	storeRoot  string
	vectorPath string
	lock       *WriterLock
	local      sync.Mutex
	current    atomic.Int32

	uncommitted []state.FileRecord
}

// New creates an Orchestrator.
func New(deps Dependencies, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.State == nil:
		return nil, fmt.Errorf("state store is required")
	case deps.Vectors == nil:
		return nil, fmt.Errorf("vector store is required")
	case deps.Lexical == nil:
		return nil, fmt.Errorf("lexical store is required")
	case deps.Embedder == nil:
		return nil, fmt.Errorf("embedder is required")
	}

	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = embed.DefaultBatchSize
	}

	o := &Orchestrator{
		records:   deps.State,
		vectors:   deps.Vectors,
		lexical:   deps.Lexical,
		embedder:  deps.Embedder,
		extractor: deps.Extractor,
		chunker:   deps.Chunker,
		memory:    deps.Memory,
		policy:    deps.Policy,
		cfg:       cfg,
		storeRoot: deps.StoreRoot,
	}
	if o.extractor == nil {
		o.extractor = extract.NewDispatcher()
	}
	if o.chunker == nil {
		o.chunker = chunk.New(chunk.Options{})
	}
	if o.memory == nil {
		o.memory = NewMemoryMonitor(cfg.MaxMemoryMB)
	}
	if deps.StoreRoot != "" {
		o.vectorPath = store.VectorPath(deps.StoreRoot)
		o.lock = NewWriterLock(deps.StoreRoot)
	}
	return o, nil
}

// State returns the current position in the run state machine.
func (o *Orchestrator) State() State {
	return State(o.current.Load())
}

func (o *Orchestrator) setState(s State) {
	o.current.Store(int32(s))
}

// acquire takes the writer locks, then applies the run's policy.
func (o *Orchestrator) acquire() (func(), error) {
	release, err := o.lockWriter()
	if err != nil {
		return nil, err
	}
	if o.policy != nil {
		o.records.SetPolicy(*o.policy)
	}
	return release, nil
}

// lockWriter takes the in-process and cross-process writer locks.
func (o *Orchestrator) lockWriter() (func(), error) {
	if !o.local.TryLock() {
		path := "this store"
		if o.lock != nil {
			path = o.lock.Path()
		}
		return nil, lockedError(path)
	}
	if o.lock == nil {
		return o.local.Unlock, nil
	}
	if err := o.lock.TryLock(); err != nil {
		o.local.Unlock()
		return nil, err
	}
	return func() {
		if err := o.lock.Unlock(); err != nil {
			slog.Warn("index_unlock_failed", slog.String("error", err.Error()))
		}
		o.local.Unlock()
	}, nil
}

// Run indexes every file under root and reports progress on events, which
// may be nil. Exactly one terminal event is sent: done with the final
// progress, or error when the run fails. The progress so far is returned
// with a run failure.
func (o *Orchestrator) Run(ctx context.Context, root string, events chan<- Event) (*IndexProgress, error) {
	em := NewEmitter(events, o.cfg.EmitterOptions...)
	progress := &IndexProgress{Errors: []FileError{}}
	start := time.Now()

	err := o.run(ctx, root, progress, em)
	progress.Duration = time.Since(start)

	if err != nil {
		o.setState(StateFailed)
		slog.Error("index_failed",
			slog.String("path", root),
			slog.String("error", err.Error()),
			slog.Int("files_indexed", progress.FilesIndexed))
		em.Finish(Event{Kind: EventError, Path: root, Message: err.Error()})
		return progress, err
	}

	o.setState(StateDone)
	slog.Info("index_complete",
		slog.String("path", root),
		slog.Int("files_indexed", progress.FilesIndexed),
		slog.Int("files_skipped", progress.FilesSkipped),
		slog.Int("files_unchanged", progress.FilesUnchanged),
		slog.Int("files_removed", progress.FilesRemoved),
		slog.Int("chunks", progress.ChunksIndexed),
		slog.Int("errors", len(progress.Errors)),
		slog.Int64("duration_ms", progress.Duration.Milliseconds()))
	final := *progress
	em.Finish(Event{Kind: EventDone, Path: root, Progress: &final})
	return progress, nil
}

func (o *Orchestrator) run(ctx context.Context, root string, progress *IndexProgress, em *Emitter) error {
	release, err := o.acquire()
	if err != nil {
		return err
	}
	defer release()
	defer func() { o.uncommitted = nil }()
	o.setState(StateIdle)

	abs, err := resolveRoot(root)
	if err != nil {
		return err
	}
	if err := embed.CheckDimensions(o.embedder, o.vectors.Dimensions()); err != nil {
		return err
	}

	o.setState(StateDiscovering)
	removed, err := o.collectGarbage(ctx, abs)
	if err != nil {
		return err
	}
	progress.FilesRemoved = removed

	files, err := Discover(ctx, abs, o.discoverOptions())
	if err != nil {
		return nexuserrors.New(nexuserrors.ErrCodeIndexFailed, fmt.Sprintf("discover %s: %v", abs, err), err)
	}
	slog.Info("index_started",
		slog.String("path", abs),
		slog.Int("files", len(files)),
		slog.Int("workers", o.cfg.Workers),
		slog.String("embedder", o.embedder.ModelName()))

	if err := o.process(ctx, files, progress, em); err != nil {
		// Files finished before the failure are still committed.
		if ferr := o.flush(context.WithoutCancel(ctx)); ferr != nil {
			slog.Warn("index_flush_failed", slog.String("error", ferr.Error()))
		}
		return err
	}
	return o.flush(ctx)
}

func resolveRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", nexuserrors.New(nexuserrors.ErrCodeInvalidPath, fmt.Sprintf("invalid path %q: %v", root, err), err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", nexuserrors.New(nexuserrors.ErrCodeInvalidPath, fmt.Sprintf("cannot index %s: %v", abs, err), err).
			WithDetail("path", abs)
	}
	return abs, nil
}

func (o *Orchestrator) discoverOptions() DiscoverOptions {
	var exclude []string
	if o.storeRoot != "" {
		if abs, err := filepath.Abs(o.storeRoot); err == nil {
			exclude = append(exclude, abs)
		}
	}
	return DiscoverOptions{
		Policy:           o.records.Policy(),
		IgnorePatterns:   o.cfg.IgnorePatterns,
		RespectGitignore: o.cfg.RespectGitignore,
		Exclude:          exclude,
	}
}

type job struct {
	path string
	done chan struct{}
	item *prepared
}

// process prepares files in parallel and persists them one at a time in
// discovery order.
func (o *Orchestrator) process(ctx context.Context, files []string, progress *IndexProgress, em *Emitter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	// One slot for the producer below.
	g.SetLimit(o.cfg.Workers + 1)
	pending := make(chan *job, o.cfg.Workers)

	g.Go(func() error {
		defer close(pending)
		for _, path := range files {
			if err := o.memory.WaitForRoom(gctx); err != nil {
				return nil
			}
			j := &job{path: path, done: make(chan struct{})}
			select {
			case pending <- j:
			case <-gctx.Done():
				return nil
			}
			g.Go(func() error {
				defer close(j.done)
				j.item = o.prepare(gctx, j.path)
				return nil
			})
		}
		return nil
	})

	var fatal error
	for j := range pending {
		<-j.done
		if fatal == nil {
			if err := o.persist(ctx, j.item, progress, em); err != nil {
				fatal = err
				cancel()
			}
		}
		j.item.release()
	}
	_ = g.Wait()

	if fatal == nil {
		fatal = ctx.Err()
	}
	return fatal
}

// IndexFile indexes a single file with the same ordering rules as Run.
func (o *Orchestrator) IndexFile(ctx context.Context, path string) (*IndexProgress, error) {
	release, err := o.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	abs, err := resolveRoot(path)
	if err != nil {
		return nil, err
	}
	if err := embed.CheckDimensions(o.embedder, o.vectors.Dimensions()); err != nil {
		return nil, err
	}

	progress := &IndexProgress{Errors: []FileError{}}
	start := time.Now()
	p := o.prepare(ctx, abs)
	defer p.release()

	defer func() { o.uncommitted = nil }()
	if err := o.persist(ctx, p, progress, NewEmitter(nil)); err != nil {
		return progress, err
	}
	if err := o.flush(ctx); err != nil {
		return progress, err
	}
	progress.Duration = time.Since(start)
	return progress, nil
}

// RemoveFile drops path from the stores. It reports whether the file was
// indexed.
func (o *Orchestrator) RemoveFile(ctx context.Context, path string) (bool, error) {
	release, err := o.acquire()
	if err != nil {
		return false, err
	}
	defer release()

	abs, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	rec, err := o.records.Lookup(ctx, abs)
	if err != nil || rec == nil {
		return false, err
	}
	if err := o.dropRecords(ctx, []state.FileRecord{*rec}); err != nil {
		return false, err
	}
	slog.Info("file_removed", slog.String("path", abs), slog.String("doc_id", rec.DocID))
	return true, nil
}
