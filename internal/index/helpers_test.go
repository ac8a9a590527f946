package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/nexus/internal/chunk"
	"github.com/Aman-CERP/nexus/internal/embed"
	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
	"github.com/Aman-CERP/nexus/internal/extract"
	"github.com/Aman-CERP/nexus/internal/state"
	"github.com/Aman-CERP/nexus/internal/store"
)

// harness wires an Orchestrator to real in-process stores.
type harness struct {
	t         *testing.T
	root      string
	storeRoot string
	state     *state.Store
	vectors   *store.HNSWStore
	lexical   store.LexicalStore
	orch      *Orchestrator
}

type setup struct {
	deps   Dependencies
	cfg    Config
	policy state.Policy
}

type harnessOption func(*setup)

func withChunker(opts chunk.Options) harnessOption {
	return func(s *setup) { s.deps.Chunker = chunk.New(opts) }
}

func withExtractor(e Extractor) harnessOption {
	return func(s *setup) { s.deps.Extractor = e }
}

func withEmbedder(e embed.Embedder) harnessOption {
	return func(s *setup) { s.deps.Embedder = e }
}

func withLexical(wrap func(store.LexicalStore) store.LexicalStore) harnessOption {
	return func(s *setup) { s.deps.Lexical = wrap(s.deps.Lexical) }
}

func withPolicy(p state.Policy) harnessOption {
	return func(s *setup) { s.policy = p }
}

func withConfig(fn func(*Config)) harnessOption {
	return func(s *setup) { fn(&s.cfg) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{t: t, root: t.TempDir(), storeRoot: t.TempDir()}

	lex, err := store.NewBleveStore("")
	require.NoError(t, err)
	h.vectors = store.NewHNSWStore(store.HNSWConfig{})

	s := &setup{
		deps: Dependencies{
			Vectors:   h.vectors,
			Lexical:   lex,
			Embedder:  embed.NewStaticEmbedder(),
			StoreRoot: h.storeRoot,
			Memory:    fixedMemory(0),
		},
		cfg: Config{Workers: 2, BatchSize: 4, EmitterOptions: []EmitterOption{WithChunkEventInterval(0)}},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.deps.State, err = state.Open("", s.policy)
	require.NoError(t, err)
	h.state, h.lexical = s.deps.State, s.deps.Lexical

	h.orch, err = New(s.deps, s.cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = h.state.Close()
		_ = lex.Close()
		_ = h.vectors.Close()
	})
	return h
}

func (h *harness) write(name, content string) string {
	h.t.Helper()
	path := filepath.Join(h.root, filepath.FromSlash(name))
	require.NoError(h.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(h.t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (h *harness) run() *IndexProgress {
	h.t.Helper()
	progress, err := h.orch.Run(context.Background(), h.root, nil)
	require.NoError(h.t, err)
	return progress
}

func (h *harness) record(path string) *state.FileRecord {
	h.t.Helper()
	rec, err := h.state.Lookup(context.Background(), path)
	require.NoError(h.t, err)
	return rec
}

func (h *harness) search(query string) []store.Hit {
	h.t.Helper()
	hits, err := h.lexical.Search(context.Background(), query, 50)
	require.NoError(h.t, err)
	return hits
}

// fixedMemory reports a constant usage ratio.
func fixedMemory(usage float64) *MemoryMonitor {
	return &MemoryMonitor{
		ceiling: 1 << 30,
		sample:  func() (uint64, error) { return uint64(usage * (1 << 30)), nil },
		poll:    time.Millisecond,
		maxWait: 20 * time.Millisecond,
	}
}

func collect(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

// poisonEmbedder fails any batch containing "poison".
type poisonEmbedder struct {
	*embed.StaticEmbedder
}

func (p poisonEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if strings.Contains(t, "poison") {
			return nil, nexuserrors.EmbeddingError("model rejected input", nil)
		}
	}
	return p.StaticEmbedder.EmbedBatch(ctx, texts)
}

// failingLexical fails writes for paths containing failOn.
type failingLexical struct {
	store.LexicalStore
	failOn string
}

func (f failingLexical) Upsert(ctx context.Context, docID string, entries []store.Entry) error {
	for _, e := range entries {
		if strings.Contains(e.FilePath, f.failOn) {
			return errors.New("no space left on device")
		}
	}
	return f.LexicalStore.Upsert(ctx, docID, entries)
}

// fakeExtractor serves paged documents and injected failures, delegating
// everything else to the real dispatcher.
type fakeExtractor struct {
	mu     sync.Mutex
	pages  map[string][]string
	fail   map[string]error
	onPage func(path string, page int)
	read   []int
	next   Extractor
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		pages: map[string][]string{},
		fail:  map[string]error{},
		next:  extract.NewDispatcher(),
	}
}

func (f *fakeExtractor) Open(ctx context.Context, path string) (*extract.Document, error) {
	f.mu.Lock()
	err, failing := f.fail[filepath.Base(path)]
	pages, paged := f.pages[filepath.Base(path)]
	f.mu.Unlock()

	if failing {
		return nil, err
	}
	if paged {
		return &extract.Document{Path: path, Type: extract.TypePDF, Pages: &fakePages{f: f, path: path, texts: pages}}, nil
	}
	return f.next.Open(ctx, path)
}

func (f *fakeExtractor) pagesRead() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.read...)
}

type fakePages struct {
	f     *fakeExtractor
	path  string
	texts []string
}

func (p *fakePages) PageCount() int { return len(p.texts) }

func (p *fakePages) Page(ctx context.Context, i int) (string, error) {
	p.f.mu.Lock()
	p.f.read = append(p.f.read, i)
	hook := p.f.onPage
	p.f.mu.Unlock()

	if hook != nil {
		hook(p.path, i)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.texts[i], nil
}

func (p *fakePages) Close() error { return nil }
