package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/nexus/internal/chunk"
	"github.com/Aman-CERP/nexus/internal/embed"
	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
	"github.com/Aman-CERP/nexus/internal/state"
	"github.com/Aman-CERP/nexus/internal/store"
)

func TestRun_IndexesAndFindsText(t *testing.T) {
	h := newHarness(t)
	path := h.write("notes/hello.txt", "hello world from the indexer")

	progress := h.run()

	assert.Equal(t, 1, progress.FilesIndexed)
	assert.Equal(t, 1, progress.ChunksIndexed)
	assert.Equal(t, 1, progress.EmbeddingsStored)
	assert.Empty(t, progress.Errors)
	assert.Equal(t, StateDone, h.orch.State())

	hits := h.search("hello")
	require.Len(t, hits, 1)
	assert.Equal(t, path, hits[0].FilePath)

	rec := h.record(path)
	require.NotNil(t, rec)
	assert.Equal(t, rec.DocID, hits[0].DocID)
	assert.Equal(t, 1, rec.ChunkCount)
}

func TestRun_SecondRunIsUnchanged(t *testing.T) {
	h := newHarness(t)
	a := h.write("a.txt", "alpha document")
	h.write("b.txt", "beta document")
	h.run()
	before := h.record(a)
	count := h.vectors.Count()

	// When: nothing changed on disk
	progress := h.run()

	// Then: nothing is rewritten
	assert.Equal(t, 0, progress.FilesIndexed)
	assert.Equal(t, 2, progress.FilesUnchanged)
	assert.Equal(t, count, h.vectors.Count())
	assert.Equal(t, before.DocID, h.record(a).DocID)
}

func TestRun_ContentChangeWithSameModTime(t *testing.T) {
	h := newHarness(t)
	path := h.write("a.txt", "first version")
	h.run()
	old := h.record(path)
	require.NotNil(t, old)

	// Given: new content of the same size with the old mtime restored
	require.NoError(t, os.WriteFile(path, []byte("other version"), 0o644))
	require.NoError(t, os.Chtimes(path, old.ModTime, old.ModTime))

	progress := h.run()

	// Then: the fingerprint decides
	assert.Equal(t, 1, progress.FilesIndexed)
	rec := h.record(path)
	assert.NotEqual(t, old.Fingerprint, rec.Fingerprint)
	assert.NotEqual(t, old.DocID, rec.DocID)
	assert.Zero(t, h.vectors.DocCount(old.DocID))
	assert.Empty(t, h.search("first"))
	assert.Len(t, h.search("other"), 1)
}

func TestRun_StoresAgreeOnChunkCounts(t *testing.T) {
	h := newHarness(t, withChunker(chunk.Options{Size: 40}))
	var paragraphs []string
	for i := 0; i < 9; i++ {
		paragraphs = append(paragraphs, strings.Repeat("lorem ipsum ", 3))
	}
	paths := []string{
		h.write("long.txt", strings.Join(paragraphs, "\n\n")),
		h.write("short.txt", "brief"),
	}

	h.run()

	for _, path := range paths {
		rec := h.record(path)
		require.NotNil(t, rec, path)
		chunks, err := h.lexical.Chunks(context.Background(), rec.DocID)
		require.NoError(t, err)
		assert.Equal(t, rec.ChunkCount, len(chunks), path)
		assert.Equal(t, rec.ChunkCount, h.vectors.DocCount(rec.DocID), path)
		for i, c := range chunks {
			assert.Equal(t, i, c.ChunkIndex)
		}
	}
	assert.Greater(t, h.record(paths[0]).ChunkCount, 1)
}

func TestRun_ReplacesRatherThanPatches(t *testing.T) {
	h := newHarness(t, withChunker(chunk.Options{Size: 8}))
	path := h.write("a.txt", "alpha\n\nbeta\n\ngamma")
	h.run()
	old := h.record(path)
	require.Equal(t, 3, old.ChunkCount)

	// When: the file shrinks to one chunk
	h.write("a.txt", "delta")
	h.run()

	// Then: no chunk of the old version survives
	rec := h.record(path)
	assert.Equal(t, 1, rec.ChunkCount)
	chunks, err := h.lexical.Chunks(context.Background(), old.DocID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.Equal(t, 1, h.vectors.Count())
	assert.Equal(t, 1, h.lexical.Count())
}

func TestRun_PolicySkipsFiles(t *testing.T) {
	h := newHarness(t, withPolicy(state.Policy{SkipExtensions: []string{"log"}}))
	h.write("a.txt", "kept")
	skipped := h.write("debug.log", "dropped")
	events := make(chan Event, 64)

	progress, err := h.orch.Run(context.Background(), h.root, events)

	require.NoError(t, err)
	assert.Equal(t, 1, progress.FilesIndexed)
	assert.Equal(t, 1, progress.FilesSkipped)
	assert.Nil(t, h.record(skipped))

	var reason string
	for _, ev := range collect(events) {
		if ev.Kind == EventFileSkipped && ev.Path == skipped {
			reason = ev.Reason
		}
	}
	assert.Equal(t, state.ReasonExtension, reason)
}

func TestRun_FileThatBecomesSkippedIsRemoved(t *testing.T) {
	h := newHarness(t, withPolicy(state.Policy{MaxFileBytes: 100}))
	path := h.write("a.txt", "small enough")
	h.run()
	old := h.record(path)
	require.NotNil(t, old)

	// When: the file grows past the size limit
	h.write("a.txt", strings.Repeat("x", 200))
	progress := h.run()

	assert.Equal(t, 1, progress.FilesSkipped)
	assert.Equal(t, 1, progress.FilesRemoved)
	assert.Nil(t, h.record(path))
	assert.Zero(t, h.vectors.DocCount(old.DocID))
}

func TestRun_ExtractionErrorIsRecoverable(t *testing.T) {
	fx := newFakeExtractor()
	fx.fail["broken.txt"] = nexuserrors.ExtractionError("broken.txt", errors.New("corrupt"))
	h := newHarness(t, withExtractor(fx))
	broken := h.write("broken.txt", "unreadable")
	h.write("fine.txt", "readable")

	progress := h.run()

	assert.Equal(t, 1, progress.FilesIndexed)
	require.Len(t, progress.Errors, 1)
	assert.Equal(t, broken, progress.Errors[0].Path)
	assert.Equal(t, ErrorKindExtraction, progress.Errors[0].Kind)
	assert.Nil(t, h.record(broken))
}

func TestRun_ChunkLimitKeepsFirstChunks(t *testing.T) {
	h := newHarness(t, withChunker(chunk.Options{Size: 8, MaxChunks: 2}))
	path := h.write("a.txt", "alpha\n\nbeta\n\ngamma")

	progress := h.run()

	assert.Equal(t, 1, progress.FilesIndexed)
	require.Len(t, progress.Errors, 1)
	assert.Equal(t, ErrorKindChunkLimit, progress.Errors[0].Kind)
	rec := h.record(path)
	require.NotNil(t, rec)
	assert.Equal(t, 2, rec.ChunkCount)
	assert.Empty(t, h.search("gamma"))
}

func TestRun_EmbeddingFailureSkipsFile(t *testing.T) {
	h := newHarness(t, withEmbedder(poisonEmbedder{embed.NewStaticEmbedder()}))
	bad := h.write("bad.txt", "this text is poison")
	good := h.write("good.txt", "this text is fine")

	progress := h.run()

	assert.Equal(t, 1, progress.FilesIndexed)
	require.Len(t, progress.Errors, 1)
	assert.Equal(t, ErrorKindEmbedding, progress.Errors[0].Kind)
	assert.Nil(t, h.record(bad))
	require.NotNil(t, h.record(good))

	// Then: no partial entries or checkpoints remain for the failed file
	assert.Equal(t, 1, h.vectors.Count())
	assert.Equal(t, 1, h.lexical.Count())
	cps, err := h.state.Checkpoints(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cps)
}

func TestRun_StoreFailureIsFatal(t *testing.T) {
	h := newHarness(t, withLexical(func(l store.LexicalStore) store.LexicalStore {
		return failingLexical{LexicalStore: l, failOn: "b.txt"}
	}))
	a := h.write("a.txt", "first")
	b := h.write("b.txt", "second")
	c := h.write("c.txt", "third")
	events := make(chan Event, 64)

	progress, err := h.orch.Run(context.Background(), h.root, events)

	// Then: the run stops with ERR_520
	require.Error(t, err)
	assert.Equal(t, nexuserrors.ErrCodeStoreWrite, nexuserrors.GetCode(err))
	assert.Equal(t, StateFailed, h.orch.State())
	require.NotNil(t, progress)
	assert.Equal(t, 1, progress.FilesIndexed)

	// Then: files finished before the failure are committed, later ones untouched
	assert.NotNil(t, h.record(a))
	assert.Nil(t, h.record(b))
	assert.Nil(t, h.record(c))

	got := collect(events)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, EventError, last.Kind)
	assert.Contains(t, last.Message, "ERR_520")
	for _, ev := range got[:len(got)-1] {
		assert.False(t, ev.Kind.Terminal())
	}
}

func TestRun_EventOrder(t *testing.T) {
	h := newHarness(t)
	path := h.write("a.txt", "hello")
	events := make(chan Event, 64)

	_, err := h.orch.Run(context.Background(), h.root, events)
	require.NoError(t, err)

	got := collect(events)
	assert.Equal(t, []EventKind{EventFileStarted, EventChunkEmbedded, EventFileIndexed, EventDone}, kinds(got))
	assert.Equal(t, path, got[0].Path)
	assert.Equal(t, 1, got[2].Chunks)

	done := got[len(got)-1]
	require.NotNil(t, done.Progress)
	assert.Equal(t, 1, done.Progress.FilesIndexed)
}

func TestRun_ExactlyOneTerminalEventWhenBufferIsFull(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 10; i++ {
		h.write(filepath.Join("docs", string(rune('a'+i))+".txt"), "some text")
	}
	events := make(chan Event, 3)

	_, err := h.orch.Run(context.Background(), h.root, events)
	require.NoError(t, err)

	got := collect(events)
	var terminal int
	for _, ev := range got {
		if ev.Kind.Terminal() {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)
	assert.Equal(t, EventDone, got[len(got)-1].Kind)
}

func TestRun_UnreadUnbufferedChannelDoesNotBlock(t *testing.T) {
	h := newHarness(t, withConfig(func(c *Config) {
		c.EmitterOptions = append(c.EmitterOptions, WithTerminalTimeout(10*time.Millisecond))
	}))
	h.write("a.txt", "hello")
	events := make(chan Event)

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Run(context.Background(), h.root, events)
		done <- err
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run blocked on an unread event channel")
	}
}

func TestRun_LockedStore(t *testing.T) {
	h := newHarness(t)
	h.write("a.txt", "hello")

	// Given: another writer holds the lock
	other := NewWriterLock(h.storeRoot)
	require.NoError(t, other.TryLock())
	defer other.Unlock()

	events := make(chan Event, 4)
	_, err := h.orch.Run(context.Background(), h.root, events)

	require.Error(t, err)
	assert.ErrorIs(t, err, nexuserrors.ErrIndexLocked)
	assert.Equal(t, []EventKind{EventError}, kinds(collect(events)))
}

func TestRun_InvalidRoot(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Run(context.Background(), filepath.Join(h.root, "missing"), nil)

	assert.Equal(t, nexuserrors.ErrCodeInvalidPath, nexuserrors.GetCode(err))
}

func TestRun_RemovesVanishedFiles(t *testing.T) {
	h := newHarness(t)
	h.write("a.txt", "stays")
	gone := h.write("b.txt", "goes away")
	h.run()
	old := h.record(gone)
	require.NotNil(t, old)

	require.NoError(t, os.Remove(gone))
	progress := h.run()

	assert.Equal(t, 1, progress.FilesRemoved)
	assert.Nil(t, h.record(gone))
	assert.Zero(t, h.vectors.DocCount(old.DocID))
	assert.Empty(t, h.search("away"))
}

func TestRun_ResumesPagedDocumentAfterInterruption(t *testing.T) {
	pages := []string{"page one text", "page two text", "page three text", "page four text", "page five text"}

	// Given: an uninterrupted run for reference
	ref := newFakeExtractor()
	ref.pages["doc.pdf"] = pages
	want := newHarness(t, withExtractor(ref))
	wantPath := want.write("doc.pdf", "%PDF stand-in")
	want.run()
	wantChunks, err := want.lexical.Chunks(context.Background(), want.record(wantPath).DocID)
	require.NoError(t, err)

	fx := newFakeExtractor()
	fx.pages["doc.pdf"] = pages
	h := newHarness(t, withExtractor(fx))
	path := h.write("doc.pdf", "%PDF stand-in")

	// When: the first run is cancelled while page 4 is read
	ctx, cancel := context.WithCancel(context.Background())
	fx.onPage = func(_ string, page int) {
		if page == 3 {
			cancel()
		}
	}
	_, err = h.orch.Run(ctx, h.root, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, h.record(path))

	docID := state.DocID(path, fingerprintOf(t, path))
	cp, err := h.state.LoadCheckpoint(context.Background(), docID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 2, cp.LastPage)

	// When: the run is repeated
	fx.mu.Lock()
	fx.onPage, fx.read = nil, nil
	fx.mu.Unlock()
	progress := h.run()

	// Then: it continues after the last completed page
	assert.Equal(t, []int{3, 4}, fx.pagesRead())
	assert.Equal(t, 1, progress.FilesIndexed)

	rec := h.record(path)
	require.NotNil(t, rec)
	got, err := h.lexical.Chunks(context.Background(), rec.DocID)
	require.NoError(t, err)
	require.Len(t, got, len(wantChunks))
	for i := range got {
		assert.Equal(t, wantChunks[i].ChunkIndex, got[i].ChunkIndex)
		assert.Equal(t, wantChunks[i].Page, got[i].Page)
		assert.Equal(t, wantChunks[i].Snippet, got[i].Snippet)
	}
	assert.Equal(t, len(wantChunks), h.vectors.DocCount(rec.DocID))

	cps, err := h.state.Checkpoints(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cps)
}

func TestRun_DiscardsStaleCheckpoint(t *testing.T) {
	fx := newFakeExtractor()
	fx.pages["doc.pdf"] = []string{"one", "two", "three"}
	h := newHarness(t, withExtractor(fx))
	path := h.write("doc.pdf", "version one")

	ctx, cancel := context.WithCancel(context.Background())
	fx.onPage = func(_ string, page int) {
		if page == 2 {
			cancel()
		}
	}
	_, err := h.orch.Run(ctx, h.root, nil)
	require.ErrorIs(t, err, context.Canceled)
	staleID := state.DocID(path, fingerprintOf(t, path))
	require.Equal(t, 2, h.vectors.DocCount(staleID))

	// Given: the file changes before the next run
	h.write("doc.pdf", "version two")
	fx.mu.Lock()
	fx.onPage, fx.read = nil, nil
	fx.mu.Unlock()
	h.run()

	// Then: the partial version is gone and the new one starts from page 1
	assert.Equal(t, []int{0, 1, 2}, fx.pagesRead())
	assert.Zero(t, h.vectors.DocCount(staleID))
	cp, err := h.state.LoadCheckpoint(context.Background(), staleID)
	require.NoError(t, err)
	assert.Nil(t, cp)
	assert.Equal(t, 3, h.record(path).ChunkCount)
}

func TestIndexFileAndRemoveFile(t *testing.T) {
	h := newHarness(t)
	path := h.write("a.txt", "single file")
	ctx := context.Background()

	progress, err := h.orch.IndexFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.FilesIndexed)
	rec := h.record(path)
	require.NotNil(t, rec)

	removed, err := h.orch.RemoveFile(ctx, path)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Nil(t, h.record(path))
	assert.Zero(t, h.vectors.DocCount(rec.DocID))

	removed, err = h.orch.RemoveFile(ctx, path)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRun_DimensionMismatch(t *testing.T) {
	records, err := state.Open("", state.Policy{})
	require.NoError(t, err)
	defer records.Close()
	lex, err := store.NewBleveStore("")
	require.NoError(t, err)
	defer lex.Close()

	// Given: a vector index built for another model
	orch, err := New(Dependencies{
		State:    records,
		Vectors:  store.NewHNSWStore(store.HNSWConfig{Dimensions: 3}),
		Lexical:  lex,
		Embedder: embed.NewStaticEmbedder(),
		Memory:   fixedMemory(0),
	}, Config{})
	require.NoError(t, err)

	_, err = orch.Run(context.Background(), t.TempDir(), nil)

	assert.Equal(t, nexuserrors.ErrCodeDimensionMismatch, nexuserrors.GetCode(err))
}

func TestNew_RequiresStores(t *testing.T) {
	_, err := New(Dependencies{}, Config{})
	assert.Error(t, err)
}

func fingerprintOf(t *testing.T, path string) string {
	t.Helper()
	fp, err := state.FingerprintFile(path)
	require.NoError(t, err)
	return fp
}
