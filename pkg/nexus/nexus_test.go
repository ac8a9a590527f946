package nexus

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/nexus/internal/config"
	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
	"github.com/Aman-CERP/nexus/internal/index"
	"github.com/Aman-CERP/nexus/internal/search"
)

func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Embeddings.Provider = "static"
	cfg.Index.Workers = 2
	return cfg
}

func openLibrary(t *testing.T, root string, cfg *config.Config) *Library {
	t.Helper()
	lib, err := Open(context.Background(), root, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lib.Close() })
	return lib
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLibrary_IndexThenSearchHello(t *testing.T) {
	docs := t.TempDir()
	path := writeFile(t, docs, "hello.txt", "hello world, hello again")
	lib := openLibrary(t, t.TempDir(), testConfig())
	ctx := context.Background()

	progress, err := lib.IndexDirectory(ctx, docs, IndexOptions{})

	require.NoError(t, err)
	assert.Equal(t, 1, progress.FilesIndexed)
	assert.GreaterOrEqual(t, progress.ChunksIndexed, 1)

	resp, err := lib.Search(ctx, "hello", search.ModeLexical, 5)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, path, resp.Results[0].FilePath)
	assert.Positive(t, resp.Results[0].Score)

	for _, mode := range []search.Mode{search.ModeSemantic, search.ModeHybrid} {
		resp, err := lib.Search(ctx, "hello", mode, 5)
		require.NoError(t, err, mode.String())
		require.NotEmpty(t, resp.Results, mode.String())
		assert.Equal(t, path, resp.Results[0].FilePath, mode.String())
	}
}

func TestLibrary_Status(t *testing.T) {
	docs := t.TempDir()
	writeFile(t, docs, "a.txt", "alpha")
	writeFile(t, docs, "b.txt", "beta")
	root := t.TempDir()
	lib := openLibrary(t, root, testConfig())
	ctx := context.Background()

	_, err := lib.IndexDirectory(ctx, docs, IndexOptions{})
	require.NoError(t, err)
	st, err := lib.Status(ctx)

	require.NoError(t, err)
	assert.Equal(t, root, st.StorePath)
	assert.Equal(t, 2, st.VectorEmbeddings)
	assert.Equal(t, 2, st.LexicalDocuments)
	assert.Equal(t, 2, st.TrackedFiles)
	assert.Equal(t, "sqlite", st.LexicalBackend)
	assert.Positive(t, st.Dimensions)
	assert.False(t, st.LastIndexed.IsZero())
}

func TestLibrary_DiscoverOptionsExcludeStore(t *testing.T) {
	docs := t.TempDir()
	root := filepath.Join(docs, ".store")
	lib := openLibrary(t, root, testConfig())

	opts := lib.DiscoverOptions()

	assert.Equal(t, []string{root}, opts.Exclude)
	assert.True(t, opts.Ignored(docs, filepath.Join(root, "lexical", "x")))
	assert.False(t, opts.Ignored(docs, filepath.Join(docs, "notes.txt")))
	assert.True(t, opts.Ignored(docs, filepath.Join(docs, "draft.tmp")))
}

func TestLibrary_PersistsAcrossReopen(t *testing.T) {
	for _, backend := range []string{"bleve", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			docs := t.TempDir()
			path := writeFile(t, docs, "lease.txt", "lease agreement security deposit")
			root := t.TempDir()
			cfg := testConfig()
			cfg.Storage.LexicalBackend = backend
			ctx := context.Background()

			lib, err := Open(ctx, root, cfg)
			require.NoError(t, err)
			_, err = lib.IndexDirectory(ctx, docs, IndexOptions{})
			require.NoError(t, err)
			require.NoError(t, lib.Close())

			// When: the store is opened again
			lib = openLibrary(t, root, cfg)

			resp, err := lib.Search(ctx, "deposit", search.ModeHybrid, 5)
			require.NoError(t, err)
			require.NotEmpty(t, resp.Results)
			assert.Equal(t, path, resp.Results[0].FilePath)

			// Then: a second run sees nothing new
			progress, err := lib.IndexDirectory(ctx, docs, IndexOptions{})
			require.NoError(t, err)
			assert.Equal(t, 1, progress.FilesUnchanged)
			assert.Zero(t, progress.FilesIndexed)
		})
	}
}

func TestLibrary_MaxFileOverride(t *testing.T) {
	docs := t.TempDir()
	writeFile(t, docs, "big.txt", strings.Repeat("word ", 300_000))
	writeFile(t, docs, "small.txt", "tiny")
	lib := openLibrary(t, t.TempDir(), testConfig())

	progress, err := lib.IndexDirectory(context.Background(), docs, IndexOptions{MaxFileMB: 1})

	require.NoError(t, err)
	assert.Equal(t, 1, progress.FilesIndexed)
	assert.Equal(t, 1, progress.FilesSkipped)
}

func TestLibrary_RunSettingsOverrides(t *testing.T) {
	lib := openLibrary(t, t.TempDir(), testConfig())
	memory := 256

	policy, cfg := lib.runSettings(IndexOptions{MaxFileMB: 3, MaxMemoryMB: &memory})

	assert.Equal(t, int64(3)<<20, policy.MaxFileBytes)
	assert.Equal(t, 256, cfg.MaxMemoryMB)

	policy, cfg = lib.runSettings(IndexOptions{})
	assert.Equal(t, int64(lib.cfg.Index.MaxFileMB)<<20, policy.MaxFileBytes)
	assert.Equal(t, lib.cfg.Index.MaxMemoryMB, cfg.MaxMemoryMB)
}

func TestLibrary_RejectedRunKeepsPolicy(t *testing.T) {
	// Given: a store whose writer lock is held by a run in progress
	docs := t.TempDir()
	writeFile(t, docs, "a.txt", "alpha")
	root := t.TempDir()
	lib := openLibrary(t, root, testConfig())
	before := lib.records.Policy()
	held := index.NewWriterLock(root)
	require.NoError(t, held.TryLock())
	t.Cleanup(func() { _ = held.Unlock() })
	ctx := context.Background()

	// When: calls with a size override arrive concurrently
	errs := make(chan error, 3)
	go func() {
		_, err := lib.IndexDirectory(ctx, docs, IndexOptions{MaxFileMB: 1})
		errs <- err
	}()
	go func() {
		_, err := lib.IndexFile(ctx, filepath.Join(docs, "a.txt"))
		errs <- err
	}()
	go func() {
		_, err := lib.RemoveFile(ctx, filepath.Join(docs, "a.txt"))
		errs <- err
	}()

	// Then: every call is rejected and the running policy is untouched
	for range 3 {
		err := <-errs
		require.Error(t, err)
		assert.ErrorIs(t, err, nexuserrors.ErrIndexLocked)
	}
	assert.Equal(t, before, lib.records.Policy())
}

func TestLibrary_EventsEndWithDone(t *testing.T) {
	docs := t.TempDir()
	writeFile(t, docs, "a.txt", "alpha")
	lib := openLibrary(t, t.TempDir(), testConfig())
	events := make(chan index.Event, 32)
	limit := 512

	_, err := lib.IndexDirectory(context.Background(), docs, IndexOptions{Events: events, MaxMemoryMB: &limit})
	require.NoError(t, err)
	close(events)

	var last index.Event
	for ev := range events {
		last = ev
	}
	assert.Equal(t, index.EventDone, last.Kind)
	require.NotNil(t, last.Progress)
	assert.Equal(t, 1, last.Progress.FilesIndexed)
}

func TestLibrary_Explain(t *testing.T) {
	docs := t.TempDir()
	path := writeFile(t, docs, "a.txt", "explain this document")
	lib := openLibrary(t, t.TempDir(), testConfig())
	ctx := context.Background()
	_, err := lib.IndexDirectory(ctx, docs, IndexOptions{})
	require.NoError(t, err)

	// By path
	chunks, rec, err := lib.Explain(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, path, rec.Path)
	require.Len(t, chunks, 1)
	assert.Equal(t, "explain this document", chunks[0].Snippet)

	// By doc_id
	chunks, byID, err := lib.Explain(ctx, rec.DocID)
	require.NoError(t, err)
	assert.Equal(t, rec.DocID, byID.DocID)
	assert.Len(t, chunks, 1)

	_, _, err = lib.Explain(ctx, "no-such-doc")
	assert.Equal(t, nexuserrors.ErrCodeFileNotFound, nexuserrors.GetCode(err))
}

func TestLibrary_IndexFileAndRemoveFile(t *testing.T) {
	docs := t.TempDir()
	path := writeFile(t, docs, "a.txt", "watched content")
	lib := openLibrary(t, t.TempDir(), testConfig())
	ctx := context.Background()

	_, err := lib.IndexFile(ctx, path)
	require.NoError(t, err)
	resp, err := lib.Search(ctx, "watched", search.ModeLexical, 5)
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)

	removed, err := lib.RemoveFile(ctx, path)
	require.NoError(t, err)
	assert.True(t, removed)
	resp, err = lib.Search(ctx, "watched", search.ModeLexical, 5)
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestLibrary_IndependentHandles(t *testing.T) {
	docsA, docsB := t.TempDir(), t.TempDir()
	writeFile(t, docsA, "a.txt", "apples")
	writeFile(t, docsB, "b.txt", "bananas")
	a := openLibrary(t, t.TempDir(), testConfig())
	b := openLibrary(t, t.TempDir(), testConfig())
	ctx := context.Background()

	_, err := a.IndexDirectory(ctx, docsA, IndexOptions{})
	require.NoError(t, err)
	_, err = b.IndexDirectory(ctx, docsB, IndexOptions{})
	require.NoError(t, err)

	resp, err := a.Search(ctx, "bananas", search.ModeLexical, 5)
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	resp, err = b.Search(ctx, "bananas", search.ModeLexical, 5)
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
}

func TestLibrary_SharedRoot(t *testing.T) {
	// Given: an indexed store held open by one handle
	docs := t.TempDir()
	writeFile(t, docs, "a.txt", "apples and pears")
	root := t.TempDir()
	ctx := context.Background()
	writer := openLibrary(t, root, testConfig())
	_, err := writer.IndexDirectory(ctx, docs, IndexOptions{})
	require.NoError(t, err)

	// When: a second handle opens the same root
	opened := make(chan *Library, 1)
	go func() {
		lib, err := Open(ctx, root, testConfig())
		assert.NoError(t, err)
		opened <- lib
	}()
	var reader *Library
	select {
	case reader = <-opened:
	case <-time.After(10 * time.Second):
		t.Fatal("second handle on the store root did not open")
	}
	require.NotNil(t, reader)
	t.Cleanup(func() { _ = reader.Close() })

	// Then: it searches the shared index and a second writer is rejected
	resp, err := reader.Search(ctx, "pears", search.ModeLexical, 5)
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)

	held := index.NewWriterLock(root)
	require.NoError(t, held.TryLock())
	defer func() { _ = held.Unlock() }()
	_, err = reader.IndexDirectory(ctx, docs, IndexOptions{})
	assert.ErrorIs(t, err, nexuserrors.ErrIndexLocked)
}

func TestLibrary_BleveRootHeldElsewhere(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.LexicalBackend = "bleve"
	root := t.TempDir()
	openLibrary(t, root, cfg)

	_, err := Open(context.Background(), root, cfg)

	require.Error(t, err)
	assert.Equal(t, nexuserrors.ErrCodeIndexLocked, nexuserrors.GetCode(err))
}

func TestLibrary_ExistingBackendWins(t *testing.T) {
	// Given: a store created with the bleve backend
	cfg := testConfig()
	cfg.Storage.LexicalBackend = "bleve"
	root := t.TempDir()
	lib, err := Open(context.Background(), root, cfg)
	require.NoError(t, err)
	require.NoError(t, lib.Close())

	// When: it is reopened with the default backend
	lib = openLibrary(t, root, testConfig())
	st, err := lib.Status(context.Background())

	// Then: the existing index is used
	require.NoError(t, err)
	assert.Equal(t, "bleve", st.LexicalBackend)
}

func TestLibrary_ClosedHandle(t *testing.T) {
	lib, err := Open(context.Background(), t.TempDir(), testConfig())
	require.NoError(t, err)
	require.NoError(t, lib.Close())
	require.NoError(t, lib.Close())

	_, err = lib.Search(context.Background(), "x", search.ModeLexical, 1)
	assert.Error(t, err)
	_, err = lib.Status(context.Background())
	assert.Error(t, err)
}

func TestLibrary_QueryStats(t *testing.T) {
	// Given: an indexed store and two searches, one without hits
	docs := t.TempDir()
	writeFile(t, docs, "notes.txt", "quarterly budget review")
	root := t.TempDir()
	ctx := context.Background()
	lib, err := Open(ctx, root, testConfig())
	require.NoError(t, err)
	_, err = lib.IndexDirectory(ctx, docs, IndexOptions{})
	require.NoError(t, err)
	_, err = lib.Search(ctx, "budget", search.ModeLexical, 5)
	require.NoError(t, err)
	_, err = lib.Search(ctx, "zeppelin", search.ModeLexical, 5)
	require.NoError(t, err)
	require.NoError(t, lib.Close())

	// When: the store is reopened and statistics are read
	lib = openLibrary(t, root, testConfig())
	snap, err := lib.QueryStats(ctx, 7)

	// Then: both searches were persisted
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.TotalQueries)
	assert.Equal(t, int64(1), snap.ZeroResultCount)
	assert.Equal(t, int64(2), snap.ModeCounts["lexical"])
	require.Len(t, snap.ZeroResultQueries, 1)
	assert.Equal(t, "zeppelin", snap.ZeroResultQueries[0].Query)
}

func TestLibrary_QueryStatsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Search.RecordQueries = false
	root := t.TempDir()
	lib := openLibrary(t, root, cfg)

	_, err := lib.Search(context.Background(), "anything", search.ModeLexical, 5)
	require.NoError(t, err)
	_, err = lib.QueryStats(context.Background(), 7)

	require.Error(t, err)
	assert.Equal(t, nexuserrors.ErrCodeConfigInvalid, nexuserrors.GetCode(err))
	assert.NoFileExists(t, filepath.Join(root, "metrics.db"))
}
