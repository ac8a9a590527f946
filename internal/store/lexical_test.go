package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
)

func textEntries(docID, path string, texts ...string) []Entry {
	out := make([]Entry, len(texts))
	for i, text := range texts {
		out[i] = Entry{DocID: docID, ChunkIndex: i, FilePath: path, Text: text}
	}
	return out
}

// lexicalBackends runs fn against every LexicalStore implementation.
func lexicalBackends(t *testing.T, fn func(t *testing.T, s LexicalStore)) {
	backends := map[string]func() (LexicalStore, error){
		"bleve":  func() (LexicalStore, error) { return NewBleveStore("") },
		"sqlite": func() (LexicalStore, error) { return NewSQLiteStore("") },
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			s, err := open()
			require.NoError(t, err)
			defer func() { _ = s.Close() }()
			fn(t, s)
		})
	}
}

func TestLexicalStore_FindsIndexedText(t *testing.T) {
	lexicalBackends(t, func(t *testing.T, s LexicalStore) {
		ctx := context.Background()

		// Given: some indexed chunks
		require.NoError(t, s.Upsert(ctx, "doc-1", textEntries("doc-1", "/notes/a.txt", "hello world, hello again")))
		require.NoError(t, s.Upsert(ctx, "doc-2", textEntries("doc-2", "/notes/b.txt", "an unrelated grocery list")))

		// When: searching for a term
		hits, err := s.Search(ctx, "hello", 10)

		// Then: only the matching chunk is returned, with a snippet
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "doc-1", hits[0].DocID)
		assert.Equal(t, 0, hits[0].ChunkIndex)
		assert.Equal(t, "/notes/a.txt", hits[0].FilePath)
		assert.Greater(t, hits[0].Score, 0.0)
		assert.Contains(t, hits[0].Snippet, "hello world")
		assert.Equal(t, 2, s.Count())
	})
}

func TestLexicalStore_RanksMoreRelevantFirst(t *testing.T) {
	lexicalBackends(t, func(t *testing.T, s LexicalStore) {
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, "doc", textEntries("doc", "/d",
			"budget meeting notes",
			"budget budget budget forecast and budget review",
			"holiday photos")))

		hits, err := s.Search(ctx, "budget", 10)

		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, 1, hits[0].ChunkIndex)
		assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
	})
}

func TestLexicalStore_AnyTermMatches(t *testing.T) {
	lexicalBackends(t, func(t *testing.T, s LexicalStore) {
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, "doc", textEntries("doc", "/d", "apples", "oranges", "pears")))

		hits, err := s.Search(ctx, "apples oranges", 10)

		require.NoError(t, err)
		assert.Len(t, hits, 2)
	})
}

func TestLexicalStore_LimitAndEmptyQuery(t *testing.T) {
	lexicalBackends(t, func(t *testing.T, s LexicalStore) {
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, "doc", textEntries("doc", "/d", "alpha one", "alpha two", "alpha three")))

		hits, err := s.Search(ctx, "alpha", 2)
		require.NoError(t, err)
		assert.Len(t, hits, 2)

		hits, err = s.Search(ctx, "  the  ", 10)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

func TestLexicalStore_UpsertReplacesAndDeleteRemoves(t *testing.T) {
	lexicalBackends(t, func(t *testing.T, s LexicalStore) {
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, "old", textEntries("old", "/f", "original wording", "second chunk")))

		// When: chunk 0 is rewritten
		require.NoError(t, s.Upsert(ctx, "old", []Entry{{ChunkIndex: 0, FilePath: "/f", Text: "revised wording"}}))

		// Then: the old text is gone and the count is unchanged
		hits, err := s.Search(ctx, "original", 10)
		require.NoError(t, err)
		assert.Empty(t, hits)
		assert.Equal(t, 2, s.Count())

		// When: the document is deleted
		require.NoError(t, s.Delete(ctx, "old"))
		require.NoError(t, s.Delete(ctx, "never-indexed"))

		// Then: nothing of it remains
		hits, err = s.Search(ctx, "wording", 10)
		require.NoError(t, err)
		assert.Empty(t, hits)
		assert.Zero(t, s.Count())
	})
}

func TestLexicalStore_ChunksInOrder(t *testing.T) {
	lexicalBackends(t, func(t *testing.T, s LexicalStore) {
		ctx := context.Background()
		texts := make([]string, 12)
		for i := range texts {
			texts[i] = "chunk text"
		}
		require.NoError(t, s.Upsert(ctx, "doc", textEntries("doc", "/d", texts...)))
		require.NoError(t, s.Upsert(ctx, "other", textEntries("other", "/o", "other text")))

		chunks, err := s.Chunks(ctx, "doc")

		require.NoError(t, err)
		require.Len(t, chunks, 12)
		for i, c := range chunks {
			assert.Equal(t, i, c.ChunkIndex)
			assert.Equal(t, "chunk text", c.Snippet)
		}
	})
}

func TestLexicalStore_CamelCaseParts(t *testing.T) {
	lexicalBackends(t, func(t *testing.T, s LexicalStore) {
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, "doc", textEntries("doc", "/d", "call parseHTTPRequest first")))

		hits, err := s.Search(ctx, "request", 10)

		require.NoError(t, err)
		assert.Len(t, hits, 1)
	})
}

func TestNewLexicalStore_PersistsUnderRoot(t *testing.T) {
	for _, backend := range []string{"bleve", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			root := t.TempDir()
			ctx := context.Background()

			s, err := NewLexicalStore(root, backend)
			require.NoError(t, err)
			require.NoError(t, s.Upsert(ctx, "doc", textEntries("doc", "/d", "persistent words")))
			require.NoError(t, s.Close())

			reopened, err := NewLexicalStore(root, backend)
			require.NoError(t, err)
			defer func() { _ = reopened.Close() }()

			hits, err := reopened.Search(ctx, "persistent", 5)
			require.NoError(t, err)
			assert.Len(t, hits, 1)
			if backend == "bleve" {
				assert.DirExists(t, LexicalPath(root, BackendBleve))
			} else {
				assert.FileExists(t, LexicalPath(root, BackendSQLite))
			}
		})
	}
}

func TestNewLexicalStore_DefaultsToSQLite(t *testing.T) {
	root := t.TempDir()

	s, err := NewLexicalStore(root, "")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	assert.IsType(t, &SQLiteStore{}, s)
	assert.FileExists(t, LexicalPath(root, BackendSQLite))
}

func TestNewLexicalStore_SharedRoot(t *testing.T) {
	// Given: a sqlite lexical index held open by one handle
	root := t.TempDir()
	ctx := context.Background()
	first, err := NewLexicalStore(root, "sqlite")
	require.NoError(t, err)
	defer func() { _ = first.Close() }()
	require.NoError(t, first.Upsert(ctx, "doc", textEntries("doc", "/d", "shared words")))

	// When: a second handle opens the same root
	second, err := NewLexicalStore(root, "sqlite")

	// Then: it opens and reads what the first wrote
	require.NoError(t, err)
	defer func() { _ = second.Close() }()
	hits, err := second.Search(ctx, "shared", 5)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestNewBleveStore_HeldElsewhereFailsFast(t *testing.T) {
	// Given: a bleve index held open by one handle
	path := LexicalPath(t.TempDir(), BackendBleve)
	first, err := NewBleveStore(path)
	require.NoError(t, err)
	defer func() { _ = first.Close() }()

	// When: a second handle opens it
	start := time.Now()
	_, err = NewBleveStore(path)

	// Then: it gives up after the lock timeout with a locked error
	require.Error(t, err)
	assert.Equal(t, nexuserrors.ErrCodeIndexLocked, nexuserrors.GetCode(err))
	assert.Less(t, time.Since(start), BleveOpenTimeout+5*time.Second)
}

func TestExistingBackend(t *testing.T) {
	root := t.TempDir()
	_, ok := ExistingBackend(root)
	assert.False(t, ok)

	s, err := NewLexicalStore(root, "bleve")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	backend, ok := ExistingBackend(root)
	assert.True(t, ok)
	assert.Equal(t, BackendBleve, backend)
}

func TestNewLexicalStore_UnknownBackend(t *testing.T) {
	_, err := NewLexicalStore(t.TempDir(), "lucene")
	assert.Error(t, err)
}
