package search

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/nexus/internal/embed"
	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
	"github.com/Aman-CERP/nexus/internal/store"
)

type fixture struct {
	vectors  *store.HNSWStore
	lexical  store.LexicalStore
	embedder embed.Embedder
}

// newFixture indexes one single-chunk document per text.
func newFixture(t *testing.T, texts ...string) *fixture {
	t.Helper()
	lex, err := store.NewBleveStore("")
	require.NoError(t, err)
	f := &fixture{
		vectors:  store.NewHNSWStore(store.HNSWConfig{}),
		lexical:  lex,
		embedder: embed.NewStaticEmbedder(),
	}
	t.Cleanup(func() {
		_ = f.vectors.Close()
		_ = lex.Close()
	})

	ctx := context.Background()
	for i, text := range texts {
		docID := fmt.Sprintf("doc-%02d", i)
		vec, err := f.embedder.Embed(ctx, text)
		require.NoError(t, err)
		entries := []store.Entry{{
			DocID:    docID,
			FilePath: fmt.Sprintf("/docs/%02d.txt", i),
			Text:     text,
			Vector:   vec,
		}}
		require.NoError(t, f.vectors.Upsert(ctx, docID, entries))
		require.NoError(t, f.lexical.Upsert(ctx, docID, entries))
	}
	return f
}

func (f *fixture) engine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(f.vectors, f.lexical, f.embedder, cfg)
	require.NoError(t, err)
	return e
}

type failingVectors struct {
	store.VectorStore
}

func (failingVectors) Search(context.Context, []float32, int) ([]store.Hit, error) {
	return nil, errors.New("vector index unreadable")
}

type failingLexical struct {
	store.LexicalStore
}

func (failingLexical) Search(context.Context, string, int) ([]store.Hit, error) {
	return nil, errors.New("lexical index unreadable")
}

type failingEmbedder struct {
	embed.Embedder
}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("model offline")
}

type recordingLexical struct {
	store.LexicalStore
	k int
}

func (r *recordingLexical) Search(ctx context.Context, q string, k int) ([]store.Hit, error) {
	r.k = k
	return r.LexicalStore.Search(ctx, q, k)
}

func TestSearch_Lexical(t *testing.T) {
	f := newFixture(t, "hello world, hello again", "unrelated text")
	e := f.engine(t, Config{})

	resp, err := e.Search(context.Background(), "hello", ModeLexical, 5)

	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	r := resp.Results[0]
	assert.Equal(t, "/docs/00.txt", r.FilePath)
	assert.Positive(t, r.Score)
	assert.Equal(t, SourceLexical, r.Source)
	assert.Contains(t, r.Snippet, "hello")
}

func TestSearch_SemanticFillsSnippets(t *testing.T) {
	f := newFixture(t, "configuring the embedding server", "baking sourdough bread")
	e := f.engine(t, Config{})

	resp, err := e.Search(context.Background(), "embedding server configuration", ModeSemantic, 1)

	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "doc-00", resp.Results[0].DocID)
	assert.Equal(t, SourceSemantic, resp.Results[0].Source)
	assert.Equal(t, "configuring the embedding server", resp.Results[0].Snippet)
}

func TestSearch_HybridFusesBothSides(t *testing.T) {
	f := newFixture(t, "hello world", "hello there friend", "goodbye world")
	e := f.engine(t, Config{})

	resp, err := e.Search(context.Background(), "hello world", ModeHybrid, 3)

	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Empty(t, resp.Warnings)
	top := resp.Results[0]
	assert.Equal(t, "doc-00", top.DocID)
	assert.Equal(t, SourceBoth, top.Source)
	assert.Equal(t, 2.0/61, top.Score)
}

func TestSearch_LimitRespected(t *testing.T) {
	var texts []string
	for i := 0; i < 20; i++ {
		texts = append(texts, fmt.Sprintf("shared term number %d", i))
	}
	f := newFixture(t, texts...)
	e := f.engine(t, Config{})

	for _, mode := range []Mode{ModeSemantic, ModeLexical, ModeHybrid} {
		t.Run(mode.String(), func(t *testing.T) {
			resp, err := e.Search(context.Background(), "shared term", mode, 4)
			require.NoError(t, err)
			assert.Len(t, resp.Results, 4)
		})
	}
}

func TestSearch_HybridCandidatePool(t *testing.T) {
	f := newFixture(t, "hello")
	rec := &recordingLexical{LexicalStore: f.lexical}

	tests := []struct {
		multiplier int
		want       int
	}{
		{0, 15},
		{1, 10},
		{3, 15},
		{9, 20},
	}
	for _, tt := range tests {
		e, err := NewEngine(f.vectors, rec, f.embedder, Config{CandidateMultiplier: tt.multiplier})
		require.NoError(t, err)

		_, err = e.Search(context.Background(), "hello", ModeHybrid, 5)
		require.NoError(t, err)
		assert.Equal(t, tt.want, rec.k, "multiplier %d", tt.multiplier)
	}
}

func TestSearch_HybridDegradesWhenOneStoreFails(t *testing.T) {
	f := newFixture(t, "hello world")
	ctx := context.Background()

	// Given: the vector side fails
	e, err := NewEngine(failingVectors{f.vectors}, f.lexical, f.embedder, Config{})
	require.NoError(t, err)
	resp, err := e.Search(ctx, "hello", ModeHybrid, 5)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, SourceLexical, resp.Results[0].Source)
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "semantic")

	// Given: the lexical side fails
	e, err = NewEngine(f.vectors, failingLexical{f.lexical}, f.embedder, Config{})
	require.NoError(t, err)
	resp, err = e.Search(ctx, "hello", ModeHybrid, 5)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, SourceSemantic, resp.Results[0].Source)
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "lexical")
}

func TestSearch_HybridFailsWhenBothStoresFail(t *testing.T) {
	f := newFixture(t, "hello world")
	e, err := NewEngine(failingVectors{f.vectors}, failingLexical{f.lexical}, f.embedder, Config{})
	require.NoError(t, err)

	_, err = e.Search(context.Background(), "hello", ModeHybrid, 5)

	assert.Equal(t, nexuserrors.ErrCodeSearchFailed, nexuserrors.GetCode(err))
}

func TestSearch_QueryEmbeddingFailureFails(t *testing.T) {
	f := newFixture(t, "hello world")
	e, err := NewEngine(f.vectors, f.lexical, failingEmbedder{f.embedder}, Config{})
	require.NoError(t, err)

	for _, mode := range []Mode{ModeSemantic, ModeHybrid} {
		_, err := e.Search(context.Background(), "hello", mode, 5)
		assert.ErrorIs(t, err, nexuserrors.ErrEmbedding, mode.String())
	}

	// Then: lexical search does not need the embedder
	resp, err := e.Search(context.Background(), "hello", ModeLexical, 5)
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
}

func TestSearch_DimensionMismatch(t *testing.T) {
	f := newFixture(t)
	e, err := NewEngine(store.NewHNSWStore(store.HNSWConfig{Dimensions: 8}), f.lexical, f.embedder, Config{})
	require.NoError(t, err)

	_, err = e.Search(context.Background(), "hello", ModeSemantic, 5)

	assert.Equal(t, nexuserrors.ErrCodeDimensionMismatch, nexuserrors.GetCode(err))
}

func TestSearch_RejectsInvalidInput(t *testing.T) {
	f := newFixture(t, "hello")
	e := f.engine(t, Config{})
	ctx := context.Background()

	_, err := e.Search(ctx, "   ", ModeLexical, 5)
	assert.ErrorIs(t, err, nexuserrors.ErrQueryEmpty)

	_, err = e.Search(ctx, "hello", ModeLexical, 0)
	assert.Equal(t, nexuserrors.ErrCodeInvalidInput, nexuserrors.GetCode(err))

	_, err = e.Search(ctx, "hello", Mode("fuzzy"), 5)
	assert.Equal(t, nexuserrors.ErrCodeInvalidMode, nexuserrors.GetCode(err))
}

func TestSearch_EmptyStores(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t, Config{})

	resp, err := e.Search(context.Background(), "anything", ModeHybrid, 5)

	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestNewEngine_RequiresDependencies(t *testing.T) {
	f := newFixture(t)

	_, err := NewEngine(nil, f.lexical, f.embedder, Config{})
	assert.ErrorIs(t, err, ErrNilDependency)
	_, err = NewEngine(f.vectors, nil, f.embedder, Config{})
	assert.ErrorIs(t, err, ErrNilDependency)
	_, err = NewEngine(f.vectors, f.lexical, nil, Config{})
	assert.ErrorIs(t, err, ErrNilDependency)
}
