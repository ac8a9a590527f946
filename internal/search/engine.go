package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/nexus/internal/config"
	"github.com/Aman-CERP/nexus/internal/embed"
	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
	"github.com/Aman-CERP/nexus/internal/store"
)

// Candidate pool sizing for hybrid search.
const (
	DefaultCandidateMultiplier = 3
	MinCandidateMultiplier     = 2
	MaxCandidateMultiplier     = 4
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Config tunes the engine.
type Config struct {
	RRFConstant         int // 0 = DefaultRRFConstant
	CandidateMultiplier int // Clamped to [MinCandidateMultiplier, MaxCandidateMultiplier]; 0 = default
}

// ConfigFrom builds a Config from the search section.
func ConfigFrom(cfg config.SearchConfig) Config {
	return Config{
		RRFConstant:         cfg.RRFConstant,
		CandidateMultiplier: cfg.CandidateMultiplier,
	}
}

// Engine runs semantic, lexical and hybrid queries. It only reads from the
// stores and is safe for concurrent use, including alongside an indexing
// run.
type Engine struct {
	vectors    store.VectorStore
	lexical    store.LexicalStore
	embedder   embed.Embedder
	fusion     *RRFFusion
	multiplier int
	stopWords  map[string]struct{}
}

// NewEngine creates an engine over the given stores.
func NewEngine(vectors store.VectorStore, lexical store.LexicalStore, embedder embed.Embedder, cfg Config) (*Engine, error) {
	if vectors == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrNilDependency)
	}
	if lexical == nil {
		return nil, fmt.Errorf("%w: lexical store is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}

	m := cfg.CandidateMultiplier
	if m == 0 {
		m = DefaultCandidateMultiplier
	}
	m = min(max(m, MinCandidateMultiplier), MaxCandidateMultiplier)

	return &Engine{
		vectors:    vectors,
		lexical:    lexical,
		embedder:   embedder,
		fusion:     NewRRFFusionWithK(cfg.RRFConstant),
		multiplier: m,
		stopWords:  store.BuildStopWordMap(store.EnglishStopWords),
	}, nil
}

// CandidatePool returns how many candidates each side of a hybrid query
// retrieves for limit.
func (e *Engine) CandidatePool(limit int) int {
	return limit * e.multiplier
}

// Search returns at most limit results for query. An empty query or a
// non-positive limit is rejected. A failed query embedding fails semantic
// and hybrid searches; a failed store on one side of a hybrid search falls
// back to the other side with a warning.
func (e *Engine) Search(ctx context.Context, query string, mode Mode, limit int) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nexuserrors.New(nexuserrors.ErrCodeQueryEmpty, "query is empty", nil).
			WithSuggestion("Provide at least one search term")
	}
	if limit <= 0 {
		return nil, nexuserrors.ValidationError(fmt.Sprintf("limit must be positive, got %d", limit), nil)
	}
	if mode == "" {
		mode = ModeHybrid
	}

	start := time.Now()
	resp := &Response{Query: query, Mode: mode}
	var err error
	switch mode {
	case ModeSemantic:
		resp.Results, err = e.semantic(ctx, query, limit)
	case ModeLexical:
		resp.Results, err = e.keyword(ctx, query, limit)
	case ModeHybrid:
		err = e.hybrid(ctx, query, limit, resp)
	default:
		_, err = ParseMode(string(mode))
	}
	if err != nil {
		slog.Warn("search_failed",
			slog.String("mode", mode.String()),
			slog.String("error", err.Error()))
		return nil, err
	}

	if len(resp.Results) > limit {
		resp.Results = resp.Results[:limit]
	}
	e.fillSnippets(ctx, query, resp.Results)

	slog.Debug("search_complete",
		slog.String("mode", mode.String()),
		slog.Int("limit", limit),
		slog.Int("results", len(resp.Results)),
		slog.Int("warnings", len(resp.Warnings)),
		slog.Int64("latency_ms", time.Since(start).Milliseconds()))
	return resp, nil
}

func (e *Engine) semantic(ctx context.Context, query string, limit int) ([]Result, error) {
	if err := embed.CheckDimensions(e.embedder, e.vectors.Dimensions()); err != nil {
		return nil, err
	}
	vec, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := e.vectors.Search(ctx, vec, limit)
	if err != nil {
		return nil, searchError("vector", err)
	}
	return fromHits(hits, SourceSemantic), nil
}

func (e *Engine) keyword(ctx context.Context, query string, limit int) ([]Result, error) {
	hits, err := e.lexical.Search(ctx, query, limit)
	if err != nil {
		return nil, searchError("lexical", err)
	}
	return fromHits(hits, SourceLexical), nil
}

// hybrid queries both stores in parallel and fuses the rankings.
func (e *Engine) hybrid(ctx context.Context, query string, limit int, resp *Response) error {
	pool := e.CandidatePool(limit)

	var (
		semHits, lexHits []store.Hit
		semErr, lexErr   error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := embed.CheckDimensions(e.embedder, e.vectors.Dimensions()); err != nil {
			semErr = err
			return nil
		}
		vec, err := e.embedQuery(gctx, query)
		if err != nil {
			// No meaningful fusion without a query vector.
			return err
		}
		semHits, semErr = e.vectors.Search(gctx, vec, pool)
		return nil
	})
	g.Go(func() error {
		lexHits, lexErr = e.lexical.Search(gctx, query, pool)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	switch {
	case semErr != nil && lexErr != nil:
		return nexuserrors.New(nexuserrors.ErrCodeSearchFailed,
			"both retrieval paths failed", errors.Join(semErr, lexErr))
	case semErr != nil:
		resp.warn("semantic search unavailable, showing lexical results only: " + semErr.Error())
		slog.Warn("search_degraded", slog.String("failed", "semantic"), slog.String("error", semErr.Error()))
	case lexErr != nil:
		resp.warn("lexical search unavailable, showing semantic results only: " + lexErr.Error())
		slog.Warn("search_degraded", slog.String("failed", "lexical"), slog.String("error", lexErr.Error()))
	}

	resp.Results = e.fusion.Fuse(semHits, lexHits)
	return nil
}

func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err == nil {
		return vec, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if nexuserrors.GetCode(err) != "" {
		return nil, err
	}
	return nil, nexuserrors.EmbeddingError(fmt.Sprintf("embed query: %v", err), err)
}

// fillSnippets sets snippets for results that came only from the vector
// store, which does not keep chunk text.
func (e *Engine) fillSnippets(ctx context.Context, query string, results []Result) {
	var terms []string
	docs := map[string][]store.Hit{}
	for i := range results {
		r := &results[i]
		if r.Snippet != "" {
			continue
		}
		if terms == nil {
			terms = store.Terms(query, e.stopWords)
		}
		chunks, ok := docs[r.DocID]
		if !ok {
			var err error
			chunks, err = e.lexical.Chunks(ctx, r.DocID)
			if err != nil {
				slog.Debug("snippet_lookup_failed", slog.String("doc_id", r.DocID), slog.String("error", err.Error()))
			}
			docs[r.DocID] = chunks
		}
		for _, c := range chunks {
			if c.ChunkIndex == r.ChunkIndex {
				r.Snippet = store.Snippet(c.Snippet, terms)
				break
			}
		}
	}
}

func searchError(side string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nexuserrors.New(nexuserrors.ErrCodeSearchFailed, side+" search failed: "+err.Error(), err)
}
