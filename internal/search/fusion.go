package search

import (
	"sort"

	"github.com/Aman-CERP/nexus/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
const DefaultRRFConstant = 60

// RRFFusion combines ranked lists with Reciprocal Rank Fusion:
//
//	RRF(d) = Σ 1 / (k + rank_i(d))
//
// summed over the lists that contain d, with 1-indexed ranks. A list that
// does not contain d contributes nothing.
type RRFFusion struct {
	K int
}

// NewRRFFusion creates a fusion with k=60.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// NewRRFFusionWithK creates a fusion with a custom k. k <= 0 selects 60.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

type chunkKey struct {
	docID string
	index int
}

// Fuse merges the semantic and lexical rankings. Identity is
// (doc_id, chunk_index). Results are ordered by fused score, then by
// doc_id and chunk_index ascending, so equal inputs give equal output.
func (f *RRFFusion) Fuse(semantic, lexical []store.Hit) []Result {
	if len(semantic) == 0 && len(lexical) == 0 {
		return []Result{}
	}

	fused := make(map[chunkKey]*Result, len(semantic)+len(lexical))
	add := func(hits []store.Hit, source Source) {
		for i, h := range hits {
			key := chunkKey{h.DocID, h.ChunkIndex}
			r, ok := fused[key]
			if !ok {
				r = &Result{DocID: h.DocID, ChunkIndex: h.ChunkIndex, FilePath: h.FilePath, Page: h.Page}
				fused[key] = r
			}
			rank := f.rank(r, source)
			if *rank > 0 {
				// Repeated within one list; the better rank already counted.
				continue
			}
			*rank = i + 1
			r.Score += 1.0 / float64(f.K+i+1)
			if r.Snippet == "" {
				r.Snippet = h.Snippet
			}
		}
	}
	add(semantic, SourceSemantic)
	add(lexical, SourceLexical)

	results := make([]Result, 0, len(fused))
	for _, r := range fused {
		switch {
		case r.SemanticRank > 0 && r.LexicalRank > 0:
			r.Source = SourceBoth
		case r.SemanticRank > 0:
			r.Source = SourceSemantic
		default:
			r.Source = SourceLexical
		}
		results = append(results, *r)
	}
	sort.Slice(results, func(i, j int) bool {
		return less(results[i], results[j])
	})
	return results
}

func (f *RRFFusion) rank(r *Result, source Source) *int {
	if source == SourceSemantic {
		return &r.SemanticRank
	}
	return &r.LexicalRank
}

// less orders by score descending, then (doc_id, chunk_index) ascending.
func less(a, b Result) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.DocID != b.DocID {
		return a.DocID < b.DocID
	}
	return a.ChunkIndex < b.ChunkIndex
}

// fromHits converts a single ranking without fusion.
func fromHits(hits []store.Hit, source Source) []Result {
	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{
			DocID:      h.DocID,
			ChunkIndex: h.ChunkIndex,
			Score:      h.Score,
			Source:     source,
			FilePath:   h.FilePath,
			Page:       h.Page,
			Snippet:    h.Snippet,
		}
		if source == SourceSemantic {
			results[i].SemanticRank = i + 1
		} else {
			results[i].LexicalRank = i + 1
		}
	}
	return results
}
