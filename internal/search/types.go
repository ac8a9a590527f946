// Package search answers queries against the vector and lexical stores.
// Hybrid queries fuse both rankings with Reciprocal Rank Fusion (RRF).
package search

import (
	"fmt"
	"strings"

	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
)

// Mode selects the retrieval path.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeLexical  Mode = "lexical"
	ModeHybrid   Mode = "hybrid"
)

// ParseMode accepts a mode name or one of its aliases. An empty string
// selects hybrid.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "hybrid":
		return ModeHybrid, nil
	case "semantic", "vector":
		return ModeSemantic, nil
	case "lexical", "keyword":
		return ModeLexical, nil
	default:
		return "", nexuserrors.New(nexuserrors.ErrCodeInvalidMode, fmt.Sprintf("unknown search mode %q", s), nil).
			WithSuggestion("Use semantic, lexical or hybrid")
	}
}

// String returns the canonical mode name.
func (m Mode) String() string {
	return string(m)
}

// Source names the retrieval paths that returned a result.
type Source string

const (
	SourceSemantic Source = "semantic"
	SourceLexical  Source = "lexical"
	SourceBoth     Source = "both"
)

// Result is one ranked chunk.
type Result struct {
	DocID      string  `json:"doc_id"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"` // Similarity, BM25 or fused RRF score depending on mode
	Source     Source  `json:"source"`
	FilePath   string  `json:"file_path"`
	Page       int     `json:"page"`
	Snippet    string  `json:"snippet,omitempty"`

	// Positions in the input rankings (1-indexed, 0 if absent).
	SemanticRank int `json:"semantic_rank,omitempty"`
	LexicalRank  int `json:"lexical_rank,omitempty"`
}

// Response is the outcome of a search. Warnings are set when a hybrid
// search fell back to a single ranking.
type Response struct {
	Query    string   `json:"query"`
	Mode     Mode     `json:"mode"`
	Results  []Result `json:"results"`
	Warnings []string `json:"warnings,omitempty"`
}

func (r *Response) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}
