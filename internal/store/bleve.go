package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
	bolterrors "go.etcd.io/bbolt/errors"

	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
)

const (
	// TextTokenizerName is the registered name of the word tokenizer.
	TextTokenizerName = "nexus_text_tokenizer"

	// StopFilterName is the registered name of the stop word filter.
	StopFilterName = "nexus_stop"

	// TextAnalyzerName is the analyzer applied to chunk text.
	TextAnalyzerName = "nexus_text"

	docType = "chunk"

	// BleveOpenTimeout bounds the wait for the index's bolt file lock,
	// which another open handle holds exclusively.
	BleveOpenTimeout = time.Second
)

func init() {
	_ = registry.RegisterTokenizer(TextTokenizerName, textTokenizerConstructor)
	_ = registry.RegisterTokenFilter(StopFilterName, stopFilterConstructor)
}

// bleveChunk is the indexed document. Its bleve id is the entry key.
type bleveChunk struct {
	DocID      string `json:"doc_id"`
	ChunkIndex int    `json:"chunk_index"`
	Path       string `json:"path"`
	Page       int    `json:"page"`
	Content    string `json:"content"`
}

// Type implements mapping.Classifier.
func (bleveChunk) Type() string { return docType }

// BleveStore implements LexicalStore on a bleve v2 index with BM25 scoring.
type BleveStore struct {
	mu        sync.RWMutex
	index     bleve.Index
	path      string
	stopWords map[string]struct{}
	closed    bool
}

var _ LexicalStore = (*BleveStore)(nil)

// NewBleveStore opens or creates the index at path. An empty path creates
// an in-memory index. A corrupted index is removed and recreated empty.
func NewBleveStore(path string) (*BleveStore, error) {
	m, err := newIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		idx, err = openBleve(path, m)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open lexical index: %w", err)
	}

	return &BleveStore{
		index:     idx,
		path:      path,
		stopWords: BuildStopWordMap(EnglishStopWords),
	}, nil
}

func openBleve(path string, m mapping.IndexMapping) (bleve.Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	if err := validateBleveIntegrity(path); err != nil {
		slog.Warn("lexical_index_corrupted", slog.String("path", path), slog.String("error", err.Error()))
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("remove corrupted index: %w", err)
		}
	}

	idx, err := bleve.OpenUsing(path, map[string]any{"bolt_timeout": BleveOpenTimeout.String()})
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		return bleve.New(path, m)
	}
	if err != nil && isLockTimeout(err) {
		return nil, nexuserrors.New(nexuserrors.ErrCodeIndexLocked,
			fmt.Sprintf("lexical index %s is open in another handle", path), err).
			WithSuggestion("Stop the other nexus process, or use the sqlite lexical backend to share a store")
	}
	if err != nil && isCorruptionError(err) {
		slog.Warn("lexical_index_open_failed", slog.String("path", path), slog.String("error", err.Error()))
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("remove corrupted index: %w", err)
		}
		return bleve.New(path, m)
	}
	return idx, err
}

// validateBleveIntegrity checks that an existing index has a readable
// index_meta.json. A missing directory is valid.
func validateBleveIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if err != nil {
		return fmt.Errorf("index_meta.json unreadable: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// isLockTimeout reports a bolt lock wait that ran out.
func isLockTimeout(err error) bool {
	return errors.Is(err, bolterrors.ErrTimeout)
}

func isCorruptionError(err error) bool {
	if errors.Is(err, bleve.ErrorIndexMetaCorrupt) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment")
}

func newIndexMapping() (*mapping.IndexMappingImpl, error) {
	m := bleve.NewIndexMapping()
	err := m.AddCustomAnalyzer(TextAnalyzerName, map[string]any{
		"type":          custom.Name,
		"tokenizer":     TextTokenizerName,
		"token_filters": []string{lowercase.Name, StopFilterName},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add analyzer: %w", err)
	}

	keywordField := bleve.NewKeywordFieldMapping()
	keywordField.Analyzer = keyword.Name

	content := bleve.NewTextFieldMapping()
	content.Analyzer = TextAnalyzerName
	content.IncludeTermVectors = true

	numeric := bleve.NewNumericFieldMapping()

	chunk := bleve.NewDocumentMapping()
	chunk.AddFieldMappingsAt("doc_id", keywordField)
	chunk.AddFieldMappingsAt("path", keywordField)
	chunk.AddFieldMappingsAt("chunk_index", numeric)
	chunk.AddFieldMappingsAt("page", numeric)
	chunk.AddFieldMappingsAt("content", content)

	m.AddDocumentMapping(docType, chunk)
	m.DefaultAnalyzer = TextAnalyzerName
	return m, nil
}

// Upsert indexes entries in one batch. Indexing an existing key replaces it.
func (b *BleveStore) Upsert(ctx context.Context, docID string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("lexical index is closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := b.index.NewBatch()
	for _, e := range entries {
		doc := bleveChunk{DocID: docID, ChunkIndex: e.ChunkIndex, Path: e.FilePath, Page: e.Page, Content: e.Text}
		if err := batch.Index(EntryKey(docID, e.ChunkIndex), doc); err != nil {
			return fmt.Errorf("failed to index chunk %d of %s: %w", e.ChunkIndex, docID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Delete removes every chunk of docID.
func (b *BleveStore) Delete(ctx context.Context, docID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("lexical index is closed")
	}

	keys, err := b.keysOf(ctx, docID)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for _, k := range keys {
		batch.Delete(k)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete %s: %w", docID, err)
	}
	return nil
}

func docQuery(docID string) query.Query {
	q := bleve.NewTermQuery(docID)
	q.SetField("doc_id")
	return q
}

func (b *BleveStore) keysOf(ctx context.Context, docID string) ([]string, error) {
	total, err := b.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	req := bleve.NewSearchRequestOptions(docQuery(docID), int(total), 0, false)
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to find chunks of %s: %w", docID, err)
	}
	keys := make([]string, len(res.Hits))
	for i, h := range res.Hits {
		keys[i] = h.ID
	}
	return keys, nil
}

// Search runs a BM25 match query over chunk text. Terms are ORed.
func (b *BleveStore) Search(ctx context.Context, queryStr string, k int) ([]Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}
	terms := Terms(queryStr, b.stopWords)
	if k <= 0 || len(terms) == 0 {
		return []Hit{}, nil
	}

	q := bleve.NewMatchQuery(queryStr)
	q.SetField("content")
	req := bleve.NewSearchRequestOptions(q, k, 0, false)
	req.Fields = []string{"doc_id", "chunk_index", "path", "page", "content"}
	// Equal scores come back in key order.
	req.SortBy([]string{"-_score", "_id"})

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := hitFromFields(h)
		hit.Snippet = Snippet(stringField(h, "content"), terms)
		hits = append(hits, hit)
	}
	return hits, nil
}

// Chunks returns the chunks of docID ordered by chunk index.
func (b *BleveStore) Chunks(ctx context.Context, docID string) ([]Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}
	total, err := b.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	req := bleve.NewSearchRequestOptions(docQuery(docID), int(total), 0, false)
	req.Fields = []string{"doc_id", "chunk_index", "path", "page", "content"}
	req.SortBy([]string{"chunk_index"})

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks of %s: %w", docID, err)
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := hitFromFields(h)
		hit.Snippet = stringField(h, "content")
		hits = append(hits, hit)
	}
	return hits, nil
}

// Count returns the number of indexed chunks.
func (b *BleveStore) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}
	n, err := b.index.DocCount()
	if err != nil {
		return 0
	}
	return int(n)
}

// Close closes the index. Safe to call more than once.
func (b *BleveStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

func hitFromFields(h *search.DocumentMatch) Hit {
	hit := Hit{
		DocID:      stringField(h, "doc_id"),
		ChunkIndex: intField(h, "chunk_index"),
		FilePath:   stringField(h, "path"),
		Page:       intField(h, "page"),
		Score:      h.Score,
	}
	if hit.DocID == "" {
		hit.DocID, hit.ChunkIndex, _ = ParseEntryKey(h.ID)
	}
	return hit
}

func stringField(h *search.DocumentMatch, name string) string {
	s, _ := h.Fields[name].(string)
	return s
}

// intField reads a stored numeric field, which bleve returns as float64.
func intField(h *search.DocumentMatch, name string) int {
	f, _ := h.Fields[name].(float64)
	return int(f)
}

func textTokenizerConstructor(map[string]any, *registry.Cache) (analysis.Tokenizer, error) {
	return textTokenizer{}, nil
}

// textTokenizer adapts Tokenize to bleve.
type textTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (textTokenizer) Tokenize(input []byte) analysis.TokenStream {
	tokens := Tokenize(string(input))
	stream := make(analysis.TokenStream, len(tokens))
	for i, t := range tokens {
		stream[i] = &analysis.Token{
			Term:     []byte(t.Term),
			Start:    t.Start,
			End:      t.End,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		}
	}
	return stream
}

func stopFilterConstructor(map[string]any, *registry.Cache) (analysis.TokenFilter, error) {
	return stopFilter{stopWords: BuildStopWordMap(EnglishStopWords)}, nil
}

// stopFilter drops English stop words.
type stopFilter struct {
	stopWords map[string]struct{}
}

// Filter implements analysis.TokenFilter.
func (f stopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := input[:0]
	for _, t := range input {
		if _, stop := f.stopWords[string(t.Term)]; !stop {
			out = append(out, t)
		}
	}
	return out
}
