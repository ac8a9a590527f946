package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
)

// HNSWConfig configures the vector store.
type HNSWConfig struct {
	// Dimensions is the vector width. 0 takes the width of the first upsert.
	Dimensions int

	// M is the maximum connections per layer (default: 16).
	M int

	// EfSearch is the query-time search width (default: 64).
	EfSearch int
}

// vectorEntry is the metadata kept per graph node.
type vectorEntry struct {
	DocID      string
	ChunkIndex int
	FilePath   string
	Page       int
}

// hnswMetadata is the gob sidecar written next to the exported graph.
type hnswMetadata struct {
	Entries    map[uint64]vectorEntry
	NextKey    uint64
	Dimensions int
}

// HNSWStore implements VectorStore on coder/hnsw with cosine distance.
//
// Replaced and deleted entries are removed from the mappings only; their
// nodes stay in the graph as orphans until Compact rebuilds it. Deleting
// nodes from coder/hnsw can break the graph when the last node goes.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config HNSWConfig

	entries map[uint64]vectorEntry
	keys    map[string]uint64              // entry key -> graph key
	docs    map[string]map[uint64]struct{} // doc_id -> graph keys
	nextKey uint64

	closed bool
}

var _ VectorStore = (*HNSWStore)(nil)

// NewHNSWStore creates an empty vector store.
func NewHNSWStore(cfg HNSWConfig) *HNSWStore {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}
	s := &HNSWStore{config: cfg}
	s.reset()
	return s
}

// OpenHNSWStore loads the store saved at path, or returns an empty store
// when nothing has been saved yet.
func OpenHNSWStore(path string, cfg HNSWConfig) (*HNSWStore, error) {
	s := NewHNSWStore(cfg)
	if path == "" {
		return s, nil
	}
	if err := s.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}
	if cfg.Dimensions != 0 && s.config.Dimensions != 0 && cfg.Dimensions != s.config.Dimensions {
		return nil, dimensionError(s.config.Dimensions, cfg.Dimensions)
	}
	return s, nil
}

func (s *HNSWStore) newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = s.config.M
	g.EfSearch = s.config.EfSearch
	g.Ml = 0.25
	return g
}

func (s *HNSWStore) reset() {
	s.graph = s.newGraph()
	s.entries = make(map[uint64]vectorEntry)
	s.keys = make(map[string]uint64)
	s.docs = make(map[string]map[uint64]struct{})
	s.nextKey = 0
}

// Upsert adds entries for docID, replacing entries with the same chunk index.
func (s *HNSWStore) Upsert(ctx context.Context, docID string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	dims := s.config.Dimensions
	if dims == 0 {
		dims = len(entries[0].Vector)
	}
	for _, e := range entries {
		if len(e.Vector) != dims {
			return dimensionError(dims, len(e.Vector))
		}
	}
	s.config.Dimensions = dims

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := EntryKey(docID, e.ChunkIndex)
		if old, ok := s.keys[key]; ok {
			s.forget(docID, old)
		}

		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		normalizeVectorInPlace(vec)

		id := s.nextKey
		s.nextKey++
		s.graph.Add(hnsw.MakeNode(id, vec))

		s.entries[id] = vectorEntry{DocID: docID, ChunkIndex: e.ChunkIndex, FilePath: e.FilePath, Page: e.Page}
		s.keys[key] = id
		if s.docs[docID] == nil {
			s.docs[docID] = make(map[uint64]struct{})
		}
		s.docs[docID][id] = struct{}{}
	}
	return nil
}

// forget drops the mappings of a graph key, leaving the node orphaned.
func (s *HNSWStore) forget(docID string, id uint64) {
	e := s.entries[id]
	delete(s.keys, EntryKey(e.DocID, e.ChunkIndex))
	delete(s.entries, id)
	if keys := s.docs[docID]; keys != nil {
		delete(keys, id)
		if len(keys) == 0 {
			delete(s.docs, docID)
		}
	}
}

// Delete removes all entries of docID.
func (s *HNSWStore) Delete(_ context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}
	for id := range s.docs[docID] {
		s.forget(docID, id)
	}
	return nil
}

// Search returns the k live entries nearest to vector.
func (s *HNSWStore) Search(_ context.Context, vector []float32, k int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("vector store is closed")
	}
	if k <= 0 || len(s.entries) == 0 {
		return []Hit{}, nil
	}
	if len(vector) != s.config.Dimensions {
		return nil, dimensionError(s.config.Dimensions, len(vector))
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	normalizeVectorInPlace(query)

	// Orphans still occupy result slots, so ask for enough to cover them.
	want := k + s.graph.Len() - len(s.entries)
	nodes := s.graph.Search(query, want)

	hits := make([]Hit, 0, k)
	for _, node := range nodes {
		e, ok := s.entries[node.Key]
		if !ok {
			continue
		}
		hits = append(hits, Hit{
			DocID:      e.DocID,
			ChunkIndex: e.ChunkIndex,
			FilePath:   e.FilePath,
			Page:       e.Page,
			Score:      float64(distanceToScore(s.graph.Distance(query, node.Value))),
		})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// Count returns the number of live entries.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// DocCount returns the number of live entries of docID.
func (s *HNSWStore) DocCount(docID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs[docID])
}

// Dimensions returns the vector width.
func (s *HNSWStore) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Dimensions
}

// HNSWStats reports live entries against graph nodes.
type HNSWStats struct {
	ValidIDs   int
	GraphNodes int
	Orphans    int
}

// Stats returns the orphan count used to decide on compaction.
func (s *HNSWStore) Stats() HNSWStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return HNSWStats{}
	}
	nodes := s.graph.Len()
	return HNSWStats{ValidIDs: len(s.entries), GraphNodes: nodes, Orphans: nodes - len(s.entries)}
}

// Compact rebuilds the graph from live entries, dropping orphans.
func (s *HNSWStore) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}
	graph := s.newGraph()
	for id := range s.entries {
		vec, ok := s.graph.Lookup(id)
		if !ok {
			return fmt.Errorf("vector %d missing from graph", id)
		}
		graph.Add(hnsw.MakeNode(id, vec))
	}
	removed := s.graph.Len() - graph.Len()
	s.graph = graph
	slog.Debug("hnsw_compacted", slog.Int("removed", removed), slog.Int("nodes", graph.Len()))
	return nil
}

// Save writes the graph to path and the mappings to path+".meta", each via
// a temp file and rename. Graphs with more orphans than live entries are
// compacted first.
func (s *HNSWStore) Save(path string) error {
	if st := s.Stats(); st.Orphans > st.ValidIDs {
		if err := s.Compact(); err != nil {
			return err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	err := writeAtomic(path, func(f *os.File) error {
		w := bufio.NewWriter(f)
		if err := s.graph.Export(w); err != nil {
			return fmt.Errorf("export graph: %w", err)
		}
		return w.Flush()
	})
	if err != nil {
		return err
	}

	meta := hnswMetadata{Entries: s.entries, NextKey: s.nextKey, Dimensions: s.config.Dimensions}
	return writeAtomic(path+".meta", func(f *os.File) error {
		return gob.NewEncoder(f).Encode(meta)
	})
}

// Load replaces the store's contents with those saved at path.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	meta, err := readHNSWMetadata(path + ".meta")
	if err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open vector index: %w", err)
	}
	defer func() { _ = file.Close() }()

	s.reset()
	// Import needs an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		s.reset()
		return fmt.Errorf("import graph: %w", err)
	}

	s.config.Dimensions = meta.Dimensions
	s.nextKey = meta.NextKey
	for id, e := range meta.Entries {
		s.entries[id] = e
		s.keys[EntryKey(e.DocID, e.ChunkIndex)] = id
		if s.docs[e.DocID] == nil {
			s.docs[e.DocID] = make(map[uint64]struct{})
		}
		s.docs[e.DocID][id] = struct{}{}
	}
	// A crash between the two renames can leave graph nodes newer than the
	// sidecar; never reuse their keys.
	for {
		if _, ok := s.graph.Lookup(s.nextKey); !ok {
			break
		}
		s.nextKey++
	}
	return nil
}

// Close releases the graph. Safe to call more than once.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.graph = nil
	return nil
}

// ReadVectorDimensions returns the width recorded next to a saved index,
// 0 when none exists.
func ReadVectorDimensions(path string) (int, error) {
	meta, err := readHNSWMetadata(path + ".meta")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	return meta.Dimensions, nil
}

func readHNSWMetadata(path string) (hnswMetadata, error) {
	var meta hnswMetadata
	file, err := os.Open(path)
	if err != nil {
		return meta, fmt.Errorf("open vector metadata: %w", err)
	}
	defer func() { _ = file.Close() }()

	if err := gob.NewDecoder(bufio.NewReader(file)).Decode(&meta); err != nil {
		return meta, fmt.Errorf("decode vector metadata: %w", err)
	}
	if meta.Entries == nil {
		meta.Entries = make(map[uint64]vectorEntry)
	}
	return meta, nil
}

// writeAtomic writes path through a temp file in the same directory.
func writeAtomic(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func dimensionError(expected, got int) error {
	return nexuserrors.New(nexuserrors.ErrCodeDimensionMismatch,
		fmt.Sprintf("vector dimension mismatch: expected %d, got %d", expected, got), nil).
		WithSuggestion("Delete the store directory shown by 'nexus status' and index again, or switch back to the embedding model that built it")
}

// normalizeVectorInPlace scales v to unit length.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore maps cosine distance (0 identical, 2 opposite) to a
// similarity in [0, 1].
func distanceToScore(distance float32) float32 {
	return 1.0 - distance/2.0
}
