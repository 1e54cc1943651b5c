package vectorstore

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// Config configures an HNSW-backed adapter.
type Config struct {
	Dimensions int
	M          int
	EfSearch   int
}

// DefaultConfig returns sensible HNSW parameters for dimensions.
func DefaultConfig(dimensions int) Config {
	return Config{Dimensions: dimensions, M: 16, EfSearch: 20}
}

// HNSWAdapter implements Adapter on top of a pure-Go HNSW graph. Deletes are
// lazy (the node stays in the graph, its ID mapping is dropped) because
// coder/hnsw does not support removing the last node in a layer cleanly;
// orphaned nodes are simply unreachable through idMap/keyMap and never
// surface in results.
type HNSWAdapter struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config Config

	idMap   map[string]uint64 // row key -> internal graph key
	keyMap  map[uint64]string // internal graph key -> row key
	rows    map[string]Row    // row key -> full row
	byFile  map[string]map[string]struct{}
	nextKey uint64

	closed bool
}

type hnswMetadata struct {
	IDMap   map[string]uint64
	Rows    map[string]Row
	NextKey uint64
	Config  Config
}

// NewHNSWAdapter creates an empty HNSW-backed adapter.
func NewHNSWAdapter(cfg Config) *HNSWAdapter {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWAdapter{
		graph:  graph,
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		rows:   make(map[string]Row),
		byFile: make(map[string]map[string]struct{}),
	}
}

func (s *HNSWAdapter) UpsertChunks(ctx context.Context, filePath string, rows []Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	for _, row := range rows {
		if len(row.Vector) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(row.Vector)}
		}
	}

	s.deleteFileLocked(filePath)

	for _, row := range rows {
		s.insertLocked(row)
	}
	return nil
}

func (s *HNSWAdapter) insertLocked(row Row) {
	key := row.Key()

	vec := make([]float32, len(row.Vector))
	copy(vec, row.Vector)
	normalizeInPlace(vec)

	graphKey := s.nextKey
	s.nextKey++

	s.graph.Add(hnsw.MakeNode(graphKey, vec))
	s.idMap[key] = graphKey
	s.keyMap[graphKey] = key
	s.rows[key] = row

	if s.byFile[row.FilePath] == nil {
		s.byFile[row.FilePath] = make(map[string]struct{})
	}
	s.byFile[row.FilePath][key] = struct{}{}
}

func (s *HNSWAdapter) Delete(ctx context.Context, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("vector store is closed")
	}
	s.deleteFileLocked(filePath)
	return nil
}

func (s *HNSWAdapter) deleteFileLocked(filePath string) {
	keys, ok := s.byFile[filePath]
	if !ok {
		return
	}
	for key := range keys {
		if graphKey, exists := s.idMap[key]; exists {
			delete(s.keyMap, graphKey)
			delete(s.idMap, key)
		}
		delete(s.rows, key)
	}
	delete(s.byFile, filePath)
}

func (s *HNSWAdapter) Search(ctx context.Context, query []float32, limit int) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("vector store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if s.graph.Len() == 0 {
		return nil, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	nodes := s.graph.Search(q, limit)
	results := make([]SearchResult, 0, len(nodes))
	for _, node := range nodes {
		key, ok := s.keyMap[node.Key]
		if !ok {
			continue // lazily-deleted node
		}
		row, ok := s.rows[key]
		if !ok {
			continue
		}
		distance := float64(s.graph.Distance(q, node.Value))
		results = append(results, SearchResult{Row: row, Distance: distance})
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Distance < results[b].Distance
	})
	return results, nil
}

func (s *HNSWAdapter) ScanAll(ctx context.Context) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("vector store is closed")
	}

	keys := make([]string, 0, len(s.rows))
	for key := range s.rows {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]Row, len(keys))
	for i, key := range keys {
		out[i] = s.rows[key]
	}
	return out, nil
}

func (s *HNSWAdapter) CountRows(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows), nil
}

func (s *HNSWAdapter) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create vector store dir: %w", err)
	}

	tmpGraph := path + ".tmp"
	f, err := os.Create(tmpGraph)
	if err != nil {
		return fmt.Errorf("create graph file: %w", err)
	}
	if err := s.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmpGraph)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpGraph)
		return fmt.Errorf("close graph file: %w", err)
	}
	if err := os.Rename(tmpGraph, path); err != nil {
		os.Remove(tmpGraph)
		return fmt.Errorf("commit graph file: %w", err)
	}

	return s.saveMetadata(path + ".meta")
}

func (s *HNSWAdapter) saveMetadata(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create metadata file: %w", err)
	}
	meta := hnswMetadata{IDMap: s.idMap, Rows: s.rows, NextKey: s.nextKey, Config: s.config}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmp, path)
}

func (s *HNSWAdapter) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	if err := s.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("load metadata: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open graph file: %w", err)
	}
	defer f.Close()

	if err := s.graph.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	return nil
}

func (s *HNSWAdapter) loadMetadata(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			slog.Warn("failed to close vector store metadata file", slog.String("error", cerr.Error()))
		}
	}()

	var meta hnswMetadata
	if err := gob.NewDecoder(f).Decode(&meta); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}

	s.idMap = meta.IDMap
	s.rows = meta.Rows
	s.nextKey = meta.NextKey
	s.config = meta.Config
	s.keyMap = make(map[uint64]string, len(s.idMap))
	s.byFile = make(map[string]map[string]struct{})
	for key, graphKey := range s.idMap {
		s.keyMap[graphKey] = key
	}
	for key, row := range s.rows {
		if s.byFile[row.FilePath] == nil {
			s.byFile[row.FilePath] = make(map[string]struct{})
		}
		s.byFile[row.FilePath][key] = struct{}{}
	}
	return nil
}

func (s *HNSWAdapter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

var _ Adapter = (*HNSWAdapter)(nil)

func normalizeInPlace(v []float32) {
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
