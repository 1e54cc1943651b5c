package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// JSONMetricsStore implements QueryMetricsStore as a single flock-guarded
// JSON file, following the same read-modify-write pattern as the metadata
// store and connector registry.
type JSONMetricsStore struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

type metricsDocument struct {
	QueryTypeCounts  map[string]map[QueryType]int64 `json:"query_type_counts"` // date -> type -> count
	TermCounts       map[string]int64               `json:"term_counts"`
	ZeroResultQueries []zeroResultEntry              `json:"zero_result_queries"`
	LatencyCounts    map[string]map[LatencyBucket]int64 `json:"latency_counts"` // date -> bucket -> count
}

type zeroResultEntry struct {
	Query     string    `json:"query"`
	Timestamp time.Time `json:"timestamp"`
}

func emptyMetricsDocument() *metricsDocument {
	return &metricsDocument{
		QueryTypeCounts: make(map[string]map[QueryType]int64),
		TermCounts:      make(map[string]int64),
		LatencyCounts:   make(map[string]map[LatencyBucket]int64),
	}
}

// NewJSONMetricsStore opens (without yet reading) a metrics store backed by
// the JSON file at path.
func NewJSONMetricsStore(path string) *JSONMetricsStore {
	return &JSONMetricsStore{path: path, lock: flock.New(path + ".lock")}
}

func (s *JSONMetricsStore) load() (*metricsDocument, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return emptyMetricsDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metrics store: %w", err)
	}
	doc := emptyMetricsDocument()
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parse metrics store: %w", err)
	}
	return doc, nil
}

func (s *JSONMetricsStore) save(doc *metricsDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metrics store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write metrics store tmp file: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *JSONMetricsStore) withLock(fn func(*metricsDocument) (*metricsDocument, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("acquire metrics lock: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	doc, err := s.load()
	if err != nil {
		return err
	}
	newDoc, err := fn(doc)
	if err != nil {
		return err
	}
	if newDoc == nil {
		return nil
	}
	return s.save(newDoc)
}

func (s *JSONMetricsStore) SaveQueryTypeCounts(date string, counts map[QueryType]int64) error {
	return s.withLock(func(doc *metricsDocument) (*metricsDocument, error) {
		if doc.QueryTypeCounts[date] == nil {
			doc.QueryTypeCounts[date] = make(map[QueryType]int64)
		}
		for qt, c := range counts {
			doc.QueryTypeCounts[date][qt] += c
		}
		return doc, nil
	})
}

func (s *JSONMetricsStore) GetQueryTypeCounts(from, to string) (map[QueryType]int64, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	totals := make(map[QueryType]int64)
	for date, counts := range doc.QueryTypeCounts {
		if date < from || date > to {
			continue
		}
		for qt, c := range counts {
			totals[qt] += c
		}
	}
	return totals, nil
}

func (s *JSONMetricsStore) UpsertTermCounts(terms map[string]int64) error {
	if len(terms) == 0 {
		return nil
	}
	return s.withLock(func(doc *metricsDocument) (*metricsDocument, error) {
		for term, c := range terms {
			doc.TermCounts[term] += c
		}
		return doc, nil
	})
}

func (s *JSONMetricsStore) GetTopTerms(limit int) ([]TermCount, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	terms := make([]TermCount, 0, len(doc.TermCounts))
	for term, count := range doc.TermCounts {
		terms = append(terms, TermCount{Term: term, Count: count})
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i].Count > terms[j].Count })
	if limit > 0 && limit < len(terms) {
		terms = terms[:limit]
	}
	return terms, nil
}

const maxZeroResultQueries = 100

func (s *JSONMetricsStore) AddZeroResultQuery(query string, timestamp time.Time) error {
	return s.withLock(func(doc *metricsDocument) (*metricsDocument, error) {
		doc.ZeroResultQueries = append(doc.ZeroResultQueries, zeroResultEntry{Query: query, Timestamp: timestamp})
		if len(doc.ZeroResultQueries) > maxZeroResultQueries {
			doc.ZeroResultQueries = doc.ZeroResultQueries[len(doc.ZeroResultQueries)-maxZeroResultQueries:]
		}
		return doc, nil
	})
}

func (s *JSONMetricsStore) GetZeroResultQueries(limit int) ([]string, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	entries := doc.ZeroResultQueries
	if limit > 0 && limit < len(entries) {
		entries = entries[len(entries)-limit:]
	}
	queries := make([]string, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		queries[len(entries)-1-i] = entries[i].Query
	}
	return queries, nil
}

func (s *JSONMetricsStore) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	return s.withLock(func(doc *metricsDocument) (*metricsDocument, error) {
		if doc.LatencyCounts[date] == nil {
			doc.LatencyCounts[date] = make(map[LatencyBucket]int64)
		}
		for bucket, c := range counts {
			doc.LatencyCounts[date][bucket] += c
		}
		return doc, nil
	})
}

func (s *JSONMetricsStore) GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	totals := make(map[LatencyBucket]int64)
	for date, counts := range doc.LatencyCounts {
		if date < from || date > to {
			continue
		}
		for bucket, c := range counts {
			totals[bucket] += c
		}
	}
	return totals, nil
}

// Close is a no-op; each method acquires and releases the file lock itself.
func (s *JSONMetricsStore) Close() error {
	return nil
}
