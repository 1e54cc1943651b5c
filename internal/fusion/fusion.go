// Package fusion combines vector-search and BM25 lexical rankings with
// reciprocal rank fusion, and deduplicates fused results down to one row
// per source file.
package fusion

import (
	"fmt"
	"sort"

	"github.com/localdocs/docengine/internal/bm25"
)

// DefaultK is the RRF rank-damping constant.
const DefaultK = 60

// UnknownDistance is the sentinel distance attached to rows that matched
// only on BM25 and never went through a vector search.
const UnknownDistance = 2.0

const unknownDistance = UnknownDistance

// Row is one chunk participating in fusion or deduplication. Distance is a
// vector-search distance (ascending = more similar); RRFScore is filled in
// by HybridMerge.
type Row struct {
	FilePath   string
	ChunkIndex int
	Text       string
	Distance   float64
	RRFScore   float64
}

// Key returns the "{file_path}::{chunk_index}" identity used to correlate a
// row across the vector and lexical rankings.
func (r Row) Key() string {
	return fmt.Sprintf("%s::%d", r.FilePath, r.ChunkIndex)
}

// HybridMerge fuses vectorResults (already ranked, ascending distance)
// against a BM25 pass over allChunks (a snapshot of every chunk currently in
// the vector store), using unweighted reciprocal rank fusion with constant
// k. allChunks being empty is treated as "BM25 has nothing to contribute":
// vectorResults are annotated with rrf_score = 0 and returned as-is,
// truncated to topN.
func HybridMerge(query string, vectorResults, allChunks []Row, topN, k int) []Row {
	if len(vectorResults) == 0 {
		return nil
	}
	if len(allChunks) == 0 {
		out := make([]Row, len(vectorResults))
		copy(out, vectorResults)
		for i := range out {
			out[i].RRFScore = 0
		}
		return truncate(out, topN)
	}

	bm25Docs := make([]bm25.Document, len(allChunks))
	byKey := make(map[string]Row, len(allChunks))
	for i, c := range allChunks {
		bm25Docs[i] = bm25.Document{ID: c.Key(), Text: c.Text}
		byKey[c.Key()] = c
	}
	bm25Results := bm25.Search(query, bm25Docs, 50)

	rrf := make(map[string]float64)
	for i, r := range vectorResults {
		rrf[r.Key()] += 1.0 / float64(k+i+1)
	}
	for i, r := range bm25Results {
		rrf[r.ID] += 1.0 / float64(k+i+1)
	}

	seen := make(map[string]struct{}, len(vectorResults))
	merged := make([]Row, 0, len(vectorResults)+len(bm25Results))
	for _, r := range vectorResults {
		key := r.Key()
		r.RRFScore = rrf[key]
		merged = append(merged, r)
		seen[key] = struct{}{}
	}
	for _, br := range bm25Results {
		if _, ok := seen[br.ID]; ok {
			continue
		}
		row, ok := byKey[br.ID]
		if !ok {
			continue
		}
		row.Distance = unknownDistance
		row.RRFScore = rrf[br.ID]
		merged = append(merged, row)
		seen[br.ID] = struct{}{}
	}

	sort.SliceStable(merged, func(a, b int) bool {
		return merged[a].RRFScore > merged[b].RRFScore
	})

	return truncate(merged, topN)
}

// Deduplicate keeps the best (minimum-distance) row per file_path, breaking
// ties by first occurrence, and returns the survivors sorted ascending by
// distance and truncated to limit.
func Deduplicate(rows []Row, limit int) []Row {
	best := make(map[string]Row, len(rows))
	order := make([]string, 0, len(rows))
	for _, r := range rows {
		existing, ok := best[r.FilePath]
		if !ok {
			best[r.FilePath] = r
			order = append(order, r.FilePath)
			continue
		}
		if r.Distance < existing.Distance {
			best[r.FilePath] = r
		}
	}

	out := make([]Row, 0, len(order))
	for _, path := range order {
		out = append(out, best[path])
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Distance < out[b].Distance
	})

	return truncate(out, limit)
}

func truncate(rows []Row, limit int) []Row {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}
