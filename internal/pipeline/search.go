// Package pipeline implements the Search Pipeline (search(query, limit,
// options)): expand the query, vector-retrieve per expanded query,
// merge-by-minimum-distance, hybrid-fuse against a BM25 pass, dedupe to one
// hit per file, rerank, and return results with metadata about how the
// query was actually answered.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/localdocs/docengine/internal/embed"
	"github.com/localdocs/docengine/internal/engineerr"
	"github.com/localdocs/docengine/internal/fusion"
	"github.com/localdocs/docengine/internal/queryexpand"
	"github.com/localdocs/docengine/internal/reranker"
	"github.com/localdocs/docengine/internal/telemetry"
	"github.com/localdocs/docengine/internal/vectorstore"
)

// Options tunes one search call.
type Options struct {
	// ExpandQuery enables LLM-based query expansion; when false the raw
	// query is searched as-is.
	ExpandQuery bool
	// Rerank enables the cross-encoder rerank pass over fused results.
	Rerank bool
	// Hybrid enables BM25 fusion over the vector candidates; when false
	// results are ranked by vector distance alone.
	Hybrid bool
	// VectorLimit overrides the per-query vector candidate count. Zero
	// (the default) derives it from the caller's limit: max(50, limit*5).
	VectorLimit int
}

// DefaultOptions mirrors the pipeline's default behavior: expand, fuse,
// rerank, with vector candidate pool size derived from the caller's limit.
func DefaultOptions() Options {
	return Options{ExpandQuery: true, Rerank: true, Hybrid: true}
}

// candidatesPerQuery is the vector search pool size pulled per expanded
// query before fusion: at least 50, scaling with the caller's limit so a
// large limit still sees a correspondingly large candidate pool.
func candidatesPerQuery(limit int) int {
	if n := limit * 5; n > 50 {
		return n
	}
	return 50
}

// Hit is one search result, one per distinct source file.
type Hit struct {
	FilePath   string  `json:"file_path"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// Meta describes how a search was actually carried out, for callers that
// want to show the user what happened (e.g. "LLM expansion unavailable,
// fell back to the raw query").
type Meta struct {
	ExpandedQueries []string           `json:"expanded_queries"`
	UsedLLM         bool               `json:"used_llm"`
	Hints           queryexpand.Hints  `json:"hints"`
	Reranked        bool               `json:"reranked"`
}

// Pipeline wires together every component a search() call needs.
type Pipeline struct {
	store    vectorstore.Adapter
	embedder embed.Embedder
	expander *queryexpand.Expander
	reranker reranker.Reranker
	metrics  *telemetry.QueryMetrics
}

// New builds a Pipeline. expander and rr may be nil — Search degrades to
// raw-query vector+BM25 fusion with no reranking in that case.
func New(store vectorstore.Adapter, embedder embed.Embedder, expander *queryexpand.Expander, rr reranker.Reranker) *Pipeline {
	if rr == nil {
		rr = reranker.NoOpReranker{}
	}
	return &Pipeline{store: store, embedder: embedder, expander: expander, reranker: rr}
}

// WithMetrics attaches a query telemetry recorder. m may be nil, in which
// case Search records nothing — the zero-value Pipeline already behaves
// this way.
func (p *Pipeline) WithMetrics(m *telemetry.QueryMetrics) *Pipeline {
	p.metrics = m
	return p
}

// classifyQueryType reports how a search was actually carried out, for
// telemetry: semantic when the query was LLM-expanded into multiple
// phrasings, mixed when the fused result drew from both vector and
// BM25-only rows, lexical when the vector search returned no rows at all.
func classifyQueryType(meta Meta, fused []fusion.Row, hadVectorHits bool) telemetry.QueryType {
	if meta.UsedLLM {
		return telemetry.QueryTypeSemantic
	}
	if !hadVectorHits {
		return telemetry.QueryTypeLexical
	}
	hasBM25Only := false
	for _, row := range fused {
		if row.Distance == fusion.UnknownDistance {
			hasBM25Only = true
			break
		}
	}
	if hasBM25Only {
		return telemetry.QueryTypeMixed
	}
	return telemetry.QueryTypeSemantic
}

// Search implements the search(query, limit, options) contract.
func (p *Pipeline) Search(ctx context.Context, query string, limit int, opts Options) (hits []Hit, meta Meta, err error) {
	start := time.Now()
	var hadVectorHits bool
	var fused []fusion.Row
	if p.metrics != nil {
		defer func() {
			if err != nil {
				return
			}
			p.metrics.Record(telemetry.QueryEvent{
				Query:       query,
				QueryType:   classifyQueryType(meta, fused, hadVectorHits),
				ResultCount: len(hits),
				Latency:     time.Since(start),
				Timestamp:   time.Now(),
			})
		}()
	}

	meta = Meta{ExpandedQueries: []string{query}}

	queries := []string{query}
	if opts.ExpandQuery && p.expander != nil {
		result := p.expander.Expand(ctx, query)
		queries = result.Queries
		meta.ExpandedQueries = result.Queries
		meta.UsedLLM = result.UsedLLM
		meta.Hints = result.Hints
	}

	perQuery := opts.VectorLimit
	if perQuery <= 0 {
		perQuery = candidatesPerQuery(limit)
	}

	merged := make(map[string]fusion.Row)
	for _, q := range queries {
		vec, err := p.embedder.Embed(ctx, q)
		if err != nil {
			return nil, meta, engineerr.Transient("embed query", err)
		}
		results, err := p.store.Search(ctx, vec, perQuery)
		if err != nil {
			return nil, meta, engineerr.FatalStore("vector search", err)
		}
		for _, r := range results {
			row := fusion.Row{FilePath: r.FilePath, ChunkIndex: r.ChunkIndex, Text: r.Text, Distance: r.Distance}
			existing, ok := merged[row.Key()]
			if !ok || row.Distance < existing.Distance {
				merged[row.Key()] = row
			}
		}
	}

	vectorRows := make([]fusion.Row, 0, len(merged))
	for _, row := range merged {
		vectorRows = append(vectorRows, row)
	}
	sort.Slice(vectorRows, func(i, j int) bool { return vectorRows[i].Distance < vectorRows[j].Distance })
	hadVectorHits = len(vectorRows) > 0

	fusionTopN := limit * 3
	if opts.Hybrid {
		allChunks, err := p.store.ScanAll(ctx)
		if err != nil {
			return nil, meta, engineerr.FatalStore("scan all chunks", err)
		}
		chunkRows := make([]fusion.Row, len(allChunks))
		for i, c := range allChunks {
			chunkRows[i] = fusion.Row{FilePath: c.FilePath, ChunkIndex: c.ChunkIndex, Text: c.Text}
		}
		fused = fusion.HybridMerge(query, vectorRows, chunkRows, fusionTopN, fusion.DefaultK)
	} else {
		fused = vectorOnlyRows(vectorRows, fusionTopN)
	}

	deduped := fusion.Deduplicate(fused, limit*2)
	deduped = truncateRows(deduped, limit)

	if len(deduped) == 0 {
		return nil, meta, nil
	}

	if !opts.Rerank {
		return toHits(deduped), meta, nil
	}

	docs := make([]string, len(deduped))
	for i, row := range deduped {
		docs[i] = row.Text
	}
	reranked, err := p.reranker.Rerank(ctx, query, docs, limit)
	if err != nil {
		// Graceful fallback to untouched order on failure.
		return toHits(deduped), meta, nil
	}
	meta.Reranked = true

	rerankedHits := make([]Hit, len(reranked))
	for i, r := range reranked {
		if r.Index < 0 || r.Index >= len(deduped) {
			return nil, meta, fmt.Errorf("reranker returned out-of-range index %d", r.Index)
		}
		row := deduped[r.Index]
		rerankedHits[i] = Hit{FilePath: row.FilePath, ChunkIndex: row.ChunkIndex, Text: row.Text, Score: r.Score}
	}
	return rerankedHits, meta, nil
}

// vectorOnlyRows ranks vectorResults by distance alone (no BM25 fusion),
// truncated to topN, mirroring HybridMerge's no-lexical-data fallback.
func vectorOnlyRows(vectorResults []fusion.Row, topN int) []fusion.Row {
	out := make([]fusion.Row, len(vectorResults))
	copy(out, vectorResults)
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

// truncateRows caps rows to at most limit entries.
func truncateRows(rows []fusion.Row, limit int) []fusion.Row {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

func toHits(rows []fusion.Row) []Hit {
	hits := make([]Hit, len(rows))
	for i, row := range rows {
		hits[i] = Hit{FilePath: row.FilePath, ChunkIndex: row.ChunkIndex, Text: row.Text, Score: row.RRFScore}
	}
	return hits
}
