// Package bm25 implements Okapi BM25 lexical scoring over an in-memory list
// of documents. It holds no state between calls: every search rebuilds term
// statistics from the document list it is given, which is what lets the
// search pipeline run it over a full snapshot of the vector store's current
// chunks on every query.
package bm25

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

const (
	// K1 is the term-frequency saturation parameter.
	K1 = 1.5
	// B is the length-normalization parameter.
	B = 0.75
)

var tokenRe = regexp.MustCompile(`[a-zA-Z0-9]+`)

// stopWords is a fixed, stable English stop-word set. Token filtering must
// be identical across runs so BM25 scores are reproducible.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "in": {}, "on": {}, "at": {}, "to": {}, "for": {},
	"of": {}, "with": {}, "by": {}, "from": {}, "as": {}, "is": {}, "was": {}, "are": {}, "were": {}, "be": {},
	"been": {}, "being": {}, "have": {}, "has": {}, "had": {}, "do": {}, "does": {}, "did": {}, "will": {},
	"would": {}, "shall": {}, "should": {}, "may": {}, "might": {}, "must": {}, "can": {}, "could": {},
	"not": {}, "no": {}, "nor": {}, "so": {}, "if": {}, "then": {}, "than": {}, "too": {}, "very": {},
	"just": {}, "about": {}, "above": {}, "after": {}, "again": {}, "all": {}, "also": {}, "am": {},
	"any": {}, "because": {}, "before": {}, "between": {}, "both": {}, "each": {}, "few": {},
	"here": {}, "how": {}, "into": {}, "it": {}, "its": {}, "me": {}, "more": {}, "most": {}, "my": {},
	"new": {}, "now": {}, "only": {}, "other": {}, "our": {}, "out": {}, "own": {}, "re": {}, "same": {},
	"she": {}, "he": {}, "some": {}, "such": {}, "that": {}, "their": {}, "them": {}, "there": {},
	"these": {}, "they": {}, "this": {}, "those": {}, "through": {}, "under": {}, "until": {}, "up": {},
	"we": {}, "what": {}, "when": {}, "where": {}, "which": {}, "while": {}, "who": {}, "whom": {},
	"why": {}, "you": {}, "your": {},
}

// Tokenize lowercases text, extracts runs of letters/digits, and drops
// stop words and single-character tokens.
func Tokenize(text string) []string {
	raw := tokenRe.FindAllString(strings.ToLower(text), -1)
	tokens := make([]string, 0, len(raw))
	for _, t := range raw {
		if len(t) <= 1 {
			continue
		}
		if _, stop := stopWords[t]; stop {
			continue
		}
		tokens = append(tokens, t)
	}
	return tokens
}

// Document is one scoring candidate. ID is opaque to this package and is
// returned unchanged in Result.
type Document struct {
	ID   string
	Text string
}

// Result is one scored document.
type Result struct {
	ID    string
	Score float64
}

// Search scores documents against query and returns the top N results with
// score > 0, sorted descending by score with ties broken by the document's
// position in the input slice. An empty query or empty document list yields
// an empty result.
func Search(query string, documents []Document, topN int) []Result {
	if len(documents) == 0 || query == "" {
		return nil
	}
	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	docTokens := make([][]string, len(documents))
	docLengths := make([]int, len(documents))
	var totalLen int
	for i, doc := range documents {
		docTokens[i] = Tokenize(doc.Text)
		docLengths[i] = len(docTokens[i])
		totalLen += docLengths[i]
	}
	avgDL := 1.0
	if len(documents) > 0 {
		avgDL = float64(totalLen) / float64(len(documents))
	}

	n := len(documents)
	docFreq := make(map[string]int, len(queryTokens))
	for _, tokens := range docTokens {
		seen := make(map[string]struct{}, len(tokens))
		for _, t := range tokens {
			seen[t] = struct{}{}
		}
		for _, qt := range queryTokens {
			if _, ok := seen[qt]; ok {
				docFreq[qt]++
			}
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	candidates := make([]scored, 0, n)
	for i, tokens := range docTokens {
		if len(tokens) == 0 {
			continue
		}
		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			tf[t]++
		}

		var score float64
		for _, term := range queryTokens {
			termFreq, ok := tf[term]
			if !ok {
				continue
			}
			df := float64(docFreq[term])
			idf := math.Log((float64(n)-df+0.5)/(df+0.5) + 1)
			tfNorm := (float64(termFreq) * (K1 + 1)) / (float64(termFreq) + K1*(1-B+B*float64(docLengths[i])/avgDL))
			score += idf * tfNorm
		}
		if score > 0 {
			candidates = append(candidates, scored{idx: i, score: score})
		}
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})

	if topN > 0 && len(candidates) > topN {
		candidates = candidates[:topN]
	}

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = Result{ID: documents[c.idx].ID, Score: c.score}
	}
	return results
}
