package bm25

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docs(texts ...string) []Document {
	out := make([]Document, len(texts))
	for i, t := range texts {
		out[i] = Document{ID: string(rune('0' + i)), Text: t}
	}
	return out
}

// Round-trip scenario 3: "database" over three chunks ranks the third chunk
// above the first and excludes the second (zero query-term overlap).
func TestSearch_RanksThirdAboveFirst_ExcludesSecond(t *testing.T) {
	documents := docs(
		"vector database engines",
		"hello world",
		"database database database",
	)

	results := Search("database", documents, 5)

	require.Len(t, results, 2)
	assert.Equal(t, documents[2].ID, results[0].ID)
	assert.Equal(t, documents[0].ID, results[1].ID)
}

func TestSearch_EmptyQuery_ReturnsEmpty(t *testing.T) {
	assert.Empty(t, Search("", docs("anything at all"), 10))
}

func TestSearch_EmptyCorpus_ReturnsEmpty(t *testing.T) {
	assert.Empty(t, Search("query", nil, 10))
}

func TestSearch_QueryOnlyStopWords_ReturnsEmpty(t *testing.T) {
	assert.Empty(t, Search("the a of", docs("the quick fox"), 10))
}

func TestSearch_ScoresAreNonNegative(t *testing.T) {
	results := Search("fox jumps", docs("the quick brown fox", "a dog sleeps"), 10)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
	}
}

func TestSearch_DocumentWithNoQueryTokens_Excluded(t *testing.T) {
	results := Search("database", docs("totally unrelated content here"), 10)
	assert.Empty(t, results)
}

func TestSearch_TopNTruncates(t *testing.T) {
	results := Search("fox", docs("fox fox fox", "fox fox", "fox"), 2)
	assert.Len(t, results, 2)
}

func TestSearch_TiesBrokenByInsertionOrder(t *testing.T) {
	results := Search("fox", docs("the fox ran", "a fox sat"), 10)
	require.Len(t, results, 2)
	assert.Equal(t, "0", results[0].ID)
	assert.Equal(t, "1", results[1].ID)
}

func TestTokenize_DropsStopWordsAndShortTokens(t *testing.T) {
	tokens := Tokenize("The Quick Brown Fox is a Fox")
	assert.Equal(t, []string{"quick", "brown", "fox", "fox"}, tokens)
}
