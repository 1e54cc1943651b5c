package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(path string, distance float64, text string) Row {
	return Row{FilePath: path, ChunkIndex: 0, Distance: distance, Text: text}
}

// Round-trip scenario 4: vector ranking [A, B, C], BM25 ranking [C, D, A]
// over k=60. A and C tie (participate in both lists, symmetric ranks); B
// precedes D in the tie among single-list participants because B appears
// earlier in the vector list.
func TestHybridMerge_RoundTripScenario4(t *testing.T) {
	a := row("A", 0.1, "fox walks through forest path today calmly")
	b := row("B", 0.2, "completely unrelated content about weather patterns")
	c := row("C", 0.3, "fox fox fox fox walks through forest path today")
	d := row("D", 0.4, "fox fox walks through forest path today slowly")

	vectorResults := []Row{a, b, c}
	allChunks := []Row{a, b, c, d}

	merged := HybridMerge("fox", vectorResults, allChunks, 10, DefaultK)

	require.Len(t, merged, 4)
	byPath := map[string]Row{}
	for _, r := range merged {
		byPath[r.FilePath] = r
	}

	expectedAC := 1.0/61 + 1.0/63
	expectedBD := 1.0 / 62

	assert.InDelta(t, expectedAC, byPath["A"].RRFScore, 1e-9)
	assert.InDelta(t, expectedAC, byPath["C"].RRFScore, 1e-9)
	assert.InDelta(t, expectedBD, byPath["B"].RRFScore, 1e-9)
	assert.InDelta(t, expectedBD, byPath["D"].RRFScore, 1e-9)

	// D never appeared in the vector list, so it is tagged with the
	// "unknown distance" sentinel rather than its original distance.
	assert.Equal(t, unknownDistance, byPath["D"].Distance)

	// Order: A and C (tied, highest) before B and D (tied, lower); within
	// each tied pair, first-list order wins.
	order := []string{merged[0].FilePath, merged[1].FilePath, merged[2].FilePath, merged[3].FilePath}
	assert.Equal(t, []string{"A", "C", "B", "D"}, order)
}

func TestHybridMerge_EmptyVectorResults_ReturnsEmpty(t *testing.T) {
	assert.Empty(t, HybridMerge("q", nil, []Row{row("A", 0.1, "text")}, 10, DefaultK))
}

func TestHybridMerge_EmptyAllChunks_AnnotatesZeroScore(t *testing.T) {
	vectorResults := []Row{row("A", 0.1, "text"), row("B", 0.2, "text")}
	merged := HybridMerge("q", vectorResults, nil, 10, DefaultK)
	require.Len(t, merged, 2)
	for _, r := range merged {
		assert.Equal(t, 0.0, r.RRFScore)
	}
}

func TestHybridMerge_TruncatesToTopN(t *testing.T) {
	vectorResults := []Row{row("A", 0.1, "fox"), row("B", 0.2, "fox"), row("C", 0.3, "fox")}
	merged := HybridMerge("fox", vectorResults, vectorResults, 2, DefaultK)
	assert.Len(t, merged, 2)
}

func TestHybridMerge_EveryVectorKeyAppearsInOutput(t *testing.T) {
	vectorResults := []Row{row("A", 0.1, "apple"), row("B", 0.2, "banana")}
	merged := HybridMerge("apple banana", vectorResults, vectorResults, 10, DefaultK)
	seen := map[string]bool{}
	for _, r := range merged {
		seen[r.FilePath] = true
	}
	assert.True(t, seen["A"])
	assert.True(t, seen["B"])
}

func TestDeduplicate_KeepsMinDistancePerFile(t *testing.T) {
	rows := []Row{
		{FilePath: "f1", ChunkIndex: 0, Distance: 0.5},
		{FilePath: "f1", ChunkIndex: 1, Distance: 0.2},
		{FilePath: "f2", ChunkIndex: 0, Distance: 0.1},
	}
	out := Deduplicate(rows, 10)
	require.Len(t, out, 2)
	assert.Equal(t, "f2", out[0].FilePath)
	assert.Equal(t, 0.1, out[0].Distance)
	assert.Equal(t, "f1", out[1].FilePath)
	assert.Equal(t, 0.2, out[1].Distance)
}

func TestDeduplicate_AtMostOneRowPerFile(t *testing.T) {
	rows := []Row{
		{FilePath: "f1", ChunkIndex: 0, Distance: 0.9},
		{FilePath: "f1", ChunkIndex: 1, Distance: 0.1},
		{FilePath: "f1", ChunkIndex: 2, Distance: 0.5},
	}
	out := Deduplicate(rows, 10)
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].ChunkIndex)
}

func TestDeduplicate_TruncatesToLimit(t *testing.T) {
	rows := []Row{
		{FilePath: "f1", Distance: 0.1},
		{FilePath: "f2", Distance: 0.2},
		{FilePath: "f3", Distance: 0.3},
	}
	out := Deduplicate(rows, 2)
	assert.Len(t, out, 2)
}
