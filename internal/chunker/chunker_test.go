package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkText_EmptyInput_ReturnsNoChunks(t *testing.T) {
	assert.Empty(t, ChunkText("   \n\t  ", DefaultConfig()))
	assert.Empty(t, ChunkText("", DefaultConfig()))
}

func TestChunkText_ShortInput_SingleChunk(t *testing.T) {
	chunks := ChunkText("hello world", DefaultConfig())
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, 1, chunks[0].TotalChunks)
}

// Round-trip scenario 1 from the component spec: a 5000-char run with no
// sentence or paragraph boundaries hard-splits into 3 chunks.
func TestChunkText_NoBoundaries_HardSplitsIntoThree(t *testing.T) {
	text := strings.Repeat("a", 5000)
	chunks := ChunkText(text, DefaultConfig())

	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.Equal(t, 3, c.TotalChunks)
		assert.LessOrEqual(t, len(c.Text), 2000)
	}
	assert.Equal(t, 2000, len(chunks[0].Text))
	assert.Equal(t, 2000, len(chunks[1].Text))
}

func TestChunkText_Deterministic(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 200)
	a := ChunkText(text, DefaultConfig())
	b := ChunkText(text, DefaultConfig())
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i], b[i])
	}
}

func TestChunkText_ChunkIndicesAreContiguous(t *testing.T) {
	text := strings.Repeat("Paragraph body text goes here.\n\n", 300)
	chunks := ChunkText(text, DefaultConfig())
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, len(chunks), c.TotalChunks)
		assert.LessOrEqual(t, len(c.Text), DefaultConfig().ChunkSize+DefaultConfig().Overlap)
	}
}

func TestChunkText_ParagraphsStayWhole_WhenTheyFit(t *testing.T) {
	text := "First paragraph.\n\nSecond paragraph."
	chunks := ChunkText(text, Config{ChunkSize: 2000, Overlap: 200})
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "First paragraph.")
	assert.Contains(t, chunks[0].Text, "Second paragraph.")
}

func TestChunkText_OverflowingParagraphs_SplitAtBoundary(t *testing.T) {
	para := strings.Repeat("word ", 100) // ~500 chars, fits in a small chunk size
	text := para + "\n\n" + para + "\n\n" + para
	cfg := Config{ChunkSize: 600, Overlap: 50}
	chunks := ChunkText(text, cfg)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), cfg.ChunkSize+cfg.Overlap)
	}
}

func TestOverlapTail_PrefersSentenceBoundary(t *testing.T) {
	flushed := "this is a long run of words. Start of next sentence here"
	tail := overlapTail(flushed, 40)
	assert.Equal(t, "Start of next sentence here", tail)
}

func TestOverlapTail_FallsBackToWhitespace(t *testing.T) {
	flushed := "nopunctuationhereatall justwords keepgoing"
	tail := overlapTail(flushed, 20)
	assert.NotContains(t, tail, "  ")
	assert.LessOrEqual(t, len(tail), 20)
}

func TestHardSplit_StepsByChunkSizeMinusOverlap(t *testing.T) {
	cfg := Config{ChunkSize: 10, Overlap: 2}
	parts := hardSplit(strings.Repeat("x", 25), cfg)
	require.Len(t, parts, 3)
	for _, p := range parts[:len(parts)-1] {
		assert.Len(t, p, 10)
	}
}
