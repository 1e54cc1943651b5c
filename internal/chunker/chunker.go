// Package chunker splits plain text into overlapping chunks at semantic
// boundaries: paragraphs first, then sentences, then a hard character split
// as a last resort. It has no knowledge of the source the text came from —
// callers own fingerprinting and storage.
package chunker

import (
	"regexp"
	"strings"
)

// Config controls chunk size and overlap, both in bytes.
type Config struct {
	ChunkSize int
	Overlap   int
}

// DefaultConfig matches the engine's standard chunking parameters.
func DefaultConfig() Config {
	return Config{ChunkSize: 2000, Overlap: 200}
}

// Chunk is one piece of a chunked document.
type Chunk struct {
	Text        string
	ChunkIndex  int
	TotalChunks int
}

var (
	paragraphSepRe  = regexp.MustCompile(`\n\s*\n`)
	sentenceSplitRe = regexp.MustCompile(`[.!?]\s+`)
)

// ChunkText splits text into a deterministic, ordered sequence of chunks.
// Empty (post-trim) input produces no chunks.
func ChunkText(text string, cfg Config) []Chunk {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if len(trimmed) <= cfg.ChunkSize {
		return finalize([]string{trimmed})
	}

	paragraphs := paragraphSepRe.Split(trimmed, -1)

	var parts []string
	var current string
	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) > cfg.ChunkSize {
			if current != "" {
				parts = append(parts, current)
				current = ""
			}
			sub := splitLongParagraph(para, cfg)
			if len(sub) == 0 {
				continue
			}
			parts = append(parts, sub[:len(sub)-1]...)
			current = sub[len(sub)-1]
			continue
		}
		if current != "" && len(current)+2+len(para) > cfg.ChunkSize {
			parts = append(parts, current)
			tail := overlapTail(current, cfg.Overlap)
			if tail != "" {
				current = tail + "\n\n" + para
			} else {
				current = para
			}
			continue
		}
		if current == "" {
			current = para
		} else {
			current = current + "\n\n" + para
		}
	}
	if current != "" {
		parts = append(parts, current)
	}

	return finalize(parts)
}

// splitLongParagraph splits a single oversized paragraph by sentence
// boundary, falling back to a hard character split for any sentence that is
// itself still too long.
func splitLongParagraph(para string, cfg Config) []string {
	sentences := splitSentences(para)

	var parts []string
	var current string
	for _, sent := range sentences {
		if sent == "" {
			continue
		}
		if len(sent) > cfg.ChunkSize {
			if current != "" {
				parts = append(parts, current)
				current = ""
			}
			parts = append(parts, hardSplit(sent, cfg)...)
			continue
		}
		if current != "" && len(current)+1+len(sent) > cfg.ChunkSize {
			parts = append(parts, current)
			tail := overlapTail(current, cfg.Overlap)
			if tail != "" {
				current = tail + " " + sent
			} else {
				current = sent
			}
			continue
		}
		if current == "" {
			current = sent
		} else {
			current = current + " " + sent
		}
	}
	if current != "" {
		parts = append(parts, current)
	}
	return parts
}

// hardSplit breaks s into fixed windows of cfg.ChunkSize, stepping by
// cfg.ChunkSize - cfg.Overlap so consecutive windows overlap by cfg.Overlap
// characters. Used only when a single sentence still exceeds ChunkSize.
func hardSplit(s string, cfg Config) []string {
	step := cfg.ChunkSize - cfg.Overlap
	if step <= 0 {
		step = cfg.ChunkSize
	}
	var out []string
	for i := 0; i < len(s); i += step {
		end := i + cfg.ChunkSize
		if end > len(s) {
			end = len(s)
		}
		out = append(out, s[i:end])
		if end == len(s) {
			break
		}
	}
	return out
}

// overlapTail returns the seed for the next chunk: the last `overlap`
// characters of flushed, trimmed forward to the first sentence boundary; if
// none, to the first whitespace; else the raw tail.
func overlapTail(flushed string, overlap int) string {
	tail := flushed
	if len(flushed) > overlap {
		tail = flushed[len(flushed)-overlap:]
	}

	if loc := sentenceSplitRe.FindStringIndex(tail); loc != nil {
		return tail[loc[1]:]
	}
	for i, r := range tail {
		if r == ' ' || r == '\n' || r == '\t' {
			return tail[i+1:]
		}
	}
	return tail
}

// splitSentences splits on a sentence-ending punctuation mark followed by
// whitespace, keeping the punctuation with the sentence that precedes it
// (equivalent to a lookbehind split, which RE2 cannot express directly).
func splitSentences(s string) []string {
	locs := sentenceSplitRe.FindAllStringIndex(s, -1)
	if locs == nil {
		return []string{s}
	}
	var out []string
	start := 0
	for _, loc := range locs {
		out = append(out, s[start:loc[0]+1])
		start = loc[1]
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func finalize(texts []string) []Chunk {
	chunks := make([]Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = Chunk{Text: t, ChunkIndex: i, TotalChunks: len(texts)}
	}
	return chunks
}

