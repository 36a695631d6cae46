// Package chunker splits page text into fixed-size overlapping passages, the
// unit of embedding and retrieval.
package chunker

import "strings"

// Defaults carried over from the original deployment; tunable, not derived.
const (
	DefaultChunkSize = 1200
	DefaultOverlap   = 200

	// Normalization floors guaranteeing forward progress on degenerate
	// configurations (overlap >= chunk size would otherwise never advance).
	minChunkSize = 200
	minStep      = 50
)

// Chunk is one bounded span of page text. Page is 1-based; Index restarts at
// 0 on every page.
type Chunk struct {
	Page  int
	Index int
	Text  string
}

// ChunkPages slides a window of size chars across each page with the given
// overlap, advancing by size-overlap per window. Pages with no trimmed text
// produce no chunks, and windows landing entirely inside a whitespace run are
// skipped so every emitted chunk carries text; the per-page index stays
// contiguous over emitted chunks. Pure function, no I/O.
func ChunkPages(pages []string, size, overlap int) []Chunk {
	if size < minChunkSize {
		size = minChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap > size-minStep {
		overlap = size - minStep
	}
	step := size - overlap

	var chunks []Chunk
	for pageIdx, page := range pages {
		text := strings.TrimSpace(page)
		if text == "" {
			continue
		}
		runes := []rune(text)
		index := 0
		for start := 0; start < len(runes); start += step {
			end := start + size
			if end > len(runes) {
				end = len(runes)
			}
			window := string(runes[start:end])
			if strings.TrimSpace(window) != "" {
				chunks = append(chunks, Chunk{
					Page:  pageIdx + 1,
					Index: index,
					Text:  window,
				})
				index++
			}
			if end == len(runes) {
				break
			}
		}
	}
	return chunks
}
