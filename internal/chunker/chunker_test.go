package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunkPagesOnePerShortPage(t *testing.T) {
	pages := []string{
		"Patient reports headache for 3 days.",
		"No known allergies.",
	}
	chunks := ChunkPages(pages, 1200, 200)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if chunks[0].Page != 1 || chunks[0].Index != 0 || chunks[0].Text != pages[0] {
		t.Fatalf("unexpected first chunk: %+v", chunks[0])
	}
	if chunks[1].Page != 2 || chunks[1].Index != 0 || chunks[1].Text != pages[1] {
		t.Fatalf("unexpected second chunk: %+v", chunks[1])
	}
}

func TestChunkPagesOverlapAndCoverage(t *testing.T) {
	text := strings.Repeat("abcdefghij", 100) // 1000 chars
	size, overlap := 300, 100
	chunks := ChunkPages([]string{text}, size, overlap)

	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	step := size - overlap
	for i, c := range chunks {
		if utf8.RuneCountInString(c.Text) > size {
			t.Fatalf("chunk %d exceeds size: %d", i, utf8.RuneCountInString(c.Text))
		}
		if c.Index != i {
			t.Fatalf("chunk index %d, want %d", c.Index, i)
		}
	}
	// De-overlapped concatenation reconstructs the page text.
	var rebuilt strings.Builder
	for i, c := range chunks {
		runes := []rune(c.Text)
		if i == 0 {
			rebuilt.WriteString(c.Text)
			continue
		}
		// Each later chunk starts step runes after the previous one.
		already := size - step
		if already > len(runes) {
			already = len(runes)
		}
		rebuilt.WriteString(string(runes[already:]))
	}
	if rebuilt.String() != text {
		t.Fatalf("de-overlapped concatenation does not reconstruct the page (%d vs %d chars)", rebuilt.Len(), len(text))
	}
}

func TestChunkPagesStartOffsetsIncrease(t *testing.T) {
	text := strings.Repeat("z", 950)
	chunks := ChunkPages([]string{text}, 300, 100)
	wantStarts := []int{0, 200, 400, 600, 800}
	if len(chunks) != len(wantStarts) {
		t.Fatalf("chunks = %d, want %d", len(chunks), len(wantStarts))
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Index <= chunks[i-1].Index {
			t.Fatal("chunk indices must strictly increase within a page")
		}
	}
	// Last chunk is the 150-char tail.
	if got := utf8.RuneCountInString(chunks[len(chunks)-1].Text); got != 150 {
		t.Fatalf("tail chunk length = %d, want 150", got)
	}
}

func TestChunkPagesTerminatesOnDegenerateConfig(t *testing.T) {
	text := strings.Repeat("q", 5000)
	cases := []struct{ size, overlap int }{
		{300, 300},  // overlap == size
		{300, 400},  // overlap > size
		{0, 0},      // size under floor
		{-10, -10},  // nonsense
		{200, 1000}, // overlap far beyond size
	}
	for _, tc := range cases {
		chunks := ChunkPages([]string{text}, tc.size, tc.overlap)
		if len(chunks) == 0 {
			t.Fatalf("size=%d overlap=%d: expected chunks", tc.size, tc.overlap)
		}
		for _, c := range chunks {
			if c.Text == "" {
				t.Fatalf("size=%d overlap=%d: empty chunk emitted", tc.size, tc.overlap)
			}
		}
	}
}

func TestChunkPagesSkipsWhitespaceWindows(t *testing.T) {
	// A blank run wider than the window, as extracted form layouts produce.
	// The middle window lands entirely inside it and must not be emitted.
	page := "a" + strings.Repeat(" ", 3000) + "b"
	chunks := ChunkPages([]string{page}, 1200, 200)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	for i, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			t.Fatalf("chunk %d is whitespace-only", i)
		}
		if c.Index != i {
			t.Fatalf("chunk index = %d, want %d (contiguous over emitted chunks)", c.Index, i)
		}
	}
	if !strings.Contains(chunks[0].Text, "a") || !strings.Contains(chunks[1].Text, "b") {
		t.Fatalf("expected the surviving chunks to carry the page text, got %q and %q",
			strings.TrimSpace(chunks[0].Text), strings.TrimSpace(chunks[1].Text))
	}
}

func TestChunkPagesSkipsEmptyPages(t *testing.T) {
	chunks := ChunkPages([]string{"", "  \n ", "real content", ""}, 1200, 200)
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if chunks[0].Page != 3 {
		t.Fatalf("chunk page = %d, want 3 (1-based physical page)", chunks[0].Page)
	}
}

func TestChunkPagesIndexRestartsPerPage(t *testing.T) {
	long := strings.Repeat("m", 700)
	chunks := ChunkPages([]string{long, long}, 300, 100)
	var firstPageChunks, secondPageChunks []Chunk
	for _, c := range chunks {
		if c.Page == 1 {
			firstPageChunks = append(firstPageChunks, c)
		} else {
			secondPageChunks = append(secondPageChunks, c)
		}
	}
	if len(firstPageChunks) == 0 || len(secondPageChunks) == 0 {
		t.Fatal("expected chunks on both pages")
	}
	if firstPageChunks[0].Index != 0 || secondPageChunks[0].Index != 0 {
		t.Fatal("chunk index must restart at 0 per page")
	}
}
