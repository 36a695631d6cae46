package extract

import (
	"strings"
	"unicode/utf8"
)

// DefaultScanThresholdChars is the minimum total trimmed character count a
// document must carry before it is trusted as machine-readable text. Tunable,
// carried over from the original deployment; not a derived value.
const DefaultScanThresholdChars = 200

// ScanDetector classifies extracted pages as scanned (image-only) documents.
// The heuristic is intentionally crude: a false positive costs an unnecessary
// OCR pass, a false negative leaves a page un-indexed.
type ScanDetector struct {
	// MinTextChars falls back to DefaultScanThresholdChars when zero.
	MinTextChars int
}

// Scanned reports whether the page sequence needs OCR: no page has any
// trimmed text, or the total trimmed character count is under the threshold.
func (d ScanDetector) Scanned(pages []string) bool {
	threshold := d.MinTextChars
	if threshold <= 0 {
		threshold = DefaultScanThresholdChars
	}
	nonEmpty := 0
	total := 0
	for _, page := range pages {
		trimmed := strings.TrimSpace(page)
		if trimmed != "" {
			nonEmpty++
		}
		total += utf8.RuneCountInString(trimmed)
	}
	return nonEmpty == 0 || total < threshold
}
