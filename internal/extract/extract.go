// Package extract recovers per-page plain text from uploaded PDF bytes and
// decides whether a document is a scan that needs OCR.
package extract

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// ExtractionError wraps a structurally unreadable document.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string { return "extract pages: " + e.Err.Error() }
func (e *ExtractionError) Unwrap() error { return e.Err }

// Pages returns one plain-text string per physical page, in document order.
// Zero-length input yields an empty sequence without error: there is nothing
// to index, which is not a failure. Pages whose content streams cannot be
// decoded come back empty so the scan detector can route the document to OCR.
func Pages(data []byte) (pages []string, err error) {
	if len(data) == 0 {
		return nil, nil
	}
	// The parser panics on some malformed xref tables instead of returning
	// an error.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = &ExtractionError{Err: fmt.Errorf("malformed document: %v", r)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ExtractionError{Err: err}
	}

	total := reader.NumPage()
	pages = make([]string, 0, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			text = ""
		}
		pages = append(pages, text)
	}
	return pages, nil
}
