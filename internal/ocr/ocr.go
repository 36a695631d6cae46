// Package ocr shells out to ocrmypdf to recover text from scanned documents.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ErrUnavailable marks a missing or failing OCR engine. The orchestrator maps
// it straight to document status ERROR; OCR failures are not retried.
var ErrUnavailable = errors.New("ocr engine unavailable")

// pageSeparator is the form-feed ocrmypdf writes between sidecar pages. If
// the engine's convention ever changes, only SplitPages needs to move.
const pageSeparator = "\f"

// Engine invokes the external OCR process with bilingual support over a
// forced, full-page OCR pass.
type Engine struct {
	Binary    string // defaults to "ocrmypdf"
	Languages []string
	Timeout   time.Duration
	Logger    *log.Logger
}

// Text runs OCR over the document bytes and returns the sidecar text, with
// pages separated by a form feed. All temporary artifacts (input, OCR output,
// sidecar) live in a scoped directory removed on every exit path.
func (e *Engine) Text(ctx context.Context, data []byte) (string, error) {
	binary := e.Binary
	if binary == "" {
		binary = "ocrmypdf"
	}
	languages := e.Languages
	if len(languages) == 0 {
		languages = []string{"eng", "fas"}
	}

	dir, err := os.MkdirTemp("", "docindex-ocr-*")
	if err != nil {
		return "", fmt.Errorf("create ocr workdir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input.pdf")
	output := filepath.Join(dir, "output.pdf")
	sidecar := filepath.Join(dir, "sidecar.txt")
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return "", fmt.Errorf("write ocr input: %w", err)
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	args := []string{
		"--force-ocr",
		"-l", strings.Join(languages, "+"),
		"--sidecar", sidecar,
		input,
		output,
	}
	cmd := exec.CommandContext(ctx, binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if e.Logger != nil {
		e.Logger.Printf("running %s -l %s", binary, strings.Join(languages, "+"))
	}
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return "", fmt.Errorf("%w: %v: %s", ErrUnavailable, err, detail)
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out, err := os.ReadFile(sidecar)
	if err != nil {
		return "", fmt.Errorf("%w: read sidecar: %v", ErrUnavailable, err)
	}
	return string(out), nil
}

// SplitPages reconstructs the page sequence from sidecar text.
func SplitPages(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(text, pageSeparator)
}
