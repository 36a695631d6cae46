package ocr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestSplitPages(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"only page", []string{"only page"}},
		{"page one\fpage two", []string{"page one", "page two"}},
		{"a\f\fb", []string{"a", "", "b"}},
	}
	for _, tc := range cases {
		if got := SplitPages(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("SplitPages(%q) = %#v, want %#v", tc.in, got, tc.want)
		}
	}
}

// writeStub installs a fake ocrmypdf. Argument order is fixed by Engine.Text:
// --force-ocr -l <langs> --sidecar <sidecar> <input> <output>.
func writeStub(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ocrmypdf-stub")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestTextReadsSidecar(t *testing.T) {
	stub := writeStub(t, `printf 'page one\fpage two' > "$5"`)
	engine := &Engine{Binary: stub, Languages: []string{"eng", "fas"}}

	text, err := engine.Text(context.Background(), []byte("%PDF-1.4 fake"))
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	pages := SplitPages(text)
	want := []string{"page one", "page two"}
	if !reflect.DeepEqual(pages, want) {
		t.Fatalf("pages = %#v, want %#v", pages, want)
	}
}

func TestTextNonZeroExit(t *testing.T) {
	stub := writeStub(t, `echo "tesseract not found" >&2; exit 2`)
	engine := &Engine{Binary: stub}

	_, err := engine.Text(context.Background(), []byte("%PDF-1.4 fake"))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestTextMissingBinary(t *testing.T) {
	engine := &Engine{Binary: filepath.Join(t.TempDir(), "does-not-exist")}
	_, err := engine.Text(context.Background(), []byte("%PDF-1.4 fake"))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestTextMissingSidecarIsUnavailable(t *testing.T) {
	stub := writeStub(t, `exit 0`)
	engine := &Engine{Binary: stub}

	_, err := engine.Text(context.Background(), []byte("%PDF-1.4 fake"))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
