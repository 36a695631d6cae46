// Package indexer drives the document indexing state machine:
// extract -> scan-detect -> (ocr) -> chunk -> embed -> persist.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hakimapp/docindex/internal/chunker"
	"github.com/hakimapp/docindex/internal/embedding"
	"github.com/hakimapp/docindex/internal/extract"
	"github.com/hakimapp/docindex/internal/metrics"
	"github.com/hakimapp/docindex/internal/ocr"
	"github.com/hakimapp/docindex/internal/store"
)

// ErrNoText is raised when extraction and OCR both yield only whitespace.
var ErrNoText = errors.New("no text extracted from document")

// ErrIndexingInProgress is returned when another claimer holds the document.
var ErrIndexingInProgress = errors.New("indexing already in progress")

// Store is the persistence surface the orchestrator needs.
type Store interface {
	Document(ctx context.Context, documentID string) (store.DocumentRef, bool, error)
	PatientDocuments(ctx context.Context, patientID string, limit int) ([]store.DocumentRef, error)
	ReadStatus(ctx context.Context, documentID string) (store.IndexStatus, bool, error)
	ClaimIndexing(ctx context.Context, documentID, patientID string) (bool, error)
	UpsertStatus(ctx context.Context, documentID, patientID string, status store.Status, errorMessage string) error
	ReplacePages(ctx context.Context, documentID, patientID string, pages []string) error
	ReplaceChunks(ctx context.Context, documentID, patientID string, chunks []store.ChunkRecord) error
}

// BlobSource supplies raw document bytes; the upload subsystem owns them and
// this core never mutates them.
type BlobSource interface {
	DocumentBytes(ctx context.Context, documentID string) ([]byte, error)
}

// OCR recovers page-delimited text from scanned document bytes.
type OCR interface {
	Text(ctx context.Context, data []byte) (string, error)
}

// ExtractFunc recovers per-page text from document bytes.
type ExtractFunc func(data []byte) ([]string, error)

// Config carries the orchestrator's tunables.
type Config struct {
	ChunkSize int
	// ChunkOverlap zero selects the default; a negative value disables
	// overlap entirely.
	ChunkOverlap       int
	ScanThresholdChars int
	// Timeout bounds each external call (OCR, embedding). Zero means no
	// bound beyond the caller's ctx.
	Timeout time.Duration
}

// Deps wires the orchestrator's collaborators. Extract, Logger and Metrics
// are optional.
type Deps struct {
	Store    Store
	Blobs    BlobSource
	Embedder embedding.Embedder
	OCR      OCR
	Extract  ExtractFunc
	Logger   *log.Logger
	Metrics  *metrics.Metrics
}

// Indexer sequences the indexing pipeline with idempotency and failure
// handling. Statuses move NEW -> INDEXING -> READY, with ERROR reachable from
// INDEXING; nothing here ever leaves READY.
type Indexer struct {
	store    Store
	blobs    BlobSource
	embedder embedding.Embedder
	ocr      OCR
	extract  ExtractFunc
	detector extract.ScanDetector
	cfg      Config
	logger   *log.Logger
	metrics  *metrics.Metrics
	locks    sync.Map // document ID -> *sync.Mutex
}

func New(deps Deps, cfg Config) *Indexer {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[INDEXER] ", log.LstdFlags)
	}
	extractFn := deps.Extract
	if extractFn == nil {
		extractFn = extract.Pages
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = chunker.DefaultChunkSize
	}
	if cfg.ChunkOverlap == 0 {
		cfg.ChunkOverlap = chunker.DefaultOverlap
	} else if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	return &Indexer{
		store:    deps.Store,
		blobs:    deps.Blobs,
		embedder: deps.Embedder,
		ocr:      deps.OCR,
		extract:  extractFn,
		detector: extract.ScanDetector{MinTextChars: cfg.ScanThresholdChars},
		cfg:      cfg,
		logger:   logger,
		metrics:  deps.Metrics,
	}
}

// EnsureIndexedDocument indexes one document unless it is already READY.
// Failures are recorded into the status row as ERROR and returned; the caller
// decides whether to surface them or treat retrieval as unavailable.
func (ix *Indexer) EnsureIndexedDocument(ctx context.Context, documentID string) error {
	st, ok, err := ix.store.ReadStatus(ctx, documentID)
	if err != nil {
		return err
	}
	if ok && st.Status == store.StatusReady {
		return nil
	}

	mu := ix.lock(documentID)
	mu.Lock()
	defer mu.Unlock()

	// Re-check under the lock: a concurrent caller may have finished.
	st, ok, err = ix.store.ReadStatus(ctx, documentID)
	if err != nil {
		return err
	}
	if ok && st.Status == store.StatusReady {
		return nil
	}

	ref, found, err := ix.store.Document(ctx, documentID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("unknown document %s", documentID)
	}

	claimed, err := ix.store.ClaimIndexing(ctx, documentID, ref.PatientID)
	if err != nil {
		return err
	}
	if !claimed {
		st, ok, err = ix.store.ReadStatus(ctx, documentID)
		if err != nil {
			return err
		}
		if ok && st.Status == store.StatusReady {
			return nil
		}
		return fmt.Errorf("document %s: %w", documentID, ErrIndexingInProgress)
	}

	started := time.Now()
	if err := ix.index(ctx, ref); err != nil {
		ix.logger.Printf("indexing %s failed: %v", documentID, err)
		if ix.metrics != nil {
			ix.metrics.IndexFailures.Inc()
		}
		if upErr := ix.store.UpsertStatus(ctx, documentID, ref.PatientID, store.StatusError, err.Error()); upErr != nil {
			ix.logger.Printf("recording ERROR status for %s failed: %v", documentID, upErr)
		}
		return err
	}

	if err := ix.store.UpsertStatus(ctx, documentID, ref.PatientID, store.StatusReady, ""); err != nil {
		return err
	}
	if ix.metrics != nil {
		ix.metrics.DocumentsIndexed.Inc()
		ix.metrics.IndexDuration.Observe(time.Since(started).Seconds())
	}
	ix.logger.Printf("indexed %s in %s", documentID, time.Since(started).Round(time.Millisecond))
	return nil
}

// EnsureIndexedPatientCorpus indexes a patient's documents, most-recent-first
// when limit is positive. Unlike the single-document path this is
// best-effort: one document's failure does not abort the others. Store
// failures do abort the pass, since they signal the store is down for every
// document.
func (ix *Indexer) EnsureIndexedPatientCorpus(ctx context.Context, patientID string, limit int) error {
	refs, err := ix.store.PatientDocuments(ctx, patientID, limit)
	if err != nil {
		return err
	}
	var failures []error
	for _, ref := range refs {
		if err := ix.EnsureIndexedDocument(ctx, ref.ID); err != nil {
			var serr *store.Error
			if errors.As(err, &serr) {
				return fmt.Errorf("corpus indexing for patient %s aborted: %w", patientID, err)
			}
			failures = append(failures, fmt.Errorf("document %s: %w", ref.ID, err))
		}
	}
	return errors.Join(failures...)
}

func (ix *Indexer) index(ctx context.Context, ref store.DocumentRef) error {
	data, err := ix.blobs.DocumentBytes(ctx, ref.ID)
	if err != nil {
		return fmt.Errorf("load document bytes: %w", err)
	}

	pages, err := ix.extract(data)
	if err != nil {
		return err
	}

	if len(data) > 0 && ix.detector.Scanned(pages) {
		ix.logger.Printf("document %s classified as scanned, running OCR", ref.ID)
		ocrCtx, cancel := ix.callContext(ctx)
		text, ocrErr := ix.ocr.Text(ocrCtx, data)
		cancel()
		if ocrErr != nil {
			return ocrErr
		}
		pages = ocr.SplitPages(text)
	}

	if allBlank(pages) {
		return ErrNoText
	}

	if err := ix.store.ReplacePages(ctx, ref.ID, ref.PatientID, pages); err != nil {
		return err
	}

	chunks := chunker.ChunkPages(pages, ix.cfg.ChunkSize, ix.cfg.ChunkOverlap)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	embedCtx, cancel := ix.callContext(ctx)
	vecs, err := ix.embedder.EmbedMany(embedCtx, texts)
	cancel()
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vecs) != len(chunks) {
		return fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vecs), len(chunks))
	}

	records := make([]store.ChunkRecord, len(chunks))
	for i, c := range chunks {
		records[i] = store.ChunkRecord{
			DocumentID: ref.ID,
			PatientID:  ref.PatientID,
			Page:       c.Page,
			Index:      c.Index,
			Text:       c.Text,
			Vector:     vecs[i],
		}
	}
	if err := ix.store.ReplaceChunks(ctx, ref.ID, ref.PatientID, records); err != nil {
		return err
	}
	if ix.metrics != nil {
		ix.metrics.ChunksEmbedded.Add(float64(len(records)))
	}
	return nil
}

func (ix *Indexer) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ix.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, ix.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

func (ix *Indexer) lock(documentID string) *sync.Mutex {
	v, _ := ix.locks.LoadOrStore(documentID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func allBlank(pages []string) bool {
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			return false
		}
	}
	return true
}
