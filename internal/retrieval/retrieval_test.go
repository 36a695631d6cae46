package retrieval_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/hakimapp/docindex/internal/indexer"
	"github.com/hakimapp/docindex/internal/retrieval"
	"github.com/hakimapp/docindex/internal/store"
)

// memStore is an in-memory stand-in for the Postgres store implementing both
// the orchestrator's and the retrieval service's store surfaces, with
// brute-force cosine distance ranking and the READY filter.
type memStore struct {
	mu     sync.Mutex
	docs   map[string]store.DocumentRef
	status map[string]store.IndexStatus
	pages  map[string][]string
	chunks map[string][]store.ChunkRecord
}

func newMemStore(refs ...store.DocumentRef) *memStore {
	ms := &memStore{
		docs:   map[string]store.DocumentRef{},
		status: map[string]store.IndexStatus{},
		pages:  map[string][]string{},
		chunks: map[string][]store.ChunkRecord{},
	}
	for _, ref := range refs {
		ms.docs[ref.ID] = ref
	}
	return ms
}

func (ms *memStore) Document(_ context.Context, id string) (store.DocumentRef, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ref, ok := ms.docs[id]
	return ref, ok, nil
}

func (ms *memStore) PatientDocuments(_ context.Context, patientID string, limit int) ([]store.DocumentRef, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var refs []store.DocumentRef
	for _, ref := range ms.docs {
		if ref.PatientID == patientID {
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].UploadSeq > refs[j].UploadSeq })
	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}
	return refs, nil
}

func (ms *memStore) ReadStatus(_ context.Context, id string) (store.IndexStatus, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	st, ok := ms.status[id]
	return st, ok, nil
}

func (ms *memStore) ClaimIndexing(_ context.Context, id, patientID string) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	st, ok := ms.status[id]
	if ok && st.Status != store.StatusNew && st.Status != store.StatusError {
		return false, nil
	}
	ms.status[id] = store.IndexStatus{DocumentID: id, PatientID: patientID, Status: store.StatusIndexing}
	return true, nil
}

func (ms *memStore) UpsertStatus(_ context.Context, id, patientID string, status store.Status, msg string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.status[id] = store.IndexStatus{DocumentID: id, PatientID: patientID, Status: status, ErrorMessage: msg}
	return nil
}

func (ms *memStore) ReplacePages(_ context.Context, id, patientID string, pages []string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.pages[id] = append([]string(nil), pages...)
	return nil
}

func (ms *memStore) ReplaceChunks(_ context.Context, id, patientID string, chunks []store.ChunkRecord) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.chunks[id] = append([]store.ChunkRecord(nil), chunks...)
	return nil
}

func (ms *memStore) NearestChunks(_ context.Context, scope store.Scope, vector []float32, k int) ([]store.ChunkHit, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var hits []store.ChunkHit
	for docID, chunks := range ms.chunks {
		st, ok := ms.status[docID]
		if !ok || st.Status != store.StatusReady {
			continue
		}
		ref := ms.docs[docID]
		if !scope.Matches(docID, ref.PatientID) {
			continue
		}
		for _, c := range chunks {
			hits = append(hits, store.ChunkHit{
				DocumentID:   docID,
				DocumentName: ref.DisplayName,
				Page:         c.Page,
				Index:        c.Index,
				Text:         c.Text,
				Distance:     cosineDistance(vector, c.Vector),
			})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// keywordEmbedder gives exact control over similarity in end-to-end tests:
// texts containing the term embed to [1,0], everything else to [0,1].
type keywordEmbedder struct{ term string }

func (k keywordEmbedder) Dimensions() int { return 2 }

func (k keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.Contains(strings.ToLower(text), k.term) {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

func (k keywordEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := k.Embed(ctx, t)
		vecs[i] = v
	}
	return vecs, nil
}

type memBlobs map[string][]byte

func (b memBlobs) DocumentBytes(_ context.Context, id string) ([]byte, error) {
	data, ok := b[id]
	if !ok {
		return nil, fmt.Errorf("no bytes for %s", id)
	}
	return data, nil
}

type stubOCR struct {
	text string
	err  error
}

func (s stubOCR) Text(context.Context, []byte) (string, error) { return s.text, s.err }

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestEndToEndDocumentRetrieval(t *testing.T) {
	ref := store.DocumentRef{ID: "doc-1", PatientID: "patient-1", DisplayName: "visit-note.pdf", UploadSeq: 1}
	ms := newMemStore(ref)
	emb := keywordEmbedder{term: "headache"}

	ix := indexer.New(indexer.Deps{
		Store:    ms,
		Blobs:    memBlobs{"doc-1": []byte("%PDF fake")},
		Embedder: emb,
		OCR:      stubOCR{},
		Extract: func([]byte) ([]string, error) {
			return []string{
				strings.Repeat("Patient reports headache for 3 days. ", 10),
				strings.Repeat("No known allergies. ", 15),
			}, nil
		},
		Logger: quietLogger(),
	}, indexer.Config{ChunkSize: 1200, ChunkOverlap: 200})

	if err := ix.EnsureIndexedDocument(context.Background(), "doc-1"); err != nil {
		t.Fatalf("EnsureIndexedDocument: %v", err)
	}
	if got := len(ms.chunks["doc-1"]); got != 2 {
		t.Fatalf("chunks = %d, want 2", got)
	}

	svc := retrieval.New(ms, emb, nil, quietLogger(), nil)
	hits, err := svc.ForDocument(context.Background(), "doc-1", "headache", 1)
	if err != nil {
		t.Fatalf("ForDocument: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
	top := hits[0]
	if top.Page != 1 {
		t.Fatalf("top hit page = %d, want 1", top.Page)
	}
	if top.DocumentName != "visit-note.pdf" {
		t.Fatalf("top hit name = %q", top.DocumentName)
	}
	if !strings.Contains(top.Text, "headache") {
		t.Fatalf("top hit text = %q", top.Text)
	}
}

func TestRetrievalSilentlyExcludesNonReadyDocuments(t *testing.T) {
	readyDoc := store.DocumentRef{ID: "doc-ready", PatientID: "patient-1", UploadSeq: 1}
	errorDoc := store.DocumentRef{ID: "doc-error", PatientID: "patient-1", UploadSeq: 2}
	ms := newMemStore(readyDoc, errorDoc)
	emb := keywordEmbedder{term: "headache"}

	// doc-error carries stale chunk rows from a prior successful index,
	// then was reset to ERROR.
	ms.status["doc-ready"] = store.IndexStatus{DocumentID: "doc-ready", Status: store.StatusReady}
	ms.status["doc-error"] = store.IndexStatus{DocumentID: "doc-error", Status: store.StatusError, ErrorMessage: "reset"}
	ms.chunks["doc-ready"] = []store.ChunkRecord{{DocumentID: "doc-ready", Page: 1, Index: 0, Text: "mild headache noted", Vector: []float32{1, 0}}}
	ms.chunks["doc-error"] = []store.ChunkRecord{{DocumentID: "doc-error", Page: 1, Index: 0, Text: "severe headache history", Vector: []float32{1, 0}}}

	svc := retrieval.New(ms, emb, nil, quietLogger(), nil)
	hits, err := svc.ForPatient(context.Background(), "patient-1", "headache", 10)
	if err != nil {
		t.Fatalf("ForPatient: %v", err)
	}
	for _, h := range hits {
		if h.DocumentID == "doc-error" {
			t.Fatal("non-READY document leaked into retrieval results")
		}
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
}

func TestScannedDocumentWithDeadOCRYieldsNoHits(t *testing.T) {
	ref := store.DocumentRef{ID: "doc-scan", PatientID: "patient-1", UploadSeq: 1}
	ms := newMemStore(ref)
	emb := keywordEmbedder{term: "headache"}

	ix := indexer.New(indexer.Deps{
		Store:    ms,
		Blobs:    memBlobs{"doc-scan": []byte("%PDF image only")},
		Embedder: emb,
		OCR:      stubOCR{err: errors.New("ocr engine unavailable: exit status 2")},
		Extract:  func([]byte) ([]string, error) { return []string{""}, nil },
		Logger:   quietLogger(),
	}, indexer.Config{})

	if err := ix.EnsureIndexedDocument(context.Background(), "doc-scan"); err == nil {
		t.Fatal("expected OCR failure")
	}
	st, _, _ := ms.ReadStatus(context.Background(), "doc-scan")
	if st.Status != store.StatusError || !strings.Contains(strings.ToLower(st.ErrorMessage), "ocr") {
		t.Fatalf("status = %+v, want ERROR mentioning OCR", st)
	}

	svc := retrieval.New(ms, emb, nil, quietLogger(), nil)
	hits, err := svc.ForDocument(context.Background(), "doc-scan", "headache", 5)
	if err != nil {
		t.Fatalf("ForDocument: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("hits = %d, want 0 for ERROR document", len(hits))
	}
}

type failingEmbedder struct{}

func (failingEmbedder) Dimensions() int { return 2 }
func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("model down")
}
func (failingEmbedder) EmbedMany(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model down")
}

func TestQueryEmbeddingFailureSurfaces(t *testing.T) {
	ms := newMemStore()
	svc := retrieval.New(ms, failingEmbedder{}, nil, quietLogger(), nil)
	_, err := svc.ForPatient(context.Background(), "patient-1", "headache", 5)
	if err == nil || !strings.Contains(err.Error(), "embed query") {
		t.Fatalf("expected embed query failure, got %v", err)
	}
}
