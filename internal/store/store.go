package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// DefaultClaimStaleAfter bounds how long an INDEXING row blocks new claims.
// A process that crashes mid-index leaves its row INDEXING; once the row is
// older than this it is treated as abandoned and becomes claimable again.
const DefaultClaimStaleAfter = 15 * time.Minute

// Store wraps the Postgres connection used for index state, pages and
// chunk embeddings.
type Store struct {
	DB *sql.DB
	// ClaimStaleAfter overrides DefaultClaimStaleAfter when positive.
	ClaimStaleAfter time.Duration
}

// Status is the per-document indexing state. A document with no status row
// is implicitly NEW.
type Status string

const (
	StatusNew      Status = "NEW"
	StatusIndexing Status = "INDEXING"
	StatusReady    Status = "READY"
	StatusError    Status = "ERROR"
)

// DefaultEmbeddingDimensions indicates the expected length of vectors stored
// in the pgvector chunk column.
const DefaultEmbeddingDimensions = 1536

// Result-size clamps for nearest-neighbor queries.
const (
	MaxDocumentHits = 30
	MaxPatientHits  = 40
)

// IndexStatus is the single status row kept per document.
type IndexStatus struct {
	DocumentID   string
	PatientID    string
	Status       Status
	ErrorMessage string
	UpdatedAt    time.Time
}

// DocumentRef is the read model of a document owned by the upload subsystem.
// UploadSeq is the monotonic recency key.
type DocumentRef struct {
	ID          string
	PatientID   string
	DisplayName string
	UploadSeq   int64
}

// ChunkRecord is one embedded text span drawn from a page.
type ChunkRecord struct {
	DocumentID string
	PatientID  string
	Page       int
	Index      int
	Text       string
	Vector     []float32
}

// ChunkHit is a ranked nearest-neighbor result. Distance is ascending
// cosine distance.
type ChunkHit struct {
	DocumentID   string
	DocumentName string
	Page         int
	Index        int
	Text         string
	Distance     float64
}

// Scope restricts retrieval to one document or one patient's corpus.
type Scope struct {
	documentID string
	patientID  string
}

// DocumentScope restricts a query to a single document.
func DocumentScope(documentID string) Scope { return Scope{documentID: documentID} }

// PatientScope restricts a query to all of a patient's documents.
func PatientScope(patientID string) Scope { return Scope{patientID: patientID} }

// Matches reports whether a chunk owned by (documentID, patientID) falls
// inside the scope.
func (s Scope) Matches(documentID, patientID string) bool {
	if s.documentID != "" {
		return s.documentID == documentID
	}
	return s.patientID != "" && s.patientID == patientID
}

// Error marks a persistence failure so callers can tell store unavailability
// apart from per-document pipeline failures.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "store: " + e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// NewWithDSN opens and pings a Postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, wrap("open", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, wrap("ping", err)
	}
	return &Store{DB: db}, nil
}

// RegisterDocument records a document reference supplied by the upload
// subsystem. Existing rows are left untouched.
func (s *Store) RegisterDocument(ctx context.Context, ref DocumentRef) error {
	if ref.ID == "" || ref.PatientID == "" {
		return wrap("register document", fmt.Errorf("document id and patient id required"))
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO patient_documents (id, patient_id, display_name, upload_seq, created_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (id) DO NOTHING;
`, ref.ID, ref.PatientID, ref.DisplayName, ref.UploadSeq)
	return wrap("register document", err)
}

// Document returns the reference for one document, reporting whether it exists.
func (s *Store) Document(ctx context.Context, documentID string) (DocumentRef, bool, error) {
	var ref DocumentRef
	err := s.DB.QueryRowContext(ctx, `
SELECT id, patient_id, display_name, upload_seq FROM patient_documents WHERE id=$1
`, documentID).Scan(&ref.ID, &ref.PatientID, &ref.DisplayName, &ref.UploadSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return DocumentRef{}, false, nil
	}
	if err != nil {
		return DocumentRef{}, false, wrap("read document", err)
	}
	return ref, true, nil
}

// PatientDocuments lists a patient's documents most-recent-first. A positive
// limit bounds the result to the most recent documents.
func (s *Store) PatientDocuments(ctx context.Context, patientID string, limit int) ([]DocumentRef, error) {
	query := `
SELECT id, patient_id, display_name, upload_seq FROM patient_documents
WHERE patient_id=$1
ORDER BY upload_seq DESC`
	args := []interface{}{patientID}
	if limit > 0 {
		query += `
LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list patient documents", err)
	}
	defer rows.Close()
	var refs []DocumentRef
	for rows.Next() {
		var ref DocumentRef
		if err := rows.Scan(&ref.ID, &ref.PatientID, &ref.DisplayName, &ref.UploadSeq); err != nil {
			return nil, wrap("list patient documents", err)
		}
		refs = append(refs, ref)
	}
	return refs, wrap("list patient documents", rows.Err())
}

// UpsertStatus writes the single status row for a document.
func (s *Store) UpsertStatus(ctx context.Context, documentID, patientID string, status Status, errorMessage string) error {
	if documentID == "" {
		return wrap("upsert status", fmt.Errorf("document id required"))
	}
	var msg sql.NullString
	if errorMessage != "" {
		msg = sql.NullString{String: errorMessage, Valid: true}
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO document_index_status (document_id, patient_id, status, error_message, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (document_id) DO UPDATE SET
  patient_id = EXCLUDED.patient_id,
  status = EXCLUDED.status,
  error_message = EXCLUDED.error_message,
  updated_at = NOW();
`, documentID, patientID, string(status), msg)
	return wrap("upsert status", err)
}

// ReadStatus returns the status row for a document, reporting whether one
// exists. A missing row means the document has never been indexed.
func (s *Store) ReadStatus(ctx context.Context, documentID string) (IndexStatus, bool, error) {
	var (
		st  IndexStatus
		raw string
		msg sql.NullString
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT document_id, patient_id, status, error_message, updated_at
FROM document_index_status WHERE document_id=$1
`, documentID).Scan(&st.DocumentID, &st.PatientID, &raw, &msg, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return IndexStatus{}, false, nil
	}
	if err != nil {
		return IndexStatus{}, false, wrap("read status", err)
	}
	st.Status = Status(raw)
	st.ErrorMessage = msg.String
	return st, true, nil
}

// ClaimIndexing conditionally moves a document from NEW or ERROR (or no row)
// to INDEXING. An existing INDEXING row older than ClaimStaleAfter counts as
// abandoned and is reclaimed. It reports false when a live claimer holds the
// document or the document is already READY.
func (s *Store) ClaimIndexing(ctx context.Context, documentID, patientID string) (bool, error) {
	if documentID == "" {
		return false, wrap("claim indexing", fmt.Errorf("document id required"))
	}
	stale := s.ClaimStaleAfter
	if stale <= 0 {
		stale = DefaultClaimStaleAfter
	}
	var claimed string
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO document_index_status (document_id, patient_id, status, error_message, updated_at)
VALUES ($1,$2,'INDEXING',NULL,NOW())
ON CONFLICT (document_id) DO UPDATE SET
  status = 'INDEXING',
  error_message = NULL,
  updated_at = NOW()
WHERE document_index_status.status IN ('NEW','ERROR')
   OR (document_index_status.status = 'INDEXING'
       AND document_index_status.updated_at < NOW() - make_interval(secs => $3))
RETURNING document_id;
`, documentID, patientID, stale.Seconds()).Scan(&claimed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrap("claim indexing", err)
	}
	return true, nil
}

// ReplacePages atomically swaps the extracted page set for a document.
func (s *Store) ReplacePages(ctx context.Context, documentID, patientID string, pages []string) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return wrap("replace pages", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = wrap("replace pages", tx.Commit())
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM document_pages WHERE document_id=$1`, documentID); err != nil {
		return wrap("replace pages: delete", err)
	}
	if len(pages) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO document_pages (document_id, patient_id, page_number, text)
VALUES ($1,$2,$3,$4);
`)
	if err != nil {
		return wrap("replace pages: prepare", err)
	}
	defer stmt.Close()
	for i, text := range pages {
		if _, err = stmt.ExecContext(ctx, documentID, patientID, i+1, text); err != nil {
			return wrap("replace pages: insert", err)
		}
	}
	return nil
}

// ReplaceChunks atomically swaps the chunk/embedding set for a document.
func (s *Store) ReplaceChunks(ctx context.Context, documentID, patientID string, chunks []ChunkRecord) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return wrap("replace chunks", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = wrap("replace chunks", tx.Commit())
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id=$1`, documentID); err != nil {
		return wrap("replace chunks: delete", err)
	}
	if len(chunks) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO document_chunks (document_id, patient_id, page_number, chunk_index, text, embedding)
VALUES ($1,$2,$3,$4,$5,$6::vector);
`)
	if err != nil {
		return wrap("replace chunks: prepare", err)
	}
	defer stmt.Close()
	for _, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			return wrap("replace chunks", fmt.Errorf("empty chunk text at page %d index %d", c.Page, c.Index))
		}
		lit, encErr := encodeVectorLiteral(c.Vector)
		if encErr != nil {
			return wrap("replace chunks", encErr)
		}
		if _, err = stmt.ExecContext(ctx, documentID, patientID, c.Page, c.Index, c.Text, lit); err != nil {
			return wrap("replace chunks: insert", err)
		}
	}
	return nil
}

// NearestChunks returns the chunks closest to the query vector within the
// scope, ascending by cosine distance. Only chunks of READY documents are
// eligible. k is clamped per scope to bound response size.
func (s *Store) NearestChunks(ctx context.Context, scope Scope, vector []float32, k int) ([]ChunkHit, error) {
	if scope.documentID == "" && scope.patientID == "" {
		return nil, wrap("nearest chunks", fmt.Errorf("scope requires a document id or patient id"))
	}
	lit, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, wrap("nearest chunks", err)
	}

	maxHits := MaxPatientHits
	filter := `st.patient_id = $2`
	scopeID := scope.patientID
	if scope.documentID != "" {
		maxHits = MaxDocumentHits
		filter = `c.document_id = $2`
		scopeID = scope.documentID
	}
	if k <= 0 || k > maxHits {
		k = maxHits
	}

	query := fmt.Sprintf(`
SELECT c.document_id, d.display_name, c.page_number, c.chunk_index, c.text, c.embedding <=> $1::vector AS distance
FROM document_chunks c
JOIN document_index_status st ON st.document_id = c.document_id AND st.status = 'READY'
JOIN patient_documents d ON d.id = c.document_id
WHERE %s
ORDER BY c.embedding <=> $1::vector
LIMIT $3;
`, filter)

	rows, err := s.DB.QueryContext(ctx, query, lit, scopeID, k)
	if err != nil {
		return nil, wrap("nearest chunks", err)
	}
	defer rows.Close()

	var hits []ChunkHit
	for rows.Next() {
		var h ChunkHit
		if err := rows.Scan(&h.DocumentID, &h.DocumentName, &h.Page, &h.Index, &h.Text, &h.Distance); err != nil {
			return nil, wrap("nearest chunks", err)
		}
		hits = append(hits, h)
	}
	return hits, wrap("nearest chunks", rows.Err())
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}

func decodeVectorLiteral(lit string) ([]float32, error) {
	lit = strings.TrimSpace(lit)
	if lit == "" {
		return nil, fmt.Errorf("empty vector literal")
	}
	lit = strings.TrimPrefix(lit, "[")
	lit = strings.TrimSuffix(lit, "]")
	parts := strings.Split(lit, ",")
	vec := make([]float32, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		f, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector value %q: %w", value, err)
		}
		vec = append(vec, float32(f))
	}
	return vec, nil
}
