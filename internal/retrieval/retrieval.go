// Package retrieval answers top-K similarity queries over indexed chunks,
// scoped to one document or one patient's corpus.
package retrieval

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/hakimapp/docindex/internal/cache"
	"github.com/hakimapp/docindex/internal/embedding"
	"github.com/hakimapp/docindex/internal/metrics"
	"github.com/hakimapp/docindex/internal/store"
)

// Store is the query surface the service needs.
type Store interface {
	NearestChunks(ctx context.Context, scope store.Scope, vector []float32, k int) ([]store.ChunkHit, error)
}

// Service embeds query strings and runs nearest-neighbor lookups. It never
// triggers indexing: a non-READY document simply contributes no hits, by
// construction of the READY filter in the store query.
type Service struct {
	store    Store
	embedder embedding.Embedder
	cache    *cache.QueryCache
	logger   *log.Logger
	metrics  *metrics.Metrics
}

// New builds a retrieval service. queryCache, logger and m are optional.
func New(st Store, embedder embedding.Embedder, queryCache *cache.QueryCache, logger *log.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = log.New(os.Stdout, "[RETRIEVAL] ", log.LstdFlags)
	}
	return &Service{store: st, embedder: embedder, cache: queryCache, logger: logger, metrics: m}
}

// ForDocument returns the top-k chunks of one document for the query.
func (s *Service) ForDocument(ctx context.Context, documentID, query string, k int) ([]store.ChunkHit, error) {
	return s.retrieve(ctx, store.DocumentScope(documentID), query, k)
}

// ForPatient returns the top-k chunks across a patient's corpus.
func (s *Service) ForPatient(ctx context.Context, patientID, query string, k int) ([]store.ChunkHit, error) {
	return s.retrieve(ctx, store.PatientScope(patientID), query, k)
}

func (s *Service) retrieve(ctx context.Context, scope store.Scope, query string, k int) ([]store.ChunkHit, error) {
	vec, err := s.queryVector(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := s.store.NearestChunks(ctx, scope, vec, k)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RetrievalQueries.Inc()
	}
	return hits, nil
}

func (s *Service) queryVector(ctx context.Context, query string) ([]float32, error) {
	if vec, ok := s.cache.Get(ctx, query); ok {
		return vec, nil
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	s.cache.Put(ctx, query, vec)
	return vec, nil
}
