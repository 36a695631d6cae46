package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hakimapp/docindex/config"
	"github.com/hakimapp/docindex/internal/embedding"
	"github.com/hakimapp/docindex/internal/indexer"
	"github.com/hakimapp/docindex/internal/metrics"
	"github.com/hakimapp/docindex/internal/ocr"
	"github.com/hakimapp/docindex/internal/store"
)

// fileBlobs serves document bytes from local files registered by this run.
type fileBlobs map[string][]byte

func (b fileBlobs) DocumentBytes(_ context.Context, documentID string) ([]byte, error) {
	data, ok := b[documentID]
	if !ok {
		return nil, fmt.Errorf("no bytes for document %s", documentID)
	}
	return data, nil
}

func indexCMD() *cobra.Command {
	var cfgPath string
	var patientID string
	var documentID string

	var index = &cobra.Command{
		Use:   "index [pdf file]",
		Short: "Register a local PDF as a patient document and index it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if patientID == "" {
				return fmt.Errorf("--patient is required")
			}
			logger := log.New(os.Stdout, "[DOCINDEX] ", log.LstdFlags)

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if documentID == "" {
				documentID = uuid.NewString()
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.General.DefaultTimeout+5*time.Minute)
			defer cancel()

			st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
			if err != nil {
				return err
			}
			defer st.DB.Close()

			ref := store.DocumentRef{
				ID:          documentID,
				PatientID:   patientID,
				DisplayName: filepath.Base(args[0]),
				UploadSeq:   time.Now().UnixNano(),
			}
			if err := st.RegisterDocument(ctx, ref); err != nil {
				return err
			}

			ix := indexer.New(indexer.Deps{
				Store:    st,
				Blobs:    fileBlobs{documentID: data},
				Embedder: buildEmbedder(cfg),
				OCR: &ocr.Engine{
					Binary:    cfg.OCR.Binary,
					Languages: cfg.OCR.Languages,
					Timeout:   cfg.OCR.Timeout,
					Logger:    logger,
				},
				Logger:  logger,
				Metrics: metrics.New(),
			}, indexer.Config{
				ChunkSize:          cfg.Indexing.ChunkSize,
				ChunkOverlap:       cfg.Indexing.ChunkOverlap,
				ScanThresholdChars: cfg.Indexing.ScanThresholdChars,
				Timeout:            cfg.Embedding.Timeout,
			})

			if err := ix.EnsureIndexedDocument(ctx, documentID); err != nil {
				return err
			}
			fmt.Printf("indexed document %s for patient %s\n", documentID, patientID)
			return nil
		},
	}
	index.Flags().StringVar(&patientID, "patient", "", "owning patient id")
	index.Flags().StringVar(&documentID, "id", "", "document id (default: fresh uuid)")
	index.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return index
}

func buildEmbedder(cfg *config.Config) embedding.Embedder {
	return embedding.NewOpenAIClient(
		cfg.Embedding.APIKey,
		cfg.Embedding.BaseURL,
		cfg.Embedding.Model,
		cfg.Embedding.Dimensions,
		cfg.Embedding.Timeout,
	)
}
