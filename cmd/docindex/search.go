package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/hakimapp/docindex/config"
	"github.com/hakimapp/docindex/internal/cache"
	"github.com/hakimapp/docindex/internal/retrieval"
	"github.com/hakimapp/docindex/internal/store"
)

func searchCMD() *cobra.Command {
	var cfgPath string
	var patientID string
	var documentID string
	var topK int

	var search = &cobra.Command{
		Use:   "search [query]",
		Short: "Run a nearest-neighbor retrieval query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if patientID == "" && documentID == "" {
				return fmt.Errorf("--patient or --document is required")
			}
			logger := log.New(os.Stdout, "[DOCINDEX] ", log.LstdFlags)
			ctx := cmd.Context()

			st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
			if err != nil {
				return err
			}
			defer st.DB.Close()

			var queryCache *cache.QueryCache
			if cfg.Storage.Redis.Enabled {
				client, err := cache.Conn(ctx,
					cfg.Storage.Redis.Host, cfg.Storage.Redis.Port,
					cfg.Storage.Redis.Password, cfg.Storage.Redis.DB,
					cfg.Storage.Redis.Timeout)
				if err != nil {
					return fmt.Errorf("redis: %w", err)
				}
				defer client.Close()
				queryCache = cache.New(client, cfg.Embedding.Model, cfg.Storage.Redis.CacheTTL, logger)
			}

			svc := retrieval.New(st, buildEmbedder(cfg), queryCache, logger, nil)

			var hits []store.ChunkHit
			if documentID != "" {
				hits, err = svc.ForDocument(ctx, documentID, args[0], topK)
			} else {
				hits, err = svc.ForPatient(ctx, patientID, args[0], topK)
			}
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				fmt.Println("no hits")
				return nil
			}
			for i, h := range hits {
				fmt.Printf("%2d. [%.4f] %s p.%d: %s\n", i+1, h.Distance, h.DocumentName, h.Page, snippet(h.Text, 120))
			}
			return nil
		},
	}
	search.Flags().StringVar(&patientID, "patient", "", "patient scope")
	search.Flags().StringVar(&documentID, "document", "", "single-document scope")
	search.Flags().IntVarP(&topK, "top", "k", 5, "number of hits")
	search.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return search
}

func snippet(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}
