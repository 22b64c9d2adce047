// Package cmd wires configuration and services into the askdocs CLI.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/askdocs/askdocs/engine/document"
	"github.com/askdocs/askdocs/engine/infra/server"
	"github.com/askdocs/askdocs/engine/knowledge/answer"
	"github.com/askdocs/askdocs/engine/knowledge/chunk"
	"github.com/askdocs/askdocs/engine/knowledge/embedder"
	"github.com/askdocs/askdocs/engine/knowledge/indexer"
	"github.com/askdocs/askdocs/engine/knowledge/retriever"
	"github.com/askdocs/askdocs/engine/knowledge/vectordb"
	"github.com/askdocs/askdocs/pkg/config"
	"github.com/askdocs/askdocs/pkg/logger"
)

// RootCmd builds the askdocs command tree.
func RootCmd() *cobra.Command {
	var logLevel string
	var logJSON bool
	root := &cobra.Command{
		Use:          "askdocs",
		Short:        "Document question answering over your own files",
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Init(&logger.Config{
				Level: logger.LogLevel(logLevel),
				JSON:  logJSON,
			})
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON")
	root.AddCommand(serveCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			return runServer(cmd.Context(), cfg)
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config) error {
	log := logger.FromContext(ctx)
	ctx = logger.ContextWithLogger(ctx, log)

	emb, err := embedder.New(ctx, &embedder.Config{
		Provider:  embedder.Provider(cfg.Embedder.Provider),
		Model:     cfg.Embedder.Model,
		APIKey:    cfg.Embedder.APIKey,
		Dimension: cfg.Embedder.Dimension,
		BatchSize: cfg.Embedder.BatchSize,
		Timeout:   cfg.Embedder.Timeout,
	})
	if err != nil {
		return err
	}
	store, err := vectordb.New(&vectordb.Config{
		Provider:   vectordb.ProviderQdrant,
		URL:        cfg.Qdrant.URL,
		APIKey:     cfg.Qdrant.APIKey,
		Collection: cfg.Qdrant.Collection,
		Dimension:  cfg.Embedder.Dimension,
		Metric:     vectordb.MetricCosine,
		Timeout:    cfg.Qdrant.Timeout,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	idx, err := indexer.New(emb, store, indexer.RetryConfig{
		Attempts:  cfg.Retry.Attempts,
		BaseDelay: cfg.Retry.BaseBackoff,
		MaxDelay:  cfg.Retry.MaxBackoff,
	})
	if err != nil {
		return err
	}
	chunker, err := chunk.NewProcessor(chunk.Settings{
		Size:              cfg.Chunking.Size,
		Overlap:           cfg.Chunking.Overlap,
		NormalizeNewlines: true,
	})
	if err != nil {
		return err
	}
	manager, err := document.New(document.Config{
		Dir:          cfg.Documents.Dir,
		MaxDocuments: cfg.Documents.MaxCount,
	}, chunker, idx, store)
	if err != nil {
		return err
	}
	ret, err := retriever.New(emb, store, retriever.Config{
		TopK:             cfg.Retrieval.TopK,
		MinScore:         cfg.Retrieval.MinScore,
		MaxContextTokens: cfg.Retrieval.MaxContextTokens,
		RetryAttempts:    cfg.Retry.Attempts,
		RetryBaseDelay:   cfg.Retry.BaseBackoff,
		RetryMaxDelay:    cfg.Retry.MaxBackoff,
	})
	if err != nil {
		return err
	}
	synth, err := answer.New(ctx, &answer.Config{
		Provider:    answer.Provider(cfg.LLM.Provider),
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		return err
	}

	// A failed sync leaves queries running against whatever the store
	// already holds; documents retry on the next rebuild.
	if err := manager.Sync(ctx); err != nil {
		log.Warn("startup sync failed, continuing with existing index", "error", err)
	}

	srv, err := server.New(server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		CORSEnabled:     len(cfg.Server.CORSOrigins) > 0,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, server.Deps{
		Manager:     manager,
		Retriever:   ret,
		Synthesizer: synth,
	}, log)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
