package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/maildesk/maildesk-go/internal/ingestion"
	"github.com/maildesk/maildesk-go/internal/logging"
)

// NewIngestCmd constructs the `maildesk ingest` command, which loads manual
// files or pages into the document index the answer generator retrieves from.
func NewIngestCmd() *cobra.Command {
	var urls []string
	var chunkSize int
	var chunkOverlap int

	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Ingest technical manuals into the document index",
		Long: `Chunk and index technical-manual content so the pipeline can ground its
answers in it. Positional arguments are local text/markdown files; --url adds
HTTP(S) pages (HTML is reduced to plain text).

Re-ingesting the same source overwrites its previous chunks: chunk IDs derive
from the source path and chunk position.

Required environment variables:
  QDRANT_HOST               Qdrant server hostname (default: localhost)
  QDRANT_PORT               Qdrant gRPC port (default: 6334)
  QDRANT_DOCS_COLLECTION    Collection name (default: maildesk-docs)
  MODEL_PROVIDER            Embedding backend: ollama, openai, azure (default: ollama)
  EMBEDDING_*               Provider-specific overrides (see README)

Examples:
  maildesk ingest manuals/dgs200.md manuals/vektor-m.txt
  maildesk ingest --url https://docs.example.com/dgs200/errors`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			sources := append(append([]string{}, args...), urls...)
			if len(sources) == 0 {
				return fmt.Errorf("ingest: at least one file argument or --url is required")
			}

			emb, err := buildEmbedder(log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			docs, err := buildDocsIndex(ctx, emb)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer docs.Close()

			p, err := ingestion.NewPipeline(docs, &ingestion.Config{
				ChunkSize:    chunkSize,
				ChunkOverlap: chunkOverlap,
			})
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			log.Info("starting ingestion", slog.Int("sources", len(sources)))
			if err := p.Ingest(ctx, sources, func(msg string) {
				log.Info(msg)
			}); err != nil {
				return fmt.Errorf("ingest: pipeline failed: %w", err)
			}
			log.Info("ingestion complete", slog.Int("sources", len(sources)))
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&urls, "url", "u", nil, "Manual page URL to ingest (repeatable)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Maximum chunk size in bytes (default: 2000)")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", 0, "Overlap between chunks in bytes (default: 200)")

	return cmd
}
