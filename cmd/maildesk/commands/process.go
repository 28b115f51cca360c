package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/maildesk/maildesk-go/internal/extract"
	"github.com/maildesk/maildesk-go/internal/logging"
	"github.com/maildesk/maildesk-go/internal/pipeline"
	"github.com/maildesk/maildesk-go/internal/poller"
	"github.com/maildesk/maildesk-go/internal/provider"
	"github.com/maildesk/maildesk-go/internal/tracing"
)

// NewProcessCmd constructs the `maildesk process` command, which runs exactly
// one fetch-and-process cycle and exits. Intended for debugging and cron-style
// deployments where the interval trigger lives outside the process.
func NewProcessCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Fetch one batch of unseen mail and process it, then exit",
		Long: `Run a single processing cycle: fetch up to --limit unseen messages from the
support mailbox, extract a ticket from each, answer from the cache or the
manual corpus, and persist the results.

Examples:
  maildesk process
  maildesk process --limit 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
			}

			providerCfg := provider.ConfigFromEnv()
			chatModel, err := provider.New(ctx, providerCfg)
			if err != nil {
				return fmt.Errorf("process: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", string(providerCfg.Backend)))

			emb, err := buildEmbedder(log)
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}
			docs, err := buildDocsIndex(ctx, emb)
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}
			defer docs.Close()
			history, err := buildHistoryIndex(ctx, emb)
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}
			defer history.Close()

			tickets, err := openTicketStore(log)
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}
			defer tickets.Close()

			extractor, err := extract.NewExtractor(chatModel,
				getEnvOrDefault("EXAMPLES_PATH", "examples.json"),
				time.Duration(getEnvInt("EXTRACT_TIMEOUT_SECONDS", 0))*time.Second)
			if err != nil {
				return fmt.Errorf("process: failed to build extractor: %w", err)
			}

			answerer, err := buildAnswerer(chatModel, docs, history)
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}

			coordinator, err := pipeline.NewCoordinator(extractor, answerer, tickets,
				pipeline.NewMetrics(prometheus.NewRegistry()))
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}

			fetcher, err := buildFetcher()
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}

			p, err := poller.New(fetcher, coordinator, poller.Config{
				BatchLimit: limit,
			})
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}

			p.RunOnce(ctx)
			log.Info("process cycle complete", slog.String("mailbox", os.Getenv("IMAP_EMAIL")))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "Maximum number of messages to fetch")

	return cmd
}
