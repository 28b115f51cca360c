package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/maildesk/maildesk-go/internal/extract"
	"github.com/maildesk/maildesk-go/internal/logging"
	"github.com/maildesk/maildesk-go/internal/pipeline"
	"github.com/maildesk/maildesk-go/internal/poller"
	"github.com/maildesk/maildesk-go/internal/provider"
	"github.com/maildesk/maildesk-go/internal/server"
	"github.com/maildesk/maildesk-go/internal/tracing"
)

// NewRunCmd constructs the `maildesk run` command: the full daemon. It polls
// the mailbox on the configured interval and serves the ticket API from the
// same process, the way the service runs in production.
func NewRunCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the mail-processing daemon and ticket API",
		Long: `Run the maildesk daemon: poll the support mailbox, turn each unseen letter
into a ticket with an LLM-drafted answer, and serve the ticket HTTP API.

The poll interval, misfire grace, similarity threshold, and retrieval depth
are configured via env vars or the YAML config file:
  POLL_INTERVAL_MINUTES   mailbox poll interval (default: 1)
  MISFIRE_GRACE_SECONDS   late-fire tolerance (default: 60)
  BATCH_LIMIT             messages fetched per poll (default: 10)
  SIMILARITY_THRESHOLD    answer-cache hit threshold (default: 0.98)
  RAG_TOP_K               manual chunks retrieved per question (default: 3)

Examples:
  maildesk run
  maildesk run --port 9090
  MODEL_PROVIDER=openai maildesk run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("run starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Langfuse tracing is opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			}

			providerCfg := provider.ConfigFromEnv()
			chatModel, err := provider.New(ctx, providerCfg)
			if err != nil {
				return fmt.Errorf("run: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", string(providerCfg.Backend)))

			emb, err := buildEmbedder(log)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			docs, err := buildDocsIndex(ctx, emb)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			defer docs.Close()
			history, err := buildHistoryIndex(ctx, emb)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			defer history.Close()

			tickets, err := openTicketStore(log)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			defer tickets.Close()

			extractor, err := extract.NewExtractor(chatModel,
				getEnvOrDefault("EXAMPLES_PATH", "examples.json"),
				time.Duration(getEnvInt("EXTRACT_TIMEOUT_SECONDS", 0))*time.Second)
			if err != nil {
				return fmt.Errorf("run: failed to build extractor: %w", err)
			}

			answerer, err := buildAnswerer(chatModel, docs, history)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}

			registry := prometheus.NewRegistry()
			coordinator, err := pipeline.NewCoordinator(extractor, answerer, tickets,
				pipeline.NewMetrics(registry))
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}

			fetcher, err := buildFetcher()
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}

			p, err := poller.New(fetcher, coordinator, poller.Config{
				Interval:   time.Duration(getEnvInt("POLL_INTERVAL_MINUTES", 0)) * time.Minute,
				Grace:      time.Duration(getEnvInt("MISFIRE_GRACE_SECONDS", 0)) * time.Second,
				BatchLimit: getEnvInt("BATCH_LIMIT", 0),
			})
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}

			sender, err := buildSender(log)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}

			srv, err := server.New(tickets, sender, &server.Config{
				Host:   host,
				Port:   port,
				Logger: log,
				Pingers: []server.Pinger{
					server.NamedPinger("sqlite", tickets.Ping),
					server.NamedPinger("qdrant-docs", docs.Ping),
					server.NamedPinger("qdrant-history", history.Ping),
				},
				APIKey:   os.Getenv("MAILDESK_API_KEY"),
				Registry: registry,
			})
			if err != nil {
				return fmt.Errorf("run: failed to create server: %w", err)
			}

			go p.Run(ctx)

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8000, "TCP port to listen on")

	return cmd
}
