package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maildesk/maildesk-go/internal/logging"
	"github.com/maildesk/maildesk-go/internal/server"
)

// NewServeCmd constructs the `maildesk serve` command, which starts the
// ticket HTTP API without the mail-processing loop. Useful when the pipeline
// runs on another host against the same database.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ticket HTTP API (no mail processing)",
		Long: `Start the ticket API server on its own: listing, filtering, CSV export,
status updates, manual ticket creation, and outbound mail.

Set MAILDESK_API_KEY to require Bearer authentication on the /api routes.
MAILDESK_DB overrides the ticket database path (~/.maildesk/tickets.db).

Examples:
  maildesk serve
  maildesk serve --port 9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			tickets, err := openTicketStore(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer tickets.Close()

			sender, err := buildSender(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			srv, err := server.New(tickets, sender, &server.Config{
				Host:   host,
				Port:   port,
				Logger: log,
				Pingers: []server.Pinger{
					server.NamedPinger("sqlite", tickets.Ping),
				},
				APIKey: os.Getenv("MAILDESK_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8000, "TCP port to listen on")

	return cmd
}
