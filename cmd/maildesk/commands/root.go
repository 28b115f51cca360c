// Package commands defines all Cobra CLI commands for the maildesk binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/maildesk/maildesk-go/internal/audit"
	"github.com/maildesk/maildesk-go/internal/config"
	"github.com/maildesk/maildesk-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "maildesk",
		Short: "Maildesk — support mailbox to service-ticket pipeline",
		Long: `Maildesk polls a support mailbox, extracts a structured service request
from every letter with a few-shot LLM prompt, drafts an answer grounded in the
technical-manual corpus, and stores the result as a ticket. Questions that
were answered before resolve from a similarity cache without a new generation
call.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.maildesk/config.yaml).
See 'maildesk --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.maildesk/config.yaml)")

	root.AddCommand(
		NewRunCmd(),
		NewServeCmd(),
		NewProcessCmd(),
		NewIngestCmd(),
		NewSeedCmd(),
		NewVersionCmd(),
	)

	return root
}
