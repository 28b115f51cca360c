package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/maildesk/maildesk-go/internal/ingestion"
	"github.com/maildesk/maildesk-go/internal/logging"
)

// NewSeedCmd constructs the `maildesk seed` command, which loads curated
// question/answer pairs into the history index so the answer cache is useful
// from day one.
func NewSeedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the answer cache with curated question/answer pairs",
		Long: `Load a JSON file of curated Q/A pairs into the history index. Seeded entries
behave exactly like cached pipeline answers: a sufficiently similar incoming
question reuses the stored answer without a generation call.

The file is a JSON array of objects:
  [{"question": "...", "answer": "...", "message_id": "manual_seed_001"}, ...]

message_id is optional; missing values get a positional manual_seed_NNN id.
Re-seeding the same message_id updates the entry in place.

Examples:
  maildesk seed --file seed_history.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			entries, err := ingestion.LoadSeedFile(file)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			if len(entries) == 0 {
				log.Warn("seed file contains no entries", slog.String("file", file))
				return nil
			}

			emb, err := buildEmbedder(log)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}

			history, err := buildHistoryIndex(ctx, emb)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			defer history.Close()

			if err := ingestion.Seed(ctx, history, entries); err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			log.Info("history seeded", slog.Int("entries", len(entries)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "seed_history.json", "Path to the JSON seed file")

	return cmd
}
