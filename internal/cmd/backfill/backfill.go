package backfill

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-archive/internal/cmd/datastore"
	"github.com/chirino/chat-archive/internal/config"
	"github.com/chirino/chat-archive/internal/service"
	"github.com/urfave/cli/v3"
)

// Command returns the backfill sub-command, a single sanitized-content pass
// over every conversation.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "backfill",
		Usage: "Fill in missing sanitized content for search",
		Flags: append(datastore.Flags(&cfg, ""),
			&cli.IntFlag{
				Name:        "batch-size",
				Sources:     cli.EnvVars(datastore.EnvVar("backfill-batch-size")),
				Destination: &cfg.BackfillBatchSize,
				Value:       cfg.BackfillBatchSize,
				Usage:       "Messages updated per store round trip",
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cfg.BackfillBatchSize < 1 {
				return fmt.Errorf("batch size must be at least 1, got %d", cfg.BackfillBatchSize)
			}
			store, err := datastore.Open(ctx, &cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(context.WithoutCancel(ctx)); err != nil {
					log.Warn("Closing store failed", "err", err)
				}
			}()

			n, err := service.NewSanitizeBackfill(store, cfg.BackfillBatchSize, 0).RunOnce(ctx)
			log.Info("Backfill finished", "updated", n)
			return err
		},
	}
}
