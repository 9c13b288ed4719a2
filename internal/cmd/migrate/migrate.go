package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-archive/internal/cmd/datastore"
	"github.com/chirino/chat-archive/internal/config"
	registrymigrate "github.com/chirino/chat-archive/internal/registry/migrate"
	"github.com/urfave/cli/v3"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the archive tables and indexes",
		Flags: datastore.Flags(&cfg, ""),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			// RunAll skips unless asked to run.
			cfg.DatastoreMigrateAtStart = true
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...", "db", cfg.DatastoreType)
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
