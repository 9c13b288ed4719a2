package transfer

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-archive/internal/cmd/datastore"
	"github.com/chirino/chat-archive/internal/config"
	registrymigrate "github.com/chirino/chat-archive/internal/registry/migrate"
	"github.com/chirino/chat-archive/internal/service"
	"github.com/urfave/cli/v3"
)

// Command returns the copy sub-command. It copies conversations from one
// store to another, optionally dropping the source afterwards.
func Command() *cli.Command {
	source := config.DefaultConfig()
	target := config.DefaultConfig()
	var move bool
	var concurrency int = 4
	flags := append(datastore.Flags(&source, ""), datastore.Flags(&target, "to-")...)
	flags = append(flags,
		&cli.BoolFlag{
			Name:        "move",
			Destination: &move,
			Usage:       "Drop each conversation from the source once it is copied",
		},
		&cli.IntFlag{
			Name:        "concurrency",
			Destination: &concurrency,
			Value:       concurrency,
			Usage:       "Conversations copied in parallel",
		},
	)
	return &cli.Command{
		Name:      "copy",
		Usage:     "Copy conversations between stores",
		ArgsUsage: "[conversation...]",
		Flags:     flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			// Only the target is migrated; the source must already exist.
			if target.DatastoreMigrateAtStart {
				if err := registrymigrate.RunAll(config.WithContext(ctx, &target)); err != nil {
					return fmt.Errorf("target: %w", err)
				}
			}

			from, err := datastore.Open(ctx, &source)
			if err != nil {
				return fmt.Errorf("source: %w", err)
			}
			defer closeStore(ctx, "source", from.Close)
			to, err := datastore.Open(ctx, &target)
			if err != nil {
				return fmt.Errorf("target: %w", err)
			}
			defer closeStore(ctx, "target", to.Close)

			names := cmd.Args().Slice()
			result, err := service.NewTransfer(from, to, concurrency).Copy(ctx, names, move)
			if err != nil {
				return err
			}
			log.Info("Copy finished",
				"copied", len(result.Copied),
				"skipped", strings.Join(result.Skipped, ","),
				"failed", strings.Join(result.Failed, ","),
			)
			if len(result.Failed) > 0 {
				return fmt.Errorf("%d conversation(s) failed to copy", len(result.Failed))
			}
			return nil
		},
	}
}

func closeStore(ctx context.Context, which string, closeFn func(context.Context) error) {
	if err := closeFn(context.WithoutCancel(ctx)); err != nil {
		log.Warn("Closing store failed", "store", which, "err", err)
	}
}
