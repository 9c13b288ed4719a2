package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-archive/internal/cmd/backfill"
	"github.com/chirino/chat-archive/internal/cmd/migrate"
	"github.com/chirino/chat-archive/internal/cmd/serve"
	"github.com/chirino/chat-archive/internal/cmd/transfer"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "chat-archive",
		Usage: "Archive and search exported chat conversations",
		Commands: []*cli.Command{
			serve.Command(),
			migrate.Command(),
			backfill.Command(),
			transfer.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
