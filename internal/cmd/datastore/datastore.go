// Package datastore holds the database flags shared by every command and
// opens the configured archive store.
package datastore

import (
	"context"
	"fmt"
	"strings"

	"github.com/chirino/chat-archive/internal/config"
	storemetrics "github.com/chirino/chat-archive/internal/plugin/store/metrics"
	"github.com/chirino/chat-archive/internal/plugin/store/timeout"
	registrystore "github.com/chirino/chat-archive/internal/registry/store"
	"github.com/urfave/cli/v3"

	// Import store plugins to trigger init() registration.
	_ "github.com/chirino/chat-archive/internal/plugin/store/mongo"
	_ "github.com/chirino/chat-archive/internal/plugin/store/sqlstore"
)

// EnvPrefix prefixes every environment variable of the service.
const EnvPrefix = "CHAT_ARCHIVE_"

// EnvVar returns the environment variable bound to a flag name.
func EnvVar(flag string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// Flags returns the database flags writing into cfg. A non-empty prefix
// namespaces them, e.g. "to-" for the target of a copy.
func Flags(cfg *config.Config, prefix string) []cli.Flag {
	category := "Database:"
	if prefix != "" {
		category = "Database (" + strings.TrimSuffix(prefix, "-") + "):"
	}
	name := func(n string) string { return prefix + n }
	return []cli.Flag{
		&cli.StringFlag{
			Name:        name("db-kind"),
			Category:    category,
			Sources:     cli.EnvVars(EnvVar(name("db-kind"))),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        name("db-url"),
			Category:    category,
			Sources:     cli.EnvVars(EnvVar(name("db-url"))),
			Destination: &cfg.DBURL,
			Value:       cfg.DBURL,
			Usage:       "Database connection URL (a file path for sqlite)",
		},
		&cli.StringFlag{
			Name:        name("db-name"),
			Category:    category,
			Sources:     cli.EnvVars(EnvVar(name("db-name"))),
			Destination: &cfg.DBName,
			Value:       cfg.DBName,
			Usage:       "Mongo database holding one collection per conversation",
		},
		&cli.IntFlag{
			Name:        name("db-max-open-conns"),
			Category:    category,
			Sources:     cli.EnvVars(EnvVar(name("db-max-open-conns"))),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        name("db-max-idle-conns"),
			Category:    category,
			Sources:     cli.EnvVars(EnvVar(name("db-max-idle-conns"))),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},
		&cli.DurationFlag{
			Name:        name("store-timeout"),
			Category:    category,
			Sources:     cli.EnvVars(EnvVar(name("store-timeout"))),
			Destination: &cfg.StoreTimeout,
			Value:       cfg.StoreTimeout,
			Usage:       "Upper bound for a single store operation (0 disables)",
		},
		&cli.BoolFlag{
			Name:        name("db-migrate-at-start"),
			Category:    category,
			Sources:     cli.EnvVars(EnvVar(name("db-migrate-at-start"))),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Create tables and indexes on startup",
		},
	}
}

// Open selects the configured store and decorates it with metrics and the
// per-operation timeout.
func Open(ctx context.Context, cfg *config.Config) (registrystore.ArchiveStore, error) {
	loader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := loader(config.WithContext(ctx, cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s store: %w", cfg.DatastoreType, err)
	}
	return timeout.Wrap(storemetrics.Wrap(store), cfg.StoreTimeout), nil
}
