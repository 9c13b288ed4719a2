package migrate

import (
	"context"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-archive/internal/config"
)

// Migrator prepares the schema of one datastore kind.
type Migrator interface {
	Name() string
	Migrate(ctx context.Context, cfg *config.Config) error
}

// Plugin binds a migrator to the datastore it prepares. Plugins with lower
// Order run first.
type Plugin struct {
	Order     int
	Datastore string
	Migrator  Migrator
}

var plugins []Plugin

// Register adds a migration plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Pending returns the plugins RunAll would execute for cfg, in run order.
func Pending(cfg *config.Config) []Plugin {
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	var out []Plugin
	for _, p := range plugins {
		if p.Datastore == cfg.DatastoreType {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// RunAll migrates the datastore configured in ctx. Nothing runs unless
// DatastoreMigrateAtStart is set.
func RunAll(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	for _, p := range Pending(cfg) {
		log.Info("Running migration", "name", p.Migrator.Name())
		if err := p.Migrator.Migrate(ctx, cfg); err != nil {
			return fmt.Errorf("migration %s failed: %w", p.Migrator.Name(), err)
		}
	}
	return nil
}
