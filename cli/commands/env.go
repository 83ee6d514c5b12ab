package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tempohq/tempo"
	"github.com/tempohq/tempo/app"
	"github.com/tempohq/tempo/cli/config"
	"github.com/tempohq/tempo/cli/styles"
)

// loadConfig reads the config named by --config, or the nearest tempo.yaml
// above the working directory, and applies .env and TEMPO_* overrides.
// A relative sqlite path is resolved against the config's directory.
func (g *globals) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		dir string
		err error
	)
	if g.configPath != "" {
		cfg, err = config.LoadFile(g.configPath)
		dir = filepath.Dir(g.configPath)
	} else {
		var cwd string
		if cwd, err = os.Getwd(); err != nil {
			return nil, err
		}
		dir, cfg, err = config.FindConfig(cwd)
	}
	if err != nil {
		return nil, fmt.Errorf("no %s found (run 'tempo init'): %w", config.ConfigFileName, err)
	}

	if err := config.ApplyEnv(cfg, dir); err != nil {
		return nil, err
	}
	if cfg.Database.Driver == config.DriverSQLite {
		if url := cfg.DatabaseURL(); url != "" && !filepath.IsAbs(url) {
			cfg.Database.URL = filepath.Join(dir, url)
		}
	}
	return cfg, nil
}

// openApp loads the config and wires an App. Logs go to the command's stderr.
func (g *globals) openApp(cmd *cobra.Command) (*app.App, func(), error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, nil, err
	}

	a, err := app.New(ctx(cmd), cfg, app.WithLogOutput(cmd.ErrOrStderr()))
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.Driver == config.DriverMemory {
		fmt.Fprintln(cmd.ErrOrStderr(), styles.FormatWarning("memory driver: nothing is kept after this command"))
	}
	return a, func() { _ = a.Close() }, nil
}

// commandBase carries the acting user into a command.
func (g *globals) commandBase() (tempo.CommandBase, error) {
	if g.actor == "" {
		return tempo.CommandBase{}, fmt.Errorf("an actor is required: pass --actor or set TEMPO_ACTOR")
	}
	return tempo.CommandBase{ActorID: g.actor}, nil
}

// ctx returns the command context, which cobra leaves nil outside ExecuteContext.
func ctx(cmd *cobra.Command) context.Context {
	if c := cmd.Context(); c != nil {
		return c
	}
	return context.Background()
}
