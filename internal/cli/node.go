package cli

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Daironode/aingle-sub000/internal/config"
	"github.com/Daironode/aingle-sub000/internal/store"
)

// NodeOptions are the flags shared by commands that open the node's store.
// Set flags override the config file.
type NodeOptions struct {
	*RootOptions
	Database string
}

func (o *NodeOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Database, "db", "", "path to SQLite database (overrides config)")
}

// loadConfig reads the config file and applies flag overrides.
func (o *NodeOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}
	return cfg, nil
}

// openStore opens the configured database, creating it if needed.
func openStore(cfg config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// setupLogging installs the default slog handler. --verbose wins over the
// configured level.
func setupLogging(w io.Writer, verbose bool, cfg config.Config) *slog.Logger {
	level := cfg.Level()
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
