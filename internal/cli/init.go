package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/smartview/internal/config"
	"github.com/roach88/smartview/internal/store"
)

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the database",
		Long: `Write the default configuration to --config (or ./smartview.toml) and
create the SQLite database it names.

Example:
  smartview init --config ./smartview.toml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}

			path := rootOpts.Config
			if path == "" {
				path = DefaultConfigPath
			}
			if err := config.CreateConfigFile(path); err != nil {
				_ = out.Error(ErrCodeWriteFailed, err.Error(), nil)
				return WrapExitError(ExitCommandError, "failed to write config", err)
			}

			cfg, err := config.LoadConfig(path)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			if rootOpts.Database != "" {
				cfg.Database.Path = rootOpts.Database
			}
			st, err := store.Open(cfg.Database.Path)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to create database", err)
			}
			if err := st.Close(); err != nil {
				return WrapExitError(ExitCommandError, "failed to close database", err)
			}

			if out.Format == "json" {
				return out.Success(map[string]string{"config": path, "database": cfg.Database.Path})
			}
			fmt.Fprintf(out.Writer, "✓ wrote %s\n✓ database ready at %s\n", path, cfg.Database.Path)
			return nil
		},
	}
}
