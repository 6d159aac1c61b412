package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/roach88/smartview/internal/config"
	"github.com/roach88/smartview/internal/engine"
	"github.com/roach88/smartview/internal/library"
	"github.com/roach88/smartview/internal/store"
)

// DefaultConfigPath is read when --config is not given and the file exists.
const DefaultConfigPath = "smartview.toml"

// env is everything a database-backed command needs.
type env struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.Store
	controller *engine.Controller
	library    *library.Library
	registry   *prometheus.Registry
	out        *OutputFormatter
}

// loadConfig resolves the effective configuration from the global flags.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	path := opts.Config
	if path == "" {
		if _, err := os.Stat(DefaultConfigPath); err == nil {
			path = DefaultConfigPath
		}
	}

	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadConfig(path); err != nil {
			return nil, err
		}
	}
	if opts.Database != "" {
		cfg.Database.Path = opts.Database
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// openEnv opens the store and loads every smart playlist. The caller must
// Close the env.
func openEnv(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*env, error) {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger, err := config.NewLogger(cmd.ErrOrStderr(), cfg.Log.Level)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create logger", err)
	}

	logger.Debug("opening database", "path", cfg.Database.Path)
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	registry := prometheus.NewRegistry()
	engineOpts := append(cfg.EngineOptions(),
		engine.WithLogger(logger),
		engine.WithSizeResolver(engine.NewFileSizeResolver(afero.NewOsFs(), cfg.Library.MediaRoot)),
		engine.WithMetrics(engine.NewMetrics(registry)),
	)
	c, err := engine.New(st, engineOpts...)
	if err != nil {
		_ = st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create controller", err)
	}
	if err := c.Load(ctx); err != nil {
		c.Close()
		_ = st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load smart playlists", err)
	}

	return &env{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		controller: c,
		library:    library.New(st, c, logger),
		registry:   registry,
		out:        out,
	}, nil
}

// flush brings every view up to date before a command returns.
func (e *env) flush(ctx context.Context) error {
	if err := e.controller.Flush(ctx); err != nil {
		return e.out.Fail("flush", err)
	}
	return nil
}

// Close stops the controller and closes the store.
func (e *env) Close() error {
	e.controller.Close()
	if err := e.store.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withEnv runs fn against a freshly opened env.
func withEnv(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, e *env) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := openEnv(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := e.Close(); closeErr != nil {
			e.logger.Error("error closing environment", "error", closeErr)
		}
	}()

	return fn(ctx, e)
}
