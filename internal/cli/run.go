package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/smartview/internal/engine"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	MetricsAddr string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the controller and stream playlist notifications",
		Long: `Start the smart playlist controller.

The controller loads every smart playlist, then keeps them current:
time-dependent playlists are refreshed on the engine.time_refresh
schedule, and bursts of mutations are rate limited. Every notification is
written to stdout as one JSON object per line.

Example:
  smartview run --db ./smartview.db --metrics-addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runController(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides metrics.addr)")

	return cmd
}

func runController(opts *RunOptions, cmd *cobra.Command) error {
	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	e, err := openEnv(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := e.Close(); closeErr != nil {
			e.logger.Error("error closing environment", "error", closeErr)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			e.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	addr := opts.MetricsAddr
	if addr == "" {
		addr = e.cfg.Metrics.Addr
	}
	if addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           metricsMux(e),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			e.logger.Info("serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sub := e.controller.Subscribe()
	defer sub.Close()
	done := make(chan struct{})
	go func() {
		defer close(done)
		streamNotifications(ctx, sub, cmd, e)
	}()

	e.logger.Info("controller starting", "db", e.cfg.Database.Path, "playlists", len(e.controller.List()))
	err = e.controller.Run(ctx)
	sub.Close()
	<-done
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "controller error", err)
	}

	e.logger.Info("controller stopped gracefully")
	return nil
}

// metricsMux serves the controller's registry and a health check.
func metricsMux(e *env) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := e.store.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})
	return mux
}

// streamNotifications writes notifications as JSON lines until the
// subscription closes.
func streamNotifications(ctx context.Context, sub *engine.Subscription, cmd *cobra.Command, e *env) {
	enc := json.NewEncoder(cmd.OutOrStdout())
	for {
		n, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if err := enc.Encode(n); err != nil {
			e.logger.Warn("notification not written", "error", err)
		}
	}
}
