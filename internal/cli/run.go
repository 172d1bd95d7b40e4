package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bidstack/marketsync/internal/engine"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync engine until interrupted",
		Long: `Start the sync engine as a long-running process: an immediate full
cycle, then recurring upload cycles on the configured interval and full
cycles whenever connectivity returns.

Example:
  marketsync run --db ./marketsync.db
  MARKETSYNC_REMOTE_URL=https://api.example.com marketsync run`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(rootOpts, cmd)
		},
	}
	return cmd
}

func runDaemon(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	a, err := openApp(opts, formatter)
	if err != nil {
		return err
	}
	// Cleanup closes the store; no separate a.close here.

	if err := a.engine.Init(); err != nil {
		_ = a.close()
		return WrapExitError(ExitCommandError, "failed to start engine", err)
	}

	unsubscribe := a.engine.OnStatusChange(func(s engine.Status) {
		slog.Info("cycle completed",
			"cycle", s.LastCycle,
			"records", s.Stats.TotalRecords,
			"dirty", s.Stats.DirtyRecords,
			"pending", s.Stats.PendingActions,
			"errors", len(s.Errors))
	})
	defer unsubscribe()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	slog.Info("engine running",
		"db", a.cfg.Store.Path,
		"interval", a.cfg.Sync.Interval,
		"remote", a.cfg.Remote.BaseURL)

	if _, err := a.engine.ForceSync(ctx); err != nil {
		slog.Warn("initial sync failed", "err", err)
	}

	select {
	case sig := <-sigChan:
		slog.Info("received signal, shutting down", "signal", sig)
	case <-ctx.Done():
	}

	if err := a.engine.Cleanup(); err != nil {
		return WrapExitError(ExitCommandError, "shutdown failed", err)
	}
	slog.Info("engine stopped")
	return nil
}
