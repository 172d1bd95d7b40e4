package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bidstack/marketsync/internal/engine"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Direction string
	BatchSize int
	Timeout   time.Duration
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle",
		Long: `Run a single synchronization cycle against the configured remote:
download authoritative records, upload locally modified ones, and replay
actions queued while offline.

Example:
  marketsync sync --db ./marketsync.db
  marketsync sync --direction upload --batch-size 10`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Direction, "direction", "bidirectional",
		"sync direction (bidirectional|download|upload)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "upload batch cap (0 uses the plan)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "per-request timeout (0 uses config)")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	direction, err := engine.ParseDirection(opts.Direction)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid direction", err)
	}

	a, err := openApp(opts.RootOptions, formatter)
	if err != nil {
		return err
	}
	defer a.close()

	formatter.Verbosef("syncing %s (db=%s)", opts.Direction, a.cfg.Store.Path)

	status, err := a.engine.SyncAll(cmd.Context(), engine.Options{
		Direction: direction,
		BatchSize: opts.BatchSize,
		Timeout:   opts.Timeout,
	})
	if err != nil {
		if outErr := formatter.Error(errorCode(err), err.Error(), status.Errors); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitSyncFailure, "sync aborted", err)
	}

	if formatter.JSON() {
		if err := formatter.Success(status); err != nil {
			return err
		}
	} else {
		fmt.Fprint(formatter.Writer, renderStatus(status))
	}

	if len(status.Errors) > 0 {
		return WrapExitError(ExitSyncFailure,
			fmt.Sprintf("cycle completed with %d error(s)", len(status.Errors)), nil)
	}
	return nil
}

func errorCode(err error) string {
	var se *engine.SyncError
	if errors.As(err, &se) {
		return string(se.Code)
	}
	return "SYNC"
}

// renderStatus formats a status snapshot for humans.
func renderStatus(s engine.Status) string {
	var b strings.Builder

	state := color.GreenString("idle")
	if s.Active {
		state = color.YellowString("syncing")
	}
	fmt.Fprintf(&b, "state:           %s\n", state)

	if s.LastSyncTime != nil {
		fmt.Fprintf(&b, "last sync:       %s (cycle %d)\n",
			s.LastSyncTime.Format(time.RFC3339), s.LastCycle)
	} else {
		fmt.Fprintf(&b, "last sync:       %s\n", color.YellowString("never"))
	}

	fmt.Fprintf(&b, "records:         %d (%d dirty)\n", s.Stats.TotalRecords, s.Stats.DirtyRecords)
	fmt.Fprintf(&b, "pending actions: %d", s.Stats.PendingActions)
	if s.Stats.DeadLetteredActions > 0 {
		fmt.Fprintf(&b, " (%s)", color.RedString("%d dead-lettered", s.Stats.DeadLetteredActions))
	}
	b.WriteByte('\n')

	if len(s.Errors) > 0 {
		fmt.Fprintf(&b, "errors:          %s\n", color.RedString("%d", len(s.Errors)))
		for _, e := range s.Errors {
			fmt.Fprintf(&b, "  - %s\n", e.Error())
		}
	}

	return b.String()
}
