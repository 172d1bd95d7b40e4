package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ResetOptions holds flags for the reset command.
type ResetOptions struct {
	*RootOptions
	Yes bool
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the local store and re-download from the remote",
		Long: `Clear every mirrored record, the sync metadata, and the offline
action queue, then repopulate the store with a download-only cycle.

Queued offline actions are discarded, so the command refuses to run
without --yes.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Yes, "yes", false, "confirm discarding local state")

	return cmd
}

func runReset(opts *ResetOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if !opts.Yes {
		return WrapExitError(ExitCommandError,
			"reset discards unsynced local changes; re-run with --yes to confirm", nil)
	}

	a, err := openApp(opts.RootOptions, formatter)
	if err != nil {
		return err
	}
	defer a.close()

	status, err := a.engine.ResetAndResync(cmd.Context())
	if err != nil {
		if outErr := formatter.Error(errorCode(err), err.Error(), status.Errors); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitSyncFailure, "reset failed", err)
	}

	if formatter.JSON() {
		return formatter.Success(status)
	}
	fmt.Fprint(formatter.Writer, renderStatus(status))
	return nil
}
