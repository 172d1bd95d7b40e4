package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bidstack/marketsync/internal/domain"
	"github.com/bidstack/marketsync/internal/store"
)

// StatusReport is the JSON payload of the status command.
type StatusReport struct {
	Database string                 `json:"database"`
	Stats    store.Stats            `json:"stats"`
	Tables   []*store.TableMetadata `json:"tables"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show local store state and sync metadata",
		Long: `Show record counts, dirty-record counts, pending offline actions,
and the last sync bookkeeping per table. Reads the local database only;
never contacts the remote.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
	return cmd
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	a, err := openApp(opts, formatter)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	stats, err := a.store.StorageStats(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read storage stats", err)
	}

	report := StatusReport{Database: a.cfg.Store.Path, Stats: stats}
	for _, kind := range domain.DownloadOrder() {
		meta, err := a.store.GetMetadata(ctx, kind.Table())
		switch {
		case errors.Is(err, store.ErrNotFound):
			// No completed cycle yet for this table.
			meta = &store.TableMetadata{Table: kind.Table()}
		case err != nil:
			return WrapExitError(ExitCommandError, "failed to read sync metadata", err)
		}
		report.Tables = append(report.Tables, meta)
	}

	if formatter.JSON() {
		return formatter.Success(report)
	}

	fmt.Fprintf(formatter.Writer, "database:        %s\n", report.Database)
	fmt.Fprintf(formatter.Writer, "records:         %d (%d dirty)\n",
		stats.TotalRecords, stats.DirtyRecords)
	fmt.Fprintf(formatter.Writer, "pending actions: %d (%d dead-lettered)\n\n",
		stats.PendingActions, stats.DeadLetteredActions)

	fmt.Fprintf(formatter.Writer, "%-10s %8s %6s  %s\n", "TABLE", "RECORDS", "DIRTY", "LAST SYNC")
	for _, meta := range report.Tables {
		lastSync := "never"
		if meta.LastSyncTimestamp != nil {
			lastSync = meta.LastSyncTimestamp.Format(time.RFC3339)
		}
		dirty := "no"
		if meta.Dirty {
			dirty = "yes"
		}
		fmt.Fprintf(formatter.Writer, "%-10s %8d %6s  %s\n",
			meta.Table, meta.RecordCount, dirty, lastSync)
	}
	return nil
}
