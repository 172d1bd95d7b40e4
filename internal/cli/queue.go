package cli

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bidstack/marketsync/internal/domain"
)

// QueueOptions holds flags for the queue command.
type QueueOptions struct {
	*RootOptions
	Dead bool
}

// NewQueueCommand creates the queue command.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List queued offline actions",
		Long: `List offline actions waiting for replay, in the order the next
cycle will attempt them. With --dead, list actions whose retry budget is
exhausted instead.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueue(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Dead, "dead", false, "list dead-lettered actions instead of pending ones")

	return cmd
}

func runQueue(opts *QueueOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	a, err := openApp(opts.RootOptions, formatter)
	if err != nil {
		return err
	}
	defer a.close()

	var (
		actions []*domain.Action
		listErr error
	)
	if opts.Dead {
		actions, listErr = a.store.ListDeadLetters(cmd.Context())
	} else {
		actions, listErr = a.store.ListPendingActions(cmd.Context())
	}
	if listErr != nil {
		return WrapExitError(ExitCommandError, "failed to list actions", listErr)
	}

	if formatter.JSON() {
		return formatter.Success(actions)
	}

	if len(actions) == 0 {
		if opts.Dead {
			fmt.Fprintln(formatter.Writer, "no dead-lettered actions")
		} else {
			fmt.Fprintln(formatter.Writer, "queue is empty")
		}
		return nil
	}

	fmt.Fprintf(formatter.Writer, "%-36s %-8s %-8s %-7s  %s\n",
		"ID", "ACTION", "ENTITY", "RETRIES", "CREATED")
	for _, action := range actions {
		retries := fmt.Sprintf("%d/%d", action.RetryCount, action.MaxRetries)
		if action.DeadLettered {
			retries = color.RedString(retries)
		}
		fmt.Fprintf(formatter.Writer, "%-36s %-8s %-8s %-7s  %s\n",
			action.ID, action.Kind, action.Entity, retries,
			action.CreatedAt.Format(time.RFC3339))
	}
	return nil
}
