package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bidstack/marketsync/internal/plan"
)

// PlanReport is the JSON payload of plan validate.
type PlanReport struct {
	Valid     bool     `json:"valid"`
	Kinds     []string `json:"kinds,omitempty"`
	BatchSize int      `json:"batch_size,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// NewPlanCommand creates the plan command group.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Inspect and validate sync plans",
	}
	cmd.AddCommand(newPlanValidateCommand(rootOpts))
	return cmd
}

func newPlanValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan.cue>",
		Short: "Validate a CUE sync plan",
		Long: `Validate a sync plan against the plan schema: known entity kinds in
dependency order, a positive batch size, and a sane retry policy.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlanValidate(rootOpts, args[0], cmd)
		},
	}
}

func runPlanValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	p, err := plan.Load(path)
	if err != nil {
		report := PlanReport{Valid: false, Error: err.Error()}
		if formatter.JSON() {
			if outErr := formatter.Success(report); outErr != nil {
				return outErr
			}
		} else {
			fmt.Fprintf(formatter.Writer, "%s %s\n", color.RedString("invalid:"), err)
		}
		return WrapExitError(ExitSyncFailure, "plan validation failed", err)
	}

	kinds := make([]string, 0, len(p.Kinds))
	for _, k := range p.Kinds {
		kinds = append(kinds, string(k))
	}
	report := PlanReport{Valid: true, Kinds: kinds, BatchSize: p.BatchSize}

	if formatter.JSON() {
		return formatter.Success(report)
	}
	fmt.Fprintf(formatter.Writer, "%s kinds=%v batch=%d retry=%d/%s..%s\n",
		color.GreenString("valid:"), kinds, p.BatchSize,
		p.Retry.MaxRetries, p.Retry.BackoffBase, p.Retry.BackoffCap)
	return nil
}
