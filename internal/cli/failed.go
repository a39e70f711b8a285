package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/stepsplit/internal/ir"
	"github.com/roach88/stepsplit/internal/pipeline"
)

// FailedOptions holds flags for the failed command.
type FailedOptions struct {
	*RootOptions
	Database string
	RunID    string
	File     string
}

// NewFailedCommand creates the failed command.
func NewFailedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FailedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "failed",
		Short: "List block ranges a run could not process",
		Long: `List the failed block ranges of a run, either from the database
(--run) with the stage and reason of each failure, or from a
cairo_script_failed_blocks file (--file).

Examples:
  stepsplit failed --run 0192f4c4-9a8e-7c3b-8f00-2d5e1a7b3c10
  stepsplit failed --file ./failed/cairo_script_failed_blocks_630000_631000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFailed(opts, cmd)
		},
	}

	addDatabaseFlag(cmd, &opts.Database)
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to list failures for")
	cmd.Flags().StringVar(&opts.File, "file", "", "failed blocks file to read")
	cmd.MarkFlagsOneRequired("run", "file")
	cmd.MarkFlagsMutuallyExclusive("run", "file")

	return cmd
}

func runFailed(opts *FailedOptions, cmd *cobra.Command) error {
	var failures []ir.FailedRange

	if opts.File != "" {
		ranges, err := pipeline.ReadFailureFile(opts.File)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read failure file", err)
		}
		failures = make([]ir.FailedRange, len(ranges))
		for i, r := range ranges {
			failures[i] = ir.FailedRange{Range: r}
		}
	} else {
		st, closeStore, err := openStore(opts.Database)
		if err != nil {
			return err
		}
		defer closeStore()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		failures, err = st.FailedRanges(ctx, opts.RunID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read failed ranges", err)
		}
	}
	if failures == nil {
		failures = []ir.FailedRange{}
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return formatter.Success(failures)
	}
	outputFailedText(cmd.OutOrStdout(), failures, opts.File == "")
	return nil
}

func outputFailedText(w io.Writer, failures []ir.FailedRange, detailed bool) {
	if len(failures) == 0 {
		fmt.Fprintln(w, "No failed ranges.")
		return
	}

	var blocks int64
	rows := make([][]string, len(failures))
	for i, f := range failures {
		blocks += f.Range.Len()
		if detailed {
			rows[i] = []string{f.Range.String(), f.Stage, f.Reason}
		} else {
			rows[i] = []string{f.Range.String()}
		}
	}

	if detailed {
		renderTable(w, []string{"RANGE", "STAGE", "REASON"}, rows)
	} else {
		renderTable(w, []string{"RANGE"}, rows)
	}
	fmt.Fprintf(w, "%d range(s), %s block(s)\n", len(failures), formatCount(blocks))
}
