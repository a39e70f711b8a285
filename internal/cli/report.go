package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/stepsplit/internal/ir"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Database string
	Contract string
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report <start> <end>",
		Short: "Show exclusive steps per contract per block",
		Long: `Aggregate the stored exclusive steps of the inclusive block range
[start, end] per block and contract, with each block's total alongside.

Examples:
  stepsplit report 630000 630099
  stepsplit report --contract 0x49d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7 630000 630099`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, args[0], args[1], cmd)
		},
	}

	addDatabaseFlag(cmd, &opts.Database)
	cmd.Flags().StringVar(&opts.Contract, "contract", "", "only show this contract address")

	return cmd
}

func runReport(opts *ReportOptions, startArg, endArg string, cmd *cobra.Command) error {
	r, err := parseBlockRange(startArg, endArg)
	if err != nil {
		return err
	}

	st, closeStore, err := openStore(opts.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	steps, err := st.StepsPerContract(ctx, r)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read steps per contract", err)
	}
	steps = filterContract(steps, opts.Contract)

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return formatter.Success(steps)
	}
	outputReportText(cmd.OutOrStdout(), r, steps)
	return nil
}

// filterContract keeps the rows of one contract. Addresses compare in
// normalized form; an empty contract keeps everything.
func filterContract(steps []ir.ContractSteps, contract string) []ir.ContractSteps {
	if contract == "" {
		return steps
	}
	want := ir.NormalizeAddress(contract)
	out := []ir.ContractSteps{}
	for _, cs := range steps {
		if ir.NormalizeAddress(cs.Contract) == want {
			out = append(out, cs)
		}
	}
	return out
}

func outputReportText(w io.Writer, r ir.BlockRange, steps []ir.ContractSteps) {
	if len(steps) == 0 {
		fmt.Fprintf(w, "No steps recorded for %s.\n", rangeLabel(r))
		return
	}

	rows := make([][]string, len(steps))
	contracts := make(map[string]bool)
	for i, cs := range steps {
		contracts[cs.Contract] = true
		rows[i] = []string{
			strconv.FormatInt(cs.BlockNumber, 10),
			cs.Contract,
			formatCount(cs.Steps),
			formatCount(cs.StepsPerBlock),
		}
	}

	fmt.Fprintf(w, "Steps per contract, %s\n", rangeLabel(r))
	renderTable(w, []string{"BLOCK", "CONTRACT", "STEPS", "BLOCK TOTAL"}, rows, 2, 3)
	fmt.Fprintf(w, "%s row(s), %s contract(s)\n", formatCount(len(steps)), formatCount(len(contracts)))
}
