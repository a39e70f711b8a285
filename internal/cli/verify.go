package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/stepsplit/internal/calltree"
	"github.com/roach88/stepsplit/internal/ir"
	"github.com/roach88/stepsplit/internal/pipeline"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Database      string
	TopLevelDepth int
}

// Mismatch is a call whose stored exclusive steps differ from a fresh
// computation. A nil side means the row is missing there.
type Mismatch struct {
	TraceID    string `json:"trace_id"`
	Stored     *int64 `json:"stored"`
	Recomputed *int64 `json:"recomputed"`
}

// VerifyResult holds the verify output.
type VerifyResult struct {
	Range      ir.BlockRange   `json:"range"`
	Checked    int             `json:"checked"`
	Mismatches []Mismatch      `json:"mismatches"`
	Blocks     []ir.BlockSteps `json:"blocks"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify <start> <end>",
		Short: "Check stored exclusive steps against the traces",
		Long: `Recompute exclusive steps for the inclusive block range [start, end]
from the stored traces and compare them with the stored cairo_steps rows.
Prints per-block totals; user steps leave out validation and fee-payment
calls.

Exit codes:
  0 - Stored rows match
  1 - Mismatched, missing or extra rows, or traces that do not form a tree
  2 - Command error

Example:
  stepsplit verify 630000 630099`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, args[0], args[1], cmd)
		},
	}

	addDatabaseFlag(cmd, &opts.Database)
	cmd.Flags().IntVar(&opts.TopLevelDepth, "top-level-depth", pipeline.DefaultTopLevelDepth, "path depth of transaction-level calls")

	return cmd
}

func runVerify(opts *VerifyOptions, startArg, endArg string, cmd *cobra.Command) error {
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

	traces, err := st.Traces(ctx, r)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read traces", err)
	}
	stored, err := st.CairoSteps(ctx, r)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read cairo steps", err)
	}

	mismatches, err := Verify(traces, stored, calltree.Options{TopLevelDepth: opts.TopLevelDepth})
	if err != nil {
		return WrapExitError(ExitFailure, "recompute failed", err)
	}

	blocks, err := st.BlockSteps(ctx, r)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read block totals", err)
	}

	result := VerifyResult{
		Range:      r,
		Checked:    len(traces),
		Mismatches: mismatches,
		Blocks:     blocks,
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if len(mismatches) > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    "E_MISMATCH",
				Message: fmt.Sprintf("%d row(s) do not match", len(mismatches)),
			}
		}
		if err := formatter.JSON(resp); err != nil {
			return err
		}
	} else {
		outputVerifyText(cmd.OutOrStdout(), result)
	}

	if len(mismatches) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d row(s) do not match", len(mismatches)))
	}
	return nil
}

// Verify recomputes exclusive steps from traces and returns every row that
// disagrees with stored, in trace order followed by extra stored rows.
func Verify(traces []ir.TraceRow, stored []ir.CairoStepsRow, opts calltree.Options) ([]Mismatch, error) {
	_, records, err := pipeline.Format(traces)
	if err != nil {
		return nil, err
	}
	out, _, err := calltree.Run(records, opts)
	if err != nil {
		return nil, err
	}

	have := make(map[string]int64, len(stored))
	for _, row := range stored {
		have[row.TraceID] = row.IndividualSteps
	}

	mismatches := []Mismatch{}
	seen := make(map[string]bool, len(out))
	for _, rec := range out {
		key := rec.Key()
		seen[key] = true
		got, ok := have[key]
		switch {
		case !ok:
			mismatches = append(mismatches, Mismatch{TraceID: key, Recomputed: ir.Int64(rec.Steps)})
		case got != rec.Steps:
			mismatches = append(mismatches, Mismatch{TraceID: key, Stored: ir.Int64(got), Recomputed: ir.Int64(rec.Steps)})
		}
	}
	for _, row := range stored {
		if !seen[row.TraceID] {
			mismatches = append(mismatches, Mismatch{TraceID: row.TraceID, Stored: ir.Int64(row.IndividualSteps)})
		}
	}
	return mismatches, nil
}

func outputVerifyText(w io.Writer, result VerifyResult) {
	fmt.Fprintf(w, "Verify %s: %s call(s) checked\n", rangeLabel(result.Range), formatCount(result.Checked))

	if len(result.Blocks) > 0 {
		rows := make([][]string, len(result.Blocks))
		for i, b := range result.Blocks {
			rows[i] = []string{
				strconv.FormatInt(b.BlockNumber, 10),
				formatCount(b.Calls),
				formatCount(b.TotalSteps),
				formatCount(b.UserSteps),
			}
		}
		renderTable(w, []string{"BLOCK", "CALLS", "TOTAL STEPS", "USER STEPS"}, rows, 1, 2, 3)
	}

	if len(result.Mismatches) == 0 {
		fmt.Fprintln(w, "✓ Stored steps match")
		return
	}
	fmt.Fprintf(w, "✗ %d row(s) do not match\n", len(result.Mismatches))
	for _, m := range result.Mismatches {
		fmt.Fprintf(w, "  %s: stored %s, recomputed %s\n", m.TraceID, optionalCount(m.Stored), optionalCount(m.Recomputed))
	}
}

func optionalCount(n *int64) string {
	if n == nil {
		return "missing"
	}
	return formatCount(*n)
}

