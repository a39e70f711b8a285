package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/stepsplit/internal/config"
	"github.com/roach88/stepsplit/internal/ir"
	"github.com/roach88/stepsplit/internal/pipeline"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigFile    string
	Database      string
	Increment     int64
	Workers       int
	RetryAttempts int
	FailureDir    string
	TopLevelDepth int
	FailOnAnomaly bool
	Traversal     string
	MetricsFile   string

	// RunIDs allows overriding the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs pipeline.RunIDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <start> <end>",
		Short: "Compute exclusive steps for a block range",
		Long: `Run the batch pipeline over the inclusive block range [start, end].

The range is processed in increments. For each increment the stored traces
are read, sorted into call-tree order, turned into exclusive steps and
written to the cairo_steps table. A failed increment is recorded and
skipped; if any failed, a cairo_script_failed_blocks_<start>_<end> file is
written to the failure directory.

Settings come from the optional --config file; flags override it.

Exit codes:
  0 - Every range committed
  1 - One or more ranges failed
  2 - Command error (bad arguments, invalid config, database errors)

Examples:
  stepsplit run 630000 631000
  stepsplit run --config stepsplit.yaml --workers 4 630000 631000
  stepsplit run --failure-dir ./failed --format json 630000 630999`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "path to YAML config file")
	addDatabaseFlag(cmd, &opts.Database)
	cmd.Flags().Int64Var(&opts.Increment, "increment", pipeline.DefaultIncrement, "blocks per range")
	cmd.Flags().IntVar(&opts.Workers, "workers", pipeline.DefaultWorkers, "ranges processed concurrently")
	cmd.Flags().IntVar(&opts.RetryAttempts, "retry-attempts", int(pipeline.DefaultRetryAttempts), "attempts per read or write")
	cmd.Flags().StringVar(&opts.FailureDir, "failure-dir", "", "directory for the failed blocks file (empty disables it)")
	cmd.Flags().IntVar(&opts.TopLevelDepth, "top-level-depth", pipeline.DefaultTopLevelDepth, "path depth of transaction-level calls")
	cmd.Flags().BoolVar(&opts.FailOnAnomaly, "fail-on-anomaly", false, "fail ranges with negative exclusive steps")
	cmd.Flags().StringVar(&opts.Traversal, "traversal", "iterative", "tree traversal (iterative|recursive)")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")

	return cmd
}

// loadRunConfig reads the config file, if any, and applies changed flags on
// top. The merged result is validated again so flags obey the same schema.
func loadRunConfig(opts *RunOptions, cmd *cobra.Command) (*config.File, error) {
	file := &config.File{}
	if opts.ConfigFile != "" {
		loaded, err := config.Load(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		file = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("db") || file.Database == "" {
		file.Database = opts.Database
	}
	if flags.Changed("increment") {
		file.Increment = &opts.Increment
	}
	if flags.Changed("workers") {
		file.Workers = &opts.Workers
	}
	if flags.Changed("retry-attempts") {
		file.RetryAttempts = &opts.RetryAttempts
	}
	if flags.Changed("failure-dir") {
		file.FailureDir = opts.FailureDir
	}
	if flags.Changed("top-level-depth") {
		file.TopLevelDepth = &opts.TopLevelDepth
	}
	if flags.Changed("fail-on-anomaly") {
		file.FailOnAnomaly = &opts.FailOnAnomaly
	}
	if flags.Changed("traversal") {
		file.Traversal = opts.Traversal
	}
	if flags.Changed("metrics-file") {
		file.MetricsFile = opts.MetricsFile
	}

	if err := file.Validate(); err != nil {
		return nil, err
	}
	return file, nil
}

func runPipeline(opts *RunOptions, startArg, endArg string, cmd *cobra.Command) error {
	total, err := parseBlockRange(startArg, endArg)
	if err != nil {
		return err
	}

	file, err := loadRunConfig(opts, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	cfg, err := file.Pipeline()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	logger.Info("opening database", "path", file.DatabasePath())
	st, closeStore, err := openStore(file.DatabasePath())
	if err != nil {
		return err
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	pipeOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(pipeline.NewMetrics(registry)),
	}
	if opts.RunIDs != nil {
		pipeOpts = append(pipeOpts, pipeline.WithRunIDGenerator(opts.RunIDs))
	}
	p := pipeline.New(st, st, cfg, pipeOpts...)

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, runErr := p.Run(ctx, total)
	if report == nil {
		return WrapExitError(ExitCommandError, "run failed", runErr)
	}

	if file.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(file.MetricsFile, registry); err != nil {
			logger.Error("metrics not written", "path", file.MetricsFile, "error", err)
		}
	}

	if opts.Format == "json" {
		if err := outputRunJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		outputRunText(cmd.OutOrStdout(), report)
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			return WrapExitError(ExitFailure, "run interrupted", runErr)
		}
		return WrapExitError(ExitFailure, "run failed", runErr)
	}
	if !report.OK() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d range(s) failed", len(report.Failed)))
	}
	return nil
}

func outputRunJSON(w io.Writer, report *pipeline.Report) error {
	resp := CLIResponse{Status: "ok", Data: report, RunID: report.RunID}
	if !report.OK() {
		resp.Status = "error"
		resp.Error = &CLIError{
			Code:    "E_RANGE_FAILED",
			Message: fmt.Sprintf("%d range(s) failed", len(report.Failed)),
		}
	}
	formatter := &OutputFormatter{Format: "json", Writer: w}
	return formatter.JSON(resp)
}

func outputRunText(w io.Writer, report *pipeline.Report) {
	fmt.Fprintf(w, "Run %s: %s\n", report.RunID, rangeLabel(report.Range))
	fmt.Fprintf(w, "  Committed: %d range(s), %s rows\n", len(report.Batches), formatCount(report.Rows))
	if report.Anomalies > 0 {
		fmt.Fprintf(w, "  Anomalies: %s\n", formatCount(report.Anomalies))
	}
	if report.Orphans > 0 {
		fmt.Fprintf(w, "  Orphans:   %s\n", formatCount(report.Orphans))
	}

	if report.OK() {
		fmt.Fprintln(w, "✓ All ranges committed")
		return
	}

	fmt.Fprintf(w, "  Failed:    %d range(s)\n", len(report.Failed))
	for _, f := range report.Failed {
		fmt.Fprintf(w, "    ✗ %s %s: %s\n", f.Range, f.Stage, f.Reason)
	}
	if report.FailureFile != "" {
		fmt.Fprintf(w, "  Failure file: %s\n", report.FailureFile)
	}
}

// rangeLabel renders r for summaries.
func rangeLabel(r ir.BlockRange) string {
	if r.Start == r.End {
		return fmt.Sprintf("block %d", r.Start)
	}
	return fmt.Sprintf("blocks %d-%d", r.Start, r.End)
}
