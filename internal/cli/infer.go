package cli

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stepsplit/internal/calltree"
	"github.com/roach88/stepsplit/internal/pipeline"
	"github.com/roach88/stepsplit/internal/tracepath"
)

// InferOptions holds flags for the infer command.
type InferOptions struct {
	*RootOptions
	Sort          bool
	TopLevelDepth int
	Traversal     string
}

// InferRecord is one call in the infer output.
type InferRecord struct {
	Key        string `json:"key"`
	Parent     string `json:"parent"`
	Cumulative int64  `json:"cumulative"`
	Exclusive  int64  `json:"exclusive"`
}

// InferResult holds the infer output.
type InferResult struct {
	Records   []InferRecord `json:"records"`
	Anomalies []string      `json:"anomalies"`
	Orphans   []string      `json:"orphans"`
	Total     int64         `json:"total"`
}

// NewInferCommand creates the infer command.
func NewInferCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InferOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "infer [file]",
		Short: "Compute exclusive steps for key,steps records",
		Long: `Build the call tree of a list of key,steps records and print the
exclusive steps of every call, in input order.

Records are read as CSV from file, or from stdin when file is omitted or
"-". A leading "key,steps" header is skipped and an empty steps cell counts
as 0. Input must already be sorted in path order unless --sort is given.

Examples:
  stepsplit infer traces.csv
  printf '10_7,100\n10_7_0,10\n' | stepsplit infer
  stepsplit infer --sort --format json traces.csv`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			return runInfer(opts, path, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Sort, "sort", false, "sort records into path order first")
	cmd.Flags().IntVar(&opts.TopLevelDepth, "top-level-depth", pipeline.DefaultTopLevelDepth, "path depth of transaction-level calls (0 disables orphan reporting)")
	cmd.Flags().StringVar(&opts.Traversal, "traversal", "iterative", "tree traversal (iterative|recursive)")

	return cmd
}

func runInfer(opts *InferOptions, path string, cmd *cobra.Command) error {
	traversal, err := calltree.ParseTraversal(opts.Traversal)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --traversal", err)
	}

	in := cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open input", err)
		}
		defer f.Close()
		in = f
	}

	records, err := ReadStepRecords(in)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read records", err)
	}
	if opts.Sort {
		tracepath.Sort(records)
	}

	result, err := Infer(records, calltree.Options{
		TopLevelDepth: opts.TopLevelDepth,
		Traversal:     traversal,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "inference failed", err)
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}
		return formatter.Success(result)
	}
	return outputInferText(cmd.OutOrStdout(), result)
}

// Infer runs the call tree over records and collects the output.
func Infer(records []tracepath.Record, opts calltree.Options) (*InferResult, error) {
	out, tree, err := calltree.Run(records, opts)
	if err != nil {
		return nil, err
	}

	result := &InferResult{
		Records:   make([]InferRecord, len(out)),
		Anomalies: []string{},
		Orphans:   []string{},
	}
	for i, rec := range out {
		parent, _ := tree.ParentOf(rec.Path)
		cumulative, _ := tree.Cumulative(rec.Path)
		result.Records[i] = InferRecord{
			Key:        rec.Key(),
			Parent:     parent.Key(),
			Cumulative: cumulative,
			Exclusive:  rec.Steps,
		}
		result.Total += rec.Steps
	}
	for _, a := range tree.Anomalies() {
		result.Anomalies = append(result.Anomalies, a.Path.Key())
	}
	for _, o := range tree.Orphans() {
		result.Orphans = append(result.Orphans, o.Path.Key())
	}
	return result, nil
}

// ReadStepRecords parses key,steps CSV lines into cumulative records.
func ReadStepRecords(r io.Reader) ([]tracepath.Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 2
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	records := []tracepath.Record{}
	for first := true; ; first = false {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		key, stepsField := strings.TrimSpace(fields[0]), strings.TrimSpace(fields[1])
		if first && strings.EqualFold(key, "key") && strings.EqualFold(stepsField, "steps") {
			continue
		}
		line, _ := reader.FieldPos(0)

		var steps int64
		if stepsField != "" {
			steps, err = strconv.ParseInt(stepsField, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid steps %q", line, fields[1])
			}
		}
		rec, err := tracepath.ParseRecord(key, steps)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func outputInferText(w io.Writer, result *InferResult) error {
	rows := make([][]string, len(result.Records))
	for i, rec := range result.Records {
		parent := rec.Parent
		if parent == "" {
			parent = "-"
		}
		rows[i] = []string{rec.Key, parent, formatCount(rec.Cumulative), formatCount(rec.Exclusive)}
	}
	renderPlainTable(w, []string{"KEY", "PARENT", "CUMULATIVE", "EXCLUSIVE"}, rows, 2, 3)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total: %s exclusive steps in %s call(s)\n", formatCount(result.Total), formatCount(len(result.Records)))
	if len(result.Anomalies) > 0 {
		fmt.Fprintf(w, "Anomalies (negative exclusive steps): %s\n", strings.Join(result.Anomalies, ", "))
	}
	if len(result.Orphans) > 0 {
		fmt.Fprintf(w, "Orphans (attached to root): %s\n", strings.Join(result.Orphans, ", "))
	}
	return nil
}
