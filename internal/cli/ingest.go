package cli

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stepsplit/internal/ir"
	"github.com/roach88/stepsplit/internal/tracepath"
)

// traceColumns is the header of a trace export, in order.
var traceColumns = []string{
	"BLOCK_NUMBER", "TRACE_ID", "TX_HASH", "TRACE_TYPE",
	"CALLER", "CONTRACT", "FUNCTION", "STEPS",
}

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Database string
}

// IngestResult summarizes an ingest.
type IngestResult struct {
	Rows   int           `json:"rows"`
	Blocks ir.BlockRange `json:"blocks"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest <csv>",
		Short: "Load a trace export into the database",
		Long: `Load a CSV trace export into the traces table.

The file must start with the header
  BLOCK_NUMBER,TRACE_ID,TX_HASH,TRACE_TYPE,CALLER,CONTRACT,FUNCTION,STEPS
STEPS may be empty. Addresses are normalized on the way in. Rows whose
trace id already exists replace the stored row.

Example:
  stepsplit ingest --db ./stepsplit.db ./traces_630000.csv`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, args[0], cmd)
		},
	}

	addDatabaseFlag(cmd, &opts.Database)

	return cmd
}

func runIngest(opts *IngestOptions, path string, cmd *cobra.Command) error {
	f, err := os.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open trace file", err)
	}
	defer f.Close()

	rows, err := ReadTraceCSV(f)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read trace file", err)
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
	if err := st.WriteTraces(ctx, rows); err != nil {
		return WrapExitError(ExitFailure, "failed to store traces", err)
	}

	result := IngestResult{Rows: len(rows)}
	for i, r := range rows {
		if i == 0 || r.BlockNumber < result.Blocks.Start {
			result.Blocks.Start = r.BlockNumber
		}
		if i == 0 || r.BlockNumber > result.Blocks.End {
			result.Blocks.End = r.BlockNumber
		}
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	if result.Rows == 0 {
		return formatter.Success("No rows ingested.")
	}
	return formatter.Success(fmt.Sprintf("Ingested %s rows (blocks %d-%d)",
		formatCount(result.Rows), result.Blocks.Start, result.Blocks.End))
}

// ReadTraceCSV parses a trace export. The header is matched
// case-insensitively. Trace ids are validated, addresses normalized and an
// empty STEPS cell becomes a nil count.
func ReadTraceCSV(r io.Reader) ([]ir.TraceRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(traceColumns)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("missing header")
	}
	if err != nil {
		return nil, err
	}
	for i, col := range traceColumns {
		if !strings.EqualFold(strings.TrimSpace(header[i]), col) {
			return nil, fmt.Errorf("column %d: expected %s, got %q", i+1, col, header[i])
		}
	}

	rows := []ir.TraceRow{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := reader.FieldPos(0)

		row, err := parseTraceRecord(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseTraceRecord(record []string) (ir.TraceRow, error) {
	block, err := strconv.ParseInt(strings.TrimSpace(record[0]), 10, 64)
	if err != nil {
		return ir.TraceRow{}, fmt.Errorf("invalid block number %q", record[0])
	}

	traceID := strings.TrimSpace(record[1])
	if _, err := tracepath.Parse(traceID); err != nil {
		return ir.TraceRow{}, err
	}

	row := ir.TraceRow{
		BlockNumber: block,
		TraceID:     traceID,
		TxHash:      ir.NormalizeAddress(record[2]),
		TraceType:   strings.TrimSpace(record[3]),
		Caller:      ir.NormalizeAddress(record[4]),
		Contract:    ir.NormalizeAddress(record[5]),
		Function:    strings.TrimSpace(record[6]),
	}

	if s := strings.TrimSpace(record[7]); s != "" {
		steps, err := strconv.ParseInt(s, 10, 64)
		if err != nil || steps < 0 {
			return ir.TraceRow{}, fmt.Errorf("invalid steps %q", record[7])
		}
		row.Steps = ir.Int64(steps)
	}
	return row, nil
}
