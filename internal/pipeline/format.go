package pipeline

import (
	"fmt"
	"slices"

	"github.com/roach88/stepsplit/internal/calltree"
	"github.com/roach88/stepsplit/internal/ir"
	"github.com/roach88/stepsplit/internal/tracepath"
)

// Format prepares source rows for the call tree. It parses every trace id,
// treats missing steps as 0 and returns the rows re-sorted into call-tree
// order together with their cumulative records, index for index.
//
// The sort is stable, so duplicate trace ids stay adjacent in source order
// and are rejected later by calltree.Build.
func Format(rows []ir.TraceRow) ([]ir.TraceRow, []tracepath.Record, error) {
	records, err := ir.Records(rows)
	if err != nil {
		return nil, nil, err
	}

	order := make([]int, len(rows))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return tracepath.Compare(records[a].Path, records[b].Path)
	})

	sortedRows := make([]ir.TraceRow, len(rows))
	sortedRecords := make([]tracepath.Record, len(rows))
	for i, j := range order {
		sortedRows[i] = rows[j]
		sortedRecords[i] = records[j]
	}
	return sortedRows, sortedRecords, nil
}

// Merge attaches exclusive steps to their rows. rows and exclusive must be
// aligned; Merge re-checks the alignment and refuses to merge otherwise.
func Merge(rows []ir.TraceRow, exclusive []tracepath.Record) ([]ir.CairoStepsRow, error) {
	want := make([]string, len(rows))
	for i, r := range rows {
		want[i] = r.TraceID
	}
	if err := calltree.CheckAlignment(want, tracepath.Keys(exclusive)); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}

	out := make([]ir.CairoStepsRow, len(rows))
	for i, r := range rows {
		out[i] = ir.CairoStepsRow{TraceRow: r, IndividualSteps: exclusive[i].Steps}
	}
	return out, nil
}
