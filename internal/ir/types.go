package ir

import (
	"fmt"

	"github.com/roach88/stepsplit/internal/tracepath"
)

// TraceRow is one internal call as exported by the trace source.
// Steps is cumulative: it includes every nested call.
type TraceRow struct {
	BlockNumber int64  `json:"block_number"`
	TraceID     string `json:"trace_id"` // {block}_{tx}_{call}_... path key
	TxHash      string `json:"tx_hash"`
	TraceType   string `json:"trace_type"`
	Caller      string `json:"caller"`
	Contract    string `json:"contract"`
	Function    string `json:"function"`
	Steps       *int64 `json:"steps"` // nil when the source has no count
}

// StepsOrZero returns the cumulative steps, treating a missing count as 0.
func (r TraceRow) StepsOrZero() int64 {
	if r.Steps == nil {
		return 0
	}
	return *r.Steps
}

// Int64 returns a pointer to v. Handy for literal TraceRows.
func Int64(v int64) *int64 {
	return &v
}

// CairoStepsRow is a TraceRow with the call's own (exclusive) steps attached.
type CairoStepsRow struct {
	TraceRow
	IndividualSteps int64 `json:"individual_steps"`
}

// BlockRange is an inclusive range of block numbers.
type BlockRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Len returns the number of blocks in the range.
func (r BlockRange) Len() int64 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// Contains reports whether block falls inside the range.
func (r BlockRange) Contains(block int64) bool {
	return block >= r.Start && block <= r.End
}

// String renders the range as "[start-end]", the form used in failure files.
func (r BlockRange) String() string {
	return fmt.Sprintf("[%d-%d]", r.Start, r.End)
}

// Split cuts r into consecutive ranges of at most size blocks.
// Returns nil for an empty range or a non-positive size.
func (r BlockRange) Split(size int64) []BlockRange {
	if size <= 0 || r.Len() == 0 {
		return nil
	}
	out := make([]BlockRange, 0, (r.Len()+size-1)/size)
	for start := r.Start; start <= r.End; start += size {
		out = append(out, BlockRange{Start: start, End: min(r.End, start+size-1)})
	}
	return out
}

// Stage names where a block range failed.
const (
	StageRead   = "read"
	StageFormat = "format"
	StageInfer  = "infer"
	StageAlign  = "align"
	StageWrite  = "write"
)

// FailedRange records a block range the pipeline could not process.
type FailedRange struct {
	RunID  string     `json:"run_id"`
	Range  BlockRange `json:"range"`
	Stage  string     `json:"stage"`
	Reason string     `json:"reason"`
}

// Batch records a committed block range.
type Batch struct {
	RunID         string     `json:"run_id"`
	Range         BlockRange `json:"range"`
	Rows          int        `json:"rows"`
	Digest        string     `json:"digest"`
	Anomalies     int        `json:"anomalies"`
	Orphans       int        `json:"orphans"`
	EngineVersion string     `json:"engine_version"`
}

// ContractSteps aggregates exclusive steps per contract per block.
type ContractSteps struct {
	BlockNumber   int64  `json:"block_number"`
	Contract      string `json:"contract"`
	Steps         int64  `json:"steps_per_contract"`
	StepsPerBlock int64  `json:"steps_per_block"`
}

// BlockSteps totals exclusive steps per block.
// UserSteps excludes validation and fee-payment calls.
type BlockSteps struct {
	BlockNumber int64 `json:"block_number"`
	TotalSteps  int64 `json:"total_steps"`
	UserSteps   int64 `json:"user_steps"`
	Calls       int   `json:"calls"`
}

// Records converts rows into cumulative tracepath records, in row order.
// Missing steps become 0.
func Records(rows []TraceRow) ([]tracepath.Record, error) {
	out := make([]tracepath.Record, len(rows))
	for i, row := range rows {
		rec, err := tracepath.ParseRecord(row.TraceID, row.StepsOrZero())
		if err != nil {
			return nil, fmt.Errorf("row %d (block %d): %w", i, row.BlockNumber, err)
		}
		out[i] = rec
	}
	return out, nil
}
