package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/stepsplit/internal/ir"
)

// Traces returns the source rows of every block in r.
// Rows are ordered by block_number, then trace_id in binary order.
//
// Returns an empty slice (not nil) if the range holds no rows.
func (s *Store) Traces(ctx context.Context, r ir.BlockRange) ([]ir.TraceRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT block_number, trace_id, tx_hash, trace_type, caller, contract, function, steps
		FROM traces
		WHERE block_number >= ? AND block_number <= ?
		ORDER BY block_number ASC, trace_id COLLATE BINARY ASC
	`, r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("query traces: %w", err)
	}
	defer rows.Close()

	out := []ir.TraceRow{}
	for rows.Next() {
		row, err := scanTraceRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traces: %w", err)
	}
	return out, nil
}

// CairoSteps returns the output rows of every block in r, ordered like Traces.
func (s *Store) CairoSteps(ctx context.Context, r ir.BlockRange) ([]ir.CairoStepsRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT block_number, trace_id, tx_hash, trace_type, caller, contract, function, steps, individual_steps
		FROM cairo_steps
		WHERE block_number >= ? AND block_number <= ?
		ORDER BY block_number ASC, trace_id COLLATE BINARY ASC
	`, r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("query cairo steps: %w", err)
	}
	defer rows.Close()

	out := []ir.CairoStepsRow{}
	for rows.Next() {
		var row ir.CairoStepsRow
		var steps sql.NullInt64
		if err := rows.Scan(
			&row.BlockNumber,
			&row.TraceID,
			&row.TxHash,
			&row.TraceType,
			&row.Caller,
			&row.Contract,
			&row.Function,
			&steps,
			&row.IndividualSteps,
		); err != nil {
			return nil, fmt.Errorf("scan cairo steps: %w", err)
		}
		if steps.Valid {
			row.Steps = ir.Int64(steps.Int64)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cairo steps: %w", err)
	}
	return out, nil
}

// StepsPerContract aggregates exclusive steps per (block, contract) over r,
// with each block's total alongside.
func (s *Store) StepsPerContract(ctx context.Context, r ir.BlockRange) ([]ir.ContractSteps, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH per_contract AS (
			SELECT block_number, contract, SUM(individual_steps) AS steps
			FROM cairo_steps
			WHERE block_number >= ? AND block_number <= ?
			GROUP BY block_number, contract
		)
		SELECT block_number, contract, steps,
			SUM(steps) OVER (PARTITION BY block_number) AS steps_per_block
		FROM per_contract
		ORDER BY block_number ASC, contract COLLATE BINARY ASC
	`, r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("query steps per contract: %w", err)
	}
	defer rows.Close()

	out := []ir.ContractSteps{}
	for rows.Next() {
		var cs ir.ContractSteps
		if err := rows.Scan(&cs.BlockNumber, &cs.Contract, &cs.Steps, &cs.StepsPerBlock); err != nil {
			return nil, fmt.Errorf("scan steps per contract: %w", err)
		}
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps per contract: %w", err)
	}
	return out, nil
}

// BlockSteps totals exclusive steps per block over r. UserSteps leaves out
// validation and fee-payment calls and everything nested under them, which
// is the figure block explorers report.
func (s *Store) BlockSteps(ctx context.Context, r ir.BlockRange) ([]ir.BlockSteps, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT block_number,
			SUM(individual_steps),
			SUM(CASE WHEN trace_id LIKE '%v%' OR trace_id LIKE '%f%' THEN 0 ELSE individual_steps END),
			COUNT(*)
		FROM cairo_steps
		WHERE block_number >= ? AND block_number <= ?
		GROUP BY block_number
		ORDER BY block_number ASC
	`, r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("query block steps: %w", err)
	}
	defer rows.Close()

	out := []ir.BlockSteps{}
	for rows.Next() {
		var bs ir.BlockSteps
		if err := rows.Scan(&bs.BlockNumber, &bs.TotalSteps, &bs.UserSteps, &bs.Calls); err != nil {
			return nil, fmt.Errorf("scan block steps: %w", err)
		}
		out = append(out, bs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate block steps: %w", err)
	}
	return out, nil
}

// FailedRanges returns the failed ranges recorded for a run, by start block.
func (s *Store) FailedRanges(ctx context.Context, runID string) ([]ir.FailedRange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, start_block, end_block, stage, reason
		FROM failed_ranges
		WHERE run_id = ?
		ORDER BY start_block ASC, id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query failed ranges: %w", err)
	}
	defer rows.Close()

	out := []ir.FailedRange{}
	for rows.Next() {
		var f ir.FailedRange
		if err := rows.Scan(&f.RunID, &f.Range.Start, &f.Range.End, &f.Stage, &f.Reason); err != nil {
			return nil, fmt.Errorf("scan failed range: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failed ranges: %w", err)
	}
	return out, nil
}

// Batches returns the committed ranges recorded for a run, by start block.
func (s *Store) Batches(ctx context.Context, runID string) ([]ir.Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, start_block, end_block, rows, digest, anomalies, orphans, engine_version
		FROM batches
		WHERE run_id = ?
		ORDER BY start_block ASC, id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	out := []ir.Batch{}
	for rows.Next() {
		var b ir.Batch
		if err := rows.Scan(&b.RunID, &b.Range.Start, &b.Range.End, &b.Rows, &b.Digest, &b.Anomalies, &b.Orphans, &b.EngineVersion); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return out, nil
}

func scanTraceRow(rows *sql.Rows) (ir.TraceRow, error) {
	var row ir.TraceRow
	var steps sql.NullInt64
	if err := rows.Scan(
		&row.BlockNumber,
		&row.TraceID,
		&row.TxHash,
		&row.TraceType,
		&row.Caller,
		&row.Contract,
		&row.Function,
		&steps,
	); err != nil {
		return ir.TraceRow{}, fmt.Errorf("scan trace: %w", err)
	}
	if steps.Valid {
		row.Steps = ir.Int64(steps.Int64)
	}
	return row, nil
}
