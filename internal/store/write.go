package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/stepsplit/internal/ir"
)

// WriteTraces upserts source rows in a single transaction.
// A row whose trace_id already exists replaces the stored row.
func (s *Store) WriteTraces(ctx context.Context, rows []ir.TraceRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write traces: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO traces
		(trace_id, block_number, tx_hash, trace_type, caller, contract, function, steps)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trace_id) DO UPDATE SET
			block_number = excluded.block_number,
			tx_hash = excluded.tx_hash,
			trace_type = excluded.trace_type,
			caller = excluded.caller,
			contract = excluded.contract,
			function = excluded.function,
			steps = excluded.steps
	`)
	if err != nil {
		return fmt.Errorf("write traces: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.TraceID,
			r.BlockNumber,
			r.TxHash,
			r.TraceType,
			r.Caller,
			r.Contract,
			r.Function,
			nullableSteps(r.Steps),
		); err != nil {
			return fmt.Errorf("write traces: %s: %w", r.TraceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write traces: commit: %w", err)
	}
	return nil
}

// WriteCairoSteps upserts output rows in a single transaction, so a block
// range is either fully written or not at all.
func (s *Store) WriteCairoSteps(ctx context.Context, rows []ir.CairoStepsRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write cairo steps: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cairo_steps
		(trace_id, block_number, tx_hash, trace_type, caller, contract, function, steps, individual_steps)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trace_id) DO UPDATE SET
			block_number = excluded.block_number,
			tx_hash = excluded.tx_hash,
			trace_type = excluded.trace_type,
			caller = excluded.caller,
			contract = excluded.contract,
			function = excluded.function,
			steps = excluded.steps,
			individual_steps = excluded.individual_steps
	`)
	if err != nil {
		return fmt.Errorf("write cairo steps: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.TraceID,
			r.BlockNumber,
			r.TxHash,
			r.TraceType,
			r.Caller,
			r.Contract,
			r.Function,
			nullableSteps(r.Steps),
			r.IndividualSteps,
		); err != nil {
			return fmt.Errorf("write cairo steps: %s: %w", r.TraceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write cairo steps: commit: %w", err)
	}
	return nil
}

// RecordBatch stores the bookkeeping row for a committed range.
// Re-recording the same (run, range) replaces the previous row.
func (s *Store) RecordBatch(ctx context.Context, b ir.Batch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batches
		(run_id, start_block, end_block, rows, digest, anomalies, orphans, engine_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, start_block, end_block) DO UPDATE SET
			rows = excluded.rows,
			digest = excluded.digest,
			anomalies = excluded.anomalies,
			orphans = excluded.orphans,
			engine_version = excluded.engine_version
	`,
		b.RunID,
		b.Range.Start,
		b.Range.End,
		b.Rows,
		b.Digest,
		b.Anomalies,
		b.Orphans,
		b.EngineVersion,
	)
	if err != nil {
		return fmt.Errorf("record batch: %w", err)
	}
	return nil
}

// RecordFailedRange stores a block range the pipeline gave up on.
// Re-recording the same (run, range) keeps the latest stage and reason.
func (s *Store) RecordFailedRange(ctx context.Context, f ir.FailedRange) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO failed_ranges
		(run_id, start_block, end_block, stage, reason)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, start_block, end_block) DO UPDATE SET
			stage = excluded.stage,
			reason = excluded.reason
	`,
		f.RunID,
		f.Range.Start,
		f.Range.End,
		f.Stage,
		f.Reason,
	)
	if err != nil {
		return fmt.Errorf("record failed range: %w", err)
	}
	return nil
}

func nullableSteps(steps *int64) sql.NullInt64 {
	if steps == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *steps, Valid: true}
}
