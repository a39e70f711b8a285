package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/stepsplit/internal/ir"
)

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestTrace creates a trace row with minimal required fields.
func createTestTrace(block int64, traceID, contract string, steps int64) ir.TraceRow {
	return ir.TraceRow{
		BlockNumber: block,
		TraceID:     traceID,
		TxHash:      "0xtx",
		TraceType:   "CALL",
		Caller:      "0xcaller",
		Contract:    contract,
		Function:    "__execute__",
		Steps:       ir.Int64(steps),
	}
}

// createTestCairoSteps attaches individual steps to a test trace row.
func createTestCairoSteps(block int64, traceID, contract string, steps, individual int64) ir.CairoStepsRow {
	return ir.CairoStepsRow{
		TraceRow:        createTestTrace(block, traceID, contract, steps),
		IndividualSteps: individual,
	}
}
