package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/stepsplit/internal/ir"
	"github.com/roach88/stepsplit/internal/store"
)

func traceRow(block int64, id, contract string, steps int64) ir.TraceRow {
	return ir.TraceRow{
		BlockNumber: block,
		TraceID:     id,
		TxHash:      "0xabc",
		TraceType:   "CALL",
		Caller:      "0x1",
		Contract:    contract,
		Function:    "__execute__",
		Steps:       ir.Int64(steps),
	}
}

// nestedFeeTraces is block 10 of the nested fee call example.
func nestedFeeTraces() []ir.TraceRow {
	return []ir.TraceRow{
		traceRow(10, "10_7", "0xa", 100),
		traceRow(10, "10_7_0", "0xb", 10),
		traceRow(10, "10_7_1", "0xb", 11),
		traceRow(10, "10_7_2", "0xc", 12),
		traceRow(10, "10_7_2_0", "0xb", 10),
		traceRow(10, "10_f", "0xfee", 20),
		traceRow(10, "10_f_0", "0xfee", 5),
	}
}

// seedDatabase creates a database holding traces and returns its path.
func seedDatabase(t *testing.T, traces []ir.TraceRow) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stepsplit.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, st.WriteTraces(context.Background(), traces))
	require.NoError(t, st.Close())
	return path
}

// openTestStore reopens a seeded database for assertions.
func openTestStore(t *testing.T, path string) *store.Store {
	t.Helper()
	st, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}
