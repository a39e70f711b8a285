package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stepsplit/internal/calltree"
	"github.com/roach88/stepsplit/internal/ir"
	"github.com/roach88/stepsplit/internal/store"
)

func trace(block int64, id string, steps int64) ir.TraceRow {
	return ir.TraceRow{
		BlockNumber: block,
		TraceID:     id,
		TxHash:      "0xtx",
		TraceType:   "CALL",
		Contract:    "0xc",
		Steps:       ir.Int64(steps),
	}
}

// nestedFeeRows is a top-level call with a nested call plus a fee call
// that has a child of its own.
func nestedFeeRows() []ir.TraceRow {
	return []ir.TraceRow{
		trace(10, "10_7", 100),
		trace(10, "10_7_0", 10),
		trace(10, "10_7_1", 11),
		trace(10, "10_7_2", 12),
		trace(10, "10_7_2_0", 10),
		trace(10, "10_f", 20),
		trace(10, "10_f_0", 5),
	}
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig() Config {
	return Config{
		RetryAttempts:        3,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     2 * time.Millisecond,
		TopLevelDepth:        DefaultTopLevelDepth,
	}
}

// flakySource fails the first n reads of each listed range start.
type flakySource struct {
	inner Source

	mu    sync.Mutex
	fails map[int64]int
	calls map[int64]int
}

func (f *flakySource) Traces(ctx context.Context, r ir.BlockRange) ([]ir.TraceRow, error) {
	f.mu.Lock()
	f.calls[r.Start]++
	if f.fails[r.Start] > 0 {
		f.fails[r.Start]--
		f.mu.Unlock()
		return nil, errors.New("connection reset")
	}
	f.mu.Unlock()
	return f.inner.Traces(ctx, r)
}

// flakySink fails the first writeFails WriteCairoSteps calls and the first
// batchFails RecordBatch calls before delegating to inner.
type flakySink struct {
	inner Sink

	mu         sync.Mutex
	writeFails int
	batchFails int
	writeCalls int
	batchCalls int
}

func (f *flakySink) WriteCairoSteps(ctx context.Context, rows []ir.CairoStepsRow) error {
	f.mu.Lock()
	f.writeCalls++
	if f.writeFails > 0 {
		f.writeFails--
		f.mu.Unlock()
		return errors.New("database is locked")
	}
	f.mu.Unlock()
	return f.inner.WriteCairoSteps(ctx, rows)
}

func (f *flakySink) RecordBatch(ctx context.Context, b ir.Batch) error {
	f.mu.Lock()
	f.batchCalls++
	if f.batchFails > 0 {
		f.batchFails--
		f.mu.Unlock()
		return errors.New("database is locked")
	}
	f.mu.Unlock()
	return f.inner.RecordBatch(ctx, b)
}

func (f *flakySink) RecordFailedRange(ctx context.Context, fr ir.FailedRange) error {
	return f.inner.RecordFailedRange(ctx, fr)
}

// staticSource serves fixed rows for every range.
type staticSource []ir.TraceRow

func (s staticSource) Traces(ctx context.Context, r ir.BlockRange) ([]ir.TraceRow, error) {
	var out []ir.TraceRow
	for _, row := range s {
		if r.Contains(row.BlockNumber) {
			out = append(out, row)
		}
	}
	return out, nil
}

func TestRun_CommitsRanges(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rows := append(nestedFeeRows(), trace(150, "150_0", 42), trace(150, "150_0_0", 40))
	require.NoError(t, s.WriteTraces(ctx, rows))

	p := New(s, s, fastConfig(),
		WithRunIDGenerator(NewFixedGenerator("run-1")),
		WithLogger(quietLogger()),
	)
	report, err := p.Run(ctx, ir.BlockRange{Start: 1, End: 200})
	require.NoError(t, err)

	assert.True(t, report.OK())
	assert.Equal(t, "run-1", report.RunID)
	require.Len(t, report.Batches, 2)
	assert.Equal(t, ir.BlockRange{Start: 1, End: 100}, report.Batches[0].Range)
	assert.Equal(t, 7, report.Batches[0].Rows)
	assert.Equal(t, ir.BlockRange{Start: 101, End: 200}, report.Batches[1].Range)
	assert.Equal(t, 2, report.Batches[1].Rows)
	assert.Equal(t, 9, report.Rows)
	assert.Empty(t, report.FailureFile)

	got, err := s.CairoSteps(ctx, ir.BlockRange{Start: 10, End: 10})
	require.NoError(t, err)
	individual := map[string]int64{}
	for _, row := range got {
		individual[row.TraceID] = row.IndividualSteps
	}
	assert.Equal(t, map[string]int64{
		"10_7":     67,
		"10_7_0":   10,
		"10_7_1":   11,
		"10_7_2":   2,
		"10_7_2_0": 10,
		"10_f":     15,
		"10_f_0":   5,
	}, individual)

	batches, err := s.Batches(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, report.Batches, batches)
}

func TestRun_EmptyRangeCommitsZeroRows(t *testing.T) {
	s := testStore(t)

	p := New(s, s, fastConfig(), WithRunIDGenerator(NewFixedGenerator("run-1")), WithLogger(quietLogger()))
	report, err := p.Run(context.Background(), ir.BlockRange{Start: 1, End: 50})
	require.NoError(t, err)

	require.Len(t, report.Batches, 1)
	assert.Equal(t, 0, report.Batches[0].Rows)
	assert.Equal(t, ir.MustBatchDigest(nil), report.Batches[0].Digest)
}

func TestRun_RejectsEmptyBlockRange(t *testing.T) {
	p := New(staticSource(nil), testStore(t), fastConfig(), WithLogger(quietLogger()))
	_, err := p.Run(context.Background(), ir.BlockRange{Start: 10, End: 9})
	require.Error(t, err)
}

func TestRun_RetriesTransientReads(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.WriteTraces(ctx, nestedFeeRows()))

	src := &flakySource{inner: s, fails: map[int64]int{1: 2}, calls: map[int64]int{}}
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	p := New(src, s, fastConfig(), WithMetrics(m), WithLogger(quietLogger()))
	report, err := p.Run(ctx, ir.BlockRange{Start: 1, End: 100})
	require.NoError(t, err)

	assert.True(t, report.OK())
	assert.Equal(t, 3, src.calls[1])
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Retries.WithLabelValues(ir.StageRead)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RangesCommitted))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.RowsWritten))
}

func TestRun_RetriesTransientWrites(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	sink := &flakySink{inner: s, writeFails: 1, batchFails: 2}

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	p := New(staticSource(nestedFeeRows()), sink, fastConfig(),
		WithRunIDGenerator(NewFixedGenerator("run-1")),
		WithMetrics(m),
		WithLogger(logger),
	)
	report, err := p.Run(ctx, ir.BlockRange{Start: 1, End: 100})
	require.NoError(t, err)

	assert.True(t, report.OK())
	assert.Equal(t, 2, sink.writeCalls)
	assert.Equal(t, 3, sink.batchCalls)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.Retries.WithLabelValues(ir.StageWrite)))

	stored, err := s.CairoSteps(ctx, ir.BlockRange{Start: 1, End: 100})
	require.NoError(t, err)
	assert.Len(t, stored, 7)
	batches, err := s.Batches(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, batches, 1)

	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		if strings.Contains(line, "msg=retrying") {
			assert.Contains(t, line, "run_id=run-1")
		}
	}
	assert.Equal(t, 3, strings.Count(logs.String(), "msg=retrying"))
}

func TestRun_PermanentWriteFailureIsRecorded(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	sink := &flakySink{inner: s, writeFails: 100}

	p := New(staticSource(nestedFeeRows()), sink, fastConfig(),
		WithRunIDGenerator(NewFixedGenerator("run-1")),
		WithLogger(quietLogger()),
	)
	report, err := p.Run(ctx, ir.BlockRange{Start: 1, End: 100})
	require.NoError(t, err)

	assert.False(t, report.OK())
	assert.Empty(t, report.Batches)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, ir.StageWrite, report.Failed[0].Stage)
	assert.Contains(t, report.Failed[0].Reason, "database is locked")
	assert.Equal(t, 3, sink.writeCalls, "write is tried RetryAttempts times")
	assert.Zero(t, sink.batchCalls)

	stored, err := s.FailedRanges(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, report.Failed, stored)
}

func TestRun_FailedRangeIsRecordedAndSkipped(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.WriteTraces(ctx, append(nestedFeeRows(), trace(250, "250_0", 9))))

	src := &flakySource{inner: s, fails: map[int64]int{101: 100}, calls: map[int64]int{}}
	dir := t.TempDir()
	cfg := fastConfig()
	cfg.FailureDir = dir

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	p := New(src, s, cfg,
		WithRunIDGenerator(NewFixedGenerator("run-1")),
		WithMetrics(m),
		WithLogger(quietLogger()),
	)
	report, err := p.Run(ctx, ir.BlockRange{Start: 1, End: 300})
	require.NoError(t, err)

	assert.False(t, report.OK())
	require.Len(t, report.Batches, 2)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, ir.BlockRange{Start: 101, End: 200}, report.Failed[0].Range)
	assert.Equal(t, ir.StageRead, report.Failed[0].Stage)
	assert.Contains(t, report.Failed[0].Reason, "connection reset")
	assert.Equal(t, 3, src.calls[101], "read is tried RetryAttempts times")

	assert.Equal(t, filepath.Join(dir, "cairo_script_failed_blocks_1_300"), report.FailureFile)
	data, err := os.ReadFile(report.FailureFile)
	require.NoError(t, err)
	assert.Equal(t, "[101-200]", string(data))

	stored, err := s.FailedRanges(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, report.Failed, stored)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RangesFailed.WithLabelValues(ir.StageRead)))
}

func TestRun_DuplicatePathFailsInfer(t *testing.T) {
	src := staticSource{trace(5, "5_0", 3), trace(5, "5_0", 3)}
	s := testStore(t)

	p := New(src, s, fastConfig(), WithLogger(quietLogger()))
	report, err := p.Run(context.Background(), ir.BlockRange{Start: 1, End: 10})
	require.NoError(t, err)

	require.Len(t, report.Failed, 1)
	assert.Equal(t, ir.StageInfer, report.Failed[0].Stage)
	assert.Contains(t, report.Failed[0].Reason, string(calltree.ErrCodeDuplicatePath))
}

func TestRun_MalformedTraceIDFailsFormat(t *testing.T) {
	src := staticSource{trace(5, "5__0", 3)}

	p := New(src, testStore(t), fastConfig(), WithLogger(quietLogger()))
	report, err := p.Run(context.Background(), ir.BlockRange{Start: 1, End: 10})
	require.NoError(t, err)

	require.Len(t, report.Failed, 1)
	assert.Equal(t, ir.StageFormat, report.Failed[0].Stage)
}

func TestRun_UntrimmedTraceIDFailsFormat(t *testing.T) {
	src := staticSource{trace(5, "5_0", 3), trace(5, " 5_0_0", 1)}

	p := New(src, testStore(t), fastConfig(), WithLogger(quietLogger()))
	report, err := p.Run(context.Background(), ir.BlockRange{Start: 1, End: 10})
	require.NoError(t, err)

	require.Len(t, report.Failed, 1)
	assert.Equal(t, ir.StageFormat, report.Failed[0].Stage)
	assert.Contains(t, report.Failed[0].Reason, "surrounding whitespace")
}

func TestRun_Anomalies(t *testing.T) {
	src := staticSource{trace(5, "5_0", 3), trace(5, "5_0_0", 6)}

	t.Run("recorded by default", func(t *testing.T) {
		s := testStore(t)
		p := New(src, s, fastConfig(), WithLogger(quietLogger()))
		report, err := p.Run(context.Background(), ir.BlockRange{Start: 1, End: 10})
		require.NoError(t, err)

		require.Len(t, report.Batches, 1)
		assert.Equal(t, 1, report.Anomalies)

		rows, err := s.CairoSteps(context.Background(), ir.BlockRange{Start: 5, End: 5})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, int64(-3), rows[0].IndividualSteps)
	})

	t.Run("fail on anomaly", func(t *testing.T) {
		cfg := fastConfig()
		cfg.FailOnAnomaly = true
		p := New(src, testStore(t), cfg, WithLogger(quietLogger()))
		report, err := p.Run(context.Background(), ir.BlockRange{Start: 1, End: 10})
		require.NoError(t, err)

		require.Len(t, report.Failed, 1)
		assert.Equal(t, ir.StageInfer, report.Failed[0].Stage)
		assert.Contains(t, report.Failed[0].Reason, ErrAnomalies.Error())
	})
}

func TestRun_OrphansAreCounted(t *testing.T) {
	// 5_0_3 is missing, so 5_0_3_1 attaches to the root.
	src := staticSource{trace(5, "5_0", 10), trace(5, "5_0_3_1", 4)}

	p := New(src, testStore(t), fastConfig(), WithLogger(quietLogger()))
	report, err := p.Run(context.Background(), ir.BlockRange{Start: 1, End: 10})
	require.NoError(t, err)

	require.Len(t, report.Batches, 1)
	assert.Equal(t, 1, report.Orphans)
}

func TestRun_ConcurrentWorkers(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var rows []ir.TraceRow
	for _, block := range []int64{5, 15, 25, 35, 45} {
		key := strconv.FormatInt(block, 10) + "_0"
		rows = append(rows, trace(block, key, 10), trace(block, key+"_0", 4))
	}
	require.NoError(t, s.WriteTraces(ctx, rows))

	cfg := fastConfig()
	cfg.Increment = 10
	cfg.Workers = 4
	p := New(s, s, cfg, WithLogger(quietLogger()))
	report, err := p.Run(ctx, ir.BlockRange{Start: 1, End: 50})
	require.NoError(t, err)

	require.Len(t, report.Batches, 5)
	for i, b := range report.Batches {
		assert.Equal(t, int64(i*10+1), b.Range.Start)
		assert.Equal(t, 2, b.Rows)
	}

	totals, err := s.BlockSteps(ctx, ir.BlockRange{Start: 1, End: 50})
	require.NoError(t, err)
	require.Len(t, totals, 5)
	for _, bt := range totals {
		assert.Equal(t, int64(10), bt.TotalSteps, "block %d", bt.BlockNumber)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	s := testStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(s, s, fastConfig(), WithRunIDGenerator(NewFixedGenerator("run-1")), WithLogger(quietLogger()))
	report, err := p.Run(ctx, ir.BlockRange{Start: 1, End: 200})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Len(t, report.Failed, 2)

	stored, err := s.FailedRanges(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestProcessRange_DeterministicDigest(t *testing.T) {
	src := staticSource(nestedFeeRows())

	p1 := New(src, testStore(t), fastConfig(), WithLogger(quietLogger()))
	p2 := New(src, testStore(t), fastConfig(), WithLogger(quietLogger()))
	r := ir.BlockRange{Start: 1, End: 100}

	b1, err := p1.ProcessRange(context.Background(), "a", r)
	require.NoError(t, err)
	b2, err := p2.ProcessRange(context.Background(), "b", r)
	require.NoError(t, err)
	assert.Equal(t, b1.Digest, b2.Digest)
}

func TestNew_Defaults(t *testing.T) {
	p := New(staticSource(nil), testStore(t), Config{})
	cfg := p.Config()
	assert.Equal(t, DefaultIncrement, cfg.Increment)
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.Equal(t, DefaultRetryAttempts, cfg.RetryAttempts)
	assert.Zero(t, cfg.TopLevelDepth, "zero disables orphan reporting")
	assert.Equal(t, calltree.TraversalIterative, cfg.Traversal)

	p = New(staticSource(nil), testStore(t), Config{TopLevelDepth: -1})
	assert.Equal(t, DefaultTopLevelDepth, p.Config().TopLevelDepth)
}

func TestRun_ZeroTopLevelDepthReportsNoOrphans(t *testing.T) {
	src := staticSource{trace(5, "5_0", 10), trace(5, "5_0_3_1", 4)}
	cfg := fastConfig()
	cfg.TopLevelDepth = 0

	p := New(src, testStore(t), cfg, WithLogger(quietLogger()))
	report, err := p.Run(context.Background(), ir.BlockRange{Start: 1, End: 10})
	require.NoError(t, err)

	require.Len(t, report.Batches, 1)
	assert.Zero(t, report.Orphans)
}

func TestStageOf(t *testing.T) {
	err := &StageError{Range: ir.BlockRange{Start: 1, End: 2}, Stage: ir.StageWrite, Err: errors.New("disk full")}
	assert.Equal(t, ir.StageWrite, StageOf(err))
	assert.Equal(t, "", StageOf(errors.New("plain")))
	assert.Equal(t, "range [1-2]: write: disk full", err.Error())
}
