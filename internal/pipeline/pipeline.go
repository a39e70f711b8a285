package pipeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/stepsplit/internal/calltree"
	"github.com/roach88/stepsplit/internal/ir"
	"github.com/roach88/stepsplit/internal/tracepath"
)

// Source supplies the rows of a block range. *store.Store implements it.
type Source interface {
	Traces(ctx context.Context, r ir.BlockRange) ([]ir.TraceRow, error)
}

// Sink receives processed ranges and failures. *store.Store implements it.
type Sink interface {
	WriteCairoSteps(ctx context.Context, rows []ir.CairoStepsRow) error
	RecordBatch(ctx context.Context, b ir.Batch) error
	RecordFailedRange(ctx context.Context, f ir.FailedRange) error
}

// Defaults applied by New to zero Config fields. TopLevelDepth is only
// defaulted when negative.
const (
	DefaultIncrement     int64 = 100
	DefaultWorkers             = 1
	DefaultRetryAttempts uint  = 3
	DefaultTopLevelDepth       = 2

	DefaultRetryInitialInterval = 500 * time.Millisecond
	DefaultRetryMaxInterval     = 10 * time.Second
)

// Config controls a pipeline run.
type Config struct {
	// Increment is the number of blocks per range.
	Increment int64

	// Workers is the number of ranges processed concurrently.
	Workers int

	// RetryAttempts bounds the tries of each read and write, first try included.
	RetryAttempts uint

	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration

	// FailureDir is where the failure file goes. Empty disables the file.
	FailureDir string

	// TopLevelDepth is passed to calltree.Options. Zero disables orphan
	// reporting; config.File.Pipeline supplies DefaultTopLevelDepth when the
	// file leaves it unset.
	TopLevelDepth int

	// Traversal is passed to calltree.Options.
	Traversal calltree.Traversal

	// FailOnAnomaly fails a range whose tree has negative exclusive steps
	// instead of writing it.
	FailOnAnomaly bool
}

func (c Config) withDefaults() Config {
	if c.Increment <= 0 {
		c.Increment = DefaultIncrement
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = DefaultRetryAttempts
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = DefaultRetryInitialInterval
	}
	if c.RetryMaxInterval <= 0 {
		c.RetryMaxInterval = DefaultRetryMaxInterval
	}
	if c.TopLevelDepth < 0 {
		c.TopLevelDepth = DefaultTopLevelDepth
	}
	return c
}

// Report summarizes a run.
type Report struct {
	RunID       string           `json:"run_id"`
	Range       ir.BlockRange    `json:"range"`
	Batches     []ir.Batch       `json:"batches"`
	Failed      []ir.FailedRange `json:"failed"`
	Rows        int              `json:"rows"`
	Anomalies   int              `json:"anomalies"`
	Orphans     int              `json:"orphans"`
	FailureFile string           `json:"failure_file,omitempty"`
}

// OK reports whether every range committed.
func (r *Report) OK() bool {
	return len(r.Failed) == 0
}

// Pipeline processes block ranges from a Source into a Sink.
//
// Thread-safety: a Pipeline may run several ranges concurrently (see
// Config.Workers); Source and Sink must be safe for concurrent use.
type Pipeline struct {
	source  Source
	sink    Sink
	cfg     Config
	runIDs  RunIDGenerator
	metrics *Metrics
	logger  *slog.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithRunIDGenerator replaces the UUIDv7 run id generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(p *Pipeline) { p.runIDs = g }
}

// WithMetrics records pipeline metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a pipeline. Zero Config fields take their defaults.
func New(source Source, sink Sink, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		source: source,
		sink:   sink,
		cfg:    cfg.withDefaults(),
		runIDs: UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Config returns the effective configuration, defaults applied.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Run processes every block in total, one Config.Increment-sized range at a
// time. A failed range is recorded and skipped; Run only returns an error
// for an empty range or a cancelled context, and in the latter case still
// returns the partial report.
func (p *Pipeline) Run(ctx context.Context, total ir.BlockRange) (*Report, error) {
	if total.Len() == 0 {
		return nil, fmt.Errorf("empty block range %s", total)
	}

	report := &Report{
		RunID:   p.runIDs.Generate(),
		Range:   total,
		Batches: []ir.Batch{},
		Failed:  []ir.FailedRange{},
	}
	logger := p.logger.With("run_id", report.RunID)
	logger.Info("run started", "range", total.String(), "increment", p.cfg.Increment, "workers", p.cfg.Workers)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(p.cfg.Workers)

	for _, r := range total.Split(p.cfg.Increment) {
		g.Go(func() error {
			batch, err := p.processRange(ctx, report.RunID, r, logger)
			if err != nil {
				var se *StageError
				if !errors.As(err, &se) {
					se = &StageError{Range: r, Stage: ir.StageRead, Err: err}
				}
				failure := se.Failure(report.RunID)
				p.recordFailure(ctx, failure, logger)

				mu.Lock()
				report.Failed = append(report.Failed, failure)
				mu.Unlock()
				return nil
			}

			mu.Lock()
			report.Batches = append(report.Batches, batch)
			report.Rows += batch.Rows
			report.Anomalies += batch.Anomalies
			report.Orphans += batch.Orphans
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // Workers never return errors

	slices.SortFunc(report.Batches, func(a, b ir.Batch) int {
		return cmp.Compare(a.Range.Start, b.Range.Start)
	})
	slices.SortFunc(report.Failed, func(a, b ir.FailedRange) int {
		return cmp.Compare(a.Range.Start, b.Range.Start)
	})

	if len(report.Failed) > 0 && p.cfg.FailureDir != "" {
		path, err := WriteFailureFile(p.cfg.FailureDir, total, report.Failed)
		if err != nil {
			logger.Error("failure file not written", "error", err)
		} else {
			report.FailureFile = path
		}
	}

	logger.Info("run finished",
		"committed", len(report.Batches),
		"failed", len(report.Failed),
		"rows", report.Rows,
		"anomalies", report.Anomalies,
		"orphans", report.Orphans,
	)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// recordFailure stores a failed range. A cancelled run still records its
// failures, so the sink write ignores cancellation.
func (p *Pipeline) recordFailure(ctx context.Context, f ir.FailedRange, logger *slog.Logger) {
	p.metrics.RangesFailed.WithLabelValues(f.Stage).Inc()
	logger.Warn("range failed", "range", f.Range.String(), "stage", f.Stage, "reason", f.Reason)

	if err := p.sink.RecordFailedRange(context.WithoutCancel(ctx), f); err != nil {
		logger.Error("failed range not recorded", "range", f.Range.String(), "error", err)
	}
}

// ProcessRange runs a single block range outside of Run, under runID.
func (p *Pipeline) ProcessRange(ctx context.Context, runID string, r ir.BlockRange) (ir.Batch, error) {
	return p.processRange(ctx, runID, r, p.logger.With("run_id", runID))
}

func (p *Pipeline) processRange(ctx context.Context, runID string, r ir.BlockRange, logger *slog.Logger) (ir.Batch, error) {
	start := time.Now()
	defer func() { p.metrics.RangeDuration.Observe(time.Since(start).Seconds()) }()

	if err := ctx.Err(); err != nil {
		return ir.Batch{}, &StageError{Range: r, Stage: ir.StageRead, Err: err}
	}

	rows, err := retry(ctx, p, logger, ir.StageRead, func() ([]ir.TraceRow, error) {
		return p.source.Traces(ctx, r)
	})
	if err != nil {
		return ir.Batch{}, &StageError{Range: r, Stage: ir.StageRead, Err: err}
	}

	sortedRows, records, err := Format(rows)
	if err != nil {
		return ir.Batch{}, &StageError{Range: r, Stage: ir.StageFormat, Err: err}
	}

	exclusive, tree, err := calltree.Run(records, calltree.Options{
		Traversal:     p.cfg.Traversal,
		TopLevelDepth: p.cfg.TopLevelDepth,
	})
	if err != nil {
		return ir.Batch{}, &StageError{Range: r, Stage: ir.StageInfer, Err: err}
	}

	orphans, anomalies := tree.Orphans(), tree.Anomalies()
	for _, o := range orphans {
		logger.Warn("orphan call attached to root", "range", r.String(), "path", o.Path.Key(), "missing_parent", o.Parent.Key())
	}
	for _, a := range anomalies {
		logger.Warn("negative exclusive steps",
			"range", r.String(),
			"path", a.Path.Key(),
			"cumulative", a.Cumulative,
			"children", a.ChildrenTotal,
			"exclusive", a.Exclusive,
		)
	}
	p.metrics.Orphans.Add(float64(len(orphans)))
	p.metrics.Anomalies.Add(float64(len(anomalies)))
	if p.cfg.FailOnAnomaly && len(anomalies) > 0 {
		return ir.Batch{}, &StageError{Range: r, Stage: ir.StageInfer, Err: fmt.Errorf("%w: %d calls", ErrAnomalies, len(anomalies))}
	}

	if err := calltree.CheckAlignment(tracepath.Keys(records), tracepath.Keys(exclusive)); err != nil {
		return ir.Batch{}, &StageError{Range: r, Stage: ir.StageAlign, Err: err}
	}
	out, err := Merge(sortedRows, exclusive)
	if err != nil {
		return ir.Batch{}, &StageError{Range: r, Stage: ir.StageAlign, Err: err}
	}

	digest, err := ir.BatchDigest(out)
	if err != nil {
		return ir.Batch{}, &StageError{Range: r, Stage: ir.StageWrite, Err: err}
	}
	batch := ir.Batch{
		RunID:         runID,
		Range:         r,
		Rows:          len(out),
		Digest:        digest,
		Anomalies:     len(anomalies),
		Orphans:       len(orphans),
		EngineVersion: ir.EngineVersion,
	}

	if len(out) > 0 {
		if _, err := retry(ctx, p, logger, ir.StageWrite, func() (struct{}, error) {
			return struct{}{}, p.sink.WriteCairoSteps(ctx, out)
		}); err != nil {
			return ir.Batch{}, &StageError{Range: r, Stage: ir.StageWrite, Err: err}
		}
	}
	if _, err := retry(ctx, p, logger, ir.StageWrite, func() (struct{}, error) {
		return struct{}{}, p.sink.RecordBatch(ctx, batch)
	}); err != nil {
		return ir.Batch{}, &StageError{Range: r, Stage: ir.StageWrite, Err: err}
	}

	p.metrics.RangesCommitted.Inc()
	p.metrics.RowsWritten.Add(float64(len(out)))
	logger.Debug("range committed", "range", r.String(), "rows", len(out), "digest", digest[:12])
	return batch, nil
}

// retry runs op with exponential backoff, up to Config.RetryAttempts tries.
func retry[T any](ctx context.Context, p *Pipeline, logger *slog.Logger, stage string, op backoff.Operation[T]) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.RetryInitialInterval
	b.MaxInterval = p.cfg.RetryMaxInterval

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.cfg.RetryAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.metrics.Retries.WithLabelValues(stage).Inc()
			logger.Debug("retrying", "stage", stage, "error", err, "after", next)
		}),
	)
}
