package harness

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/stepsplit/internal/calltree"
	"github.com/roach88/stepsplit/internal/tracepath"
)

// Harness runs one scenario against the call tree engine.
type Harness struct {
	scenario *Scenario
	records  []tracepath.Record
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Parse the scenario records
// 2. Build the tree (or check the expected build error)
// 3. Infer with both traversals and require identical output
// 4. Check expectations, built-in properties and assertions
//
// The returned error is reserved for scenarios that cannot run at all,
// such as malformed path keys. Failed checks are reported on the Result.
func Run(scenario *Scenario) (*Result, error) {
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	records := make([]tracepath.Record, len(scenario.Records))
	for i, step := range scenario.Records {
		rec, err := tracepath.ParseRecord(step.Key, step.Steps)
		if err != nil {
			return nil, fmt.Errorf("records[%d]: %w", i, err)
		}
		records[i] = rec
	}

	h := &Harness{
		scenario: scenario,
		records:  records,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	return h.run()
}

func (h *Harness) run() (*Result, error) {
	result := NewResult()
	opts := calltree.Options{TopLevelDepth: h.scenario.TopLevelDepth}

	tree, err := calltree.Build(h.records, opts)
	if err != nil {
		var be *calltree.BuildError
		if !errors.As(err, &be) {
			return nil, err
		}
		result.BuildError = string(be.Code)
		switch {
		case h.scenario.Error == "":
			result.AddError(fmt.Sprintf("build failed: %v", err))
		case string(be.Code) != h.scenario.Error:
			result.AddError(fmt.Sprintf("expected build error %s, got %v", h.scenario.Error, err))
		}
		return result, nil
	}
	if h.scenario.Error != "" {
		result.AddError(fmt.Sprintf("expected build error %s, tree built with %d nodes", h.scenario.Error, tree.Len()))
		return result, nil
	}

	if err := tree.Infer(); err != nil {
		return nil, err
	}
	out, err := tree.Records()
	if err != nil {
		return nil, err
	}

	for _, rec := range out {
		parent, _ := tree.ParentOf(rec.Path)
		cumulative, _ := tree.Cumulative(rec.Path)
		result.Records = append(result.Records, OutputRecord{
			Key:        rec.Key(),
			Parent:     parent.Key(),
			Cumulative: cumulative,
			Exclusive:  rec.Steps,
		})
	}
	for _, a := range tree.Anomalies() {
		result.Anomalies = append(result.Anomalies, a.Path.Key())
	}
	for _, o := range tree.Orphans() {
		result.Orphans = append(result.Orphans, o.Path.Key())
	}

	if err := h.compareTraversals(out, opts); err != nil {
		result.AddError(err.Error())
	}
	for _, err := range h.check(tree, out, result) {
		result.AddError(err.Error())
	}

	h.logger.Info("scenario completed",
		"scenario", h.scenario.Name,
		"records", len(out),
		"pass", result.Pass,
	)
	return result, nil
}

// compareTraversals re-runs inference recursively and requires the same
// output as the iterative walk.
func (h *Harness) compareTraversals(want []tracepath.Record, opts calltree.Options) error {
	opts.Traversal = calltree.TraversalRecursive
	got, _, err := calltree.Run(h.records, opts)
	if err != nil {
		return fmt.Errorf("recursive traversal: %w", err)
	}
	if err := calltree.CheckAlignment(tracepath.Keys(want), tracepath.Keys(got)); err != nil {
		return fmt.Errorf("recursive traversal: %w", err)
	}
	for i := range want {
		if want[i].Steps != got[i].Steps {
			return fmt.Errorf("traversals disagree on %s: iterative %d, recursive %d",
				want[i].Key(), want[i].Steps, got[i].Steps)
		}
	}
	return nil
}
