package harness

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot captures a scenario result for golden file comparison.
type Snapshot struct {
	Scenario   string         `json:"scenario"`
	BuildError string         `json:"build_error,omitempty"`
	Records    []OutputRecord `json:"records"`
	Anomalies  []string       `json:"anomalies"`
	Orphans    []string       `json:"orphans"`
	Total      int64          `json:"total"`
}

// NewSnapshot builds the snapshot of a result.
func NewSnapshot(name string, result *Result) Snapshot {
	return Snapshot{
		Scenario:   name,
		BuildError: result.BuildError,
		Records:    result.Records,
		Anomalies:  result.Anomalies,
		Orphans:    result.Orphans,
		Total:      result.Total(),
	}
}

// MarshalSnapshot renders a result as indented JSON with a trailing newline,
// the golden file format.
func MarshalSnapshot(name string, result *Result) ([]byte, error) {
	data, err := json.MarshalIndent(NewSnapshot(name, result), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return append(data, '\n'), nil
}

// DefaultGoldenDir is the fixture directory used when none is given.
const DefaultGoldenDir = "testdata/golden"

// GoldenPath returns the golden file of a scenario file: golden/<name>.golden
// next to it.
func GoldenPath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

// RunWithGolden executes a scenario and compares the snapshot against
// {dir}/{scenario.Name}.golden. An empty dir means DefaultGoldenDir.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario, dir string) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, dir, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, dir, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}

	if dir == "" {
		dir = DefaultGoldenDir
	}
	g := goldie.New(t,
		goldie.WithFixtureDir(dir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
