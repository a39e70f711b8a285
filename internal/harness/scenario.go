package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/stepsplit/internal/calltree"
	"github.com/roach88/stepsplit/internal/tracepath"
)

// Scenario defines a call tree test case.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// TopLevelDepth enables orphan reporting (see calltree.Options).
	TopLevelDepth int `yaml:"top_level_depth,omitempty"`

	// Records are the cumulative input records, in the order fed to Build.
	Records []RecordStep `yaml:"records"`

	// Expect lists the exclusive output, in order. Nil skips the check;
	// an empty list expects empty output.
	Expect []RecordStep `yaml:"expect,omitempty"`

	// Anomalies lists the paths expected to come out negative.
	Anomalies []string `yaml:"anomalies,omitempty"`

	// Orphans lists the paths expected to fall back to the root.
	Orphans []string `yaml:"orphans,omitempty"`

	// Error is the BuildError code Build must fail with. When set, no tree
	// checks run.
	Error string `yaml:"error,omitempty"`

	// Assertions probe the tree's structure.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// RecordStep is a path key with a step count.
type RecordStep struct {
	Key   string `yaml:"key"`
	Steps int64  `yaml:"steps"`
}

// Assertion validates one node of the tree.
type Assertion struct {
	// Type specifies the assertion type:
	// - "children": Path has exactly Keys as children, in order
	// - "parent": Path hangs off Parent ("" for the root)
	// - "subtree": exclusive steps under Path sum to Steps
	// - "exclusive": Path's own exclusive steps equal Steps
	Type string `yaml:"type"`

	// Path is the node the assertion is about ("" for the root).
	Path string `yaml:"path"`

	// Keys are the expected child keys (used by children).
	Keys []string `yaml:"keys,omitempty"`

	// Parent is the expected parent key (used by parent).
	Parent string `yaml:"parent,omitempty"`

	// Steps is the expected count (used by subtree and exclusive).
	Steps int64 `yaml:"steps,omitempty"`
}

// Assertion type constants.
const (
	AssertChildren  = "children"
	AssertParent    = "parent"
	AssertSubtree   = "subtree"
	AssertExclusive = "exclusive"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "record:" vs "records:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// FindScenarioFiles returns the .yaml and .yml files under dir, sorted.
// A non-empty filter is matched against the file name without extension.
func FindScenarioFiles(dir, filter string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.TopLevelDepth < 0 {
		return fmt.Errorf("top_level_depth must be non-negative")
	}

	for i, rec := range s.Records {
		if rec.Key == "" {
			return fmt.Errorf("records[%d]: key is required", i)
		}
	}
	for i, rec := range s.Expect {
		if rec.Key == "" {
			return fmt.Errorf("expect[%d]: key is required", i)
		}
	}

	if s.Error != "" {
		if !isBuildErrorCode(s.Error) {
			return fmt.Errorf("unknown error code %q", s.Error)
		}
		if s.Expect != nil || len(s.Assertions) > 0 {
			return fmt.Errorf("error scenarios cannot have expect or assertions")
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func isBuildErrorCode(code string) bool {
	switch calltree.BuildErrorCode(code) {
	case calltree.ErrCodeOrderingViolation,
		calltree.ErrCodeDuplicatePath,
		calltree.ErrCodeNegativeSteps,
		calltree.ErrCodeRootRecord:
		return true
	}
	return false
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	if a.Path != "" {
		if _, err := tracepath.Parse(a.Path); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	}

	switch a.Type {
	case AssertChildren:
		if a.Keys == nil {
			return fmt.Errorf("assertions[%d]: keys list is required for children (use [] for a leaf)", index)
		}
	case AssertParent:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for parent", index)
		}
	case AssertSubtree:
	case AssertExclusive:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for exclusive", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
