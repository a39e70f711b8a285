package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/stepsplit/internal/calltree"
	"github.com/roach88/stepsplit/internal/tracepath"
)

// AssertionError is returned when a check fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Check or assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// check runs the scenario expectations, the built-in properties and the
// scenario assertions. Returns every failure.
func (h *Harness) check(tree *calltree.Tree, out []tracepath.Record, result *Result) []error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(checkExpect(h.scenario.Expect, out))
	add(checkKeys("anomalies", h.scenario.Anomalies, result.Anomalies))
	add(checkKeys("orphans", h.scenario.Orphans, result.Orphans))
	add(checkConservation(tree, h.records))
	add(checkLeafIdentity(tree, h.records))
	add(checkOrder(h.records, out))

	for _, a := range h.scenario.Assertions {
		add(evaluateAssertion(tree, a))
	}
	return errs
}

func checkExpect(expect []RecordStep, out []tracepath.Record) error {
	if expect == nil {
		return nil
	}
	got := make([]string, len(out))
	for i, rec := range out {
		got[i] = formatStep(rec.Key(), rec.Steps)
	}
	want := make([]string, len(expect))
	for i, step := range expect {
		want[i] = formatStep(step.Key, step.Steps)
	}

	if !slices.Equal(want, got) {
		return &AssertionError{
			Type:     "expect",
			Expected: fmt.Sprintf("[%s]", strings.Join(want, " ")),
			Actual:   fmt.Sprintf("[%s]", strings.Join(got, " ")),
		}
	}
	return nil
}

func checkKeys(kind string, want, got []string) error {
	if want == nil {
		want = []string{}
	}
	if !slices.Equal(want, got) {
		return &AssertionError{
			Type:     kind,
			Expected: fmt.Sprintf("%v", want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

// checkConservation requires every node's subtree to sum to its cumulative
// steps, the root included.
func checkConservation(tree *calltree.Tree, records []tracepath.Record) error {
	for _, rec := range records {
		total, err := tree.SubtreeExclusive(rec.Path)
		if err != nil {
			return err
		}
		if total != rec.Steps {
			return &AssertionError{
				Type:     "conservation",
				Expected: fmt.Sprintf("subtree of %s sums to %d", rec.Key(), rec.Steps),
				Actual:   fmt.Sprintf("%d", total),
			}
		}
	}

	total, err := tree.SubtreeExclusive(tracepath.Root)
	if err != nil {
		return err
	}
	if total != 0 {
		return &AssertionError{
			Type:     "conservation",
			Expected: "root subtree sums to 0",
			Actual:   fmt.Sprintf("%d", total),
		}
	}
	return nil
}

func checkLeafIdentity(tree *calltree.Tree, records []tracepath.Record) error {
	for _, rec := range records {
		children, _ := tree.Children(rec.Path)
		if len(children) > 0 {
			continue
		}
		excl, _ := tree.Exclusive(rec.Path)
		if excl != rec.Steps {
			return &AssertionError{
				Type:     "leaf_identity",
				Expected: fmt.Sprintf("leaf %s keeps %d steps", rec.Key(), rec.Steps),
				Actual:   fmt.Sprintf("%d", excl),
			}
		}
	}
	return nil
}

func checkOrder(in, out []tracepath.Record) error {
	if err := calltree.CheckAlignment(tracepath.Keys(in), tracepath.Keys(out)); err != nil {
		return &AssertionError{
			Type:     "order",
			Expected: "output keys equal input keys",
			Actual:   err.Error(),
		}
	}
	return nil
}

// evaluateAssertion checks a single scenario assertion against the tree.
func evaluateAssertion(tree *calltree.Tree, a Assertion) error {
	p := pathOf(a.Path)

	switch a.Type {
	case AssertChildren:
		children, ok := tree.Children(p)
		if !ok {
			return notInTree(a)
		}
		got := make([]string, len(children))
		for i, c := range children {
			got[i] = c.Key()
		}
		if !slices.Equal(a.Keys, got) {
			return &AssertionError{
				Type:     AssertChildren,
				Expected: fmt.Sprintf("children of %s = %v", p, a.Keys),
				Actual:   fmt.Sprintf("%v", got),
			}
		}

	case AssertParent:
		parent, ok := tree.ParentOf(p)
		if !ok {
			return notInTree(a)
		}
		if parent.Key() != a.Parent {
			return &AssertionError{
				Type:     AssertParent,
				Expected: fmt.Sprintf("parent of %s = %s", p, pathOf(a.Parent)),
				Actual:   parent.String(),
			}
		}

	case AssertSubtree:
		total, err := tree.SubtreeExclusive(p)
		if err != nil {
			return notInTree(a)
		}
		if total != a.Steps {
			return &AssertionError{
				Type:     AssertSubtree,
				Expected: fmt.Sprintf("subtree of %s sums to %d", p, a.Steps),
				Actual:   fmt.Sprintf("%d", total),
			}
		}

	case AssertExclusive:
		excl, ok := tree.Exclusive(p)
		if !ok {
			return notInTree(a)
		}
		if excl != a.Steps {
			return &AssertionError{
				Type:     AssertExclusive,
				Expected: fmt.Sprintf("%s has %d exclusive steps", p, a.Steps),
				Actual:   fmt.Sprintf("%d", excl),
			}
		}

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func notInTree(a Assertion) error {
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s in tree", pathOf(a.Path)),
		Actual:   "not found",
	}
}

// pathOf parses a validated assertion key; "" is the root.
func pathOf(key string) tracepath.Path {
	if key == "" {
		return tracepath.Root
	}
	return tracepath.MustParse(key)
}

func formatStep(key string, steps int64) string {
	return fmt.Sprintf("%s=%d", key, steps)
}
