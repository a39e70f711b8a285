package calltree

import (
	"github.com/roach88/stepsplit/internal/tracepath"
)

// Records returns the exclusive steps of every non-root node in path order.
// Build rejects unsorted input, so registration order is path order.
func (t *Tree) Records() ([]tracepath.Record, error) {
	if !t.inferred {
		return nil, ErrNotInferred
	}
	out := make([]tracepath.Record, 0, t.Len())
	for h := rootHandle + 1; h < len(t.nodes); h++ {
		out = append(out, tracepath.Record{
			Path:  t.nodes[h].path,
			Steps: t.exclusive[h],
		})
	}
	return out, nil
}

// Run builds, infers and projects in one call.
func Run(records []tracepath.Record, opts Options) ([]tracepath.Record, *Tree, error) {
	tree, err := Build(records, opts)
	if err != nil {
		return nil, nil, err
	}
	if err := tree.Infer(); err != nil {
		return nil, nil, err
	}
	out, err := tree.Records()
	if err != nil {
		return nil, nil, err
	}
	return out, tree, nil
}

// CheckAlignment verifies that got lists the same keys as want, position for
// position. Callers merging exclusive steps back onto their input rows must
// treat a mismatch as fatal for the batch.
func CheckAlignment(want, got []string) error {
	n := min(len(want), len(got))
	for i := 0; i < n; i++ {
		if want[i] != got[i] {
			return &AlignmentError{Position: i, Want: want[i], Got: got[i], WantLen: len(want), GotLen: len(got)}
		}
	}
	if len(want) != len(got) {
		e := &AlignmentError{Position: n, WantLen: len(want), GotLen: len(got)}
		if n < len(want) {
			e.Want = want[n]
		}
		if n < len(got) {
			e.Got = got[n]
		}
		return e
	}
	return nil
}
