package calltree

import (
	"fmt"

	"github.com/roach88/stepsplit/internal/tracepath"
)

// rootHandle is the arena index of the synthetic root.
const rootHandle = 0

// Traversal selects how Infer walks the tree.
type Traversal int

const (
	// TraversalIterative walks with an explicit stack. Stack use is bounded
	// regardless of call depth.
	TraversalIterative Traversal = iota

	// TraversalRecursive walks with Go recursion, one frame per tree level.
	TraversalRecursive
)

// String returns the traversal name accepted by ParseTraversal.
func (t Traversal) String() string {
	switch t {
	case TraversalIterative:
		return "iterative"
	case TraversalRecursive:
		return "recursive"
	default:
		return fmt.Sprintf("Traversal(%d)", int(t))
	}
}

// ParseTraversal maps "iterative" or "recursive" to a Traversal.
// The empty string selects the default.
func ParseTraversal(s string) (Traversal, error) {
	switch s {
	case "", "iterative":
		return TraversalIterative, nil
	case "recursive":
		return TraversalRecursive, nil
	default:
		return 0, fmt.Errorf("unknown traversal %q: must be iterative or recursive", s)
	}
}

// Options configures tree construction and inference.
type Options struct {
	// Traversal selects the inference walk. Defaults to TraversalIterative.
	Traversal Traversal

	// TopLevelDepth is the path length of calls expected to hang off the root.
	// A non-reserved path longer than this whose parent is missing is recorded
	// as an Orphan. Zero disables orphan reporting.
	//
	// Keys of the form {block}_{tx}_{call...} use 2.
	TopLevelDepth int
}

// Orphan records a non-reserved path that fell back to the root because its
// structural parent was never registered. Usually a sign of an out-of-order
// or truncated batch.
type Orphan struct {
	Path   tracepath.Path
	Parent tracepath.Path
}

// Anomaly records a node whose children account for more steps than the node
// itself, leaving a negative exclusive count.
type Anomaly struct {
	Path          tracepath.Path
	Cumulative    int64
	ChildrenTotal int64
	Exclusive     int64
}

type node struct {
	path       tracepath.Path
	cumulative int64
	parent     int
	children   []int
}

// Tree is an arena-backed call tree for one batch.
type Tree struct {
	opts    Options
	nodes   []node
	handles map[string]int
	orphans []Orphan

	inferred  bool
	exclusive []int64
	anomalies []Anomaly
}

// Build constructs a tree from records sorted in tracepath order.
//
// Records are registered in input order. Build does not sort; it fails with
// an ORDERING_VIOLATION BuildError as soon as a record sorts before its
// predecessor, and with DUPLICATE_PATH when a path repeats.
func Build(records []tracepath.Record, opts Options) (*Tree, error) {
	t := &Tree{
		opts:    opts,
		nodes:   make([]node, 1, len(records)+1),
		handles: make(map[string]int, len(records)+1),
	}
	t.nodes[rootHandle] = node{path: tracepath.Root, parent: -1}
	t.handles[tracepath.Root.Key()] = rootHandle

	var prev tracepath.Path
	for i, rec := range records {
		if err := t.checkRecord(i, rec, prev); err != nil {
			return nil, err
		}
		t.add(rec)
		prev = rec.Path
	}

	return t, nil
}

func (t *Tree) checkRecord(i int, rec tracepath.Record, prev tracepath.Path) error {
	if rec.Path.IsRoot() {
		return &BuildError{Code: ErrCodeRootRecord, Index: i, Path: rec.Path}
	}
	if rec.Steps < 0 {
		return &BuildError{Code: ErrCodeNegativeSteps, Index: i, Path: rec.Path}
	}
	if i == 0 {
		return nil
	}
	switch c := tracepath.Compare(rec.Path, prev); {
	case c == 0:
		return &BuildError{Code: ErrCodeDuplicatePath, Index: i, Path: rec.Path, Previous: prev}
	case c < 0:
		return &BuildError{Code: ErrCodeOrderingViolation, Index: i, Path: rec.Path, Previous: prev}
	}
	return nil
}

func (t *Tree) add(rec tracepath.Record) {
	h := len(t.nodes)
	parentPath, _ := rec.Path.Parent()

	parent, registered := t.handles[parentPath.Key()]
	if !registered || rec.Path.Reserved() {
		parent = rootHandle
	}
	if !registered && !rec.Path.Reserved() && t.opts.TopLevelDepth > 0 && len(rec.Path) > t.opts.TopLevelDepth {
		t.orphans = append(t.orphans, Orphan{Path: rec.Path, Parent: parentPath})
	}

	t.nodes = append(t.nodes, node{
		path:       rec.Path,
		cumulative: rec.Steps,
		parent:     parent,
	})
	t.nodes[parent].children = append(t.nodes[parent].children, h)
	t.handles[rec.Path.Key()] = h
}

// Len returns the number of real (non-root) nodes.
func (t *Tree) Len() int {
	return len(t.nodes) - 1
}

// Orphans returns the non-reserved paths that fell back to the root.
func (t *Tree) Orphans() []Orphan {
	return t.orphans
}

// Inferred reports whether Infer has run.
func (t *Tree) Inferred() bool {
	return t.inferred
}

// Children returns the paths attached directly under p, in registration
// order. Returns false if p is not in the tree.
func (t *Tree) Children(p tracepath.Path) ([]tracepath.Path, bool) {
	h, ok := t.handles[p.Key()]
	if !ok {
		return nil, false
	}
	out := make([]tracepath.Path, len(t.nodes[h].children))
	for i, c := range t.nodes[h].children {
		out[i] = t.nodes[c].path
	}
	return out, true
}

// ParentOf returns the path p was attached under. The root has no parent.
func (t *Tree) ParentOf(p tracepath.Path) (tracepath.Path, bool) {
	h, ok := t.handles[p.Key()]
	if !ok || h == rootHandle {
		return nil, false
	}
	return t.nodes[t.nodes[h].parent].path, true
}

// Cumulative returns the input steps recorded for p. The root reports 0.
func (t *Tree) Cumulative(p tracepath.Path) (int64, bool) {
	h, ok := t.handles[p.Key()]
	if !ok {
		return 0, false
	}
	return t.nodes[h].cumulative, true
}
