package calltree

import (
	"github.com/roach88/stepsplit/internal/tracepath"
)

// split is the per-node inference step. Given a node's cumulative steps and
// the cumulative steps of its direct children, it returns the node's
// exclusive steps and the cumulative value its parent must subtract.
func split(cumulative, childrenCumulative int64) (exclusive, passUp int64) {
	return cumulative - childrenCumulative, cumulative
}

// Infer converts every node from cumulative to exclusive steps in one
// post-order pass from the root. It must run exactly once; a second call
// returns ErrAlreadyInferred and leaves the results untouched.
//
// Nodes left with negative exclusive steps are reported by Anomalies. The
// root's own value is discarded.
func (t *Tree) Infer() error {
	if t.inferred {
		return ErrAlreadyInferred
	}

	exclusive := make([]int64, len(t.nodes))
	switch t.opts.Traversal {
	case TraversalRecursive:
		t.inferRecursive(rootHandle, exclusive)
	default:
		t.inferIterative(exclusive)
	}

	t.exclusive = exclusive
	t.inferred = true

	for h := rootHandle + 1; h < len(t.nodes); h++ {
		if exclusive[h] < 0 {
			n := t.nodes[h]
			t.anomalies = append(t.anomalies, Anomaly{
				Path:          n.path,
				Cumulative:    n.cumulative,
				ChildrenTotal: n.cumulative - exclusive[h],
				Exclusive:     exclusive[h],
			})
		}
	}
	return nil
}

// inferRecursive settles h's subtree and returns h's cumulative steps.
func (t *Tree) inferRecursive(h int, exclusive []int64) int64 {
	n := &t.nodes[h]
	var childSum int64
	for _, c := range n.children {
		childSum += t.inferRecursive(c, exclusive)
	}
	excl, cum := split(n.cumulative, childSum)
	exclusive[h] = excl
	return cum
}

type frame struct {
	handle   int
	next     int   // index of the next child to visit
	childSum int64 // cumulative steps of children settled so far
}

// inferIterative is inferRecursive with an explicit stack.
func (t *Tree) inferIterative(exclusive []int64) {
	stack := []frame{{handle: rootHandle}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		n := &t.nodes[top.handle]

		if top.next < len(n.children) {
			child := n.children[top.next]
			top.next++
			stack = append(stack, frame{handle: child})
			continue
		}

		excl, cum := split(n.cumulative, top.childSum)
		exclusive[top.handle] = excl
		stack = stack[:len(stack)-1]
		if len(stack) > 0 {
			stack[len(stack)-1].childSum += cum
		}
	}
}

// Anomalies returns nodes whose exclusive steps came out negative.
func (t *Tree) Anomalies() []Anomaly {
	return t.anomalies
}

// Exclusive returns p's exclusive steps. Returns false before Infer or if p
// is not in the tree.
func (t *Tree) Exclusive(p tracepath.Path) (int64, bool) {
	if !t.inferred {
		return 0, false
	}
	h, ok := t.handles[p.Key()]
	if !ok {
		return 0, false
	}
	return t.exclusive[h], true
}

// SubtreeExclusive sums exclusive steps over p's whole subtree, p included.
// After Infer this equals p's cumulative steps.
func (t *Tree) SubtreeExclusive(p tracepath.Path) (int64, error) {
	if !t.inferred {
		return 0, ErrNotInferred
	}
	h, ok := t.handles[p.Key()]
	if !ok {
		return 0, &BuildError{Code: ErrCodeUnknownPath, Index: -1, Path: p}
	}

	var total int64
	pending := []int{h}
	for len(pending) > 0 {
		cur := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		total += t.exclusive[cur]
		pending = append(pending, t.nodes[cur].children...)
	}
	return total, nil
}
