// Package calltree rebuilds a transaction call tree from flat, sorted path
// keys and splits cumulative step counts into exclusive ones.
//
// Input records carry cumulative steps: an internal call's count includes
// every nested call. The tree is reconstructed from the keys alone, no parent
// pointers are stored upstream.
//
// LIFECYCLE:
//
//  1. Build: records are registered in input order into an arena of nodes.
//     Handle 0 is the synthetic root (empty path, 0 steps).
//  2. Infer: one post-order pass computes, for every node,
//     exclusive = cumulative - sum(children cumulative). Runs exactly once.
//  3. Records: exclusive records for every non-root node, in path order.
//
// ATTACHMENT RULE:
//
// A record attaches to its structural parent (last token dropped) when that
// parent was already registered. It attaches to the root when the parent is
// missing, or when its last token is reserved ("v" validation, "f" fee
// payment). Validation and fee calls are direct children of the transaction,
// never nested under the numeric call that shares their prefix.
//
// INVARIANTS:
//
//   - Conservation: for every node, the exclusive steps of its whole subtree
//     sum to its cumulative steps. Holds for the root too.
//   - Leaves keep exclusive == cumulative.
//   - Output keys equal input keys, position for position.
//
// A Tree is not safe for concurrent use. Each batch gets its own Tree.
package calltree
