// Package pipeline drives the call tree engine over a block range.
//
// The range is cut into fixed-size block ranges (default 100 blocks). Each
// range is processed on its own:
//
//  1. Read the source rows (retried with exponential backoff).
//  2. Format: missing steps become 0, trace ids are parsed and the rows are
//     re-sorted into call-tree order.
//  3. Build a fresh calltree.Tree, infer exclusive steps, project.
//  4. Check that the projection lists the input keys position for position.
//  5. Write rows with individual_steps attached, then record the batch
//     (both retried).
//
// Any failure marks that range failed and processing moves on to the next
// range; a run never aborts on a single bad range. When a run ends with
// failures, their ranges are written comma-joined to a failure file named
// cairo_script_failed_blocks_<start>_<end>.
//
// Ranges may run on several workers. Each worker owns its tree; the store
// serializes writes.
package pipeline
