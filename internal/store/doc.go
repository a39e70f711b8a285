// Package store provides SQLite-backed storage for trace rows and the
// exclusive steps computed from them.
//
// Tables:
//   - traces: source rows, cumulative steps (the pipeline's input)
//   - cairo_steps: source columns plus individual_steps (the output)
//   - batches: committed block ranges with a content digest
//   - failed_ranges: block ranges a run could not process
//
// # Ordering
//
// Reads order by block_number, then trace_id COLLATE BINARY. Binary order is
// NOT call-tree order ("10_7_10" sorts before "10_7_1_0"); callers feeding the
// call tree must re-sort with tracepath.Sort.
//
// # Idempotency
//
// All writes upsert on their natural key, so re-running a block range
// overwrites its previous output instead of duplicating it.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
