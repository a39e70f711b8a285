// Package harness runs call tree scenarios described in YAML.
//
// # Scenario Format
//
//	name: nested_fee_call
//	description: "Top-level call with a nested call and a fee call"
//	top_level_depth: 2
//	records:
//	  - { key: "10_7", steps: 100 }
//	  - { key: "10_7_0", steps: 10 }
//	expect:
//	  - { key: "10_7", steps: 90 }
//	  - { key: "10_7_0", steps: 10 }
//	anomalies: []
//	orphans: []
//	error: ""            # expected BuildError code, e.g. DUPLICATE_PATH
//	assertions:
//	  - type: children
//	    path: "10_7"
//	    keys: ["10_7_0"]
//	  - type: subtree
//	    path: "10_7"
//	    steps: 100
//
// Records must already be in path order; the harness feeds them to the
// engine as given, so ordering mistakes surface as ORDERING_VIOLATION.
//
// # Checks
//
// Every scenario that builds a tree is run with both traversals, which must
// agree. On top of the scenario's own expectations, Run always checks:
//
//   - Conservation: every node's subtree total equals its cumulative steps,
//     and the root's subtree total equals the sum of its children.
//   - Leaf identity: leaves keep their cumulative steps.
//   - Order preservation: output keys equal input keys position for position.
//
// # Golden Files
//
// RunWithGolden renders a Snapshot of the result as indented JSON and
// compares it with testdata/golden/<name>.golden using goldie:
//
//	go test ./internal/harness -update
package harness
