// Package testutil generates synthetic call traces for tests.
//
// Generated blocks are deterministic: the same seed yields byte-identical
// rows, so property tests can be reproduced from a failing seed.
package testutil
