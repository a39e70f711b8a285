// Package ir holds the row types shared by the store, the batch pipeline and
// the CLI.
//
// This package contains type definitions and their content hashes only. All
// other internal packages may import ir; ir imports nothing internal except
// tracepath.
//
// Key design constraints:
//   - NO float types anywhere - steps are int64
//   - Missing source steps are a nil pointer, never a sentinel value
//   - All JSON tags use snake_case
package ir
