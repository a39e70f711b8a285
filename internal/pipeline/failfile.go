package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/stepsplit/internal/ir"
)

// FailureFileName returns the name of the failure file for a run over total.
func FailureFileName(total ir.BlockRange) string {
	return fmt.Sprintf("cairo_script_failed_blocks_%d_%d", total.Start, total.End)
}

// WriteFailureFile writes the failed ranges comma-joined, as "[start-end]",
// to dir. Returns the path written.
func WriteFailureFile(dir string, total ir.BlockRange, failures []ir.FailedRange) (string, error) {
	parts := make([]string, len(failures))
	for i, f := range failures {
		parts[i] = f.Range.String()
	}

	path := filepath.Join(dir, FailureFileName(total))
	if err := os.WriteFile(path, []byte(strings.Join(parts, ",")), 0o644); err != nil {
		return "", fmt.Errorf("write failure file: %w", err)
	}
	return path, nil
}

// ReadFailureFile parses a failure file back into block ranges.
func ReadFailureFile(path string) ([]ir.BlockRange, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read failure file: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, nil
	}

	var out []ir.BlockRange
	for _, part := range strings.Split(text, ",") {
		var r ir.BlockRange
		if _, err := fmt.Sscanf(strings.TrimSpace(part), "[%d-%d]", &r.Start, &r.End); err != nil {
			return nil, fmt.Errorf("read failure file: bad entry %q: %w", part, err)
		}
		out = append(out, r)
	}
	return out, nil
}
