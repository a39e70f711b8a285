package cli

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/stepsplit/internal/config"
	"github.com/roach88/stepsplit/internal/ir"
	"github.com/roach88/stepsplit/internal/store"
)

func addDatabaseFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVar(path, "db", config.DefaultDatabase, "path to SQLite database")
}

// openStore opens the database, mapping failures to ExitCommandError.
// The returned func closes the store and logs any close error.
func openStore(path string) (*store.Store, func(), error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}, nil
}

// parseBlockRange parses the <start> <end> arguments shared by the range
// commands.
func parseBlockRange(startArg, endArg string) (ir.BlockRange, error) {
	start, err := strconv.ParseInt(startArg, 10, 64)
	if err != nil {
		return ir.BlockRange{}, NewExitError(ExitCommandError, fmt.Sprintf("invalid start block %q", startArg))
	}
	end, err := strconv.ParseInt(endArg, 10, 64)
	if err != nil {
		return ir.BlockRange{}, NewExitError(ExitCommandError, fmt.Sprintf("invalid end block %q", endArg))
	}
	if start < 0 || end < start {
		return ir.BlockRange{}, NewExitError(ExitCommandError, fmt.Sprintf("invalid block range %d-%d", start, end))
	}
	return ir.BlockRange{Start: start, End: end}, nil
}
