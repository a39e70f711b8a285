// Command stepsplit turns cumulative Cairo steps of flat call traces into
// the exclusive steps of every call.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/stepsplit/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
