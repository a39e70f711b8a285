package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stepsplit/internal/ir"
)

// executeRoot runs the full command tree with args and returns stdout.
func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "stepsplit", cmd.Use)
	assert.Contains(t, cmd.Long, "exclusive")
}

func TestVersionFlag(t *testing.T) {
	out, err := executeRoot(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, ir.EngineVersion)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"ingest", "run", "infer", "verify", "report", "failed", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestDatabaseFlags(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"ingest", "run", "verify", "report", "failed"} {
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{name})
			require.NoError(t, err)

			dbFlag := subCmd.Flags().Lookup("db")
			require.NotNil(t, dbFlag)
			assert.Equal(t, "stepsplit.db", dbFlag.DefValue)
		})
	}
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	runCmd, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	defaults := map[string]string{
		"config":          "",
		"increment":       "100",
		"workers":         "1",
		"retry-attempts":  "3",
		"failure-dir":     "",
		"top-level-depth": "2",
		"fail-on-anomaly": "false",
		"traversal":       "iterative",
		"metrics-file":    "",
	}
	for name, def := range defaults {
		flag := runCmd.Flags().Lookup(name)
		require.NotNil(t, flag, "flag %s", name)
		assert.Equal(t, def, flag.DefValue, "flag %s", name)
	}
}

func TestTestCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	testCmd, _, err := cmd.Find([]string{"test"})
	require.NoError(t, err)

	updateFlag := testCmd.Flags().Lookup("update")
	require.NotNil(t, updateFlag)
	assert.Equal(t, "false", updateFlag.DefValue)

	filterFlag := testCmd.Flags().Lookup("filter")
	require.NotNil(t, filterFlag)
}

func TestFormatValidation(t *testing.T) {
	// Test valid formats
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	// Test invalid formats
	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	_, err := executeRoot(t, "--format", "invalid", "infer", "missing.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestParseBlockRange(t *testing.T) {
	r, err := parseBlockRange("630000", "630099")
	require.NoError(t, err)
	assert.Equal(t, int64(630000), r.Start)
	assert.Equal(t, int64(630099), r.End)

	for _, args := range [][2]string{{"x", "10"}, {"10", "y"}, {"10", "9"}, {"-1", "5"}} {
		_, err := parseBlockRange(args[0], args[1])
		require.Error(t, err, "args %v", args)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	}
}
