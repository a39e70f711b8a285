package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "s.yaml", `
name: s
description: "two calls"
top_level_depth: 2
records:
  - { key: "10_7", steps: 100 }
  - { key: "10_7_0", steps: 10 }
expect:
  - { key: "10_7", steps: 90 }
  - { key: "10_7_0", steps: 10 }
assertions:
  - type: children
    path: "10_7"
    keys: ["10_7_0"]
`)

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "s", s.Name)
	assert.Equal(t, 2, s.TopLevelDepth)
	assert.Len(t, s.Records, 2)
	assert.Equal(t, RecordStep{Key: "10_7", Steps: 90}, s.Expect[0])
	require.Len(t, s.Assertions, 1)
	assert.Equal(t, []string{"10_7_0"}, s.Assertions[0].Keys)
}

func TestLoadScenario_EmptyExpect(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "s.yaml", `
name: s
description: "empty"
records: []
expect: []
`)

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.NotNil(t, s.Expect, "an explicit empty list is still checked")
	assert.Empty(t, s.Expect)
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown field", "name: s\ndescription: d\nrecord: []\n", "failed to parse YAML"},
		{"missing name", "description: d\n", "name is required"},
		{"missing description", "name: s\n", "description is required"},
		{"empty key", "name: s\ndescription: d\nrecords:\n  - { key: \"\", steps: 1 }\n", "records[0]: key is required"},
		{"unknown error code", "name: s\ndescription: d\nerror: BOGUS\n", "unknown error code"},
		{"error with expect", "name: s\ndescription: d\nerror: DUPLICATE_PATH\nexpect: []\n", "cannot have expect"},
		{"unknown assertion", "name: s\ndescription: d\nassertions:\n  - type: sibling\n", "unknown assertion type"},
		{"children without keys", "name: s\ndescription: d\nassertions:\n  - type: children\n    path: \"1_0\"\n", "keys list is required"},
		{"bad assertion path", "name: s\ndescription: d\nassertions:\n  - type: subtree\n    path: \"1__0\"\n", "assertions[0]"},
		{"negative depth", "name: s\ndescription: d\ntop_level_depth: -1\n", "top_level_depth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScenario(t, t.TempDir(), "s.yaml", tt.content)
			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestFindScenarioFiles(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "b.yaml", "")
	writeScenario(t, dir, "a.yml", "")
	writeScenario(t, dir, "notes.txt", "")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "golden"), 0o755))
	writeScenario(t, filepath.Join(dir, "golden"), "a.golden", "")

	files, err := FindScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yml"), filepath.Join(dir, "b.yaml")}, files)

	files, err = FindScenarioFiles(dir, "b*")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.yaml")}, files)
}
