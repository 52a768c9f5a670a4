package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput swaps stdout for the duration of the test.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = old })
	return &buf
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()

	assert.Equal(t, "bioviews", root.Name)
	assert.NotNil(t, root.Flags)

	expectedCommands := []string{"visit", "count", "analytics", "watch", "token"}
	for _, cmdName := range expectedCommands {
		assert.Contains(t, root.Subcommands, cmdName, "Expected subcommand %s to be registered", cmdName)
	}
	assert.Equal(t, len(expectedCommands), len(root.Subcommands))
}

func TestCommandUsage(t *testing.T) {
	out := captureOutput(t)

	require.NoError(t, NewRootCommand().ExecuteArgs(nil))
	assert.Contains(t, out.String(), "Usage: bioviews <command> [args]")
	assert.Contains(t, out.String(), "visit")
	assert.Contains(t, out.String(), "analytics")

	out.Reset()
	require.NoError(t, NewRootCommand().ExecuteArgs([]string{"--help"}))
	assert.Contains(t, out.String(), "Commands:")
}

func TestCommandExecute_Unknown(t *testing.T) {
	err := NewRootCommand().ExecuteArgs([]string{"frobnicate"})
	assert.EqualError(t, err, "unknown command: frobnicate")
}

func TestCommands_RequireProfile(t *testing.T) {
	captureOutput(t)
	for _, name := range []string{"visit", "count", "analytics"} {
		err := NewRootCommand().ExecuteArgs([]string{name})
		assert.Error(t, err, name)
	}
}
