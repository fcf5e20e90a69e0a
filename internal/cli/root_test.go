package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "livedb", cmd.Use)
	assert.Contains(t, cmd.Long, "LIVEDB_")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"validate", "explain", "run"} {
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{name})
			require.NoError(t, err, "Command %s should exist", name)
			assert.Equal(t, name, subCmd.Name())
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

	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("env-file"))
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRoot_InvalidFormat(t *testing.T) {
	_, _, err := execute(t, "validate", "--format", "xml", defsPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestRoot_FormatFromEnvironment(t *testing.T) {
	t.Setenv("LIVEDB_FORMAT", "json")

	out, _, err := execute(t, "validate", defsPath)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestRoot_FlagOverridesEnvironment(t *testing.T) {
	t.Setenv("LIVEDB_FORMAT", "json")

	out, _, err := execute(t, "validate", "--format", "text", defsPath)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All definitions valid")
}

func TestRoot_ConfigFile(t *testing.T) {
	config := filepath.Join(t.TempDir(), "livedb.yaml")
	require.NoError(t, os.WriteFile(config, []byte("format: json\n"), 0644))

	out, _, err := execute(t, "validate", "--config", config, defsPath)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestRoot_EnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("LIVEDB_VERBOSE=true\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("LIVEDB_VERBOSE") })

	_, stderr, err := execute(t, "validate", "--env-file", envFile, defsPath)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Compiled 1 CUE file(s)")
}

func TestRoot_MissingEnvFile(t *testing.T) {
	_, _, err := execute(t, "validate", "--env-file", "/nonexistent/.env", defsPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load env file")
}
