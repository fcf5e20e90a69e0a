package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runExplainCommand(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewExplainCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestExplain_AllQueries(t *testing.T) {
	out, err := runExplainCommand(t, "text", defsPath)
	require.NoError(t, err)

	assert.Contains(t, out, "query open\n")
	assert.Contains(t, out, "query withTeam\n")
	assert.Contains(t, out, `from t: collection "todos"`)
	assert.Contains(t, out, "[index done]")
	assert.Contains(t, out, `join left u: collection "users"`)
}

func TestExplain_SelectedQueryJSON(t *testing.T) {
	out, err := runExplainCommand(t, "json", defsPath, "--query", "open")
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   []ExplainedQuery `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "open", resp.Data[0].Name)
	assert.Contains(t, resp.Data[0].Plan, "order by t.title asc")
}

func TestExplain_UnknownQuery(t *testing.T) {
	out, err := runExplainCommand(t, "text", defsPath, "-q", "closed")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, `unknown query "closed"`)
}

func TestExplain_InvalidDefinitions(t *testing.T) {
	_, err := runExplainCommand(t, "text", invalidPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
