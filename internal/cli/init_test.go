package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initJSON(t *testing.T, path string) InitResult {
	t.Helper()
	out, err := execute(t, "--config", path, "--format", "json", "init")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   InitResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestInitIsRepeatable(t *testing.T) {
	path := writeRepo(t, "")

	first := initJSON(t, path)
	assert.Equal(t, "test", first.Name)
	assert.Equal(t, "sqlite", first.Dialect)
	assert.Equal(t, 6, first.Tables)
	assert.NotEmpty(t, first.Root)

	second := initJSON(t, path)
	assert.Equal(t, first.Root, second.Root)
}

func TestInitDBIdentity(t *testing.T) {
	path := writeRepo(t, "idPolicy: db_identity\n")

	out, err := execute(t, "--config", path, "init")
	require.NoError(t, err)
	assert.Equal(t, "✓ Repository test initialized (6 tables, root 1)\n", out)
}

func TestInitMissingSchemas(t *testing.T) {
	out, err := execute(t, "--config", writeRepo(t, "schemas: elsewhere\n"), "init")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")
}
