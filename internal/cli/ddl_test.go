package cli

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestDDLGolden(t *testing.T) {
	path := writeRepo(t, "")

	out, err := execute(t, "--config", path, "ddl")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "ddl_sqlite", []byte(out))
}

func TestDDLStatements(t *testing.T) {
	path := writeRepo(t, "")

	out, err := execute(t, "--config", path, "ddl", "--statements")
	require.NoError(t, err)
	assert.Contains(t, out, "-- table dc_subjects\n")
	assert.Contains(t, out, `DELETE FROM "hierarchy" WHERE "id" = ?;`)
	assert.Contains(t, out, "-- copy\n")
}

func TestDDLJSON(t *testing.T) {
	path := writeRepo(t, "idPolicy: db_identity\nseparateMainTable: true\n")

	out, err := execute(t, "--config", path, "--format", "json", "ddl", "--statements")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   DDLResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "sqlite", resp.Data.Dialect)
	assert.Len(t, resp.Data.DDL, len(resp.Data.Statements)+1)

	byTable := make(map[string]map[string]string)
	for _, ts := range resp.Data.Statements {
		byTable[ts.Table] = ts.Statements
	}
	require.Contains(t, byTable, "types")
	assert.Contains(t, byTable["types"], "identity")
	assert.NotContains(t, byTable["hierarchy"], "identity")
	assert.NotContains(t, byTable["dc_subjects"], "update")
}

func TestDDLMissingSchemas(t *testing.T) {
	out, err := execute(t, "--config", writeRepo(t, "schemas: elsewhere\n"), "ddl")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")
}
