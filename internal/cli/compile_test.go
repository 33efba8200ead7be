package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cobquec/internal/ir"
	"github.com/roach88/cobquec/internal/testutil"
)

// runCompileCmd executes a standalone compile command.
func runCompileCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewCompileCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestCompile_Text(t *testing.T) {
	query, config := fixture(t)

	out, err := runCompileCmd(t, "text", query, "--config", config, "--schema", "schema")
	require.NoError(t, err)

	assert.Contains(t, out, "-- query_hash: "+ir.MustQueryHash([]byte(dogQuery)))
	assert.Contains(t, out, "-- sql_hash: ")
	assert.Contains(t, out, "-- result set: plain (plain)")
	assert.Contains(t, out, "WITH RECURSIVE fixed_parts AS (SELECT s.segment_id AS s, t.token_id AS t FROM schema.segment0 s")
	assert.Contains(t, out, "t.form = 'dog'")
}

func TestCompile_JSON(t *testing.T) {
	query, config := fixture(t)

	out, err := runCompileCmd(t, "json", query, "--config", config, "--schema", "schema", "--batch", "token0")
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   CompilationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, strings.HasPrefix(resp.Data.SQL, "WITH RECURSIVE fixed_parts AS"))
	assert.Equal(t, ir.SQLHash(resp.Data.SQL, "schema", "token0"), resp.Data.SQLHash)
	assert.Equal(t, ir.MustQueryHash([]byte(dogQuery)), resp.Data.QueryHash)
	assert.Equal(t, "schema", resp.Data.Schema)
	assert.Equal(t, "token0", resp.Data.Batch)
	assert.Empty(t, resp.Data.PostProcesses)
	require.Len(t, resp.Data.Meta.ResultSets, 1)
	assert.Equal(t, "plain", resp.Data.Meta.ResultSets[0].Type)
}

func TestCompile_PostProcesses(t *testing.T) {
	dir := t.TempDir()
	config := writeFile(t, dir, "corpus.json", testutil.CorpusJSON)
	query := writeFile(t, dir, "query.json", `{
		"query": [
			{"unit": {"layer": "Segment", "label": "s"}},
			{"unit": {"layer": "Token", "label": "t", "partOf": "s"}}
		],
		"results": [{"resultsAnalysis": {
			"attributes": ["t.lemma"],
			"functions": ["frequency"],
			"filter": {"comparison": {"left": {"reference": "frequency"}, "comparator": ">", "right": {"string": "10"}}}
		}}]
	}`)

	out, err := runCompileCmd(t, "json", query, "--config", config, "--schema", "schema")
	require.NoError(t, err)

	var resp struct {
		Data struct {
			PostProcesses map[string][]map[string]string `json:"post_processes"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Contains(t, resp.Data.PostProcesses, "1")
	assert.Equal(t, []map[string]string{{"attribute": "frequency", "comparator": ">", "value": "10"}},
		resp.Data.PostProcesses["1"])
}

func TestCompile_OutputToFile(t *testing.T) {
	query, config := fixture(t)
	outputFile := filepath.Join(t.TempDir(), "compiled.json")

	_, err := runCompileCmd(t, "text", query, "--config", config, "--schema", "schema", "--output", outputFile)
	require.NoError(t, err)

	data, err := os.ReadFile(outputFile)
	require.NoError(t, err)
	var result CompilationResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.NotEmpty(t, result.SQL)
	assert.Equal(t, "token0", result.Batch)
}

func TestCompile_Stdin(t *testing.T) {
	_, config := fixture(t)

	buf := &bytes.Buffer{}
	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetIn(strings.NewReader(dogQuery))
	cmd.SetArgs([]string{"-", "--config", config, "--schema", "schema"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "fixed_parts")
}

func TestCompile_Errors(t *testing.T) {
	query, config := fixture(t)
	bad := writeFile(t, t.TempDir(), "bad.json",
		`{"query": [{"unit": {"layer": "Token", "label": "t"}}],
		  "results": [{"resultsPlain": {"context": ["s"], "entities": ["zz"]}}]}`)

	tests := []struct {
		name     string
		args     []string
		code     string
		exitCode int
	}{
		{"missing query file", []string{"nope.json", "--config", config, "--schema", "s"}, ErrCodeReadFailed, ExitCommandError},
		{"no corpus", []string{query, "--schema", "s"}, ErrCodeMissingInput, ExitCommandError},
		{"corpus without catalog", []string{query, "--corpus", "mini"}, ErrCodeMissingInput, ExitCommandError},
		{"bad descriptor", []string{query, "--config", query, "--schema", "s"}, ErrCodeCorpus, ExitCommandError},
		{"no schema", []string{query, "--config", config}, "INVALID_QUERY", ExitFailure},
		{"unknown entity", []string{bad, "--config", config, "--schema", "s"}, "UNKNOWN_REFERENCE", ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCompileCmd(t, "json", tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.exitCode, GetExitCode(err))

			var resp CLIResponse
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestCompile_FromCatalog(t *testing.T) {
	query, config := fixture(t)
	db := filepath.Join(t.TempDir(), "catalog.db")

	_, err := execute(t, "corpus", "add", "mini", config, "--schema", "mini1", "--catalog", db)
	require.NoError(t, err)

	out, err := runCompileCmd(t, "text", query, "--catalog", db, "--corpus", "mini")
	require.NoError(t, err)
	assert.Contains(t, out, "FROM mini1.segment0 s", "schema comes from the catalog entry")

	out, err = runCompileCmd(t, "text", query, "--catalog", db, "--corpus", "mini", "--schema", "override")
	require.NoError(t, err)
	assert.Contains(t, out, "FROM override.segment0 s")

	out, err = runCompileCmd(t, "json", query, "--catalog", db, "--corpus", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
}
