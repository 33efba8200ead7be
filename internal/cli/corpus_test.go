package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cobquec/internal/catalog"
	"github.com/roach88/cobquec/internal/testutil"
)

const corpusYAML = `
firstClass: {token: Token, segment: Segment, document: Document}
layer:
  Token:
    layerType: unit
    anchoring: {stream: true}
    attributes:
      form: {type: text}
  Segment:
    layerType: span
    contains: Token
  Document:
    layerType: span
    contains: Segment
mapping:
  layer:
    Token: {relation: "token<batch>", batches: 1}
    Segment: {relation: "segment<batch>"}
    Document: {relation: document}
`

func TestCorpus_AddListShow(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "catalog.db")
	mini := writeFile(t, dir, "mini.json", testutil.CorpusJSON)
	tiny := writeFile(t, dir, "tiny.yaml", corpusYAML)

	out, err := execute(t, "--format", "json", "corpus", "add", "mini", mini, "--schema", "mini1", "--catalog", db)
	require.NoError(t, err)
	var added struct {
		Data catalog.Summary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &added))
	assert.Equal(t, "mini", added.Data.Name)
	assert.Equal(t, 1, added.Data.Revision)

	out, err = execute(t, "corpus", "add", "tiny", tiny, "--schema", "tiny1", "--catalog", db)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Registered tiny (schema tiny1, revision 1)")

	out, err = execute(t, "--format", "json", "corpus", "list", "--catalog", db)
	require.NoError(t, err)
	var listed struct {
		Data []catalog.Summary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed.Data, 2)
	assert.Equal(t, "mini", listed.Data[0].Name)
	assert.Equal(t, "tiny", listed.Data[1].Name)

	out, err = execute(t, "--format", "json", "corpus", "show", "tiny", "--catalog", db)
	require.NoError(t, err)
	var shown struct {
		Data CorpusDetail `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "tiny1", shown.Data.Schema)
	assert.Equal(t, "Token", shown.Data.Token)
	assert.ElementsMatch(t, []string{"Token", "Segment", "Document"}, shown.Data.Layers)
	assert.Empty(t, shown.Data.Config)

	out, err = execute(t, "corpus", "show", "mini", "--catalog", db, "--verbose")
	require.NoError(t, err)
	assert.Contains(t, out, "mini (schema mini1, revision 1)")
	assert.Contains(t, out, "NamedEntity")
}

func TestCorpus_Revision(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "catalog.db")
	mini := writeFile(t, dir, "mini.json", testutil.CorpusJSON)
	tiny := writeFile(t, dir, "tiny.yaml", corpusYAML)

	_, err := execute(t, "corpus", "add", "c", mini, "--schema", "s", "--catalog", db)
	require.NoError(t, err)
	_, err = execute(t, "corpus", "add", "c", mini, "--schema", "s", "--catalog", db)
	require.NoError(t, err)
	out, err := execute(t, "corpus", "add", "c", tiny, "--schema", "s", "--catalog", db)
	require.NoError(t, err)
	assert.Contains(t, out, "revision 2")
}

func TestCorpus_Errors(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "catalog.db")
	mini := writeFile(t, dir, "mini.json", testutil.CorpusJSON)
	broken := writeFile(t, dir, "broken.json", `{"firstClass": {"token": "Missing"}}`)

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"add without schema", []string{"corpus", "add", "mini", mini, "--catalog", db}, ErrCodeMissingInput},
		{"add without catalog", []string{"corpus", "add", "mini", mini, "--schema", "s"}, ErrCodeMissingInput},
		{"add invalid descriptor", []string{"corpus", "add", "mini", broken, "--schema", "s", "--catalog", db}, ErrCodeCorpus},
		{"show unknown", []string{"corpus", "show", "nope", "--catalog", db}, ErrCodeNotFound},
		{"list without catalog", []string{"corpus", "list"}, ErrCodeMissingInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, append([]string{"--format", "json"}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))

			var resp CLIResponse
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestCorpus_EmptyList(t *testing.T) {
	db := filepath.Join(t.TempDir(), "catalog.db")

	out, err := execute(t, "corpus", "list", "--catalog", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No corpora registered")
}
