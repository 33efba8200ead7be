package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dogQuery = `{"query": [{"unit": {"layer": "Token", "label": "t", "constraints": [
	{"comparison": {"left": {"reference": "form"}, "comparator": "=", "right": {"string": "dog"}}}]}}],
	"results": [{"resultsPlain": {"context": ["s"], "entities": ["t"]}}]}`

func dogScenario() *Scenario {
	return &Scenario{
		Name:   "dog",
		Corpus: miniCorpus,
		Schema: "schema",
		Query:  dogQuery,
		Assertions: []Assertion{
			{Type: AssertSQLContains, Text: "t.form = 'dog'"},
			{Type: AssertCTEs, Names: []string{"fixed_parts", "match_list", "res1", "res0"}},
		},
	}
}

func TestRun_Pass(t *testing.T) {
	result, err := Run(dogScenario())
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.True(t, result.Compiled())
	assert.Len(t, result.QueryHash, 64)
	assert.Len(t, result.SQLHash, 64)
	assert.Empty(t, result.ErrorCode)
}

func TestRun_FailedAssertion(t *testing.T) {
	s := dogScenario()
	s.Assertions = append(s.Assertions, Assertion{Type: AssertSQLContains, Text: "t.form = 'cat'"})

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "t.form = 'cat'")
}

func TestRun_ExpectedError(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		expect string
		pass   bool
		msg    string
	}{
		{
			name:   "matching code",
			query:  `{"query": [{"unit": {"layer": "Nope", "label": "x"}}]}`,
			expect: "UNKNOWN_REFERENCE",
			pass:   true,
		},
		{
			name:   "other code",
			query:  `{"query": [{"unit": {"layer": "Nope", "label": "x"}}]}`,
			expect: "TYPE_MISMATCH",
			msg:    "expected error TYPE_MISMATCH, got UNKNOWN_REFERENCE",
		},
		{
			name:   "compile succeeds",
			query:  dogQuery,
			expect: "UNKNOWN_REFERENCE",
			msg:    "expected error UNKNOWN_REFERENCE, compile succeeded",
		},
		{
			name:  "unexpected failure",
			query: `{"query": [{"unit": {"layer": "Nope", "label": "x"}}]}`,
			msg:   "compile failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Scenario{Name: tt.name, Corpus: miniCorpus, Schema: "schema", Query: tt.query, Error: tt.expect}
			result, err := Run(s)
			require.NoError(t, err)
			assert.Equal(t, tt.pass, result.Pass, result.Errors)
			if tt.msg != "" {
				require.NotEmpty(t, result.Errors)
				assert.Contains(t, result.Errors[0], tt.msg)
			}
		})
	}
}

func TestRun_BrokenScenario(t *testing.T) {
	t.Run("missing corpus", func(t *testing.T) {
		s := dogScenario()
		s.Corpus = filepath.Join(t.TempDir(), "missing.json")
		_, err := Run(s)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "load scenario corpus")
	})

	t.Run("missing query file", func(t *testing.T) {
		s := dogScenario()
		s.Query = nil
		s.QueryFile = filepath.Join(t.TempDir(), "missing.json")
		_, err := Run(s)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read query file")
	})
}

func TestHarness_CachesCorpus(t *testing.T) {
	h := New()
	for i := 0; i < 3; i++ {
		result, err := h.Run(dogScenario())
		require.NoError(t, err)
		assert.True(t, result.Pass, result.Errors)
	}
	assert.Len(t, h.corpora, 1)
}
