package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cobquec/internal/querysql"
)

const sampleSQL = "WITH RECURSIVE fixed_parts AS (SELECT s.segment_id AS s FROM schema.segment0 s),\n" +
	"match_list AS (SELECT fixed_parts.s FROM fixed_parts),\n" +
	"res1 AS (SELECT DISTINCT 1::int2 AS rstype, jsonb_build_array(s) FROM match_list),\n" +
	"res0 AS (SELECT 0::int2 AS rstype, jsonb_build_array(count(match_list.*)) FROM match_list)\n" +
	"SELECT * FROM res0\nUNION ALL\nSELECT * FROM res1"

func sampleResult() *Result {
	r := NewResult()
	r.SQL = sampleSQL
	r.Meta = querysql.Meta{ResultSets: []querysql.ResultSet{{Name: "plain", Type: "plain"}}}
	r.PostProcesses = map[int][]querysql.Filter{
		1: {{Attribute: "frequency", Comparator: ">", Value: "10"}},
	}
	return r
}

func TestCTENames(t *testing.T) {
	assert.Equal(t, []string{"fixed_parts", "match_list", "res1", "res0"}, CTENames(sampleSQL))
	assert.Empty(t, CTENames("SELECT 1"))
}

func TestEvaluateAssertions(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		pass      bool
	}{
		{"contains", Assertion{Type: AssertSQLContains, Text: "schema.segment0 s"}, true},
		{"contains missing", Assertion{Type: AssertSQLContains, Text: "schema.token0"}, false},
		{"not contains", Assertion{Type: AssertSQLNotContains, Text: "disjunction1"}, true},
		{"not contains present", Assertion{Type: AssertSQLNotContains, Text: "match_list"}, false},
		{"order", Assertion{Type: AssertSQLOrder, Parts: []string{"fixed_parts AS", "res1 AS", "res0 AS"}}, true},
		{"order reversed", Assertion{Type: AssertSQLOrder, Parts: []string{"res0 AS", "res1 AS"}}, false},
		{"ctes", Assertion{Type: AssertCTEs, Names: []string{"fixed_parts", "match_list", "res1", "res0"}}, true},
		{"ctes partial", Assertion{Type: AssertCTEs, Names: []string{"fixed_parts", "match_list"}}, false},
		{"result sets", Assertion{Type: AssertResultSets, Names: []string{"plain"}}, true},
		{"result sets mismatch", Assertion{Type: AssertResultSets, Names: []string{"analysis"}}, false},
		{"post process", Assertion{Type: AssertPostProcess, Result: 1, Text: "frequency > 10"}, true},
		{"post process value", Assertion{Type: AssertPostProcess, Result: 1, Text: "frequency > 5"}, false},
		{"post process other result", Assertion{Type: AssertPostProcess, Result: 2, Text: "frequency > 10"}, false},
		{"unknown", Assertion{Type: "sql_matches"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(sampleResult(), []Assertion{tt.assertion})
			if tt.pass {
				assert.Empty(t, errs)
			} else {
				assert.Len(t, errs, 1)
			}
		})
	}
}

func TestAssertSQLOrder_Messages(t *testing.T) {
	err := assertSQLOrder(sampleSQL, Assertion{Type: AssertSQLOrder, Parts: []string{"res0 AS", "res1 AS"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `found before "res0 AS"`)

	err = assertSQLOrder(sampleSQL, Assertion{Type: AssertSQLOrder, Parts: []string{"res0 AS", "gather AS"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Actual: not found")
}

func TestAssertionError(t *testing.T) {
	err := &AssertionError{Type: AssertCTEs, Expected: "a, b", Actual: "a"}
	assert.Equal(t, "Assertion failed: ctes\n  Expected: a, b\n  Actual: a", err.Error())
}

func TestAssertPostProcess_ReportsFilters(t *testing.T) {
	err := assertPostProcess(sampleResult(), Assertion{Type: AssertPostProcess, Result: 1, Text: "frequency < 3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Actual: frequency > 10")

	err = assertPostProcess(NewResult(), Assertion{Type: AssertPostProcess, Result: 1, Text: "frequency < 3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no post-processing filters")
}
