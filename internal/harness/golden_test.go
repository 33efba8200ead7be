package harness

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cobquec/internal/querysql"
)

func TestSnapshot(t *testing.T) {
	result := sampleResult()
	result.QueryHash = "abc"

	data, err := Snapshot("sample", result)
	require.NoError(t, err)
	text := string(data)

	assert.True(t, strings.HasPrefix(text, "-- scenario: sample\n-- query_hash: abc\n-- meta_json: "))
	assert.Contains(t, text, `"result_sets":[{"attributes":null,"name":"plain","type":"plain"}]`)
	assert.Contains(t, text, "-- post_process 1: frequency > 10\n")
	assert.True(t, strings.HasSuffix(text, sampleSQL+"\n"))
}

func TestSnapshot_PostProcessOrder(t *testing.T) {
	result := sampleResult()
	result.PostProcesses = map[int][]querysql.Filter{
		3: {{Attribute: "frequency", Comparator: "<", Value: "5"}},
		1: {{Attribute: "frequency", Comparator: ">", Value: "10"}},
		2: {{Attribute: "count_t", Comparator: ">=", Value: "2"}},
	}
	first, err := Snapshot("sample", result)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Snapshot("sample", result)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	text := string(first)
	one := strings.Index(text, "-- post_process 1")
	two := strings.Index(text, "-- post_process 2")
	three := strings.Index(text, "-- post_process 3")
	assert.True(t, one < two && two < three)
}

func TestSnapshot_Error(t *testing.T) {
	result := NewResult()
	result.ErrorCode = "UNKNOWN_REFERENCE"
	result.ErrorMessage = "unknown layer"

	data, err := Snapshot("broken", result)
	require.NoError(t, err)
	assert.Equal(t, "-- scenario: broken\n-- error: UNKNOWN_REFERENCE\n", string(data))
}

func TestRunWithGolden(t *testing.T) {
	s := dogScenario()
	s.Name = "harness_dog"
	result, err := RunWithGolden(t, s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}
