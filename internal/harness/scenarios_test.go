package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios runs every scenario under testdata/scenarios.
func TestScenarios(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)

	h := New()
	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			result, err := h.Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario %s: %v", s.Name, result.Errors)
			if s.Golden {
				require.NoError(t, AssertGolden(t, s.Name, result))
			}
		})
	}
}
