package harness

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioDir = "../../testdata/scenarios"

// TestScenarios runs every scenario under testdata/scenarios and compares
// its trace with the golden file beside it, as "aosim test" does.
func TestScenarios(t *testing.T) {
	files, err := FindScenarios(scenarioDir, "")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		t.Run(file, func(t *testing.T) {
			scenario, err := LoadScenario(file)
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)

			got, err := Snapshot(scenario, result)
			require.NoError(t, err)
			want, err := os.ReadFile(GoldenPath(file))
			require.NoError(t, err)
			assert.Equal(t, string(want), string(got))
		})
	}
}

// TestScenarios_Replay checks that a scenario yields the same trace and the
// same ledger ids on every run.
func TestScenarios_Replay(t *testing.T) {
	scenario, err := LoadScenario(scenarioDir + "/bounce_echo.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.Aliases, second.Aliases)
}
