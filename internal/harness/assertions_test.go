package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passingResult(t *testing.T) *Result {
	t.Helper()
	return runScenario(t, &Scenario{
		Name:        "passing",
		Description: "a wait and a recording",
		Cells:       1,
		Options:     OptionsSpec{SkipNCOSync: true},
		Script: []Step{
			{Wait: &WaitStep{Cell: 0, Length: FloatValue(100e-9)}},
			{Recording: &RecordingStep{Cell: 0, Length: FloatValue(400e-9), SaveTo: "iq"}},
		},
	})
}

func TestEvaluate_EmptyExpectationsPass(t *testing.T) {
	result := passingResult(t)
	assert.Empty(t, Evaluate(result, Expectations{}))
}

func TestEvaluate_ExpectedErrorButSucceeded(t *testing.T) {
	result := passingResult(t)
	failures := Evaluate(result, Expectations{Error: "QIC303"})
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "expected error QIC303, but the compile succeeded")
}

func TestEvaluate_UnexpectedCompileFailure(t *testing.T) {
	result := runScenario(t, &Scenario{
		Name:        "failing",
		Description: "unresolved property",
		Cells:       1,
		Script: []Step{
			{Wait: &WaitStep{Cell: 0, Length: PropRef("t_rest")}},
		},
	})
	require.Error(t, result.Err)

	failures := Evaluate(result, Expectations{})
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "compile failed:")
}

func TestEvaluate_MissingDiagnostic(t *testing.T) {
	result := passingResult(t)
	failures := Evaluate(result, Expectations{Diagnostics: []string{"QIC903"}})
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "expected diagnostic QIC903")
}

func TestEvaluate_ResultOrderMismatch(t *testing.T) {
	result := passingResult(t)

	failures := Evaluate(result, Expectations{
		ResultOrder: map[int][]string{0: {"iq", "iq"}},
	})
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "result order for cell 0")

	failures = Evaluate(result, Expectations{
		ResultOrder: map[int][]string{7: {"iq"}},
	})
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "no program for that cell")
}

func TestEvaluate_ListingMismatch(t *testing.T) {
	result := passingResult(t)

	failures := Evaluate(result, Expectations{
		Listing: map[int][]string{0: {"0: end"}},
	})
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "listing for cell 0")

	failures = Evaluate(result, Expectations{
		Listing: map[int][]string{7: {"0: end"}},
	})
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "no program for that cell")
}

func TestEvaluate_MismatchesReportInCellOrder(t *testing.T) {
	result := passingResult(t)
	failures := Evaluate(result, Expectations{
		Listing: map[int][]string{7: {"0: end"}, 3: {"0: end"}},
	})
	require.Len(t, failures, 2)
	assert.Contains(t, failures[0], "cell 3")
	assert.Contains(t, failures[1], "cell 7")
}
