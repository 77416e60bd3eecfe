package harness

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RunFile loads a scenario file, runs it and reports every failed
// expectation on t. The result is returned for further checks.
func RunFile(t *testing.T, path string) *Result {
	t.Helper()
	scenario, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("run scenario %s: %v", scenario.Name, err)
	}
	for _, failure := range Evaluate(result, scenario.Expect) {
		t.Errorf("%s: %s", scenario.Name, failure)
	}
	return result
}

// RunWithGolden runs a scenario and compares the full assembly against the
// golden file testdata/{name}.golden. Run with -update to refresh fixtures:
//
//	go test ./internal/harness -update
//
// Scenarios that expect a compile error skip the golden comparison.
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()
	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("run scenario %s: %v", scenario.Name, err)
	}
	for _, failure := range Evaluate(result, scenario.Expect) {
		t.Errorf("%s: %s", scenario.Name, failure)
	}
	if result.Err != nil {
		return result
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, []byte(strings.Join(result.Build.Assembly(), "\n")+"\n"))
	return result
}

// RunFileWithGolden is RunFile plus the golden comparison.
func RunFileWithGolden(t *testing.T, path string) *Result {
	t.Helper()
	scenario, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	return RunWithGolden(t, scenario)
}
