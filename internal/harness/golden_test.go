package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestScenarios runs every scenario under testdata and pins successful
// compiles to their golden listings.
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			RunFileWithGolden(t, path)
		})
	}
}

func TestRunFile_ReportsScenarioName(t *testing.T) {
	result := RunFile(t, "testdata/missing-props.yaml")
	require.Error(t, result.Err)
}
