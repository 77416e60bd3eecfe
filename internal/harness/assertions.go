package harness

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/quantuminterface/qicode/internal/compiler"
	"github.com/quantuminterface/qicode/internal/qicode"
)

// Evaluate checks a scenario result against its expectations and returns a
// description of every mismatch. An empty slice means the scenario passed.
func Evaluate(result *Result, expect Expectations) []string {
	var failures []string

	if expect.Error != "" {
		switch {
		case result.Err == nil:
			failures = append(failures,
				fmt.Sprintf("expected error %s, but the compile succeeded", expect.Error))
		case !qicode.IsCode(result.Err, qicode.ErrorCode(expect.Error)):
			failures = append(failures,
				fmt.Sprintf("expected error %s, got %v", expect.Error, result.Err))
		}
		return failures
	}
	if result.Err != nil {
		return []string{fmt.Sprintf("compile failed: %v", result.Err)}
	}

	build := result.Build
	for _, code := range expect.Diagnostics {
		if !hasDiagnostic(build.Diagnostics, qicode.ErrorCode(code)) {
			failures = append(failures,
				fmt.Sprintf("expected diagnostic %s, have %v", code, diagnosticCodes(build.Diagnostics)))
		}
	}

	for _, cell := range sortedCells(expect.ResultOrder) {
		want := expect.ResultOrder[cell]
		got, ok := resultOrder(build, cell)
		if !ok {
			failures = append(failures,
				fmt.Sprintf("result order for cell %d: no program for that cell", cell))
			continue
		}
		if !slices.Equal(got, want) {
			failures = append(failures,
				fmt.Sprintf("result order for cell %d: expected %v, got %v", cell, want, got))
		}
	}

	for _, cell := range sortedCells(expect.Listing) {
		want := expect.Listing[cell]
		p := build.Program(cell)
		if p == nil {
			failures = append(failures,
				fmt.Sprintf("listing for cell %d: no program for that cell", cell))
			continue
		}
		if got := p.Listing(); !slices.Equal(got, want) {
			failures = append(failures,
				fmt.Sprintf("listing for cell %d: expected\n%s\ngot\n%s",
					cell, strings.Join(want, "\n"), strings.Join(got, "\n")))
		}
	}

	return failures
}

// resultOrder finds the recording order of the program for a controller
// cell. The second return is false when no program targets the cell.
func resultOrder(build *compiler.CompiledJob, cell int) ([]string, bool) {
	for i, p := range build.Programs {
		if p.CellIndex == cell {
			if i < len(build.ResultOrders) {
				return build.ResultOrders[i], true
			}
			return nil, true
		}
	}
	return nil, false
}

func hasDiagnostic(diags []qicode.Diagnostic, code qicode.ErrorCode) bool {
	for _, d := range diags {
		if d.Code == code {
			return true
		}
	}
	return false
}

func diagnosticCodes(diags []qicode.Diagnostic) []string {
	codes := make([]string, len(diags))
	for i, d := range diags {
		codes[i] = string(d.Code)
	}
	return codes
}

func sortedCells(m map[int][]string) []int {
	cells := make([]int, 0, len(m))
	for cell := range m {
		cells = append(cells, cell)
	}
	sort.Ints(cells)
	return cells
}
