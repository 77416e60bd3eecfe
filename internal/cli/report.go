package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/quantuminterface/qicode/internal/compiler"
	"github.com/quantuminterface/qicode/internal/qicode"
)

// diagReport is the JSON form of a job diagnostic.
type diagReport struct {
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

func diagReports(diags []qicode.Diagnostic) []diagReport {
	reports := make([]diagReport, 0, len(diags))
	for _, d := range diags {
		reports = append(reports, diagReport{
			Severity: d.Severity.String(),
			Code:     string(d.Code),
			Message:  d.Message,
		})
	}
	return reports
}

func writeDiagnostics(w io.Writer, diags []qicode.Diagnostic) {
	for _, d := range diags {
		fmt.Fprintf(w, "  %s %s: %s\n", d.Severity, d.Code, d.Message)
	}
}

// formatResults collapses one shot's acquisition order into run-length
// form, "iq, 10×amp_pha" style.
func formatResults(order []string) string {
	if len(order) == 0 {
		return "none"
	}
	var runs []string
	count := 1
	for i := 1; i <= len(order); i++ {
		if i < len(order) && order[i] == order[i-1] {
			count++
			continue
		}
		if count == 1 {
			runs = append(runs, order[i-1])
		} else {
			runs = append(runs, fmt.Sprintf("%d×%s", count, order[i-1]))
		}
		count = 1
	}
	return strings.Join(runs, ", ")
}

// programReport is the JSON form of one cell program inside a build.
type programReport struct {
	Cell         int    `json:"cell"`
	Instructions int    `json:"instructions"`
	Results      string `json:"results"`
}

func programReports(cj *compiler.CompiledJob) []programReport {
	reports := make([]programReport, 0, len(cj.Programs))
	for i, p := range cj.Programs {
		var order []string
		if i < len(cj.ResultOrders) {
			order = cj.ResultOrders[i]
		}
		reports = append(reports, programReport{
			Cell:         p.CellIndex,
			Instructions: len(p.Instructions),
			Results:      formatResults(order),
		})
	}
	return reports
}
