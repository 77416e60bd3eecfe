package cli

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/quantuminterface/qicode/internal/compiler"
	"github.com/quantuminterface/qicode/internal/sequencer"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Sample string // sample file resolving prop: references
}

// SimulationReport is the JSON form of a dry run.
type SimulationReport struct {
	Name       string          `json:"name"`
	Iterations int64           `json:"iterations"`
	Programs   []programReport `json:"programs"`
	Warnings   []diagReport    `json:"warnings,omitempty"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <job.cue>",
		Short: "Dry-run a job and report its sweep",
		Long: `Compile a CUE job description and dry-run the sweep it performs.

No hardware is touched. The run reports how many loop passes one
execution makes and in which order each cell acquires its results, the
same numbers a progress display on real hardware would track.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Sample, "sample", "", "sample file resolving prop: references")

	return cmd
}

func runSimulate(opts *SimulateOptions, jobPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	loaded, buildOpts, err := loadForBuild(formatter, jobPath, opts.Sample)
	if err != nil {
		return outputCompileFailure(formatter, err)
	}

	cj, err := compiler.Build(loaded.Job, buildOpts...)
	if err != nil {
		return outputCompileFailure(formatter, err)
	}

	total := sweepIterations(cj)
	formatter.VerboseLog("Sweeping %d iteration(s) across %d program(s)", total, len(cj.Programs))

	bar := sweepBar(formatter, total)
	for i := int64(0); i < total; i++ {
		_ = bar.Add(1)
	}
	_ = bar.Close()

	return outputSimulateSuccess(formatter, cj, total)
}

// sweepIterations counts the loop passes one execution of the build
// makes. Cells sweep in lockstep, the longest program sets the count.
func sweepIterations(cj *compiler.CompiledJob) int64 {
	var total int64 = 1
	for _, p := range cj.Programs {
		if n := sequencer.TotalLoops(p.ForRanges); n > total {
			total = n
		}
	}
	return total
}

// sweepBar returns the progress bar for the dry run. JSON output keeps
// the bar silent so only the report reaches the stream.
func sweepBar(formatter *OutputFormatter, total int64) *progressbar.ProgressBar {
	if formatter.Format == "json" {
		return progressbar.DefaultSilent(total, "sweep")
	}
	return progressbar.Default(total, "sweep")
}

// outputSimulateSuccess outputs the dry run report.
func outputSimulateSuccess(formatter *OutputFormatter, cj *compiler.CompiledJob, total int64) error {
	if formatter.Format == "json" {
		return formatter.Success(&SimulationReport{
			Name:       cj.Name,
			Iterations: total,
			Programs:   programReports(cj),
			Warnings:   diagReports(cj.Diagnostics),
		})
	}

	// Human-readable text output
	fmt.Fprintf(formatter.Writer, "✓ Simulated %d sweep iteration(s)\n\n", total)
	for _, r := range programReports(cj) {
		fmt.Fprintf(formatter.Writer, "  cell %d: %s\n", r.Cell, r.Results)
	}

	if len(cj.Diagnostics) > 0 {
		fmt.Fprintln(formatter.Writer)
		fmt.Fprintln(formatter.Writer, "Warnings:")
		writeDiagnostics(formatter.Writer, cj.Diagnostics)
	}

	return nil
}
