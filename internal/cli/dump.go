package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantuminterface/qicode/internal/qicode"
	"github.com/quantuminterface/qicode/internal/store"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	Database string // archive path
	Words    bool   // dump raw instruction words instead of the listing
}

// DumpReport is the JSON form of an archived build.
type DumpReport struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	CreatedAt string        `json:"created_at"`
	Cells     int           `json:"cells"`
	Programs  []dumpProgram `json:"programs"`
	Warnings  []diagReport  `json:"warnings,omitempty"`
}

type dumpProgram struct {
	Cell    int      `json:"cell"`
	Words   []string `json:"words,omitempty"`
	Listing []string `json:"listing,omitempty"`
	Results []string `json:"results,omitempty"`
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump <build-id>",
		Short: "Dump an archived build",
		Long: `Dump one archived build, the assembly listing of every cell
program or, with --words, the raw instruction words.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "build archive path")
	cmd.Flags().BoolVar(&opts.Words, "words", false, "dump raw instruction words")

	return cmd
}

func runDump(opts *DumpOptions, buildID string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	if opts.Database == "" {
		return outputCommandError(formatter, string(qicode.CodeStoreFailed), "--db is required")
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return outputCommandError(formatter, string(qicode.CodeStoreFailed), err.Error())
	}
	defer st.Close()

	build, err := st.LoadBuild(cmd.Context(), buildID)
	if err != nil {
		code, message, _ := errorParts(err)
		return outputCommandError(formatter, code, message)
	}
	formatter.VerboseLog("Loaded build %s with %d program(s)", build.ID, len(build.Programs))

	return outputDump(formatter, build, opts.Words)
}

// outputDump outputs one archived build.
func outputDump(formatter *OutputFormatter, build *store.Build, words bool) error {
	if formatter.Format == "json" {
		report := &DumpReport{
			ID:        build.ID,
			Name:      build.Name,
			CreatedAt: build.CreatedAt.Format(time.RFC3339Nano),
			Cells:     build.CellCount,
			Warnings:  diagReports(build.Diagnostics),
		}
		for _, p := range build.Programs {
			dp := dumpProgram{Cell: p.CellIndex, Results: p.ResultOrder}
			if words {
				for _, w := range p.Words {
					dp.Words = append(dp.Words, fmt.Sprintf("0x%08x", w))
				}
			} else {
				dp.Listing = p.Listing
			}
			report.Programs = append(report.Programs, dp)
		}
		return formatter.Success(report)
	}

	// Human-readable text output
	fmt.Fprintf(formatter.Writer, "✓ Build %s\n\n", build.ID)
	fmt.Fprintf(formatter.Writer, "  name: %s\n", build.Name)
	fmt.Fprintf(formatter.Writer, "  created: %s\n", build.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(formatter.Writer, "  cells: %d\n\n", build.CellCount)

	for _, p := range build.Programs {
		fmt.Fprintf(formatter.Writer, "cell %d:\n", p.CellIndex)
		if words {
			for i, w := range p.Words {
				fmt.Fprintf(formatter.Writer, "%d: 0x%08x\n", i, w)
			}
		} else {
			for _, line := range p.Listing {
				fmt.Fprintln(formatter.Writer, line)
			}
		}
	}

	if len(build.Diagnostics) > 0 {
		fmt.Fprintln(formatter.Writer)
		fmt.Fprintln(formatter.Writer, "Warnings:")
		writeDiagnostics(formatter.Writer, build.Diagnostics)
	}

	return nil
}
