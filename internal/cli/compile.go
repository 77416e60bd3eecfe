package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue/token"
	"github.com/spf13/cobra"

	"github.com/quantuminterface/qicode/internal/compiler"
	"github.com/quantuminterface/qicode/internal/qicode"
	"github.com/quantuminterface/qicode/internal/store"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Sample   string // sample file resolving prop: references
	Output   string // listing output file path
	Save     bool   // archive the build
	Database string // archive path
}

// CompileReport is the JSON form of a finished build.
type CompileReport struct {
	BuildID  string          `json:"build_id"`
	Name     string          `json:"name"`
	CellMap  []int           `json:"cell_map"`
	Programs []programReport `json:"programs"`
	Warnings []diagReport    `json:"warnings,omitempty"`
	Archive  string          `json:"archive,omitempty"`
	Listing  string          `json:"listing,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <job.cue>",
		Short: "Compile a job into sequencer programs",
		Long: `Compile a CUE job description into binary sequencer programs.

The compiler loads the job, resolves sample properties when a sample is
given, allocates registers and emits one program per controller cell.
With --save the build lands in the archive for later inspection.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Sample, "sample", "", "sample file resolving prop: references")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the assembly listing to a file")
	cmd.Flags().BoolVar(&opts.Save, "save", false, "archive the build")
	cmd.Flags().StringVar(&opts.Database, "db", "", "build archive path")

	return cmd
}

func runCompile(opts *CompileOptions, jobPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	if opts.Save && opts.Database == "" {
		return outputCommandError(formatter, string(qicode.CodeStoreFailed), "--save needs --db")
	}

	loaded, buildOpts, err := loadForBuild(formatter, jobPath, opts.Sample)
	if err != nil {
		return outputCompileFailure(formatter, err)
	}

	cj, err := compiler.Build(loaded.Job, buildOpts...)
	if err != nil {
		return outputCompileFailure(formatter, err)
	}
	formatter.VerboseLog("Compiled %d cell program(s) for build %s", len(cj.Programs), cj.BuildID)

	var listingPath string
	if opts.Output != "" {
		listing := strings.Join(cj.Assembly(), "\n") + "\n"
		if err := os.WriteFile(opts.Output, []byte(listing), 0644); err != nil {
			return outputCommandError(formatter, string(qicode.CodeStoreFailed), fmt.Sprintf("writing listing: %v", err))
		}
		listingPath = opts.Output
	}

	var archivePath string
	if opts.Save {
		if err := archiveBuild(cmd.Context(), opts.Database, cj); err != nil {
			return outputCommandError(formatter, string(qicode.CodeStoreFailed), err.Error())
		}
		archivePath = opts.Database
	}

	return outputCompileSuccess(formatter, cj, archivePath, listingPath)
}

// loadForBuild loads the job and, when given, the sample, and derives
// the build options shared by compile and simulate.
func loadForBuild(formatter *OutputFormatter, jobPath, samplePath string) (*LoadedJob, []compiler.Option, error) {
	loaded, err := LoadJob(jobPath)
	if err != nil {
		return nil, nil, err
	}
	formatter.VerboseLog("Loaded job %q from %s", loaded.Name, jobPath)

	buildOpts := []compiler.Option{compiler.WithName(loaded.Name)}
	if samplePath != "" {
		sample, err := LoadSampleFile(samplePath)
		if err != nil {
			return nil, nil, err
		}
		formatter.VerboseLog("Loaded sample with %d cell(s) from %s", sample.Len(), samplePath)
		buildOpts = append(buildOpts, compiler.WithSample(sample))
	}
	if len(loaded.CellMap) > 0 {
		buildOpts = append(buildOpts, compiler.WithCellMap(loaded.CellMap))
	}
	return loaded, buildOpts, nil
}

func archiveBuild(ctx context.Context, path string, cj *compiler.CompiledJob) error {
	st, err := store.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.SaveBuild(ctx, cj)
}

// outputCompileSuccess outputs a finished build.
func outputCompileSuccess(formatter *OutputFormatter, cj *compiler.CompiledJob, archivePath, listingPath string) error {
	if formatter.Format == "json" {
		return formatter.Success(&CompileReport{
			BuildID:  cj.BuildID.String(),
			Name:     cj.Name,
			CellMap:  cj.CellMap,
			Programs: programReports(cj),
			Warnings: diagReports(cj.Diagnostics),
			Archive:  archivePath,
			Listing:  listingPath,
		})
	}

	// Human-readable text output
	fmt.Fprintf(formatter.Writer, "✓ Compiled %d cell program(s)\n\n", len(cj.Programs))
	for _, r := range programReports(cj) {
		fmt.Fprintf(formatter.Writer, "  cell %d: %d instruction(s), results: %s\n",
			r.Cell, r.Instructions, r.Results)
	}
	fmt.Fprintln(formatter.Writer)

	if len(cj.Diagnostics) > 0 {
		fmt.Fprintln(formatter.Writer, "Warnings:")
		writeDiagnostics(formatter.Writer, cj.Diagnostics)
		fmt.Fprintln(formatter.Writer)
	}

	if listingPath != "" {
		fmt.Fprintf(formatter.Writer, "Wrote listing to %s\n", listingPath)
	}
	if archivePath != "" {
		fmt.Fprintf(formatter.Writer, "Archived build %s to %s\n", cj.BuildID, archivePath)
	}

	return nil
}

// outputCompileFailure outputs a load or build error.
func outputCompileFailure(formatter *OutputFormatter, err error) error {
	code, message, pos := errorParts(err)
	if formatter.Format == "json" {
		_ = formatter.Error(code, message, nil)
		return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), nil)
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)
	if pos.IsValid() {
		fmt.Fprintf(formatter.Writer, "%s:%d:%d\n", pos.Filename(), pos.Line(), pos.Column())
	}
	fmt.Fprintf(formatter.Writer, "  %s: %s\n", code, message)

	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), nil)
}

// outputCommandError outputs a command-level error (exit code 2).
func outputCommandError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), nil)
}

// errorParts extracts code, message and source position from an error.
func errorParts(err error) (string, string, token.Pos) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return string(loadErr.Code), loadErr.Message, loadErr.Pos
	}
	var jobErr *qicode.Error
	if errors.As(err, &jobErr) {
		return string(jobErr.Code), jobErr.Message, token.NoPos
	}
	return string(qicode.CodeLoaderFailed), err.Error(), token.NoPos
}
