package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantuminterface/qicode/internal/qicode"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// ValidationResult holds the outcome of validating one job.
type ValidationResult struct {
	Name     string       `json:"name"`
	Valid    bool         `json:"valid"`
	Cells    int          `json:"cells"`
	Couplers int          `json:"couplers"`
	Commands int          `json:"commands"`
	Warnings []diagReport `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <job.cue>",
		Short: "Validate a job without compiling it",
		Long: `Validate a CUE job description without compiling it.

The job is loaded and sealed, running the same construction and typing
checks the compiler runs, but no programs are emitted. Sample property
references stay unresolved, resolving them is a compile concern.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *ValidateOptions, jobPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	loaded, err := LoadJob(jobPath)
	if err != nil {
		// Unreadable descriptions are command errors, not invalid jobs.
		code, message, _ := errorParts(err)
		return outputCommandError(formatter, code, message)
	}
	formatter.VerboseLog("Loaded job %q from %s", loaded.Name, jobPath)

	j := loaded.Job
	result := &ValidationResult{
		Name:     loaded.Name,
		Cells:    len(j.Cells()),
		Couplers: len(j.Couplers()),
		Commands: len(j.Commands()),
	}

	if err := j.Seal(); err != nil {
		return outputValidationFailure(formatter, result, err)
	}

	result.Valid = true
	result.Warnings = diagReports(j.Diagnostics())
	return outputValidateSuccess(formatter, result, j.Diagnostics())
}

// outputValidateSuccess outputs a valid job.
func outputValidateSuccess(formatter *OutputFormatter, result *ValidationResult, diags []qicode.Diagnostic) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintln(formatter.Writer, "✓ Job is valid")
	fmt.Fprintln(formatter.Writer)
	fmt.Fprintf(formatter.Writer, "  %s: %d cell(s), %d coupler(s), %d command(s)\n",
		result.Name, result.Cells, result.Couplers, result.Commands)

	if len(diags) > 0 {
		fmt.Fprintln(formatter.Writer)
		fmt.Fprintln(formatter.Writer, "Warnings:")
		writeDiagnostics(formatter.Writer, diags)
	}

	return nil
}

// outputValidationFailure outputs an invalid job.
func outputValidationFailure(formatter *OutputFormatter, result *ValidationResult, err error) error {
	code, message, _ := errorParts(err)

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    code,
				Message: message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Invalid jobs = exit code 1 (validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("%s: %s", code, message))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	fmt.Fprintf(formatter.Writer, "  %s: %s\n", code, message)

	// Invalid jobs = exit code 1 (validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("%s: %s", code, message))
}
