// Package cli implements the qicc command tree: compiling CUE job
// descriptions into sequencer programs, validating and simulating them,
// and working with the build archive.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds the global flags every command shares.
type RootOptions struct {
	Verbose bool
	Format  string // "text" or "json"
}

// ValidFormats lists the accepted --format values.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the qicc root command with all subcommands
// attached.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "qicc",
		Short: "QiCode sequencer compiler",
		Long: `Compile QiCode job descriptions into sequencer programs.

A job description declares cells, variables and a pulse-level program;
qicc lowers it into the binary instruction stream each cell's sequencer
executes, and archives finished builds for later inspection.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(
		NewCompileCommand(opts),
		NewValidateCommand(opts),
		NewSimulateCommand(opts),
		NewDumpCommand(opts),
		NewListCommand(opts),
		NewTestCommand(opts),
	)

	return cmd
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
